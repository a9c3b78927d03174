package packet

// Type is the type representing the Bolt packet types. It occupies the first byte
// of every frame header.
type Type byte

const (
	// VOID is a reserved value and should be considered an invalid packet type
	VOID Type = iota

	// WELCOME Server to Client. First packet on a fresh connection, carries VERSION.
	WELCOME

	// GOODBYE Either direction. Peer is about to close the connection.
	GOODBYE

	// ECHO Either direction. Keep-alive probe, echoed back by the server.
	ECHO

	// ERROR Server to Client. Error report.
	ERROR

	// ACK Server to Client. Acknowledges NEGOTIATE, SUBSCRIBE and UNSUBSCRIBE by ID.
	ACK

	// NEGOTIATE Client to Server. Reply to WELCOME.
	NEGOTIATE

	// STATISTICS Either direction. Statistics report.
	STATISTICS

	// SUBSCRIBE Client to Server. Subscribe to one or more topics.
	SUBSCRIBE

	// UNSUBSCRIBE Client to Server. Unsubscribe from a topic.
	UNSUBSCRIBE

	// PUBLISH Either direction. Publish message.
	PUBLISH

	// REQUEST Either direction. Request message awaiting a REPLY.
	REQUEST

	// REPLY Either direction. Reply correlated to a REQUEST by CORR_ID.
	REPLY
)

var typeName = [REPLY + 1]string{
	"VOID",
	"WELCOME",
	"GOODBYE",
	"ECHO",
	"ERROR",
	"ACK",
	"NEGOTIATE",
	"STATISTICS",
	"SUBSCRIBE",
	"UNSUBSCRIBE",
	"PUBLISH",
	"REQUEST",
	"REPLY",
}

var typeDescription = [REPLY + 1]string{
	"Reserved",
	"Server greeting",
	"Peer is closing the connection",
	"Keep-alive probe",
	"Error report",
	"Acknowledgement",
	"Client reply to greeting",
	"Statistics report",
	"Client subscribe request",
	"Client unsubscribe request",
	"Publish message",
	"Request message",
	"Reply message",
}

// Name returns the name of the packet type. It is statically defined and cannot
// be changed.
func (t Type) Name() string {
	if t > REPLY {
		return "UNKNOWN"
	}

	return typeName[t]
}

// Desc returns the description of the packet type.
func (t Type) Desc() string {
	if t > REPLY {
		return "UNKNOWN"
	}

	return typeDescription[t]
}

// String implements fmt.Stringer
func (t Type) String() string {
	return t.Name()
}

// Valid returns a boolean indicating whether the packet type may appear on the wire.
func (t Type) Valid() bool {
	return t > VOID && t <= REPLY
}
