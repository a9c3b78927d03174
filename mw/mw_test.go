package mw

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/broker"
	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/connection"
)

func newBroker(t *testing.T) (tcp string, ws string) {
	t.Helper()

	s, err := broker.New(broker.Config{
		Listeners: []configuration.ListenerConfig{
			{Scheme: "tcp", Host: "127.0.0.1"},
			{Scheme: "ws", Host: "127.0.0.1", Path: "/bolt"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() {
		_ = s.Shutdown()
	})

	for _, e := range s.Endpoints() {
		switch e.Scheme {
		case "tcp":
			tcp = e.String()
		case "ws":
			ws = e.String()
		}
	}

	require.NotEmpty(t, tcp)
	require.NotEmpty(t, ws)

	return tcp, ws
}

// deadAddress address nobody listens on
func deadAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

func testConfig(servers string, extra ...string) Config {
	cfg := Config{
		KeyServer:                      servers,
		OptionPrefix + OptPingInterval: "0",
		OptionPrefix + OptInactivity:   "0",
		OptionPrefix + OptAckTimeout:   "2s",
	}

	for i := 0; i+1 < len(extra); i += 2 {
		cfg[extra[i]] = extra[i+1]
	}

	return cfg
}

func dial(t *testing.T, cfg Config) ConnectionInterface {
	t.Helper()

	c, err := New(cfg,
		WithLogger(zap.NewNop().Sugar()),
		WithConnectionOptions(connection.Reconnect(connection.ReconnectPolicy{
			Initial:    10 * time.Millisecond,
			Max:        50 * time.Millisecond,
			Multiplier: 2,
		})))
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		_ = c.Disconnect()
	})

	return c
}

func TestNewPicksImplementation(t *testing.T) {
	c, err := New(Config{KeyServer: "127.0.0.1:9100"})
	require.NoError(t, err)
	require.IsType(t, &Single{}, c)

	c, err = New(Config{KeyServer: "127.0.0.1:9100, ws://127.0.0.1:9101/bolt"})
	require.NoError(t, err)
	require.IsType(t, &Multiple{}, c)
	require.Len(t, c.(*Multiple).States(), 2)

	for _, s := range c.(*Multiple).States() {
		require.Equal(t, connection.StateManaged, s)
	}

	_, err = New(Config{})
	require.True(t, connection.IsKind(err, connection.KindState))

	_, err = New(Config{KeyServer: "ftp://host"})
	require.True(t, connection.IsKind(err, connection.KindState))
}

func TestInfo(t *testing.T) {
	c, err := New(Config{KeyServer: "127.0.0.1:9100"})
	require.NoError(t, err)

	require.Equal(t, "Bolt "+Version, c.LibraryVersion())
	require.Equal(t, RootName, c.MWInfo())
	require.Empty(t, c.Endpoint())

	a := c.UniqueID()
	b := c.UniqueID()
	require.NotEqual(t, a, b)
	require.Regexp(t, `^[0-9a-f-]{8}_\d+$`, a)
}

func TestPublishReceive(t *testing.T) {
	tcp, ws := newBroker(t)

	for _, server := range []string{tcp, ws} {
		t.Run(server, func(t *testing.T) {
			c := dial(t, testConfig(server))
			require.Equal(t, server, c.Endpoint())

			require.NoError(t, c.Subscribe("GMSEC.TEST.>", nil))

			msg := NewMessage("GMSEC.TEST.PUB", KindPublish).
				SetString("MISSION", "bolt").
				SetInt32("COUNT", 7).
				SetFloat64("RATE", 0.5).
				SetBool("FLAG", true)
			msg.Payload = []byte("payload")

			require.NoError(t, c.Publish(msg, nil))
			require.NotEmpty(t, msg.ID())

			got, err := c.Receive(2 * time.Second)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "GMSEC.TEST.PUB", got.Subject)
			assert.Equal(t, KindPublish, got.Kind)
			assert.Equal(t, msg.ID(), got.ID())
			assert.Equal(t, []byte("payload"), got.Payload)
			assert.Equal(t, []string{"COUNT", "FLAG", "MISSION", "RATE"}, got.Fields())

			v, ok := got.String("MISSION")
			assert.True(t, ok)
			assert.Equal(t, "bolt", v)

			f, ok := got.Field("COUNT")
			assert.True(t, ok)
			assert.Equal(t, int32(7), f)

			f, _ = got.Field("RATE")
			assert.Equal(t, 0.5, f)

			f, _ = got.Field("FLAG")
			assert.Equal(t, true, f)

			require.NoError(t, c.Unsubscribe("GMSEC.TEST.>"))
			require.NoError(t, c.Publish(NewMessage("GMSEC.TEST.PUB", KindPublish), nil))

			got, err = c.Receive(100 * time.Millisecond)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestReceiveTimeout(t *testing.T) {
	tcp, _ := newBroker(t)
	c := dial(t, testConfig(tcp))

	start := time.Now()
	msg, err := c.Receive(50 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestReceiveAfterDisconnect(t *testing.T) {
	tcp, _ := newBroker(t)
	c := dial(t, testConfig(tcp))

	res := make(chan error, 1)
	go func() {
		_, err := c.Receive(-1)
		res <- err
	}()

	require.NoError(t, c.Disconnect())

	select {
	case err := <-res:
		require.True(t, connection.IsKind(err, connection.KindState))
	case <-time.After(2 * time.Second):
		t.Fatal("receive not woken by disconnect")
	}

	err := c.Publish(NewMessage("GMSEC.TEST", KindPublish), nil)
	require.Error(t, err)
	require.IsType(t, &connection.Error{}, err)
}

func TestMultipleExactlyOnce(t *testing.T) {
	tcp, ws := newBroker(t)

	c := dial(t, testConfig(tcp+","+tcp+","+ws))
	require.Equal(t, tcp+","+tcp+","+ws, c.Endpoint())

	require.NoError(t, c.Subscribe("GMSEC.MULTI.*", nil))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Publish(NewMessage("GMSEC.MULTI."+strconv.Itoa(i), KindPublish), nil))
	}

	var expected, got []string

	for i := 0; i < 5; i++ {
		msg, err := c.Receive(2 * time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)

		expected = append(expected, "GMSEC.MULTI."+strconv.Itoa(i))
		got = append(got, msg.Subject)
	}

	require.ElementsMatch(t, expected, got)

	msg, err := c.Receive(200 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg, "duplicates must be filtered")
}

func TestMultipleSharesEncodedFrame(t *testing.T) {
	tcp, _ := newBroker(t)

	c := dial(t, testConfig(tcp+","+tcp+","+tcp))
	require.NoError(t, c.Subscribe("GMSEC.SHARED.*", nil))

	const count = 20

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			msg := NewMessage("GMSEC.SHARED."+strconv.Itoa(i), KindPublish).SetInt32("SEQ", int32(i))
			msg.Payload = []byte("frame")
			assert.NoError(t, c.Publish(msg, nil))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for len(seen) < count {
		msg, err := c.Receive(2 * time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.Equal(t, []byte("frame"), msg.Payload)
		seen[msg.Subject] = struct{}{}
	}

	msg, err := c.Receive(100 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestMultipleAnySucceeds(t *testing.T) {
	tcp, _ := newBroker(t)
	dead := deadAddress(t)

	c := dial(t, testConfig(dead+","+tcp))
	require.Equal(t, tcp, c.Endpoint())

	require.NoError(t, c.Subscribe("GMSEC.ANY", nil))
	require.NoError(t, c.Publish(NewMessage("GMSEC.ANY", KindPublish), nil))

	msg, err := c.Receive(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestMultipleAllFail(t *testing.T) {
	c, err := New(testConfig(deadAddress(t)+","+deadAddress(t)), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	defer func() {
		_ = c.Disconnect()
	}()

	err = c.Connect(context.Background())
	require.True(t, connection.IsKind(err, connection.KindConnect))
	require.Empty(t, c.Endpoint())
}

func TestSingleConnectRefused(t *testing.T) {
	c, err := New(testConfig(deadAddress(t)), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	defer func() {
		_ = c.Disconnect()
	}()

	err = c.Connect(context.Background())
	require.True(t, connection.IsKind(err, connection.KindConnect))
	require.Equal(t, connection.StateUnconnected, c.(*Single).State())
}

func responder(t *testing.T, c ConnectionInterface, subject string) {
	t.Helper()

	require.NoError(t, c.Subscribe(subject, nil))

	go func() {
		for {
			req, err := c.Receive(-1)
			if err != nil {
				return
			}

			if req.Kind != KindRequest {
				continue
			}

			rep := NewMessage(subject+".REPLY", KindReply)
			rep.Payload = append([]byte("re:"), req.Payload...)

			_ = c.Reply(req, rep)
		}
	}()
}

func TestRequestReply(t *testing.T) {
	tcp, ws := newBroker(t)

	server := dial(t, testConfig(tcp))
	responder(t, server, "GMSEC.SVC")

	client := dial(t, testConfig(tcp+","+ws))

	req := NewMessage("GMSEC.SVC", KindRequest)
	req.Payload = []byte("ping")

	reply, err := client.RequestReply(context.Background(), req, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, KindReply, reply.Kind)
	require.Equal(t, req.ID(), reply.CorrID())
	require.Equal(t, []byte("re:ping"), reply.Payload)

	// reply was consumed by requester, Receive stays empty
	msg, err := client.Receive(100 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestRequestReplyTimeout(t *testing.T) {
	tcp, _ := newBroker(t)
	client := dial(t, testConfig(tcp))

	reply, err := client.RequestReply(context.Background(), NewMessage("GMSEC.NOBODY", KindRequest), 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, reply)
}

func TestRequestAsync(t *testing.T) {
	tcp, _ := newBroker(t)

	server := dial(t, testConfig(tcp))
	responder(t, server, "GMSEC.ASYNC")

	client := dial(t, testConfig(tcp))

	replies := make(chan *Message, 1)
	id, err := client.RequestAsync(NewMessage("GMSEC.ASYNC", KindRequest), func(m *Message) {
		replies <- m
	})
	require.NoError(t, err)

	select {
	case m := <-replies:
		require.Equal(t, id, m.CorrID())
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestRequestReplyGoesToReceive(t *testing.T) {
	tcp, _ := newBroker(t)

	server := dial(t, testConfig(tcp))
	responder(t, server, "GMSEC.RECV")

	client := dial(t, testConfig(tcp, OptionPrefix+OptReplyTo, "GMSEC.RECV.REPLY"))

	id, err := client.Request(NewMessage("GMSEC.RECV", KindRequest))
	require.NoError(t, err)

	msg, err := client.Receive(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, KindReply, msg.Kind)
	require.Equal(t, id, msg.CorrID())
}

func TestReplyWithUnknownCorrID(t *testing.T) {
	tcp, _ := newBroker(t)

	replier := dial(t, testConfig(tcp))
	hidden := dial(t, testConfig(tcp))
	exposed := dial(t, testConfig(tcp, OptionPrefix+OptReplyExpose, "true"))

	require.NoError(t, hidden.Subscribe("GMSEC.ORPHAN", nil))
	require.NoError(t, exposed.Subscribe("GMSEC.ORPHAN", nil))

	req := NewMessage("GMSEC.IGNORED", KindRequest)
	req.corrID = "nobody_1"

	require.NoError(t, replier.Reply(req, NewMessage("GMSEC.ORPHAN", KindReply)))

	msg, err := exposed.Receive(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, "nobody_1", msg.CorrID())

	msg, err = hidden.Receive(100 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestReplyErrors(t *testing.T) {
	c, err := New(Config{KeyServer: "127.0.0.1:9100"})
	require.NoError(t, err)

	err = c.Reply(NewMessage("A", KindRequest), NewMessage("B", KindReply))
	require.True(t, connection.IsKind(err, connection.KindState))

	err = c.Reply(nil, nil)
	require.True(t, connection.IsKind(err, connection.KindState))
}

func TestDispatch(t *testing.T) {
	tcp, _ := newBroker(t)
	c := dial(t, testConfig(tcp))

	var lock sync.Mutex
	var got []string

	done := make(chan struct{})
	c.OnMessage(MessageListenerFunc(func(m *Message) {
		lock.Lock()
		got = append(got, m.Subject)
		if len(got) == 2 {
			close(done)
		}
		lock.Unlock()
	}))

	require.NoError(t, c.Subscribe("GMSEC.DISPATCH.*", nil))

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		res <- c.Dispatch(ctx)
	}()

	require.NoError(t, c.Publish(NewMessage("GMSEC.DISPATCH.A", KindPublish), nil))
	require.NoError(t, c.Publish(NewMessage("GMSEC.DISPATCH.B", KindPublish), nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not dispatched")
	}

	cancel()
	require.NoError(t, <-res)

	lock.Lock()
	require.Equal(t, []string{"GMSEC.DISPATCH.A", "GMSEC.DISPATCH.B"}, got)
	lock.Unlock()
}

func TestEvents(t *testing.T) {
	tcp, _ := newBroker(t)

	c, err := New(testConfig(tcp), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)

	events := make(chan connection.Event, 8)
	c.OnEvent(connection.EventListenerFunc(func(e connection.Event) {
		events <- e
	}))

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	var states []connection.State
	timeout := time.After(2 * time.Second)

	for len(states) == 0 || states[len(states)-1] != connection.StateFinished {
		select {
		case e := <-events:
			states = append(states, e.State)
		case <-timeout:
			t.Fatalf("no FINISHED event, got %v", states)
		}
	}

	require.Contains(t, states, connection.StateConnected)
}

func TestHealthCheck(t *testing.T) {
	tcp, _ := newBroker(t)

	c, err := New(Config{KeyServer: deadAddress(t) + "," + tcp})
	require.NoError(t, err)
	require.NoError(t, c.HealthCheck()())

	c, err = New(Config{KeyServer: deadAddress(t)})
	require.NoError(t, err)
	require.Error(t, c.HealthCheck()())
}
