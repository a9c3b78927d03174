package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketTypeValid(t *testing.T) {
	require.False(t, VOID.Valid())
	require.True(t, WELCOME.Valid())
	require.True(t, PUBLISH.Valid())
	require.True(t, REPLY.Valid())
	require.False(t, Type(200).Valid())
}

func TestPacketTypeName(t *testing.T) {
	require.Equal(t, "PUBLISH", PUBLISH.Name())
	require.Equal(t, "REPLY", REPLY.String())
	require.Equal(t, "UNKNOWN", Type(13).Name())
	require.Equal(t, "Publish message", PUBLISH.Desc())
	require.Equal(t, "UNKNOWN", Type(99).Desc())
}
