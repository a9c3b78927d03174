// Copyright (c) 2014 The VolantMQ Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderFields(t *testing.T) {
	header := NewHeader(PUBLISH)

	require.NoError(t, header.setSize(33))
	require.Equal(t, int32(33), header.Size())

	err := header.setSize(-1)
	require.Error(t, err)

	header.SetFlags(0x10)
	require.Equal(t, PUBLISH, header.Type())
	require.Equal(t, byte(0x10), header.Flags())
}

// Not enough bytes
func TestHeaderDecodeShort(t *testing.T) {
	_, err := ParseHeader([]byte{byte(PUBLISH), 0, 0})
	require.EqualError(t, err, ErrInsufficientDataSize.Error())
	require.True(t, IsIncomplete(err))
}

// Negative size
func TestHeaderDecodeNegative(t *testing.T) {
	_, err := ParseHeader([]byte{byte(PUBLISH), 0, 0xff, 0xff, 0xff, 0xff})
	require.EqualError(t, err, ErrInvalidLength.Error())
}

func TestHeaderDecodeInvalidType(t *testing.T) {
	_, err := ParseHeader([]byte{0x7f, 0, 0, 0, 0, 0})
	require.EqualError(t, err, ErrInvalidMessageType.Error())

	_, err = ParseHeader([]byte{byte(VOID), 0, 0, 0, 0, 0})
	require.EqualError(t, err, ErrInvalidMessageType.Error())
}

func TestHeaderDecodeBigEndian(t *testing.T) {
	h, err := ParseHeader([]byte{byte(REPLY), 0x01, 0x00, 0x01, 0x02, 0x03, 0xee})
	require.NoError(t, err)
	require.Equal(t, REPLY, h.Type())
	require.Equal(t, byte(0x01), h.Flags())
	require.Equal(t, int32(0x010203), h.Size())
}

func TestHeaderEncode(t *testing.T) {
	h := NewHeader(ACK)
	require.NoError(t, h.setSize(258))

	_, err := h.Encode(make([]byte, 3))
	require.EqualError(t, err, ErrInsufficientBufferSize.Error())

	buf := make([]byte, HeaderSize)
	n, err := h.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)
	require.Equal(t, []byte{byte(ACK), 0, 0, 0, 1, 2}, buf)
}
