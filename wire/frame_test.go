package wire_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbuentello/PTC-Sim/wire"
)

func newTestPayload(t *testing.T, kv ...any) *wire.Payload {
	p := wire.NewPayload()
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, p.Set(kv[i].(string), kv[i+1]))
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		msgType uint16
		sender  string
		dest    string
		kv      []any
	}{
		{
			name:    "status",
			msgType: 6000,
			sender:  "arr.b:locoA",
			dest:    "arr.bos",
			kv:      []any{"speed", int64(55), "milepost", 12.3},
		},
		{
			name:    "min type",
			msgType: 0,
			sender:  "a",
			dest:    "b",
			kv:      []any{"k", "v"},
		},
		{
			name:    "max type",
			msgType: 65535,
			sender:  "arr.l.7357",
			dest:    "arr.bos",
			kv:      []any{"ok", true, "label", "stop", "count", int64(-3), "ratio", 0.25},
		},
		{
			name:    "empty payload",
			msgType: 1,
			sender:  "x.y",
			dest:    "z",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireT := require.New(t)

			msg, err := wire.NewMessage(tc.msgType, tc.sender, tc.dest, newTestPayload(t, tc.kv...))
			requireT.NoError(err)

			decoded, err := wire.Decode(msg.Encoded())
			requireT.NoError(err)

			requireT.Equal(tc.msgType, decoded.Type)
			requireT.Equal(tc.sender, decoded.Sender)
			requireT.Equal(tc.dest, decoded.Dest)
			requireT.Equal(msg.Payload.Keys(), decoded.Payload.Keys())
			for _, key := range msg.Payload.Keys() {
				want, _ := msg.Payload.Get(key)
				got, ok := decoded.Payload.Get(key)
				requireT.True(ok)
				requireT.Equal(want, got)
			}
		})
	}
}

func TestFrameLayout(t *testing.T) {
	requireT := require.New(t)

	msg, err := wire.NewMessage(6000, "a", "b", nil)
	requireT.NoError(err)
	raw := msg.Encoded()

	body := []byte("{}")
	requireT.Len(raw, 13+4+len(body)+4)

	requireT.EqualValues(4, raw[0])                                    // protocol version
	requireT.EqualValues(6000, binary.BigEndian.Uint16(raw[1:3]))      // message type
	requireT.EqualValues(1, raw[3])                                    // message version
	requireT.EqualValues(0, raw[4])                                    // flags
	requireT.EqualValues(len(body)+4, int(raw[5])<<16|int(raw[6])<<8|int(raw[7]))
	requireT.EqualValues(4, raw[8])                                    // variable header length
	requireT.EqualValues(120, binary.BigEndian.Uint16(raw[9:11]))      // TTL
	requireT.EqualValues(0, binary.BigEndian.Uint16(raw[11:13]))       // QoS
	requireT.Equal([]byte("a\x00b\x00"), raw[13:17])
	requireT.Equal(body, raw[17:17+len(body)])
	requireT.Equal(crc32.ChecksumIEEE(raw[:len(raw)-4]), binary.BigEndian.Uint32(raw[len(raw)-4:]))
}

func TestDecodeTooShort(t *testing.T) {
	requireT := require.New(t)

	for _, raw := range [][]byte{
		nil,
		{},
		{4},
		bytes.Repeat([]byte{0}, 19),
	} {
		_, err := wire.Decode(raw)
		requireT.ErrorIs(err, wire.ErrFormat)
	}
}

func TestDecodeCorruption(t *testing.T) {
	requireT := require.New(t)

	msg, err := wire.NewMessage(6000, "arr.l.7357", "arr.bos", newTestPayload(t, "speed", int64(55)))
	requireT.NoError(err)

	for i := range msg.Encoded() {
		raw := bytes.Clone(msg.Encoded())
		raw[i] ^= 0xff

		_, err := wire.Decode(raw)
		requireT.ErrorIs(err, wire.ErrIntegrity, "flipped byte %d", i)
	}
}

// reseal recomputes the CRC trailer so decoding proceeds past the integrity
// check to the structural ones.
func reseal(raw []byte) []byte {
	binary.BigEndian.PutUint32(raw[len(raw)-4:], crc32.ChecksumIEEE(raw[:len(raw)-4]))
	return raw
}

// buildFrame assembles a frame per the wire layout with an arbitrary body,
// which the encoder would refuse to produce.
func buildFrame(msgType uint16, sender, dest string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(4)
	buf.Write(binary.BigEndian.AppendUint16(nil, msgType))
	buf.WriteByte(1)
	buf.WriteByte(0)
	bodySize := len(body) + 4
	buf.Write([]byte{byte(bodySize >> 16), byte(bodySize >> 8), byte(bodySize)})
	buf.WriteByte(byte(len(sender) + len(dest) + 2))
	buf.Write(binary.BigEndian.AppendUint16(nil, 120))
	buf.Write(binary.BigEndian.AppendUint16(nil, 0))
	buf.WriteString(sender)
	buf.WriteByte(0)
	buf.WriteString(dest)
	buf.WriteByte(0)
	buf.Write(body)
	buf.Write(binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(buf.Bytes())))
	return buf.Bytes()
}

func TestDecodeBadVariableHeader(t *testing.T) {
	requireT := require.New(t)

	msg, err := wire.NewMessage(6000, "abc", "def", newTestPayload(t, "speed", int64(55)))
	requireT.NoError(err)

	// Variable header pointing past the end of the frame.
	raw := bytes.Clone(msg.Encoded())
	raw[8] = 0xff
	_, err = wire.Decode(reseal(raw))
	requireT.ErrorIs(err, wire.ErrFormat)

	// First NUL terminator overwritten: one address instead of two.
	raw = bytes.Clone(msg.Encoded())
	raw[13+3] = 'x'
	_, err = wire.Decode(reseal(raw))
	requireT.ErrorIs(err, wire.ErrFormat)

	// Extra NUL: three addresses instead of two.
	raw = bytes.Clone(msg.Encoded())
	raw[13+1] = 0
	_, err = wire.Decode(reseal(raw))
	requireT.ErrorIs(err, wire.ErrFormat)
}

func TestDecodeBadPayload(t *testing.T) {
	requireT := require.New(t)

	for _, body := range []string{
		"",
		"[]",
		"[1,2]",
		`"text"`,
		"42",
		"null",
		`{"a":null}`,
		`{"a":[1]}`,
		`{"a":{"b":1}}`,
		`{"a":1,"a":2}`,
		`{"a":1}x`,
		`{"a":1}{"b":2}`,
		"not json at all",
	} {
		_, err := wire.Decode(buildFrame(6000, "arr.l.7357", "arr.bos", []byte(body)))
		requireT.ErrorIs(err, wire.ErrPayload, "body %q", body)
	}
}

func TestNewMessageRejections(t *testing.T) {
	requireT := require.New(t)

	_, err := wire.NewMessage(1, "bad\x00addr", "arr.bos", nil)
	requireT.ErrorIs(err, wire.ErrFormat)

	_, err = wire.NewMessage(1, "arr.l.7357", "bad\x00addr", nil)
	requireT.ErrorIs(err, wire.ErrFormat)

	_, err = wire.NewMessage(1, string(bytes.Repeat([]byte{'a'}, 200)),
		string(bytes.Repeat([]byte{'b'}, 200)), nil)
	requireT.ErrorIs(err, wire.ErrFormat)
}
