package wire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/pkg/errors"
)

// Errors distinguishing the ways a frame can be invalid. Callers match them
// with errors.Is; each one drives different retry logic.
var (
	// ErrFormat means the frame structure is broken: too short, oversized
	// fields or a variable header that does not split into two addresses.
	ErrFormat = errors.New("malformed frame")

	// ErrIntegrity means the CRC-32 trailer does not match the frame content.
	ErrIntegrity = errors.New("frame integrity check failed")

	// ErrPayload means the frame is structurally fine but its body violates
	// the payload grammar.
	ErrPayload = errors.New("malformed payload")
)

// EMP frame constants. Every field except the message type is fixed in this
// reduced profile of the protocol.
const (
	protocolVersion = 4
	messageVersion  = 1
	headerTTL       = 120
	headerQoS       = 0

	fixedHeaderSize = 13
	trailerSize     = 4

	// MinFrameSize is the shortest frame the decoder accepts.
	MinFrameSize = 20

	maxVarHeaderSize = 0xff
	maxBodySize      = 0xffffff
)

// Message is one EMP message: a type code, two hierarchical addresses and an
// ordered payload. Immutable once constructed; Encoded returns the exact bytes
// that travel on the wire.
type Message struct {
	Type    uint16
	Sender  string
	Dest    string
	Payload *Payload

	encoded []byte
}

// NewMessage builds a message and eagerly encodes it into an EMP frame.
func NewMessage(msgType uint16, sender, dest string, payload *Payload) (*Message, error) {
	if payload == nil {
		payload = NewPayload()
	}

	if strings.IndexByte(sender, 0) >= 0 || strings.IndexByte(dest, 0) >= 0 {
		return nil, errors.Wrap(ErrFormat, "address contains NUL byte")
	}

	varHeaderSize := len(sender) + len(dest) + 2
	if varHeaderSize > maxVarHeaderSize {
		return nil, errors.Wrapf(ErrFormat, "combined address length %d exceeds %d bytes",
			varHeaderSize, maxVarHeaderSize)
	}

	body, err := payload.marshal()
	if err != nil {
		return nil, err
	}
	bodySize := len(body) + 4
	if bodySize > maxBodySize {
		return nil, errors.Wrapf(ErrFormat, "body size %d exceeds %d bytes", bodySize, maxBodySize)
	}

	var buf bytes.Buffer
	buf.Grow(fixedHeaderSize + varHeaderSize + len(body) + trailerSize)
	buf.WriteByte(protocolVersion)
	buf.Write(binary.BigEndian.AppendUint16(nil, msgType))
	buf.WriteByte(messageVersion)
	buf.WriteByte(0) // flags
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(bodySize))[1:])
	buf.WriteByte(byte(varHeaderSize))
	buf.Write(binary.BigEndian.AppendUint16(nil, headerTTL))
	buf.Write(binary.BigEndian.AppendUint16(nil, headerQoS))
	buf.WriteString(sender)
	buf.WriteByte(0)
	buf.WriteString(dest)
	buf.WriteByte(0)
	buf.Write(body)
	buf.Write(binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(buf.Bytes())))

	return &Message{
		Type:    msgType,
		Sender:  sender,
		Dest:    dest,
		Payload: payload,
		encoded: buf.Bytes(),
	}, nil
}

// Encoded returns the wire form of the message. Callers must not modify it.
func (m *Message) Encoded() []byte {
	return m.encoded
}

// Decode parses an EMP frame. The CRC trailer is verified before anything
// beyond the length check, so any corruption surfaces as ErrIntegrity rather
// than a misleading structural error.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < MinFrameSize {
		return nil, errors.Wrapf(ErrFormat, "frame is %d bytes, minimum is %d", len(raw), MinFrameSize)
	}

	wantCRC := binary.BigEndian.Uint32(raw[len(raw)-trailerSize:])
	if gotCRC := crc32.ChecksumIEEE(raw[:len(raw)-trailerSize]); gotCRC != wantCRC {
		return nil, errors.Wrapf(ErrIntegrity, "crc mismatch: frame says %#08x, content gives %#08x",
			wantCRC, gotCRC)
	}

	msgType := binary.BigEndian.Uint16(raw[1:3])
	varHeaderSize := int(raw[8])
	varEnd := fixedHeaderSize + varHeaderSize
	if varEnd > len(raw)-trailerSize {
		return nil, errors.Wrapf(ErrFormat, "variable header of %d bytes exceeds frame", varHeaderSize)
	}

	varHeader := raw[fixedHeaderSize:varEnd]
	parts := bytes.Split(varHeader, []byte{0})
	if len(parts) != 3 || len(parts[2]) != 0 {
		return nil, errors.Wrap(ErrFormat, "variable header is not two NUL-terminated addresses")
	}

	payload, err := parsePayload(raw[varEnd : len(raw)-trailerSize])
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:    msgType,
		Sender:  string(parts[0]),
		Dest:    string(parts[1]),
		Payload: payload,
		encoded: raw,
	}, nil
}
