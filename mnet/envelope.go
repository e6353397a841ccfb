package mnet

import (
	"encoding/binary"
	"errors"
)

// ProtocolVersion is the transport envelope version.
// Frames carrying any other version are soft-rejected
// with [ReplyVersionMismatch].
const ProtocolVersion uint16 = 1

// envelopeHeaderSize is the fixed prefix before the opaque payload:
// version (2 bytes) plus validator id (8 bytes).
const envelopeHeaderSize = 2 + 8

// ErrShortEnvelope indicates a frame too small to contain
// an envelope header.
var ErrShortEnvelope = errors.New("frame shorter than envelope header")

// Envelope is the transport-level wrapper on every frame.
// The validator id selects which co-located consensus instance
// receives the opaque payload.
type Envelope struct {
	Version     uint16
	ValidatorID uint64
	Payload     []byte
}

// Marshal encodes the envelope with little-endian fixed-width fields.
func (e Envelope) Marshal() []byte {
	out := make([]byte, envelopeHeaderSize+len(e.Payload))
	binary.LittleEndian.PutUint16(out[:2], e.Version)
	binary.LittleEndian.PutUint64(out[2:10], e.ValidatorID)
	copy(out[envelopeHeaderSize:], e.Payload)
	return out
}

// ParseEnvelope decodes a frame into an envelope.
// The returned payload aliases b.
func ParseEnvelope(b []byte) (Envelope, error) {
	if len(b) < envelopeHeaderSize {
		return Envelope{}, ErrShortEnvelope
	}

	return Envelope{
		Version:     binary.LittleEndian.Uint16(b[:2]),
		ValidatorID: binary.LittleEndian.Uint64(b[2:10]),
		Payload:     b[envelopeHeaderSize:],
	}, nil
}
