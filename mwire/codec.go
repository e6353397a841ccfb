// Package mwire provides the deterministic binary encoding
// of consensus messages exchanged between participants.
//
// Every multi-byte integer is little-endian.
// Signatures and keys are fixed-width ed25519 values,
// so the only variable-length fields are counted collections.
package mwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// CodecVersion identifies this encoding.
// It is distinct from the transport envelope version;
// bumping either requires a coordinated rollout.
const CodecVersion = 1

const (
	tagPropose = iota + 1
	tagVote
	tagTimeout
	tagTC
	tagSyncRequest
)

const (
	pubKeySize    = 32
	signatureSize = 64
)

var (
	// ErrUnknownMessageTag indicates an unrecognized variant tag.
	ErrUnknownMessageTag = errors.New("unknown message tag")

	// ErrTruncated indicates input shorter than its declared content.
	ErrTruncated = errors.New("truncated message")
)

// MarshalMessage encodes a consensus message as a tagged binary value.
func MarshalMessage(m mconsensus.Message) ([]byte, error) {
	var w writer
	w.byte(CodecVersion)

	switch msg := m.(type) {
	case mconsensus.ProposeMessage:
		w.byte(tagPropose)
		w.block(msg.Block)
	case mconsensus.VoteMessage:
		w.byte(tagVote)
		w.vote(msg.Vote)
	case mconsensus.TimeoutMessage:
		w.byte(tagTimeout)
		w.timeout(msg.Timeout)
	case mconsensus.TCMessage:
		w.byte(tagTC)
		w.tc(msg.TC)
	case mconsensus.SyncRequestMessage:
		w.byte(tagSyncRequest)
		w.digest(msg.Missing)
		w.pubKey(msg.Requester)
	default:
		return nil, fmt.Errorf("cannot marshal message of type %T", m)
	}

	return w.buf, w.err
}

// UnmarshalMessage decodes a tagged binary value
// produced by [MarshalMessage].
func UnmarshalMessage(b []byte) (mconsensus.Message, error) {
	r := reader{buf: b}

	if v := r.byte(); r.err == nil && v != CodecVersion {
		return nil, fmt.Errorf("unsupported codec version %d", v)
	}

	var m mconsensus.Message
	switch tag := r.byte(); tag {
	case tagPropose:
		m = mconsensus.ProposeMessage{Block: r.block()}
	case tagVote:
		m = mconsensus.VoteMessage{Vote: r.vote()}
	case tagTimeout:
		m = mconsensus.TimeoutMessage{Timeout: r.timeout()}
	case tagTC:
		m = mconsensus.TCMessage{TC: r.tc()}
	case tagSyncRequest:
		m = mconsensus.SyncRequestMessage{
			Missing:   r.digest(),
			Requester: r.pubKey(),
		}
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageTag, tag)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%d trailing bytes after message", len(r.buf)-r.off)
	}
	return m, nil
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) byte(b byte)      { w.buf = append(w.buf, b) }
func (w *writer) u16(v uint16)     { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u64(v uint64)     { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) round(r mconsensus.Round) { w.u64(uint64(r)) }
func (w *writer) digest(d mcrypto.Digest)  { w.buf = append(w.buf, d.Bytes()...) }

func (w *writer) pubKey(k mcrypto.PubKey) {
	if w.err != nil {
		return
	}
	b := k.PubKeyBytes()
	if len(b) != pubKeySize {
		w.err = fmt.Errorf("cannot marshal public key of length %d", len(b))
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *writer) signature(sig []byte) {
	if w.err != nil {
		return
	}
	if sig == nil {
		// The genesis block is the only unsigned block;
		// it is stored like any other, with a zero signature.
		w.buf = append(w.buf, make([]byte, signatureSize)...)
		return
	}
	if len(sig) != signatureSize {
		w.err = fmt.Errorf("cannot marshal signature of length %d", len(sig))
		return
	}
	w.buf = append(w.buf, sig...)
}

func (w *writer) qc(qc mconsensus.QC) {
	w.digest(qc.Hash)
	w.round(qc.Round)
	w.u16(uint16(len(qc.Signatures)))
	for _, cs := range qc.Signatures {
		w.u16(cs.KeyID)
		w.signature(cs.Sig)
	}
}

func (w *writer) tc(tc mconsensus.TC) {
	w.round(tc.Round)
	w.u16(uint16(len(tc.Signatures)))
	for _, ts := range tc.Signatures {
		w.u16(ts.KeyID)
		w.round(ts.HighQCRound)
		w.signature(ts.Sig)
	}
}

func (w *writer) block(b mconsensus.Block) {
	w.qc(b.QC)
	if b.TC != nil {
		w.byte(1)
		w.tc(*b.TC)
	} else {
		w.byte(0)
	}
	w.pubKey(b.Author)
	w.round(b.Round)
	w.u16(uint16(len(b.Payload)))
	for _, p := range b.Payload {
		w.digest(p)
	}
	w.signature(b.Signature)
}

func (w *writer) vote(v mconsensus.Vote) {
	w.digest(v.Hash)
	w.round(v.Round)
	w.pubKey(v.Author)
	w.signature(v.Signature)
}

func (w *writer) timeout(t mconsensus.Timeout) {
	w.qc(t.HighQC)
	w.round(t.Round)
	w.pubKey(t.Author)
	w.signature(t.Signature)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) round() mconsensus.Round {
	return mconsensus.Round(r.u64())
}

func (r *reader) digest() mcrypto.Digest {
	b := r.take(mcrypto.DigestSize)
	if b == nil {
		return mcrypto.Digest{}
	}
	d, _ := mcrypto.DigestFromBytes(b)
	return d
}

func (r *reader) pubKey() mcrypto.PubKey {
	b := r.take(pubKeySize)
	if b == nil {
		return nil
	}
	k, err := mcrypto.NewEd25519PubKey(append([]byte(nil), b...))
	if err != nil {
		r.err = err
		return nil
	}
	return k
}

func (r *reader) signature() []byte {
	b := r.take(signatureSize)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) qc() mconsensus.QC {
	qc := mconsensus.QC{
		Hash:  r.digest(),
		Round: r.round(),
	}
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		qc.Signatures = append(qc.Signatures, mconsensus.CertSignature{
			KeyID: r.u16(),
			Sig:   r.signature(),
		})
	}
	return qc
}

func (r *reader) tc() mconsensus.TC {
	tc := mconsensus.TC{Round: r.round()}
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		tc.Signatures = append(tc.Signatures, mconsensus.TimeoutSignature{
			KeyID:       r.u16(),
			HighQCRound: r.round(),
			Sig:         r.signature(),
		})
	}
	return tc
}

func (r *reader) block() mconsensus.Block {
	b := mconsensus.Block{QC: r.qc()}
	if r.byte() == 1 {
		tc := r.tc()
		b.TC = &tc
	}
	b.Author = r.pubKey()
	b.Round = r.round()
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		b.Payload = append(b.Payload, r.digest())
	}
	b.Signature = r.signature()
	return b
}

func (r *reader) vote() mconsensus.Vote {
	return mconsensus.Vote{
		Hash:      r.digest(),
		Round:     r.round(),
		Author:    r.pubKey(),
		Signature: r.signature(),
	}
}

func (r *reader) timeout() mconsensus.Timeout {
	return mconsensus.Timeout{
		HighQC:    r.qc(),
		Round:     r.round(),
		Author:    r.pubKey(),
		Signature: r.signature(),
	}
}

// MarshalBlock encodes a bare block for storage.
func MarshalBlock(b mconsensus.Block) ([]byte, error) {
	var w writer
	w.block(b)
	return w.buf, w.err
}

// UnmarshalBlock decodes a bare block produced by [MarshalBlock].
func UnmarshalBlock(buf []byte) (mconsensus.Block, error) {
	r := reader{buf: buf}
	b := r.block()
	if r.err != nil {
		return mconsensus.Block{}, r.err
	}
	if r.off != len(r.buf) {
		return mconsensus.Block{}, fmt.Errorf("%d trailing bytes after block", len(r.buf)-r.off)
	}
	return b, nil
}
