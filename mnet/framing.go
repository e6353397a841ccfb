package mnet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-delimited frame.
// A block carrying a full payload of batch digests fits well within this.
const MaxFrameSize = 1 << 20

// readFrame reads one length-delimited frame:
// a 4-byte big-endian length followed by that many bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", n, MaxFrameSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes one length-delimited frame as a single write,
// so concurrent writers on the same connection cannot interleave
// a header with another frame's body.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame length %d exceeds limit %d", len(payload), MaxFrameSize)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := w.Write(buf)
	return err
}

// Writer is the reply side of one accepted connection,
// handed to handlers so they can acknowledge frames in-band.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w as a frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame sends one length-delimited frame back to the peer.
func (w *Writer) WriteFrame(payload []byte) error {
	return writeFrame(w.w, payload)
}
