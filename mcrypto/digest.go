package mcrypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the byte length of a content digest.
const DigestSize = 32

// Digest is a BLAKE2b-256 content digest.
// Blocks and payload batches are identified by their digest.
type Digest [DigestSize]byte

// NewDigest computes the digest of the concatenation of chunks.
func NewDigest(chunks ...[]byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only reachable with a non-nil key argument.
		panic(err)
	}

	for _, c := range chunks {
		_, _ = h.Write(c)
	}

	var d Digest
	h.Sum(d[:0])
	return d
}

// DigestFromBytes converts a full-length byte slice to a Digest.
func DigestFromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != DigestSize {
		return d, false
	}
	copy(d[:], b)
	return d, true
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns an abbreviated hex form for logging.
func (d Digest) String() string {
	return hex.EncodeToString(d[:8])
}
