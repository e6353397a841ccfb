package mcryptotest

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"sync"

	"github.com/mosaic-bft/mosaic/mcrypto"
)

var ed25519Cache = struct {
	mu      sync.Mutex
	signers []mcrypto.Ed25519Signer
}{}

// DeterministicEd25519Signers returns a deterministic slice of n signers.
//
// Deterministic keys keep logs stable across runs of the same test,
// and the cache makes repeated fixture construction effectively free.
func DeterministicEd25519Signers(n int) []mcrypto.Ed25519Signer {
	ed25519Cache.mu.Lock()
	defer ed25519Cache.mu.Unlock()

	for i := len(ed25519Cache.signers); i < n; i++ {
		seed := sha512.Sum512_256(deterministicSeed(i))
		priv := ed25519.NewKeyFromSeed(seed[:])
		ed25519Cache.signers = append(ed25519Cache.signers, mcrypto.NewEd25519Signer(priv))
	}

	out := make([]mcrypto.Ed25519Signer, n)
	copy(out, ed25519Cache.signers[:n])
	return out
}

func deterministicSeed(i int) []byte {
	b := make([]byte, 8, 8+len("mosaic-deterministic-signer"))
	binary.BigEndian.PutUint64(b, uint64(i))
	return append(b, "mosaic-deterministic-signer"...)
}
