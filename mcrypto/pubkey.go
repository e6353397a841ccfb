package mcrypto

import "context"

// PubKey is the minimal interface a consensus participant's public key satisfies.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	// Two keys reporting the same bytes are the same key.
	PubKeyBytes() []byte

	// Equal reports whether other is the same key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature by this key over msg.
	Verify(msg, sig []byte) bool
}

// Signer is the interface for signing consensus messages.
//
// Signing accepts a context because production signers
// may delegate to a remote service.
type Signer interface {
	PubKey() PubKey

	Sign(ctx context.Context, input []byte) ([]byte, error)
}
