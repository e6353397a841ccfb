package mcrypto

import "errors"

var (
	// ErrUnknownKey indicates a signature was presented
	// with a key outside the candidate key set.
	ErrUnknownKey = errors.New("unknown key")

	// ErrInvalidSignature indicates a signature
	// that did not verify against its claimed key.
	ErrInvalidSignature = errors.New("invalid signature")
)
