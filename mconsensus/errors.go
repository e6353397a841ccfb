package mconsensus

import "errors"

var (
	// ErrUnknownAuthority indicates a message signed by a key
	// that is not a committee member.
	ErrUnknownAuthority = errors.New("unknown authority")

	// ErrAuthorityReuse indicates a second vote or timeout
	// from a member that already contributed to the same aggregation.
	ErrAuthorityReuse = errors.New("authority reuse")

	// ErrQuorumNotReached indicates a certificate whose total weight
	// is below the committee's quorum threshold.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrMalformed indicates a structurally invalid consensus value.
	ErrMalformed = errors.New("malformed consensus value")
)
