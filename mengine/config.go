package mengine

import "time"

// channelCapacity is the buffer size for every inter-component channel.
const channelCapacity = 10_000

// Parameters are the timing and sizing knobs of one engine instance.
type Parameters struct {
	// How long a round may run without progress
	// before this member broadcasts a timeout.
	TimeoutDelay time.Duration

	// How long the synchronizer waits before re-requesting
	// a still-missing ancestor from the whole committee.
	SyncRetryDelay time.Duration

	// Maximum number of payload digests carried by one block.
	MaxPayload int
}

// DefaultParameters returns the standard engine parameters.
func DefaultParameters() Parameters {
	return Parameters{
		TimeoutDelay:   5 * time.Second,
		SyncRetryDelay: 5 * time.Second,
		MaxPayload:     128,
	}
}
