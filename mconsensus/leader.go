package mconsensus

import "github.com/mosaic-bft/mosaic/mcrypto"

// LeaderElector deterministically maps a round to its designated leader.
// Every honest participant with the same committee derives the same leader,
// which is what entitles exactly one member to propose per round.
type LeaderElector struct {
	committee Committee
}

func NewLeaderElector(committee Committee) LeaderElector {
	return LeaderElector{committee: committee}
}

// Leader returns the public key of the leader for the given round.
// Rotation is round-robin over the committee's stable member ordering.
func (e LeaderElector) Leader(round Round) mcrypto.PubKey {
	key, _ := e.committee.KeyAt(int(uint64(round) % uint64(e.committee.Size())))
	return key
}
