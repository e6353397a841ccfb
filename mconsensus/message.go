package mconsensus

import "github.com/mosaic-bft/mosaic/mcrypto"

// Message is the tagged union carried between consensus participants.
//
// The engine's ingress accepts every variant through a single queue,
// whether it originated on the network or from the local proposer,
// so validation follows one code path regardless of origin.
type Message interface {
	isConsensusMessage()
}

// ProposeMessage carries a leader's block proposal.
type ProposeMessage struct {
	Block Block
}

// VoteMessage carries one member's vote, addressed to the next leader.
type VoteMessage struct {
	Vote Vote
}

// TimeoutMessage carries one member's declaration that a round expired.
type TimeoutMessage struct {
	Timeout Timeout
}

// TCMessage carries a formed timeout certificate.
type TCMessage struct {
	TC TC
}

// SyncRequestMessage asks the recipient to re-deliver the block
// identified by Missing directly to Requester's consensus inbox.
type SyncRequestMessage struct {
	Missing   mcrypto.Digest
	Requester mcrypto.PubKey
}

func (ProposeMessage) isConsensusMessage()     {}
func (VoteMessage) isConsensusMessage()        {}
func (TimeoutMessage) isConsensusMessage()     {}
func (TCMessage) isConsensusMessage()          {}
func (SyncRequestMessage) isConsensusMessage() {}
