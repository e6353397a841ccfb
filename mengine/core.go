package mengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// core is the round state machine.
//
// It consumes every consensus message through a single ingress channel,
// whether the message arrived from the network or from the local
// proposer/synchronizer loopback, so validation and voting follow one
// code path regardless of origin. All state is owned by the run
// goroutine; nothing here needs a lock.
type core struct {
	log *slog.Logger

	name      mcrypto.PubKey
	committee mconsensus.Committee
	signer    mcrypto.Signer
	blocks    *blockStore
	params    Parameters

	elector mconsensus.LeaderElector
	mempool *mempoolDriver
	sync    *synchronizer
	agg     *aggregator
	tx      transmitter

	ingress          <-chan mconsensus.Message
	proposerRequests chan<- proposalRequest
	commit           chan<- mconsensus.Block
	statusRequests   <-chan chan EngineStatus

	round              mconsensus.Round
	lastVotedRound     mconsensus.Round
	lastCommittedRound mconsensus.Round
	highQC             mconsensus.QC

	timer *time.Timer

	done chan struct{}
}

func newCore(
	log *slog.Logger,
	signer mcrypto.Signer,
	committee mconsensus.Committee,
	blocks *blockStore,
	params Parameters,
	elector mconsensus.LeaderElector,
	mempool *mempoolDriver,
	sync *synchronizer,
	tx transmitter,
	ingress <-chan mconsensus.Message,
	proposerRequests chan<- proposalRequest,
	commit chan<- mconsensus.Block,
	statusRequests <-chan chan EngineStatus,
) *core {
	return &core{
		log:       log,
		name:      signer.PubKey(),
		committee: committee,
		signer:    signer,
		blocks:    blocks,
		params:    params,

		elector: elector,
		mempool: mempool,
		sync:    sync,
		agg:     newAggregator(committee),
		tx:      tx,

		ingress:          ingress,
		proposerRequests: proposerRequests,
		commit:           commit,
		statusRequests:   statusRequests,

		round:  1,
		highQC: mconsensus.GenesisQC(),

		timer: time.NewTimer(params.TimeoutDelay),

		done: make(chan struct{}),
	}
}

func (c *core) run(ctx context.Context) {
	defer close(c.done)
	defer c.timer.Stop()

	// Bootstrap: the round 1 leader proposes immediately.
	if c.elector.Leader(c.round).Equal(c.name) {
		c.requestProposal(ctx, nil)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case m := <-c.ingress:
			c.handleMessage(ctx, m)

		case resp := <-c.statusRequests:
			resp <- EngineStatus{
				Round:              c.round,
				HighQCRound:        c.highQC.Round,
				LastCommittedRound: c.lastCommittedRound,
			}

		case <-c.timer.C:
			c.localTimeout(ctx)
		}
	}
}

func (c *core) handleMessage(ctx context.Context, m mconsensus.Message) {
	switch msg := m.(type) {
	case mconsensus.ProposeMessage:
		c.handleProposal(ctx, msg.Block)
	case mconsensus.VoteMessage:
		c.handleVote(ctx, msg.Vote)
	case mconsensus.TimeoutMessage:
		c.handleTimeout(ctx, msg.Timeout)
	case mconsensus.TCMessage:
		c.handleTC(ctx, msg.TC)
	default:
		// Sync requests are routed to the helper before the ingress.
		c.log.Warn("Unroutable message on core ingress", "type", typeName(m))
	}
}

func (c *core) handleProposal(ctx context.Context, b mconsensus.Block) {
	// Only the designated leader may propose for a round.
	if b.Author == nil || !b.Author.Equal(c.elector.Leader(b.Round)) {
		c.log.Warn("Dropping proposal from non-leader", "round", b.Round)
		return
	}

	if err := b.Verify(c.committee); err != nil {
		c.log.Warn("Dropping invalid proposal", "block", b.Digest(), "err", err)
		return
	}

	// The embedded certificates may teach us about newer rounds
	// even if we end up not voting.
	c.processQC(ctx, b.QC)
	if b.TC != nil && b.TC.Round >= c.round {
		c.advanceRound(b.TC.Round)
	}

	grandparent, parent, ok, err := c.sync.ancestors(ctx, b)
	if err != nil {
		c.log.Warn("Failed to resolve ancestors", "block", b.Digest(), "err", err)
		return
	}
	if !ok {
		// Suspended; the synchronizer re-injects b once the
		// ancestor chain is complete.
		return
	}

	if err := c.blocks.Put(ctx, b); err != nil {
		c.log.Error("Failed to store block", "block", b.Digest(), "err", err)
		return
	}

	// Two-chain commit rule: consecutive-round certification of the
	// parent makes the grandparent final.
	if grandparent.Round+1 == parent.Round {
		c.commitChain(ctx, grandparent)
	}

	if b.Round != c.round {
		// Stale or premature; stored for the chain, not voted on.
		return
	}

	vote, ok := c.makeVote(ctx, b)
	if !ok {
		return
	}

	next := c.elector.Leader(c.round + 1)
	if next.Equal(c.name) {
		c.handleVote(ctx, vote)
		return
	}

	addr, ok := c.committee.Address(next)
	if !ok {
		c.log.Error("Next leader has no address", "round", c.round+1)
		return
	}
	if err := c.tx.Send(ctx, addr, mconsensus.VoteMessage{Vote: vote}); err != nil {
		c.log.Debug("Failed to send vote to next leader", "addr", addr, "err", err)
	}
}

// makeVote applies the safety rule.
// Voting at most once per round means an equivocating leader's
// second proposal is never endorsed; combined with the certificate
// justification check, this is what prevents two conflicting blocks
// from both reaching quorum.
func (c *core) makeVote(ctx context.Context, b mconsensus.Block) (mconsensus.Vote, bool) {
	if b.Round <= c.lastVotedRound {
		return mconsensus.Vote{}, false
	}

	// The proposal must be justified: either it extends the block
	// certified in the immediately preceding round, or a TC proves
	// that round failed and the embedded QC is at least as recent as
	// any certificate the TC's signers had seen.
	justified := b.QC.Round+1 == b.Round
	if !justified && b.TC != nil {
		justified = b.TC.Round+1 == b.Round && b.QC.Round >= b.TC.HighQCRound()
	}
	if !justified {
		c.log.Warn("Refusing to vote for unjustified proposal",
			"block", b.Digest(), "round", b.Round, "qc_round", b.QC.Round,
		)
		return mconsensus.Vote{}, false
	}

	c.lastVotedRound = b.Round

	vote, err := mconsensus.NewVote(ctx, c.signer, b)
	if err != nil {
		c.log.Error("Failed to sign vote", "block", b.Digest(), "err", err)
		return mconsensus.Vote{}, false
	}

	c.log.Debug("Voting", "block", b.Digest(), "round", b.Round)
	return vote, true
}

func (c *core) handleVote(ctx context.Context, v mconsensus.Vote) {
	if v.Round < c.round {
		return
	}

	if err := v.Verify(c.committee); err != nil {
		c.log.Warn("Dropping invalid vote", "vote", v.String(), "err", err)
		return
	}

	qc, err := c.agg.addVote(v)
	if err != nil {
		c.log.Debug("Discarding vote", "vote", v.String(), "err", err)
		return
	}
	if qc == nil {
		return
	}

	c.log.Info("Assembled QC", "qc", qc.String())
	c.processQC(ctx, *qc)

	if c.elector.Leader(c.round).Equal(c.name) {
		c.requestProposal(ctx, nil)
	}
}

func (c *core) handleTimeout(ctx context.Context, t mconsensus.Timeout) {
	if t.Round < c.round {
		return
	}

	if err := t.Verify(c.committee); err != nil {
		c.log.Warn("Dropping invalid timeout", "timeout", t.String(), "err", err)
		return
	}

	// Catch up on whatever certificate the sender had.
	c.processQC(ctx, t.HighQC)

	tc, err := c.agg.addTimeout(t)
	if err != nil {
		c.log.Debug("Discarding timeout", "timeout", t.String(), "err", err)
		return
	}
	if tc == nil {
		return
	}

	c.log.Info("Assembled TC", "tc", tc.String())

	if tc.Round >= c.round {
		c.advanceRound(tc.Round)
	}

	// Share the TC so laggards advance too.
	c.tx.Broadcast(ctx, c.committee.BroadcastAddresses(c.name), mconsensus.TCMessage{TC: *tc})

	if c.elector.Leader(c.round).Equal(c.name) {
		c.requestProposal(ctx, tc)
	}
}

func (c *core) handleTC(ctx context.Context, tc mconsensus.TC) {
	if tc.Round < c.round {
		return
	}

	if err := tc.Verify(c.committee); err != nil {
		c.log.Warn("Dropping invalid TC", "tc", tc.String(), "err", err)
		return
	}

	c.advanceRound(tc.Round)

	if c.elector.Leader(c.round).Equal(c.name) {
		c.requestProposal(ctx, &tc)
	}
}

func (c *core) localTimeout(ctx context.Context) {
	c.log.Warn("Round timed out", "round", c.round)

	timeout, err := mconsensus.NewTimeout(ctx, c.signer, c.round, c.highQC)
	if err != nil {
		c.log.Error("Failed to sign timeout", "round", c.round, "err", err)
		return
	}

	// Re-arm so a stuck round keeps re-announcing the timeout.
	c.resetTimer()

	c.tx.Broadcast(ctx, c.committee.BroadcastAddresses(c.name), mconsensus.TimeoutMessage{Timeout: timeout})
	c.handleTimeout(ctx, timeout)
}

func (c *core) processQC(ctx context.Context, qc mconsensus.QC) {
	if qc.Round >= c.round {
		c.advanceRound(qc.Round)
	}
	if qc.Round > c.highQC.Round {
		c.highQC = qc
	}
}

func (c *core) advanceRound(r mconsensus.Round) {
	if r < c.round {
		return
	}

	c.round = r + 1
	c.log.Debug("Advanced round", "round", c.round)

	c.resetTimer()
	c.agg.cleanup(c.round)
}

// commitChain finalizes b and every uncommitted ancestor,
// delivering them to the commit sink oldest-first
// and releasing their payloads from the mempool.
func (c *core) commitChain(ctx context.Context, b mconsensus.Block) {
	if b.Round <= c.lastCommittedRound {
		return
	}

	chain := []mconsensus.Block{b}
	parent := b
	for c.lastCommittedRound+1 < parent.Round {
		ancestor, found, err := c.blocks.Parent(ctx, parent)
		if err != nil || !found {
			c.log.Warn("Missing ancestor while committing; delivering partial suffix",
				"block", parent.Digest(), "err", err,
			)
			break
		}
		chain = append(chain, ancestor)
		parent = ancestor
	}

	c.lastCommittedRound = b.Round

	for i := len(chain) - 1; i >= 0; i-- {
		committed := chain[i]
		if committed.Round == 0 {
			// Genesis is implicit, never delivered.
			continue
		}

		c.log.Info("Committed block", "block", committed.Digest(), "round", committed.Round)

		if !mchan.SendC(ctx, c.log, c.commit, "delivering committed block", committed) {
			return
		}
		c.mempool.Remove(ctx, c.log, committed)
	}
}

func (c *core) requestProposal(ctx context.Context, tc *mconsensus.TC) {
	_ = mchan.SendC(ctx, c.log, c.proposerRequests, "requesting block proposal", proposalRequest{
		Round: c.round,
		QC:    c.highQC,
		TC:    tc,
	})
}

func (c *core) resetTimer() {
	c.timer.Stop()
	c.timer.Reset(c.params.TimeoutDelay)
}

func typeName(m mconsensus.Message) string {
	switch m.(type) {
	case mconsensus.ProposeMessage:
		return "propose"
	case mconsensus.VoteMessage:
		return "vote"
	case mconsensus.TimeoutMessage:
		return "timeout"
	case mconsensus.TCMessage:
		return "tc"
	case mconsensus.SyncRequestMessage:
		return "sync_request"
	default:
		return "unknown"
	}
}
