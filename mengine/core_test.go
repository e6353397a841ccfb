package mengine

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mconsensus/mconsensustest"
	"github.com/mosaic-bft/mosaic/mcrypto"
	"github.com/mosaic-bft/mosaic/mstore"
)

// coreHarness wires a core to recorded outputs,
// driving the handlers directly instead of through the run loop.
type coreHarness struct {
	fx *mconsensustest.Fixture

	core   *core
	tx     *recordTx
	blocks *blockStore

	ingress      chan mconsensus.Message
	proposerReqs chan proposalRequest
	commits      chan mconsensus.Block
	statusReqs   chan chan EngineStatus
}

// newCoreHarness builds a four-member harness acting as member selfIdx.
// Round r is led by member r % 4.
func newCoreHarness(t *testing.T, selfIdx int) *coreHarness {
	t.Helper()

	fx := mconsensustest.NewFixture(t, 4)
	log := slogt.New(t)

	blocks := newBlockStore(mstore.NewMemStore())
	require.NoError(t, blocks.Put(context.Background(), mconsensus.GenesisBlock()))

	tx := newRecordTx()
	ingress := make(chan mconsensus.Message, 64)
	proposerReqs := make(chan proposalRequest, 64)
	commits := make(chan mconsensus.Block, 64)
	statusReqs := make(chan chan EngineStatus)

	signer := fx.PrivVals[selfIdx].Signer
	params := DefaultParameters()

	mempool := newMempoolDriver(log, make(chan mcrypto.Digest), nil, params.MaxPayload)
	sync := newSynchronizer(
		log, signer.PubKey(), fx.Committee, blocks, tx, params.SyncRetryDelay, ingress,
	)

	c := newCore(
		log, signer, fx.Committee, blocks, params,
		mconsensus.NewLeaderElector(fx.Committee),
		mempool, sync, tx,
		ingress, proposerReqs, commits, statusReqs,
	)
	t.Cleanup(func() { c.timer.Stop() })

	return &coreHarness{
		fx:           fx,
		core:         c,
		tx:           tx,
		blocks:       blocks,
		ingress:      ingress,
		proposerReqs: proposerReqs,
		commits:      commits,
		statusReqs:   statusReqs,
	}
}

// chain returns n consecutive blocks starting at round 1,
// each certified by members 0..2 and authored by its round's leader.
func (h *coreHarness) chain(t *testing.T, n int) []mconsensus.Block {
	t.Helper()

	out := make([]mconsensus.Block, n)
	qc := mconsensus.GenesisQC()
	for i := 0; i < n; i++ {
		round := mconsensus.Round(i + 1)
		b := h.fx.MakeBlock(t, int(round)%4, round, qc, nil)
		out[i] = b
		qc = h.fx.MakeQC(t, b, []int{0, 1, 2})
	}
	return out
}

func (h *coreHarness) expectNoCommit(t *testing.T) {
	t.Helper()
	select {
	case b := <-h.commits:
		t.Fatalf("unexpected commit of block at round %d", b.Round)
	default:
	}
}

func TestCore_VotesAndSendsToNextLeader(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	b1 := h.chain(t, 1)[0]
	h.core.handleProposal(ctx, b1)

	next := h.fx.Committee
	nextLeader, _ := next.KeyAt(2)
	wantAddr, ok := next.Address(nextLeader)
	require.True(t, ok)

	sent := h.tx.nextSend(t)
	require.Equal(t, wantAddr, sent.Addr)

	vm, ok := sent.Msg.(mconsensus.VoteMessage)
	require.True(t, ok)
	require.Equal(t, b1.Digest(), vm.Vote.Hash)
	require.Equal(t, mconsensus.Round(1), vm.Vote.Round)
	require.NoError(t, vm.Vote.Verify(h.fx.Committee))

	// The proposal is durably stored.
	_, found, err := h.blocks.Get(ctx, b1.Digest())
	require.NoError(t, err)
	require.True(t, found)
}

func TestCore_OwnVoteWhenSelfIsNextLeader(t *testing.T) {
	t.Parallel()

	// Member 2 leads round 2, so its vote for the round 1 block
	// stays local instead of crossing the network.
	h := newCoreHarness(t, 2)
	ctx := context.Background()

	b1 := h.chain(t, 1)[0]
	h.core.handleProposal(ctx, b1)

	h.tx.expectNoSend(t)
	require.Equal(t, mconsensus.Round(1), h.core.lastVotedRound)
}

func TestCore_DropsProposalFromNonLeader(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	// Round 1 is led by member 1; member 3's proposal is ignored.
	b := h.fx.MakeBlock(t, 3, 1, mconsensus.GenesisQC(), nil)
	h.core.handleProposal(ctx, b)

	h.tx.expectNoSend(t)
	require.Zero(t, h.core.lastVotedRound)

	_, found, err := h.blocks.Get(ctx, b.Digest())
	require.NoError(t, err)
	require.False(t, found)
}

func TestCore_VotesAtMostOncePerRound(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	b1 := h.chain(t, 1)[0]
	h.core.handleProposal(ctx, b1)
	h.tx.nextSend(t)

	// Replay of the same proposal.
	h.core.handleProposal(ctx, b1)
	h.tx.expectNoSend(t)

	// An equivocating second proposal for the same round.
	other := h.fx.MakeBlock(t, 1, 1, mconsensus.GenesisQC(), []mcrypto.Digest{
		mcrypto.NewDigest([]byte("conflicting payload")),
	})
	h.core.handleProposal(ctx, other)
	h.tx.expectNoSend(t)
}

func TestCore_AdvancesRoundWithCertifiedChain(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	blocks := h.chain(t, 2)
	h.core.handleProposal(ctx, blocks[0])
	h.tx.nextSend(t)

	h.core.handleProposal(ctx, blocks[1])
	sent := h.tx.nextSend(t)

	vm, ok := sent.Msg.(mconsensus.VoteMessage)
	require.True(t, ok)
	require.Equal(t, blocks[1].Digest(), vm.Vote.Hash)

	require.Equal(t, mconsensus.Round(2), h.core.round)
	require.Equal(t, mconsensus.Round(1), h.core.highQC.Round)
}

func TestCore_TwoChainCommit(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	blocks := h.chain(t, 4)

	h.core.handleProposal(ctx, blocks[0])
	h.core.handleProposal(ctx, blocks[1])
	h.expectNoCommit(t)

	// The third block certifies two consecutive rounds,
	// finalizing the first.
	h.core.handleProposal(ctx, blocks[2])

	committed := <-h.commits
	require.Equal(t, blocks[0].Digest(), committed.Digest())
	h.expectNoCommit(t)

	h.core.handleProposal(ctx, blocks[3])
	committed = <-h.commits
	require.Equal(t, blocks[1].Digest(), committed.Digest())
	h.expectNoCommit(t)

	require.Equal(t, mconsensus.Round(2), h.core.lastCommittedRound)
}

func TestCore_CommitReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	blocks := h.chain(t, 3)
	for _, b := range blocks {
		h.core.handleProposal(ctx, b)
	}
	<-h.commits

	h.core.handleProposal(ctx, blocks[2])
	h.expectNoCommit(t)
	require.Equal(t, mconsensus.Round(1), h.core.lastCommittedRound)
}

func TestCore_SuspendsOnMissingParentAndReinjects(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	blocks := h.chain(t, 2)
	b1, b2 := blocks[0], blocks[1]

	// b2 arrives before its parent: no vote, and a sync request
	// goes to the proposer that sent it.
	h.core.handleProposal(ctx, b2)

	sent := h.tx.nextSend(t)
	req, ok := sent.Msg.(mconsensus.SyncRequestMessage)
	require.True(t, ok)
	require.Equal(t, b1.Digest(), req.Missing)
	require.True(t, req.Requester.Equal(h.core.name))

	wantAddr, ok := h.fx.Committee.Address(b2.Author)
	require.True(t, ok)
	require.Equal(t, wantAddr, sent.Addr)

	// Storing the parent releases the suspended child
	// back through the loopback, exactly once.
	require.NoError(t, h.blocks.Put(ctx, b1))

	select {
	case m := <-h.ingress:
		pm, ok := m.(mconsensus.ProposeMessage)
		require.True(t, ok)
		require.Equal(t, b2.Digest(), pm.Block.Digest())
	case <-time.After(5 * time.Second):
		t.Fatal("suspended block was never re-injected")
	}

	select {
	case m := <-h.ingress:
		t.Fatalf("unexpected second re-injection: %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCore_TimeoutQuorumFormsTC(t *testing.T) {
	t.Parallel()

	// Member 2 leads round 2 and should propose once
	// the committee gives up on round 1.
	h := newCoreHarness(t, 2)
	ctx := context.Background()

	for _, i := range []int{0, 1, 3} {
		h.core.handleTimeout(ctx, h.fx.MakeTimeout(t, i, 1, mconsensus.GenesisQC()))
	}

	require.Equal(t, mconsensus.Round(2), h.core.round)

	// The freshly formed TC is shared with the committee.
	bc := h.tx.nextBroadcast(t)
	tcm, ok := bc.Msg.(mconsensus.TCMessage)
	require.True(t, ok)
	require.Equal(t, mconsensus.Round(1), tcm.TC.Round)

	// And as the new round's leader we request a proposal carrying it.
	select {
	case req := <-h.proposerReqs:
		require.Equal(t, mconsensus.Round(2), req.Round)
		require.NotNil(t, req.TC)
		require.Equal(t, mconsensus.Round(1), req.TC.Round)
	case <-time.After(5 * time.Second):
		t.Fatal("no proposal request after TC")
	}
}

func TestCore_AdoptsReceivedTC(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	tc := h.fx.MakeTC(t, 3, 0, []int{0, 1, 2})
	h.core.handleTC(ctx, tc)

	require.Equal(t, mconsensus.Round(4), h.core.round)

	// Member 0 leads round 4.
	select {
	case req := <-h.proposerReqs:
		require.Equal(t, mconsensus.Round(4), req.Round)
		require.NotNil(t, req.TC)
	case <-time.After(5 * time.Second):
		t.Fatal("no proposal request after adopting TC")
	}

	// A stale TC must not move the round backwards.
	stale := h.fx.MakeTC(t, 1, 0, []int{0, 1, 2})
	h.core.handleTC(ctx, stale)
	require.Equal(t, mconsensus.Round(4), h.core.round)
}

func TestCore_LocalTimeoutBroadcasts(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 0)
	ctx := context.Background()

	h.core.localTimeout(ctx)

	bc := h.tx.nextBroadcast(t)
	tm, ok := bc.Msg.(mconsensus.TimeoutMessage)
	require.True(t, ok)
	require.Equal(t, mconsensus.Round(1), tm.Timeout.Round)
	require.NoError(t, tm.Timeout.Verify(h.fx.Committee))

	// Own timeout alone is far from quorum; the round holds.
	require.Equal(t, mconsensus.Round(1), h.core.round)
}

func TestCore_RefusesUnjustifiedProposal(t *testing.T) {
	t.Parallel()

	// Member 1 is a bystander here: round 4's leader is member 0,
	// so a vote for the good round 3 block goes out on the wire.
	h := newCoreHarness(t, 1)
	ctx := context.Background()

	b1 := h.chain(t, 1)[0]
	h.core.handleProposal(ctx, b1)
	h.tx.nextSend(t)
	qc1 := h.fx.MakeQC(t, b1, []int{0, 1, 2})

	// A TC for round 2 moves everyone to round 3, led by member 3.
	tc := h.fx.MakeTC(t, 2, 1, []int{0, 1, 2})
	h.core.handleTC(ctx, tc)
	require.Equal(t, mconsensus.Round(3), h.core.round)

	// A round 3 proposal on a round 1 certificate without the TC
	// justifying the gap gets no vote.
	bad := h.fx.MakeBlock(t, 3, 3, qc1, nil)
	h.core.handleProposal(ctx, bad)
	h.tx.expectNoSend(t)

	// With the TC attached the same extension is justified.
	good, err := mconsensus.NewBlock(
		ctx, h.fx.PrivVals[3].Signer, qc1, &tc, 3, nil,
	)
	require.NoError(t, err)
	h.core.handleProposal(ctx, good)

	sent := h.tx.nextSend(t)
	vm, ok := sent.Msg.(mconsensus.VoteMessage)
	require.True(t, ok)
	require.Equal(t, good.Digest(), vm.Vote.Hash)
}

func TestCore_VoteQuorumTriggersOwnProposal(t *testing.T) {
	t.Parallel()

	// Member 2 leads round 2: collecting a quorum of round 1 votes
	// should advance the round and request a proposal.
	h := newCoreHarness(t, 2)
	ctx := context.Background()

	b1 := h.chain(t, 1)[0]
	require.NoError(t, h.blocks.Put(ctx, b1))

	for _, i := range []int{0, 1, 3} {
		h.core.handleVote(ctx, h.fx.MakeVote(t, i, b1))
	}

	require.Equal(t, mconsensus.Round(2), h.core.round)
	require.Equal(t, mconsensus.Round(1), h.core.highQC.Round)

	select {
	case req := <-h.proposerReqs:
		require.Equal(t, mconsensus.Round(2), req.Round)
		require.Equal(t, b1.Digest(), req.QC.Hash)
		require.Nil(t, req.TC)
	case <-time.After(5 * time.Second):
		t.Fatal("no proposal request after vote quorum")
	}
}

func TestCore_DropsStaleVotes(t *testing.T) {
	t.Parallel()

	h := newCoreHarness(t, 2)
	ctx := context.Background()

	tc := h.fx.MakeTC(t, 4, 0, []int{0, 1, 2})
	h.core.handleTC(ctx, tc)
	require.Equal(t, mconsensus.Round(5), h.core.round)

	b1 := h.chain(t, 1)[0]
	h.core.handleVote(ctx, h.fx.MakeVote(t, 0, b1))

	// The stale vote was never aggregated.
	require.Empty(t, h.core.agg.votes)
}

func TestCore_RunBootstrapAndStatus(t *testing.T) {
	t.Parallel()

	// Member 1 leads round 1 and must request a proposal on startup.
	h := newCoreHarness(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.core.run(ctx)

	select {
	case req := <-h.proposerReqs:
		require.Equal(t, mconsensus.Round(1), req.Round)
		require.True(t, req.QC.Equal(mconsensus.GenesisQC()))
	case <-time.After(5 * time.Second):
		t.Fatal("no bootstrap proposal request")
	}

	resp := make(chan EngineStatus, 1)
	h.statusReqs <- resp
	st := <-resp
	require.Equal(t, mconsensus.Round(1), st.Round)
	require.Zero(t, st.LastCommittedRound)

	cancel()
	select {
	case <-h.core.done:
	case <-time.After(5 * time.Second):
		t.Fatal("core did not stop on cancel")
	}
}
