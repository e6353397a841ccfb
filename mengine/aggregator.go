package mengine

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/mosaic-bft/mosaic/mconsensus"
)

// aggregator turns verified votes into QCs and verified timeouts into TCs.
//
// It tracks contributing members per round in a bit set so each member's
// weight counts at most once; a second contribution from the same member
// is rejected, never double-counted. A certificate is released exactly
// once per (round, target): replays after release are discarded.
type aggregator struct {
	committee mconsensus.Committee

	votes map[mconsensus.Round]*roundVotes

	timeouts map[mconsensus.Round]*tcMaker
}

func newAggregator(committee mconsensus.Committee) *aggregator {
	return &aggregator{
		committee: committee,
		votes:     make(map[mconsensus.Round]*roundVotes),
		timeouts:  make(map[mconsensus.Round]*tcMaker),
	}
}

// addVote accumulates a verified vote,
// returning a QC the first time quorum weight is reached.
func (a *aggregator) addVote(v mconsensus.Vote) (*mconsensus.QC, error) {
	rv, ok := a.votes[v.Round]
	if !ok {
		rv = &roundVotes{
			voters: bitset.New(uint(a.committee.Size())),
			byHash: make(map[string]*quorumMaker),
		}
		a.votes[v.Round] = rv
	}

	idx, ok := a.committee.Index(v.Author)
	if !ok {
		return nil, fmt.Errorf("%w: voter not in committee", mconsensus.ErrUnknownAuthority)
	}

	// One vote per member per round, regardless of which block it backs.
	if rv.voters.Test(uint(idx)) {
		return nil, fmt.Errorf("%w: duplicate vote at round %d", mconsensus.ErrAuthorityReuse, v.Round)
	}
	rv.voters.Set(uint(idx))

	qm, ok := rv.byHash[string(v.Hash.Bytes())]
	if !ok {
		qm = &quorumMaker{}
		rv.byHash[string(v.Hash.Bytes())] = qm
	}

	qm.weight += a.committee.Weight(v.Author)
	qm.sigs = append(qm.sigs, mconsensus.CertSignature{
		KeyID: uint16(idx),
		Sig:   v.Signature,
	})

	if qm.released || qm.weight < a.committee.QuorumThreshold() {
		return nil, nil
	}
	qm.released = true

	return &mconsensus.QC{
		Hash:       v.Hash,
		Round:      v.Round,
		Signatures: qm.sigs,
	}, nil
}

// addTimeout accumulates a verified timeout,
// returning a TC the first time quorum weight is reached.
func (a *aggregator) addTimeout(t mconsensus.Timeout) (*mconsensus.TC, error) {
	tm, ok := a.timeouts[t.Round]
	if !ok {
		tm = &tcMaker{
			used: bitset.New(uint(a.committee.Size())),
		}
		a.timeouts[t.Round] = tm
	}

	idx, ok := a.committee.Index(t.Author)
	if !ok {
		return nil, fmt.Errorf("%w: timeout signer not in committee", mconsensus.ErrUnknownAuthority)
	}

	if tm.used.Test(uint(idx)) {
		return nil, fmt.Errorf("%w: duplicate timeout for round %d", mconsensus.ErrAuthorityReuse, t.Round)
	}
	tm.used.Set(uint(idx))

	tm.weight += a.committee.Weight(t.Author)
	tm.sigs = append(tm.sigs, mconsensus.TimeoutSignature{
		KeyID:       uint16(idx),
		HighQCRound: t.HighQC.Round,
		Sig:         t.Signature,
	})

	if tm.released || tm.weight < a.committee.QuorumThreshold() {
		return nil, nil
	}
	tm.released = true

	return &mconsensus.TC{
		Round:      t.Round,
		Signatures: tm.sigs,
	}, nil
}

// cleanup drops aggregation state for rounds before round.
func (a *aggregator) cleanup(round mconsensus.Round) {
	for r := range a.votes {
		if r < round {
			delete(a.votes, r)
		}
	}
	for r := range a.timeouts {
		if r < round {
			delete(a.timeouts, r)
		}
	}
}

type roundVotes struct {
	voters *bitset.BitSet
	byHash map[string]*quorumMaker
}

type quorumMaker struct {
	weight   uint64
	sigs     []mconsensus.CertSignature
	released bool
}

type tcMaker struct {
	used     *bitset.BitSet
	weight   uint64
	sigs     []mconsensus.TimeoutSignature
	released bool
}
