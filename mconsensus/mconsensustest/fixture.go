// Package mconsensustest provides deterministic committees and
// ready-made consensus values for tests in other packages.
package mconsensustest

import (
	"context"
	"fmt"
	"testing"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
	"github.com/mosaic-bft/mosaic/mcrypto/mcryptotest"
)

// PrivVal pairs a committee member with the signer backing it,
// so tests can produce valid signatures for any member.
type PrivVal struct {
	Authority mconsensus.Authority

	Signer mcrypto.Signer
}

// Fixture is a deterministic committee with full signing access
// to every member.
type Fixture struct {
	Committee mconsensus.Committee

	// Sorted in committee order, so PrivVals[i] has key id i.
	PrivVals []PrivVal
}

// NewFixture returns a fixture with n members of weight 1 each
// and placeholder loopback addresses.
func NewFixture(tb testing.TB, n int) *Fixture {
	tb.Helper()

	signers := mcryptotest.DeterministicEd25519Signers(n)

	auths := make([]mconsensus.Authority, n)
	for i, s := range signers {
		auths[i] = mconsensus.Authority{
			PubKey: s.PubKey(),
			Weight: 1,
			Address: fmt.Sprintf("127.0.0.1:%d", 21000+i),
		}
	}

	c, err := mconsensus.NewCommittee(auths)
	if err != nil {
		tb.Fatalf("failed to build fixture committee: %v", err)
	}

	fx := &Fixture{
		Committee: c,
		PrivVals:  make([]PrivVal, n),
	}

	// Reorder the priv vals to match the committee's key-sorted order.
	for _, s := range signers {
		idx, ok := c.Index(s.PubKey())
		if !ok {
			tb.Fatalf("signer missing from committee")
		}
		addr, _ := c.Address(s.PubKey())
		fx.PrivVals[idx] = PrivVal{
			Authority: mconsensus.Authority{PubKey: s.PubKey(), Weight: 1, Address: addr},
			Signer:    s,
		}
	}

	return fx
}

// SignerFor returns the signer matching the given key.
func (fx *Fixture) SignerFor(tb testing.TB, key mcrypto.PubKey) mcrypto.Signer {
	tb.Helper()

	idx, ok := fx.Committee.Index(key)
	if !ok {
		tb.Fatalf("no signer for key %x", key.PubKeyBytes())
	}
	return fx.PrivVals[idx].Signer
}

// MakeBlock builds a signed block authored by member authorIdx.
func (fx *Fixture) MakeBlock(
	tb testing.TB,
	authorIdx int,
	round mconsensus.Round,
	qc mconsensus.QC,
	payload []mcrypto.Digest,
) mconsensus.Block {
	tb.Helper()

	b, err := mconsensus.NewBlock(
		context.Background(), fx.PrivVals[authorIdx].Signer, qc, nil, round, payload,
	)
	if err != nil {
		tb.Fatalf("failed to make block: %v", err)
	}
	return b
}

// MakeVote builds member voterIdx's signed vote for b.
func (fx *Fixture) MakeVote(tb testing.TB, voterIdx int, b mconsensus.Block) mconsensus.Vote {
	tb.Helper()

	v, err := mconsensus.NewVote(context.Background(), fx.PrivVals[voterIdx].Signer, b)
	if err != nil {
		tb.Fatalf("failed to make vote: %v", err)
	}
	return v
}

// MakeQC builds a certificate for b signed by the given members.
// It does not enforce quorum; tests check both sides of the threshold.
func (fx *Fixture) MakeQC(tb testing.TB, b mconsensus.Block, signerIdxs []int) mconsensus.QC {
	tb.Helper()

	qc := mconsensus.QC{Hash: b.Digest(), Round: b.Round}
	msg := mconsensus.VoteSignBytes(qc.Hash, qc.Round)
	for _, i := range signerIdxs {
		sig, err := fx.PrivVals[i].Signer.Sign(context.Background(), msg)
		if err != nil {
			tb.Fatalf("failed to sign QC entry: %v", err)
		}
		qc.Signatures = append(qc.Signatures, mconsensus.CertSignature{
			KeyID: uint16(i),
			Sig:   sig,
		})
	}
	return qc
}

// MakeTimeout builds member idx's signed timeout for round with highQC.
func (fx *Fixture) MakeTimeout(
	tb testing.TB, idx int, round mconsensus.Round, highQC mconsensus.QC,
) mconsensus.Timeout {
	tb.Helper()

	t, err := mconsensus.NewTimeout(context.Background(), fx.PrivVals[idx].Signer, round, highQC)
	if err != nil {
		tb.Fatalf("failed to make timeout: %v", err)
	}
	return t
}

// MakeTC builds a timeout certificate for round signed by the given members,
// each attesting the given high QC round.
func (fx *Fixture) MakeTC(
	tb testing.TB, round mconsensus.Round, highQCRound mconsensus.Round, signerIdxs []int,
) mconsensus.TC {
	tb.Helper()

	tc := mconsensus.TC{Round: round}
	msg := mconsensus.TimeoutSignBytes(round, highQCRound)
	for _, i := range signerIdxs {
		sig, err := fx.PrivVals[i].Signer.Sign(context.Background(), msg)
		if err != nil {
			tb.Fatalf("failed to sign TC entry: %v", err)
		}
		tc.Signatures = append(tc.Signatures, mconsensus.TimeoutSignature{
			KeyID:       uint16(i),
			HighQCRound: highQCRound,
			Sig:         sig,
		})
	}
	return tc
}
