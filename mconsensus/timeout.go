package mconsensus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mosaic-bft/mosaic/mcrypto"
)

// TimeoutSignBytes returns the deterministic content a member signs
// when giving up on a round while holding a QC for highQCRound.
// The high QC round is part of the signed content so that a TC
// proves which certificates its signers had seen.
func TimeoutSignBytes(round, highQCRound Round) []byte {
	out := make([]byte, 0, 1+8+8)
	out = append(out, 'T')
	out = binary.LittleEndian.AppendUint64(out, uint64(round))
	out = binary.LittleEndian.AppendUint64(out, uint64(highQCRound))
	return out
}

// Timeout declares that a round expired without progress,
// carrying the sender's highest known QC so laggards can catch up.
type Timeout struct {
	HighQC QC
	Round  Round

	Author    mcrypto.PubKey
	Signature []byte
}

// NewTimeout constructs and signs a timeout for the given round.
func NewTimeout(ctx context.Context, signer mcrypto.Signer, round Round, highQC QC) (Timeout, error) {
	t := Timeout{
		HighQC: highQC,
		Round:  round,
		Author: signer.PubKey(),
	}

	sig, err := signer.Sign(ctx, TimeoutSignBytes(t.Round, t.HighQC.Round))
	if err != nil {
		return Timeout{}, fmt.Errorf("failed to sign timeout: %w", err)
	}

	t.Signature = sig
	return t, nil
}

// Verify checks committee membership, the timeout signature,
// and the embedded high QC.
func (t Timeout) Verify(c Committee) error {
	if t.Author == nil {
		return fmt.Errorf("%w: timeout has no author", ErrMalformed)
	}

	if c.Weight(t.Author) == 0 {
		return fmt.Errorf("%w: timeout signer %x", ErrUnknownAuthority, t.Author.PubKeyBytes())
	}

	if !t.Author.Verify(TimeoutSignBytes(t.Round, t.HighQC.Round), t.Signature) {
		return fmt.Errorf("%w: timeout for round %d", mcrypto.ErrInvalidSignature, t.Round)
	}

	if err := t.HighQC.Verify(c); err != nil {
		return fmt.Errorf("timeout for round %d high QC: %w", t.Round, err)
	}

	return nil
}

func (t Timeout) String() string {
	return fmt.Sprintf("TV(round=%d, highqc=%d)", t.Round, t.HighQC.Round)
}

// TimeoutSignature is one member's contribution to a [TC].
// The signer's high QC round is retained because it is part
// of the signed content.
type TimeoutSignature struct {
	KeyID       uint16
	HighQCRound Round
	Sig         []byte
}

// TC proves that a quorum of weighted members gave up on one round,
// authorizing advancement without a committed block.
type TC struct {
	Round Round

	Signatures []TimeoutSignature
}

// Verify checks that the certificate's signatures are valid timeouts
// from distinct members whose combined weight reaches quorum.
func (tc TC) Verify(c Committee) error {
	var weight uint64
	seen := make(map[uint16]struct{}, len(tc.Signatures))
	for _, ts := range tc.Signatures {
		if _, ok := seen[ts.KeyID]; ok {
			return fmt.Errorf("%w: key id %d appears twice in TC", ErrAuthorityReuse, ts.KeyID)
		}
		seen[ts.KeyID] = struct{}{}

		key, ok := c.KeyAt(int(ts.KeyID))
		if !ok {
			return fmt.Errorf("%w: key id %d out of range", ErrUnknownAuthority, ts.KeyID)
		}

		if !key.Verify(TimeoutSignBytes(tc.Round, ts.HighQCRound), ts.Sig) {
			return fmt.Errorf("%w: TC signature by key id %d", mcrypto.ErrInvalidSignature, ts.KeyID)
		}

		weight += c.Weight(key)
	}

	if weight < c.QuorumThreshold() {
		return fmt.Errorf("%w: TC weight %d below threshold %d", ErrQuorumNotReached, weight, c.QuorumThreshold())
	}

	return nil
}

// HighQCRound returns the highest QC round attested by any signer.
// A proposal justified by this TC must embed a QC at least this recent.
func (tc TC) HighQCRound() Round {
	var max Round
	for _, ts := range tc.Signatures {
		if ts.HighQCRound > max {
			max = ts.HighQCRound
		}
	}
	return max
}

func (tc TC) String() string {
	return fmt.Sprintf("TC(round=%d, signers=%d)", tc.Round, len(tc.Signatures))
}
