package mconsensus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mosaic-bft/mosaic/mcrypto"
)

// VoteSignBytes returns the deterministic content a member signs
// when voting for the block with the given digest at the given round.
func VoteSignBytes(hash mcrypto.Digest, round Round) []byte {
	out := make([]byte, 0, 1+mcrypto.DigestSize+8)
	out = append(out, 'V')
	out = append(out, hash.Bytes()...)
	out = binary.LittleEndian.AppendUint64(out, uint64(round))
	return out
}

// Vote endorses one block for one round.
// One vote per (voter, round) is honored; duplicates are rejected
// during aggregation.
type Vote struct {
	Hash  mcrypto.Digest
	Round Round

	Author    mcrypto.PubKey
	Signature []byte
}

// NewVote constructs and signs a vote for the given block.
func NewVote(ctx context.Context, signer mcrypto.Signer, b Block) (Vote, error) {
	v := Vote{
		Hash:   b.Digest(),
		Round:  b.Round,
		Author: signer.PubKey(),
	}

	sig, err := signer.Sign(ctx, VoteSignBytes(v.Hash, v.Round))
	if err != nil {
		return Vote{}, fmt.Errorf("failed to sign vote: %w", err)
	}

	v.Signature = sig
	return v, nil
}

// Verify checks committee membership and the vote signature.
func (v Vote) Verify(c Committee) error {
	if v.Author == nil {
		return fmt.Errorf("%w: vote has no author", ErrMalformed)
	}

	if c.Weight(v.Author) == 0 {
		return fmt.Errorf("%w: voter %x", ErrUnknownAuthority, v.Author.PubKeyBytes())
	}

	if !v.Author.Verify(VoteSignBytes(v.Hash, v.Round), v.Signature) {
		return fmt.Errorf("%w: vote for %s at round %d", mcrypto.ErrInvalidSignature, v.Hash, v.Round)
	}

	return nil
}

func (v Vote) String() string {
	return fmt.Sprintf("V(%s, round=%d)", v.Hash, v.Round)
}

// CertSignature is one member's contribution to a [QC],
// referencing the signer by stable committee index.
type CertSignature struct {
	KeyID uint16
	Sig   []byte
}

// QC proves that a quorum of weighted votes endorsed
// one block in one round. It is embedded in the next block
// as the parent reference.
type QC struct {
	Hash  mcrypto.Digest
	Round Round

	Signatures []CertSignature
}

// GenesisQC returns the certificate embedded in blocks
// that extend the implicit genesis block.
// It is the zero certificate: no hash, no signatures,
// and it verifies unconditionally.
func GenesisQC() QC {
	return QC{}
}

// Verify checks that the certificate's signatures are valid votes
// from distinct members whose combined weight reaches quorum.
func (qc QC) Verify(c Committee) error {
	if qc.Equal(GenesisQC()) {
		return nil
	}

	msg := VoteSignBytes(qc.Hash, qc.Round)

	var weight uint64
	seen := make(map[uint16]struct{}, len(qc.Signatures))
	for _, cs := range qc.Signatures {
		if _, ok := seen[cs.KeyID]; ok {
			return fmt.Errorf("%w: key id %d appears twice in QC", ErrAuthorityReuse, cs.KeyID)
		}
		seen[cs.KeyID] = struct{}{}

		key, ok := c.KeyAt(int(cs.KeyID))
		if !ok {
			return fmt.Errorf("%w: key id %d out of range", ErrUnknownAuthority, cs.KeyID)
		}

		if !key.Verify(msg, cs.Sig) {
			return fmt.Errorf("%w: QC signature by key id %d", mcrypto.ErrInvalidSignature, cs.KeyID)
		}

		weight += c.Weight(key)
	}

	if weight < c.QuorumThreshold() {
		return fmt.Errorf("%w: QC weight %d below threshold %d", ErrQuorumNotReached, weight, c.QuorumThreshold())
	}

	return nil
}

// Equal reports whether two certificates certify
// the same block at the same round.
// Signature sets may differ between equal certificates.
func (qc QC) Equal(other QC) bool {
	return qc.Hash == other.Hash && qc.Round == other.Round
}

func (qc QC) String() string {
	return fmt.Sprintf("QC(%s, round=%d)", qc.Hash, qc.Round)
}
