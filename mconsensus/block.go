package mconsensus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mosaic-bft/mosaic/mcrypto"
)

// Round is the monotonically increasing consensus round number.
// Each round has exactly one designated leader.
type Round uint64

// Block is one link in the certified chain.
//
// A block references its parent through the embedded quorum certificate,
// and optionally carries the timeout certificate that justified
// skipping one or more rounds.
// Blocks are immutable once signed and are identified by [Block.Digest].
type Block struct {
	// Certificate of the parent block.
	QC QC

	// Non-nil when the proposer advanced past a failed round;
	// proves the committee agreed the previous round produced no block.
	TC *TC

	Author mcrypto.PubKey

	Round Round

	// Digests of the mempool batches carried by this block.
	Payload []mcrypto.Digest

	// Author's signature over the block digest.
	Signature []byte
}

// NewBlock constructs and signs a block proposal.
func NewBlock(
	ctx context.Context,
	signer mcrypto.Signer,
	qc QC,
	tc *TC,
	round Round,
	payload []mcrypto.Digest,
) (Block, error) {
	b := Block{
		QC:      qc,
		TC:      tc,
		Author:  signer.PubKey(),
		Round:   round,
		Payload: payload,
	}

	d := b.Digest()
	sig, err := signer.Sign(ctx, d.Bytes())
	if err != nil {
		return Block{}, fmt.Errorf("failed to sign block: %w", err)
	}

	b.Signature = sig
	return b, nil
}

// GenesisBlock returns the implicit first block of the chain.
// It is unsigned and carries [GenesisQC];
// every participant stores it before processing any message.
// Blocks at round 1 reference it through the genesis certificate,
// not through its digest.
func GenesisBlock() Block {
	return Block{
		QC:     GenesisQC(),
		Author: mcrypto.Ed25519PubKey(make([]byte, 32)),
		Round:  0,
	}
}

// Digest returns the content digest identifying this block.
// The signature is not part of the digest.
func (b Block) Digest() mcrypto.Digest {
	var round [8]byte
	binary.LittleEndian.PutUint64(round[:], uint64(b.Round))

	chunks := make([][]byte, 0, 3+len(b.Payload))
	chunks = append(chunks, b.Author.PubKeyBytes(), round[:])
	for _, p := range b.Payload {
		chunks = append(chunks, p.Bytes())
	}
	chunks = append(chunks, b.QC.Hash.Bytes())

	return mcrypto.NewDigest(chunks...)
}

// Parent returns the digest of the block this one extends.
func (b Block) Parent() mcrypto.Digest {
	return b.QC.Hash
}

// Verify checks the block's signature and embedded certificates
// against the committee. It does not check the round/leader relationship;
// that depends on the receiver's state and belongs to the engine.
func (b Block) Verify(c Committee) error {
	if b.Author == nil {
		return fmt.Errorf("%w: block has no author", ErrMalformed)
	}

	if c.Weight(b.Author) == 0 {
		return fmt.Errorf("%w: block author %x", ErrUnknownAuthority, b.Author.PubKeyBytes())
	}

	if !b.Author.Verify(b.Digest().Bytes(), b.Signature) {
		return fmt.Errorf("%w: block %s", mcrypto.ErrInvalidSignature, b.Digest())
	}

	if err := b.QC.Verify(c); err != nil {
		return fmt.Errorf("block %s parent certificate: %w", b.Digest(), err)
	}

	if b.TC != nil {
		if err := b.TC.Verify(c); err != nil {
			return fmt.Errorf("block %s timeout certificate: %w", b.Digest(), err)
		}
	}

	return nil
}

func (b Block) String() string {
	return fmt.Sprintf("B(%s, round=%d, parent=%s, payload=%d)",
		b.Digest(), b.Round, b.Parent(), len(b.Payload))
}
