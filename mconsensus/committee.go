package mconsensus

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mosaic-bft/mosaic/mcrypto"
)

// Authority is one member of a [Committee]:
// a public key with a voting weight and a network address
// where its consensus listener can be reached.
type Authority struct {
	PubKey mcrypto.PubKey

	Weight uint64

	// Host:port of the member's consensus listener.
	Address string
}

// Committee is the agreed-upon, immutable set of consensus participants
// for one epoch. It answers membership, weight, and quorum queries.
//
// Authorities are kept sorted by public key bytes so that every honest
// participant derives identical member indices and leader rotation.
type Committee struct {
	authorities []Authority

	// string(pub key bytes) -> index in authorities.
	idxByKey map[string]int

	totalWeight uint64
}

// NewCommittee builds a Committee from the given authorities.
// The input order does not matter; members are sorted by key bytes.
func NewCommittee(authorities []Authority) (Committee, error) {
	if len(authorities) == 0 {
		return Committee{}, fmt.Errorf("committee requires at least one authority")
	}

	sorted := make([]Authority, len(authorities))
	copy(sorted, authorities)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].PubKey.PubKeyBytes(), sorted[j].PubKey.PubKeyBytes()) < 0
	})

	c := Committee{
		authorities: sorted,
		idxByKey:    make(map[string]int, len(sorted)),
	}

	for i, a := range sorted {
		if a.Weight == 0 {
			return Committee{}, fmt.Errorf("authority %x has zero weight", a.PubKey.PubKeyBytes())
		}

		k := string(a.PubKey.PubKeyBytes())
		if _, ok := c.idxByKey[k]; ok {
			return Committee{}, fmt.Errorf("duplicate authority key %x", a.PubKey.PubKeyBytes())
		}

		c.idxByKey[k] = i
		c.totalWeight += a.Weight
	}

	return c, nil
}

// Size returns the number of committee members.
func (c Committee) Size() int {
	return len(c.authorities)
}

// TotalWeight returns the sum of all members' voting weights.
func (c Committee) TotalWeight() uint64 {
	return c.totalWeight
}

// QuorumThreshold returns the minimum total weight
// required to certify a block or a failed round (2f+1 of 3f+1).
func (c Committee) QuorumThreshold() uint64 {
	return 2*c.totalWeight/3 + 1
}

// Weight returns the voting weight of the given key,
// or zero if the key is not a member.
func (c Committee) Weight(key mcrypto.PubKey) uint64 {
	i, ok := c.idxByKey[string(key.PubKeyBytes())]
	if !ok {
		return 0
	}
	return c.authorities[i].Weight
}

// Index returns the stable member index of key.
func (c Committee) Index(key mcrypto.PubKey) (int, bool) {
	i, ok := c.idxByKey[string(key.PubKeyBytes())]
	return i, ok
}

// KeyAt returns the public key of the member at index i.
func (c Committee) KeyAt(i int) (mcrypto.PubKey, bool) {
	if i < 0 || i >= len(c.authorities) {
		return nil, false
	}
	return c.authorities[i].PubKey, true
}

// Address returns the network address of the given member.
func (c Committee) Address(key mcrypto.PubKey) (string, bool) {
	i, ok := c.idxByKey[string(key.PubKeyBytes())]
	if !ok {
		return "", false
	}
	return c.authorities[i].Address, true
}

// BroadcastAddresses returns the addresses of every member except self.
func (c Committee) BroadcastAddresses(self mcrypto.PubKey) []string {
	out := make([]string, 0, len(c.authorities)-1)
	for _, a := range c.authorities {
		if a.PubKey.Equal(self) {
			continue
		}
		out = append(out, a.Address)
	}
	return out
}
