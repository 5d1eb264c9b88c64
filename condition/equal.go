package condition

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	tagLeaf   = []byte("VaultPolicy/leaf")
	tagBranch = []byte("VaultPolicy/branch")
)

// Equal reports structural equality. Two trees are equal when they have the
// same shape, the same child order and identical leaves.
func (c *Condition) Equal(other *Condition) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case KindKey:
		return bytes.Equal(c.key, other.key)
	case KindAfter, KindOlder:
		return c.lock == other.lock
	case KindHash:
		return c.algo == other.algo && bytes.Equal(c.digest, other.digest)
	case KindThreshold:
		if c.k != other.k || len(c.children) != len(other.children) {
			return false
		}
		for i := range c.children {
			if !c.children[i].Equal(other.children[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Hash is a structural digest of the tree: equal trees hash equally.
// Leaves commit to their kind and payload, thresholds to k and the ordered
// hashes of their children.
func (c *Condition) Hash() chainhash.Hash {
	if c.IsLeaf() {
		return *chainhash.TaggedHash(tagLeaf, []byte{byte(c.kind)}, c.payload())
	}
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(c.k))
	msgs := make([][]byte, 0, len(c.children)+1)
	msgs = append(msgs, k[:])
	for _, child := range c.children {
		h := child.Hash()
		msgs = append(msgs, h[:])
	}
	return *chainhash.TaggedHash(tagBranch, msgs...)
}

func (c *Condition) payload() []byte {
	switch c.kind {
	case KindKey:
		return c.key
	case KindAfter, KindOlder:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], c.lock)
		return b[:]
	case KindHash:
		return append([]byte{byte(c.algo)}, c.digest...)
	}
	return nil
}
