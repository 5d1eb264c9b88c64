/*
Package condition holds the compiled form of a spending policy: an immutable
tree of key, timelock, hash-preimage and threshold nodes that maps one-to-one
onto a P2WSH witness script.

Leaves are numbered left to right in declaration order. That number (the
LeafID) is how plans, signing contexts and finalization errors refer to a leaf.
*/
package condition

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"
)

// Kind is the closed set of node types.
type Kind uint8

const (
	KindKey Kind = iota + 1
	KindAfter
	KindOlder
	KindHash
	KindThreshold
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindAfter:
		return "after"
	case KindOlder:
		return "older"
	case KindHash:
		return "hash"
	case KindThreshold:
		return "thresh"
	default:
		return "unknown"
	}
}

// HashAlgo is the hash function a Hash leaf commits to.
type HashAlgo uint8

const (
	Sha256 HashAlgo = iota + 1
	Hash256
	Ripemd160
	Hash160
)

// PreimageLen is the only preimage size the script layout accepts.
const PreimageLen = 32

var hashAlgoNames = map[HashAlgo]string{
	Sha256:    "sha256",
	Hash256:   "hash256",
	Ripemd160: "ripemd160",
	Hash160:   "hash160",
}

// HashAlgos lists every supported algorithm in a fixed order.
var HashAlgos = []HashAlgo{Sha256, Hash256, Ripemd160, Hash160}

func (a HashAlgo) String() string {
	if name, ok := hashAlgoNames[a]; ok {
		return name
	}
	return "unknown"
}

// HashAlgoByName resolves a policy keyword such as "sha256".
func HashAlgoByName(name string) (HashAlgo, bool) {
	for algo, n := range hashAlgoNames {
		if n == name {
			return algo, true
		}
	}
	return 0, false
}

// DigestLen is the digest size in bytes, 0 for an unknown algorithm.
func (a HashAlgo) DigestLen() int {
	switch a {
	case Sha256, Hash256:
		return 32
	case Ripemd160, Hash160:
		return 20
	default:
		return 0
	}
}

// Sum hashes a preimage the same way the script opcode does.
func (a HashAlgo) Sum(preimage []byte) []byte {
	switch a {
	case Sha256:
		h := sha256.Sum256(preimage)
		return h[:]
	case Hash256:
		return chainhash.DoubleHashB(preimage)
	case Ripemd160:
		h := ripemd160.New()
		h.Write(preimage)
		return h.Sum(nil)
	case Hash160:
		return btcutil.Hash160(preimage)
	default:
		return nil
	}
}

func (a HashAlgo) opcode() byte {
	switch a {
	case Sha256:
		return txscript.OP_SHA256
	case Hash256:
		return txscript.OP_HASH256
	case Ripemd160:
		return txscript.OP_RIPEMD160
	default:
		return txscript.OP_HASH160
	}
}

func hashAlgoByOpcode(op byte) (HashAlgo, bool) {
	switch op {
	case txscript.OP_SHA256:
		return Sha256, true
	case txscript.OP_HASH256:
		return Hash256, true
	case txscript.OP_RIPEMD160:
		return Ripemd160, true
	case txscript.OP_HASH160:
		return Hash160, true
	default:
		return 0, false
	}
}

// Condition is one node of a condition tree. Only the fields that belong to
// its Kind are set. Values are never mutated after construction, so a tree
// can be shared between goroutines.
type Condition struct {
	kind Kind

	// KindKey
	pubKey *btcec.PublicKey
	key    []byte // 33 byte compressed encoding

	// KindAfter / KindOlder
	lock uint32

	// KindHash
	algo   HashAlgo
	digest []byte

	// KindThreshold
	k        int
	children []*Condition
}

// NewKey returns a leaf satisfied by a signature under pub.
func NewKey(pub *btcec.PublicKey) (*Condition, error) {
	if pub == nil {
		return nil, malformed("nil public key")
	}
	return &Condition{
		kind:   KindKey,
		pubKey: pub,
		key:    pub.SerializeCompressed(),
	}, nil
}

// NewKeyFromBytes parses a 33 byte compressed public key.
func NewKeyFromBytes(key []byte) (*Condition, error) {
	if len(key) != btcec.PubKeyBytesLenCompressed {
		return nil, malformed("public key must be %d bytes, got %d", btcec.PubKeyBytesLenCompressed, len(key))
	}
	pub, err := btcec.ParsePubKey(key)
	if err != nil {
		return nil, malformed("invalid public key: %v", err)
	}
	return NewKey(pub)
}

// NewAfter returns an absolute timelock leaf.
func NewAfter(lock uint32) (*Condition, error) {
	if err := ValidAfter(lock); err != nil {
		return nil, err
	}
	return &Condition{kind: KindAfter, lock: lock}, nil
}

// NewOlder returns a relative timelock leaf.
func NewOlder(seq uint32) (*Condition, error) {
	if err := ValidOlder(seq); err != nil {
		return nil, err
	}
	return &Condition{kind: KindOlder, lock: seq}, nil
}

// NewHash returns a leaf satisfied by revealing a preimage of digest.
func NewHash(algo HashAlgo, digest []byte) (*Condition, error) {
	want := algo.DigestLen()
	if want == 0 {
		return nil, malformed("unknown hash algorithm %d", algo)
	}
	if len(digest) != want {
		return nil, malformed("%s digest must be %d bytes, got %d", algo, want, len(digest))
	}
	return &Condition{
		kind:   KindHash,
		algo:   algo,
		digest: bytes.Clone(digest),
	}, nil
}

// NewThreshold returns a node satisfied when at least k children are.
func NewThreshold(k int, children ...*Condition) (*Condition, error) {
	if len(children) == 0 {
		return nil, malformed("threshold without children")
	}
	if k <= 0 || k > len(children) {
		return nil, malformed("threshold k=%d outside (0, %d]", k, len(children))
	}
	for i, child := range children {
		if child == nil {
			return nil, malformed("threshold child %d is nil", i)
		}
	}
	return &Condition{
		kind:     KindThreshold,
		k:        k,
		children: append([]*Condition(nil), children...),
	}, nil
}

// And requires every child.
func And(children ...*Condition) (*Condition, error) {
	return NewThreshold(len(children), children...)
}

// Or requires any one child.
func Or(children ...*Condition) (*Condition, error) {
	return NewThreshold(1, children...)
}

func (c *Condition) Kind() Kind { return c.kind }

// IsLeaf reports whether c is anything but a threshold.
func (c *Condition) IsLeaf() bool { return c.kind != KindThreshold }

// PubKey is the signing key of a Key leaf.
func (c *Condition) PubKey() *btcec.PublicKey { return c.pubKey }

// KeyBytes is the compressed key of a Key leaf.
func (c *Condition) KeyBytes() []byte { return bytes.Clone(c.key) }

// Lock is the after()/older() argument.
func (c *Condition) Lock() uint32 { return c.lock }

func (c *Condition) HashAlgo() HashAlgo { return c.algo }

func (c *Condition) Digest() []byte { return bytes.Clone(c.digest) }

// K is the number of children a threshold requires.
func (c *Condition) K() int { return c.k }

// Children returns a copy of the threshold's children.
func (c *Condition) Children() []*Condition {
	return append([]*Condition(nil), c.children...)
}

// NumChildren avoids the copy made by Children.
func (c *Condition) NumChildren() int { return len(c.children) }

// Child returns the i-th child of a threshold.
func (c *Condition) Child(i int) *Condition { return c.children[i] }

// IsAnd reports a threshold that needs all of its children.
func (c *Condition) IsAnd() bool {
	return c.kind == KindThreshold && c.k == len(c.children)
}

// IsOr reports a threshold that needs one of several children.
func (c *Condition) IsOr() bool {
	return c.kind == KindThreshold && c.k == 1 && len(c.children) > 1
}

// Leaves lists the leaves in LeafID order.
func (c *Condition) Leaves() []*Condition {
	var leaves []*Condition
	c.ForEachLeaf(func(_ int, leaf *Condition) {
		leaves = append(leaves, leaf)
	})
	return leaves
}

// NumLeaves counts the leaves below c.
func (c *Condition) NumLeaves() int {
	if c.IsLeaf() {
		return 1
	}
	n := 0
	for _, child := range c.children {
		n += child.NumLeaves()
	}
	return n
}

// ForEachLeaf visits the leaves in LeafID order.
func (c *Condition) ForEachLeaf(fn func(leafID int, leaf *Condition)) {
	next := 0
	c.forEachLeaf(&next, fn)
}

func (c *Condition) forEachLeaf(next *int, fn func(int, *Condition)) {
	if c.IsLeaf() {
		fn(*next, c)
		*next++
		return
	}
	for _, child := range c.children {
		child.forEachLeaf(next, fn)
	}
}

// Depth is 1 for a leaf, 1 + the deepest child otherwise.
func (c *Condition) Depth() int {
	if c.IsLeaf() {
		return 1
	}
	deepest := 0
	for _, child := range c.children {
		if d := child.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
