/*
Package assets describes what a spender can provide: keys it can sign
with, the chain time it can wait for and hash preimages it knows.
*/
package assets

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/TEENet-io/vault-policy/condition"
)

var ErrInvalidAsset = errors.New("invalid asset")

type Kind uint8

const (
	HasKey Kind = iota + 1
	TimeAfter
	TimeOlder
	HasPreimage
)

func (k Kind) String() string {
	switch k {
	case HasKey:
		return "HasKey"
	case TimeAfter:
		return "TimeAfter"
	case TimeOlder:
		return "TimeOlder"
	case HasPreimage:
		return "HasPreimage"
	default:
		return "unknown"
	}
}

// Asset is one capability. Only the field matching Kind is set.
type Asset struct {
	Kind     Kind
	PubKey   *btcec.PublicKey
	Value    uint32 // locktime for TimeAfter, sequence for TimeOlder
	Preimage []byte
}

// Key is the ability to sign for pub.
func Key(pub *btcec.PublicKey) Asset { return Asset{Kind: HasKey, PubKey: pub} }

// After means the spending transaction may use locktime h.
func After(h uint32) Asset { return Asset{Kind: TimeAfter, Value: h} }

// Older means the spent output will be n (sequence encoded) old.
func Older(n uint32) Asset { return Asset{Kind: TimeOlder, Value: n} }

// Preimage is knowledge of a 32 byte secret.
func Preimage(p []byte) Asset { return Asset{Kind: HasPreimage, Preimage: bytes.Clone(p)} }

func (a Asset) String() string {
	switch a.Kind {
	case HasKey:
		if a.PubKey == nil {
			return "HasKey(nil)"
		}
		return fmt.Sprintf("HasKey(%x)", a.PubKey.SerializeCompressed())
	case TimeAfter, TimeOlder:
		return fmt.Sprintf("%s(%d)", a.Kind, a.Value)
	case HasPreimage:
		return fmt.Sprintf("HasPreimage(%x)", a.Preimage)
	}
	return "unknown"
}

// Validate checks the asset on its own.
func (a Asset) Validate() error {
	switch a.Kind {
	case HasKey:
		if a.PubKey == nil {
			return fmt.Errorf("%w: nil public key", ErrInvalidAsset)
		}
	case TimeAfter:
		if err := condition.ValidAfter(a.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
	case TimeOlder:
		if err := condition.ValidOlder(a.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
	case HasPreimage:
		if len(a.Preimage) != condition.PreimageLen {
			return fmt.Errorf("%w: preimage must be %d bytes, got %d", ErrInvalidAsset, condition.PreimageLen, len(a.Preimage))
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, a.Kind)
	}
	return nil
}

// Set is an unordered collection of assets. Adding an asset twice is a
// no-op. The zero value is an empty set. A Set is not safe for concurrent
// mutation.
type Set struct {
	keys      map[string]*btcec.PublicKey
	afters    map[uint32]struct{}
	olders    map[uint32]struct{}
	preimages map[string][]byte
}

func NewSet(assets ...Asset) (*Set, error) {
	s := &Set{}
	s.init()
	for _, a := range assets {
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) init() {
	if s.keys == nil {
		s.keys = make(map[string]*btcec.PublicKey)
	}
	if s.afters == nil {
		s.afters = make(map[uint32]struct{})
	}
	if s.olders == nil {
		s.olders = make(map[uint32]struct{})
	}
	if s.preimages == nil {
		s.preimages = make(map[string][]byte)
	}
}

func (s *Set) Add(a Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.init()
	switch a.Kind {
	case HasKey:
		s.keys[hex.EncodeToString(a.PubKey.SerializeCompressed())] = a.PubKey
	case TimeAfter:
		s.afters[a.Value] = struct{}{}
	case TimeOlder:
		s.olders[a.Value] = struct{}{}
	case HasPreimage:
		s.preimages[hex.EncodeToString(a.Preimage)] = bytes.Clone(a.Preimage)
	}
	return nil
}

func (s *Set) HasKey(pub *btcec.PublicKey) bool {
	if pub == nil {
		return false
	}
	_, ok := s.keys[hex.EncodeToString(pub.SerializeCompressed())]
	return ok
}

// AfterSatisfied reports whether some TimeAfter asset of the same unit
// reaches n.
func (s *Set) AfterSatisfied(n uint32) bool {
	for h := range s.afters {
		if condition.SameAbsoluteUnit(h, n) && h >= n {
			return true
		}
	}
	return false
}

// OlderSatisfied reports whether some TimeOlder asset of the same unit
// reaches n.
func (s *Set) OlderSatisfied(n uint32) bool {
	for o := range s.olders {
		if condition.SameRelativeUnit(o, n) && condition.SequenceValue(o) >= condition.SequenceValue(n) {
			return true
		}
	}
	return false
}

// Preimage returns a known preimage hashing to digest under algo.
func (s *Set) Preimage(algo condition.HashAlgo, digest []byte) ([]byte, bool) {
	for _, p := range s.preimages {
		if bytes.Equal(algo.Sum(p), digest) {
			return bytes.Clone(p), true
		}
	}
	return nil, false
}

func (s *Set) Len() int {
	return len(s.keys) + len(s.afters) + len(s.olders) + len(s.preimages)
}

// Assets lists the set grouped by kind, each group in ascending order.
func (s *Set) Assets() []Asset {
	out := make([]Asset, 0, s.Len())

	keyIDs := make([]string, 0, len(s.keys))
	for id := range s.keys {
		keyIDs = append(keyIDs, id)
	}
	sort.Strings(keyIDs)
	for _, id := range keyIDs {
		out = append(out, Key(s.keys[id]))
	}

	for _, v := range sortedValues(s.afters) {
		out = append(out, After(v))
	}
	for _, v := range sortedValues(s.olders) {
		out = append(out, Older(v))
	}

	preimageIDs := make([]string, 0, len(s.preimages))
	for id := range s.preimages {
		preimageIDs = append(preimageIDs, id)
	}
	sort.Strings(preimageIDs)
	for _, id := range preimageIDs {
		out = append(out, Preimage(s.preimages[id]))
	}
	return out
}

func sortedValues(m map[uint32]struct{}) []uint32 {
	values := make([]uint32, 0, len(m))
	for v := range m {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}
