/*
Package planner decides how to spend a condition tree with a given set of
assets. A plan names every leaf the witness will discharge and the locktime
and sequence the spending transaction needs; the search is exhaustive over
timelock requirements so a cheap choice in one branch never hides a
compatible alternative in another.
*/
package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/assets"
	"github.com/TEENet-io/vault-policy/condition"
)

var (
	ErrUnsatisfiable = errors.New("condition tree is unsatisfiable with the given assets")
	ErrNilTree       = errors.New("nil condition tree")
)

// ConflictingTimelockError is returned when the assets reach the tree only
// through paths that need two different locktimes or two different
// sequences at once.
type ConflictingTimelockError struct {
	LockTimes []uint32
	Sequences []uint32
}

func (e *ConflictingTimelockError) Error() string {
	return fmt.Sprintf("conflicting timelocks: locktimes %v, sequences %v", e.LockTimes, e.Sequences)
}

type Action uint8

const (
	ActionSign Action = iota + 1
	ActionRevealPreimage
)

func (a Action) String() string {
	switch a {
	case ActionSign:
		return "sign"
	case ActionRevealPreimage:
		return "reveal-preimage"
	}
	return "unknown"
}

// Step binds a key or hash leaf to the action that discharges it.
type Step struct {
	LeafID   int
	Action   Action
	PubKey   *btcec.PublicKey   // ActionSign
	HashAlgo condition.HashAlgo // ActionRevealPreimage
	Digest   []byte
	Preimage []byte
}

type Plan struct {
	Steps            []Step
	Leaves           []int // every leaf used, timelocks included, ascending
	RequiredLockTime uint32
	RequiredSequence uint32
	WitnessCost      int
	Tree             *condition.Condition
}

// Uses reports whether the plan discharges leafID.
func (p *Plan) Uses(leafID int) bool {
	i := sort.SearchInts(p.Leaves, leafID)
	return i < len(p.Leaves) && p.Leaves[i] == leafID
}

type assetProvider struct {
	set *assets.Set
}

// FromAssets grants the leaves an asset set can discharge.
func FromAssets(set *assets.Set) Provider {
	return assetProvider{set: set}
}

func (p assetProvider) Available(_ int, leaf *condition.Condition) bool {
	if p.set == nil {
		return false
	}
	switch leaf.Kind() {
	case condition.KindKey:
		return p.set.HasKey(leaf.PubKey())
	case condition.KindAfter:
		return p.set.AfterSatisfied(leaf.Lock())
	case condition.KindOlder:
		return p.set.OlderSatisfied(leaf.Lock())
	case condition.KindHash:
		_, ok := p.set.Preimage(leaf.HashAlgo(), leaf.Digest())
		return ok
	}
	return false
}

// Planner plans spends of one tree. It holds no mutable state and can be
// shared between goroutines.
type Planner struct {
	tree   *condition.Condition
	leaves []*condition.Condition
}

func New(tree *condition.Condition) *Planner {
	p := &Planner{tree: tree}
	if tree != nil {
		p.leaves = tree.Leaves()
	}
	return p
}

// Plan returns the cheapest plan the asset set supports.
func (p *Planner) Plan(set *assets.Set) (*Plan, error) {
	if p.tree == nil {
		return nil, ErrNilTree
	}
	provider := FromAssets(set)

	sol, ok := Search(p.tree, provider, true)
	if !ok {
		if relaxed, ok := Search(p.tree, provider, false); ok {
			err := p.conflict(relaxed)
			logger.WithField("leaves", relaxed.Leaves).Debugf("planning failed: %v", err)
			return nil, err
		}
		return nil, ErrUnsatisfiable
	}

	plan := &Plan{
		Leaves:           sol.Leaves,
		RequiredLockTime: sol.LockTime,
		RequiredSequence: sol.Sequence,
		WitnessCost:      sol.Cost,
		Tree:             p.tree,
	}
	for _, id := range sol.Leaves {
		leaf := p.leaves[id]
		switch leaf.Kind() {
		case condition.KindKey:
			plan.Steps = append(plan.Steps, Step{
				LeafID: id,
				Action: ActionSign,
				PubKey: leaf.PubKey(),
			})
		case condition.KindHash:
			preimage, _ := set.Preimage(leaf.HashAlgo(), leaf.Digest())
			plan.Steps = append(plan.Steps, Step{
				LeafID:   id,
				Action:   ActionRevealPreimage,
				HashAlgo: leaf.HashAlgo(),
				Digest:   leaf.Digest(),
				Preimage: preimage,
			})
		}
	}

	logger.WithFields(logger.Fields{
		"leaves":   plan.Leaves,
		"cost":     plan.WitnessCost,
		"locktime": plan.RequiredLockTime,
		"sequence": plan.RequiredSequence,
	}).Debug("plan found")
	return plan, nil
}

func (p *Planner) conflict(relaxed *Solution) error {
	locks := make(map[uint32]struct{})
	seqs := make(map[uint32]struct{})
	for _, id := range relaxed.Leaves {
		leaf := p.leaves[id]
		switch leaf.Kind() {
		case condition.KindAfter:
			locks[leaf.Lock()] = struct{}{}
		case condition.KindOlder:
			seqs[leaf.Lock()] = struct{}{}
		}
	}
	return &ConflictingTimelockError{
		LockTimes: sortedKeys(locks),
		Sequences: sortedKeys(seqs),
	}
}

func sortedKeys(m map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
