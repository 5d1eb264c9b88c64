package planner

import (
	"github.com/TEENet-io/vault-policy/condition"
)

// Witness bytes charged per satisfied leaf and per selector item.
const (
	SignatureCost       = 74 // 72 byte DER signature, sighash flag, length prefix
	PreimageCost        = 33
	SelectorChosenCost  = 2
	SelectorSkippedCost = 1
	TimelockCost        = 0
)

// Provider decides which leaves can be discharged.
type Provider interface {
	Available(leafID int, leaf *condition.Condition) bool
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(leafID int, leaf *condition.Condition) bool

func (f ProviderFunc) Available(leafID int, leaf *condition.Condition) bool {
	return f(leafID, leaf)
}

// Solution is one way to satisfy a tree: the leaves used, the witness cost
// and the locktime and sequence the spending transaction must carry. Zero
// LockTime or Sequence means no requirement.
type Solution struct {
	Leaves   []int
	Cost     int
	LockTime uint32
	Sequence uint32
}

type requirement struct {
	lock uint32
	seq  uint32
}

type thresholdState struct {
	count int
	req   requirement
}

// Search finds the cheapest satisfaction of tree using only leaves the
// provider grants. In strict mode a solution may not combine two different
// absolute locktimes or two different relative locktimes. Ties on cost go
// to the solution holding the lowest leaf id the two disagree on.
func Search(tree *condition.Condition, provider Provider, strict bool) (*Solution, bool) {
	s := &searcher{provider: provider, strict: strict}
	next := 0
	candidates := s.node(tree, &next)

	var best *Solution
	for _, cand := range candidates {
		if best == nil || better(cand, best) {
			best = cand
		}
	}
	return best, best != nil
}

type searcher struct {
	provider Provider
	strict   bool
}

// node returns the best solution of c for every distinct timelock
// requirement. Keeping one solution per requirement instead of a single
// best lets a parent trade cost for compatibility with its siblings.
func (s *searcher) node(c *condition.Condition, next *int) map[requirement]*Solution {
	if c.IsLeaf() {
		return s.leaf(c, next)
	}

	children := make([]map[requirement]*Solution, c.NumChildren())
	for i := range children {
		children[i] = s.node(c.Child(i), next)
	}
	if c.IsAnd() {
		return s.and(children)
	}
	return s.threshold(c.K(), children)
}

func (s *searcher) leaf(c *condition.Condition, next *int) map[requirement]*Solution {
	id := *next
	*next++
	if !s.provider.Available(id, c) {
		return nil
	}

	sol := &Solution{Leaves: []int{id}}
	switch c.Kind() {
	case condition.KindKey:
		sol.Cost = SignatureCost
	case condition.KindHash:
		sol.Cost = PreimageCost
	case condition.KindAfter:
		sol.Cost = TimelockCost
		if s.strict {
			sol.LockTime = c.Lock()
		}
	case condition.KindOlder:
		sol.Cost = TimelockCost
		if s.strict {
			sol.Sequence = c.Lock()
		}
	}
	return map[requirement]*Solution{sol.requirement(): sol}
}

func (s *searcher) and(children []map[requirement]*Solution) map[requirement]*Solution {
	states := map[requirement]*Solution{{}: {}}
	for _, child := range children {
		nextStates := make(map[requirement]*Solution)
		for _, state := range states {
			for _, cand := range child {
				merged, ok := merge(state, cand, 0)
				if !ok {
					continue
				}
				keep(nextStates, merged.requirement(), merged)
			}
		}
		if len(nextStates) == 0 {
			return nil
		}
		states = nextStates
	}
	return states
}

// threshold picks exactly k children; every child pays for its selector.
func (s *searcher) threshold(k int, children []map[requirement]*Solution) map[requirement]*Solution {
	states := map[thresholdState]*Solution{{}: {}}
	for _, child := range children {
		nextStates := make(map[thresholdState]*Solution)
		for key, state := range states {
			skipped := state.withCost(SelectorSkippedCost)
			keepState(nextStates, key, skipped)

			if key.count == k {
				continue
			}
			for _, cand := range child {
				merged, ok := merge(state, cand, SelectorChosenCost)
				if !ok {
					continue
				}
				keepState(nextStates, thresholdState{count: key.count + 1, req: merged.requirement()}, merged)
			}
		}
		states = nextStates
	}

	out := make(map[requirement]*Solution)
	for key, state := range states {
		if key.count == k {
			keep(out, key.req, state)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (sol *Solution) requirement() requirement {
	return requirement{lock: sol.LockTime, seq: sol.Sequence}
}

func (sol *Solution) withCost(extra int) *Solution {
	return &Solution{
		Leaves:   sol.Leaves,
		Cost:     sol.Cost + extra,
		LockTime: sol.LockTime,
		Sequence: sol.Sequence,
	}
}

// merge joins a partial solution with the solution of a later sibling.
// Leaves of later siblings have higher ids, so appending keeps them sorted.
func merge(a, b *Solution, extra int) (*Solution, bool) {
	lock, ok := combineLock(a.LockTime, b.LockTime)
	if !ok {
		return nil, false
	}
	seq, ok := combineLock(a.Sequence, b.Sequence)
	if !ok {
		return nil, false
	}
	leaves := make([]int, 0, len(a.Leaves)+len(b.Leaves))
	leaves = append(leaves, a.Leaves...)
	leaves = append(leaves, b.Leaves...)
	return &Solution{
		Leaves:   leaves,
		Cost:     a.Cost + b.Cost + extra,
		LockTime: lock,
		Sequence: seq,
	}, true
}

func combineLock(a, b uint32) (uint32, bool) {
	switch {
	case a == 0:
		return b, true
	case b == 0 || a == b:
		return a, true
	}
	return 0, false
}

func keep(m map[requirement]*Solution, key requirement, sol *Solution) {
	if cur, ok := m[key]; !ok || better(sol, cur) {
		m[key] = sol
	}
}

func keepState(m map[thresholdState]*Solution, key thresholdState, sol *Solution) {
	if cur, ok := m[key]; !ok || better(sol, cur) {
		m[key] = sol
	}
}

// better orders solutions by cost, then by the lowest leaf id found in
// exactly one of them (its owner wins), then by requirement.
func better(a, b *Solution) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	if c := compareLeaves(a.Leaves, b.Leaves); c != 0 {
		return c < 0
	}
	if a.LockTime != b.LockTime {
		return a.LockTime < b.LockTime
	}
	return a.Sequence < b.Sequence
}

func compareLeaves(a, b []int) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			return -1
		default:
			return 1
		}
	}
	switch {
	case i < len(a):
		return -1
	case j < len(b):
		return 1
	}
	return 0
}
