package compiler

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/txscript"

	"github.com/TEENet-io/vault-policy/condition"
)

// Limits bounds the scripts the compiler will emit. The defaults are the
// P2WSH standardness rules relayed by Bitcoin Core.
type Limits struct {
	MaxScriptSize   int
	MaxOps          int
	MaxWitnessItems int
	MaxDepth        int
}

const (
	DefaultMaxScriptSize   = 3600
	DefaultMaxOps          = txscript.MaxOpsPerScript
	DefaultMaxWitnessItems = 100
	DefaultMaxDepth        = 402
)

func DefaultLimits() Limits {
	return Limits{
		MaxScriptSize:   DefaultMaxScriptSize,
		MaxOps:          DefaultMaxOps,
		MaxWitnessItems: DefaultMaxWitnessItems,
		MaxDepth:        DefaultMaxDepth,
	}
}

// withDefaults fills zero fields so a partially specified Limits still works.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxScriptSize <= 0 {
		l.MaxScriptSize = d.MaxScriptSize
	}
	if l.MaxOps <= 0 {
		l.MaxOps = d.MaxOps
	}
	if l.MaxWitnessItems <= 0 {
		l.MaxWitnessItems = d.MaxWitnessItems
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// checkTree runs the checks that only need the tree.
func checkTree(tree *condition.Condition, l Limits) error {
	if depth := tree.Depth(); depth > l.MaxDepth {
		return compileErr(ConstraintDepth, "depth %d exceeds %d", depth, l.MaxDepth)
	}

	seen := make(map[string]int)
	var dupErr error
	tree.ForEachLeaf(func(leafID int, leaf *condition.Condition) {
		if dupErr != nil || leaf.Kind() != condition.KindKey {
			return
		}
		key := hex.EncodeToString(leaf.KeyBytes())
		if first, ok := seen[key]; ok {
			dupErr = compileErr(ConstraintDuplicateKey, "key %s used by leaves %d and %d", key, first, leafID)
			return
		}
		seen[key] = leafID
	})
	if dupErr != nil {
		return dupErr
	}

	if info := timelocks(tree); info.mixed {
		return compileErr(ConstraintTimelockMix, "a satisfying path combines block heights with times")
	}

	if items := maxWitnessItems(tree); items > l.MaxWitnessItems {
		return compileErr(ConstraintWitnessItems, "worst case witness has %d items, limit %d", items, l.MaxWitnessItems)
	}
	return nil
}

// checkScript runs the checks on the encoded witness script.
func checkScript(script []byte, l Limits) error {
	if len(script) > l.MaxScriptSize {
		return compileErr(ConstraintScriptSize, "script is %d bytes, limit %d", len(script), l.MaxScriptSize)
	}
	if ops := countOps(script); ops > l.MaxOps {
		return compileErr(ConstraintOpCount, "script has %d non-push opcodes, limit %d", ops, l.MaxOps)
	}
	return nil
}

// countOps counts opcodes the interpreter charges against the op limit,
// which is every opcode above OP_16.
func countOps(script []byte) int {
	ops := 0
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_16 {
			ops++
		}
	}
	return ops
}

// maxWitnessItems is the largest number of stack items any satisfaction of
// the tree pushes, not counting the witness script itself.
func maxWitnessItems(c *condition.Condition) int {
	switch c.Kind() {
	case condition.KindKey, condition.KindHash:
		return 1
	case condition.KindAfter, condition.KindOlder:
		return 0
	}

	items := make([]int, c.NumChildren())
	for i := range items {
		items[i] = maxWitnessItems(c.Child(i))
	}
	if c.IsAnd() {
		total := 0
		for _, n := range items {
			total += n
		}
		return total
	}

	// one selector per child plus the k most expensive children
	total := len(items)
	picked := make([]bool, len(items))
	for j := 0; j < c.K(); j++ {
		best := -1
		for i, n := range items {
			if !picked[i] && (best < 0 || n > items[best]) {
				best = i
			}
		}
		picked[best] = true
		total += items[best]
	}
	return total
}

type timelockInfo struct {
	cltvHeight bool
	cltvTime   bool
	csvHeight  bool
	csvTime    bool
	mixed      bool
}

func (a timelockInfo) union(b timelockInfo) timelockInfo {
	return timelockInfo{
		cltvHeight: a.cltvHeight || b.cltvHeight,
		cltvTime:   a.cltvTime || b.cltvTime,
		csvHeight:  a.csvHeight || b.csvHeight,
		csvTime:    a.csvTime || b.csvTime,
		mixed:      a.mixed || b.mixed,
	}
}

// combineAnd joins two subtrees that are satisfied together.
func (a timelockInfo) combineAnd(b timelockInfo) timelockInfo {
	r := a.union(b)
	r.mixed = r.mixed ||
		(a.cltvHeight && b.cltvTime) || (a.cltvTime && b.cltvHeight) ||
		(a.csvHeight && b.csvTime) || (a.csvTime && b.csvHeight)
	return r
}

func timelocks(c *condition.Condition) timelockInfo {
	switch c.Kind() {
	case condition.KindAfter:
		if condition.IsHeightLock(c.Lock()) {
			return timelockInfo{cltvHeight: true}
		}
		return timelockInfo{cltvTime: true}
	case condition.KindOlder:
		if condition.IsTimeSequence(c.Lock()) {
			return timelockInfo{csvTime: true}
		}
		return timelockInfo{csvHeight: true}
	case condition.KindThreshold:
	default:
		return timelockInfo{}
	}

	acc := timelocks(c.Child(0))
	for i := 1; i < c.NumChildren(); i++ {
		child := timelocks(c.Child(i))
		if c.K() > 1 {
			acc = acc.combineAnd(child)
		} else {
			acc = acc.union(child)
		}
	}
	return acc
}
