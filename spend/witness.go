package spend

import (
	"sort"

	"github.com/TEENet-io/vault-policy/condition"
)

var (
	selectorChosen  = []byte{0x01}
	selectorSkipped = []byte{}
)

// witnessItems lists the stack items the script consumes, first consumed
// first. chosen holds the leaf ids of the solution in ascending order.
func witnessItems(tree *condition.Condition, chosen []int, data *concreteData) [][]byte {
	w := &witnessBuilder{chosen: chosen, data: data}
	w.node(tree)
	return w.items
}

type witnessBuilder struct {
	chosen []int
	data   *concreteData
	next   int
	items  [][]byte
}

func (w *witnessBuilder) uses(first, last int) bool {
	i := sort.SearchInts(w.chosen, first)
	return i < len(w.chosen) && w.chosen[i] < last
}

func (w *witnessBuilder) node(c *condition.Condition) {
	if c.IsLeaf() {
		w.leaf(c)
		return
	}
	if c.IsAnd() {
		for i := 0; i < c.NumChildren(); i++ {
			w.node(c.Child(i))
		}
		return
	}
	for i := 0; i < c.NumChildren(); i++ {
		child := c.Child(i)
		first := w.next
		if !w.uses(first, first+child.NumLeaves()) {
			w.items = append(w.items, selectorSkipped)
			w.next += child.NumLeaves()
			continue
		}
		w.items = append(w.items, selectorChosen)
		w.node(child)
	}
}

func (w *witnessBuilder) leaf(c *condition.Condition) {
	w.next++
	switch c.Kind() {
	case condition.KindKey:
		w.items = append(w.items, w.data.sigs[string(c.KeyBytes())])
	case condition.KindHash:
		w.items = append(w.items, w.data.preimages[string(preimageKey(c.HashAlgo(), c.Digest()))])
	}
}
