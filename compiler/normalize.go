package compiler

import (
	"github.com/TEENet-io/vault-policy/condition"
)

// Normalize rewrites a tree into its canonical layout: and inside and and or
// inside or are flattened into the parent, and thresholds with a single
// child are replaced by that child. Children keep their declaration order.
func Normalize(c *condition.Condition) *condition.Condition {
	if c.IsLeaf() {
		return c
	}

	children := make([]*condition.Condition, 0, c.NumChildren())
	for i := 0; i < c.NumChildren(); i++ {
		children = append(children, Normalize(c.Child(i)))
	}
	if len(children) == 1 {
		return children[0]
	}

	isAnd := c.IsAnd()
	isOr := c.IsOr()
	if !isAnd && !isOr {
		node, _ := condition.NewThreshold(c.K(), children...)
		return node
	}

	flat := make([]*condition.Condition, 0, len(children))
	for _, child := range children {
		if (isAnd && child.IsAnd()) || (isOr && child.IsOr()) {
			flat = append(flat, child.Children()...)
			continue
		}
		flat = append(flat, child)
	}
	if isAnd {
		node, _ := condition.And(flat...)
		return node
	}
	node, _ := condition.Or(flat...)
	return node
}
