package condition

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// String renders the canonical policy text. Thresholds needing every child
// print as and(), thresholds needing one of several print as or().
func (c *Condition) String() string {
	var sb strings.Builder
	c.writePolicy(&sb)
	return sb.String()
}

func (c *Condition) writePolicy(sb *strings.Builder) {
	switch c.kind {
	case KindKey:
		sb.WriteString("pk(")
		sb.WriteString(hex.EncodeToString(c.key))
		sb.WriteByte(')')
	case KindAfter:
		sb.WriteString("after(")
		sb.WriteString(strconv.FormatUint(uint64(c.lock), 10))
		sb.WriteByte(')')
	case KindOlder:
		sb.WriteString("older(")
		sb.WriteString(strconv.FormatUint(uint64(c.lock), 10))
		sb.WriteByte(')')
	case KindHash:
		sb.WriteString(c.algo.String())
		sb.WriteByte('(')
		sb.WriteString(hex.EncodeToString(c.digest))
		sb.WriteByte(')')
	case KindThreshold:
		switch {
		case c.IsAnd():
			sb.WriteString("and(")
		case c.IsOr():
			sb.WriteString("or(")
		default:
			sb.WriteString("thresh(")
			sb.WriteString(strconv.Itoa(c.k))
			sb.WriteByte(',')
		}
		for i, child := range c.children {
			if i > 0 {
				sb.WriteByte(',')
			}
			child.writePolicy(sb)
		}
		sb.WriteByte(')')
	}
}

// jsonCondition follows the shape of a lifted semantic policy.
type jsonCondition struct {
	Type      string       `json:"type"`
	Key       string       `json:"key,omitempty"`
	LockTime  *uint32      `json:"lockTime,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	Threshold *int         `json:"threshold,omitempty"`
	Policies  []*Condition `json:"policies,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Condition) MarshalJSON() ([]byte, error) {
	out := jsonCondition{}
	switch c.kind {
	case KindKey:
		out.Type = "key"
		out.Key = hex.EncodeToString(c.key)
	case KindAfter, KindOlder:
		out.Type = c.kind.String()
		lock := c.lock
		out.LockTime = &lock
	case KindHash:
		out.Type = c.algo.String()
		out.Hash = hex.EncodeToString(c.digest)
	case KindThreshold:
		out.Type = "thresh"
		k := c.k
		out.Threshold = &k
		out.Policies = c.children
	}
	return json.Marshal(out)
}
