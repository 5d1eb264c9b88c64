package spend

import (
	"errors"
	"fmt"

	"github.com/TEENet-io/vault-policy/condition"
)

var (
	ErrAlreadyFinalized = errors.New("input already carries a final witness")
	ErrScriptMismatch   = errors.New("input does not spend the condition tree's script")
	ErrInputIndex       = errors.New("input index out of range")
	ErrMissingUtxo      = errors.New("input has no spent output attached")
	ErrBadAnnotation    = errors.New("malformed vault policy annotation")
	ErrWitnessRejected  = errors.New("assembled witness fails script verification")
)

// UnsatisfiedConditionError names the leaf the finalizer could not
// discharge with the data present in the input.
type UnsatisfiedConditionError struct {
	LeafID int
	Leaf   *condition.Condition
}

func (e *UnsatisfiedConditionError) Error() string {
	return fmt.Sprintf("condition leaf %d %s is not satisfied", e.LeafID, e.Leaf)
}
