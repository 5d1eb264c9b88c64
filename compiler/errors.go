package compiler

import (
	"fmt"
)

// ParseError reports malformed policy text. Pos is the byte offset of the
// offending token.
type ParseError struct {
	Pos   int
	Token string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("policy parse error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("policy parse error at offset %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Constraint names a structural limit a policy can violate.
type Constraint string

const (
	ConstraintScriptSize   Constraint = "max-script-size"
	ConstraintOpCount      Constraint = "max-ops-per-script"
	ConstraintWitnessItems Constraint = "max-witness-items"
	ConstraintDepth        Constraint = "max-nesting-depth"
	ConstraintDuplicateKey Constraint = "duplicate-key"
	ConstraintTimelockMix  Constraint = "timelock-unit-mix"
	ConstraintLayout       Constraint = "canonical-layout"
)

// CompileError reports a policy that parses but cannot be realised as a
// witness script under the configured limits.
type CompileError struct {
	Constraint Constraint
	Detail     string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("policy compile error (%s): %s", e.Constraint, e.Detail)
}

func compileErr(c Constraint, format string, args ...interface{}) error {
	return &CompileError{Constraint: c, Detail: fmt.Sprintf(format, args...)}
}
