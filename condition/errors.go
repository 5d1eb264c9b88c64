package condition

import (
	"errors"
	"fmt"
)

// ErrMalformedCondition is returned when a condition node violates its
// structural rules. It is only ever produced at construction time.
var ErrMalformedCondition = errors.New("malformed condition")

// ErrNonCanonicalScript is returned by FromScript when the script does not
// follow the canonical layout produced by Script.
var ErrNonCanonicalScript = errors.New("non-canonical condition script")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedCondition, fmt.Sprintf(format, args...))
}

func nonCanonical(pos int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: at token %d: %s", ErrNonCanonicalScript, pos, fmt.Sprintf(format, args...))
}
