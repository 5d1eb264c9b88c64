package condition

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Absolute locktimes below LockTimeThreshold are block heights, the rest
// are unix timestamps.
const LockTimeThreshold uint32 = txscript.LockTimeThreshold

// MaxAbsoluteLock is the largest value accepted by after().
const MaxAbsoluteLock uint32 = 1<<31 - 1

// sequenceAllowedBits are the bits an older() value may carry: the type
// flag and the 16 value bits.
const sequenceAllowedBits uint32 = wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask

// IsHeightLock reports whether an absolute locktime is measured in blocks.
func IsHeightLock(lock uint32) bool {
	return lock < LockTimeThreshold
}

// IsTimeSequence reports whether a relative locktime is measured in
// 512-second units rather than blocks.
func IsTimeSequence(seq uint32) bool {
	return seq&wire.SequenceLockTimeIsSeconds != 0
}

// SequenceValue strips the type flag from a relative locktime.
func SequenceValue(seq uint32) uint32 {
	return seq & wire.SequenceLockTimeMask
}

// SameAbsoluteUnit reports whether two absolute locktimes are comparable.
func SameAbsoluteUnit(a, b uint32) bool {
	return IsHeightLock(a) == IsHeightLock(b)
}

// SameRelativeUnit reports whether two relative locktimes are comparable.
func SameRelativeUnit(a, b uint32) bool {
	return IsTimeSequence(a) == IsTimeSequence(b)
}

// ValidAfter checks an after() argument.
func ValidAfter(lock uint32) error {
	if lock == 0 || lock > MaxAbsoluteLock {
		return malformed("after(%d) out of range (0, %d]", lock, MaxAbsoluteLock)
	}
	return nil
}

// ValidOlder checks an older() argument.
func ValidOlder(seq uint32) error {
	if seq&wire.SequenceLockTimeDisabled != 0 {
		return malformed("older(%d) has the disable flag set", seq)
	}
	if seq&^sequenceAllowedBits != 0 {
		return malformed("older(%d) sets reserved sequence bits", seq)
	}
	if SequenceValue(seq) == 0 {
		return malformed("older(%d) has a zero relative lock", seq)
	}
	return nil
}
