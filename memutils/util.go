package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// Number covers the integer kinds that GPU offsets, sizes and alignments
// are expressed in throughout this module.
type Number interface {
	~int | ~uint | ~int64 | ~uint64
}

// CheckPow2 returns an error if number is not a positive power of two.
// name identifies the offending value in the error message.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. alignment
// must be a power of two.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to the nearest multiple of alignment.
// alignment must be a power of two.
func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// IsAligned reports whether value is a multiple of alignment. alignment
// must be a power of two.
func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}
