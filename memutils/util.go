package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

// Validatable is anything DebugValidate can check
type Validatable interface {
	Validate() error
}

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not
// a positive power of two.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. Alignments of 0 and 1 leave value
// unchanged. Powers of two take the mask path; anything else falls back to division.
func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	if alignment&(alignment-1) == 0 {
		return (value + int(alignment) - 1) & int(^(alignment - 1))
	}
	return ((value + int(alignment) - 1) / int(alignment)) * int(alignment)
}

func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	if alignment&(alignment-1) == 0 {
		return value & int(^(alignment - 1))
	}
	return (value / int(alignment)) * int(alignment)
}

// LowestBitIndex returns the index of the least significant set bit in bits, or -1 if no
// bits are set
func LowestBitIndex(bits uint32) int {
	if bits == 0 {
		return -1
	}

	index := 0
	for bits&1 == 0 {
		bits >>= 1
		index++
	}
	return index
}
