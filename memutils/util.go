package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckAligned returns ErrInvalidSize, annotated with the provided name, if value is negative or is
// not a multiple of alignment
func CheckAligned[T constraints.Integer](value T, alignment T, name string) error {
	if value < 0 || value%alignment != 0 {
		return cerrors.Wrapf(ErrInvalidSize, "%s is %d, which is not a multiple of %d", name, value, alignment)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Integer](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}
