package memutils

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned by an address-range provider when growing would exceed its maximum extent
	ErrOutOfMemory error = errors.New("address range cannot grow past its maximum extent")
	// ErrInvalidSize is returned when a size argument is negative or not a multiple of the required alignment
	ErrInvalidSize error = errors.New("invalid size")
)
