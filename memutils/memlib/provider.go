// Package memlib models the growable address range that a heap lives in. It plays the role
// of sbrk: a heap can only ask for the range to be extended by some number of bytes at its
// high end, and can read the current extent. Offsets within the range are used as addresses,
// starting at 0.
package memlib

// DefaultMaxHeapSize is the maximum extent used by providers when none is specified: 20Mb
const DefaultMaxHeapSize int = 20 * (1 << 20)

// Provider is the address-range boundary consumed by a heap.
type Provider interface {
	// Bounds returns the current extent of the range. low is always 0 and high is the current
	// break: the first offset past the end of the range.
	Bounds() (low, high int)
	// Grow extends the range by n bytes and returns the break as it was before growing. If the
	// range cannot be extended by n bytes, the range is not modified and an error wrapping
	// memutils.ErrOutOfMemory is returned. Growth never partially succeeds.
	Grow(n int) (int, error)
	// Data returns the bytes of the range, [low, high). The returned slice is only valid until the
	// next call to Grow or Reset.
	Data() []byte
	// Reset sets the break back to 0, discarding the contents of the range
	Reset()
}
