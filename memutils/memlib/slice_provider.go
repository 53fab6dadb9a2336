package memlib

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
)

// SliceProvider is a Provider backed by a byte slice that is allocated at its maximum extent
// up front. The break moves within the slice, so the backing memory never moves and slices
// returned from Data remain addressable after the range grows.
type SliceProvider struct {
	buffer []byte
	brk    int
}

var _ Provider = &SliceProvider{}

// NewSliceProvider creates a SliceProvider that can grow up to maxSize bytes
func NewSliceProvider(maxSize int) *SliceProvider {
	if maxSize < 0 {
		maxSize = 0
	}

	return &SliceProvider{
		buffer: make([]byte, maxSize),
	}
}

func (p *SliceProvider) Bounds() (low, high int) {
	return 0, p.brk
}

func (p *SliceProvider) Grow(n int) (int, error) {
	if n < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidSize, "cannot shrink the range by %d bytes", -n)
	}
	if n > len(p.buffer)-p.brk {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "growing by %d bytes would move the break to %d, but the maximum is %d", n, p.brk+n, len(p.buffer))
	}

	old := p.brk
	p.brk += n
	return old, nil
}

func (p *SliceProvider) Data() []byte {
	return p.buffer[:p.brk:p.brk]
}

func (p *SliceProvider) Reset() {
	clear(p.buffer[:p.brk])
	p.brk = 0
}

// MaxSize returns the largest extent the range can grow to
func (p *SliceProvider) MaxSize() int {
	return len(p.buffer)
}
