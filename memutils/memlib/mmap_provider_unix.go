//go:build unix

package memlib

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
	"golang.org/x/sys/unix"
)

// MmapProvider is a Provider backed by an anonymous private mapping that reserves the maximum
// extent when it is created. Pages are only committed by the OS once the heap touches them, so
// a large maximum costs address space rather than memory.
type MmapProvider struct {
	mapping []byte
	brk     int
}

var _ Provider = &MmapProvider{}

// NewMmapProvider reserves maxSize bytes of anonymous memory. Close must be called to release it.
func NewMmapProvider(maxSize int) (*MmapProvider, error) {
	if maxSize <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "maximum extent must be positive, but was %d", maxSize)
	}

	mapping, err := unix.Mmap(-1, 0, maxSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes", maxSize)
	}

	return &MmapProvider{mapping: mapping}, nil
}

func (p *MmapProvider) Bounds() (low, high int) {
	return 0, p.brk
}

func (p *MmapProvider) Grow(n int) (int, error) {
	if p.mapping == nil {
		return 0, errors.New("provider has been closed")
	}
	if n < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidSize, "cannot shrink the range by %d bytes", -n)
	}
	if n > len(p.mapping)-p.brk {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "growing by %d bytes would move the break to %d, but the maximum is %d", n, p.brk+n, len(p.mapping))
	}

	old := p.brk
	p.brk += n
	return old, nil
}

func (p *MmapProvider) Data() []byte {
	return p.mapping[:p.brk:p.brk]
}

// Reset zeroes the used portion of the mapping and moves the break back to 0. The pages stay
// committed; use Close to give them back.
func (p *MmapProvider) Reset() {
	clear(p.mapping[:p.brk])
	p.brk = 0
}

// Close unmaps the reservation. The provider cannot be used afterward.
func (p *MmapProvider) Close() error {
	if p.mapping == nil {
		return nil
	}

	err := unix.Munmap(p.mapping)
	if errors.Is(err, unix.EINVAL) {
		// Already unmapped
		err = nil
	}

	p.mapping = nil
	p.brk = 0
	return err
}
