//go:build !unix

package memlib

// MmapProvider falls back to a SliceProvider on platforms without mmap
type MmapProvider struct {
	SliceProvider
}

var _ Provider = &MmapProvider{}

// NewMmapProvider allocates maxSize bytes on the Go heap when mmap is not available
func NewMmapProvider(maxSize int) (*MmapProvider, error) {
	return &MmapProvider{SliceProvider: *NewSliceProvider(maxSize)}, nil
}

// Close releases the backing buffer
func (p *MmapProvider) Close() error {
	p.buffer = nil
	p.brk = 0
	return nil
}
