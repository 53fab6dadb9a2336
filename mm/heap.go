package mm

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/block"
	"golang.org/x/exp/slog"
)

// extendHeap grows the heap by at least size bytes. The old epilogue header becomes the header
// of a new free block, a new epilogue is written after it, and the block is coalesced with a free
// block that may have preceded the old epilogue. It returns the resulting free block.
func (a *Allocator) extendHeap(size int) (block.Handle, error) {
	size = memutils.AlignUp(size, block.Alignment)

	_, high := a.provider.Bounds()
	if uint64(high)+uint64(size) > math.MaxUint32 {
		return block.NoBlock, errors.Wrapf(memutils.ErrOutOfMemory, "growing by %d bytes would move the heap past 32-bit offsets", size)
	}

	old, err := a.provider.Grow(size)
	if err != nil {
		return block.NoBlock, err
	}

	v := a.view()
	bp := block.Handle(old)
	prevAllocated := v.Header(bp).PrevAllocated()
	v.Write(bp, size, false, prevAllocated)
	v.SetHeader(v.Next(bp), block.Pack(0, true, false))

	a.logger.Debug("Allocator::extendHeap", slog.Int("Size", size), slog.Int("Break", old+size))

	return a.coalesce(v, bp), nil
}

// place allocates asize bytes at the start of the free block bp. If the rest of the block could
// stand as a block of its own, it is split off and returned to the free list.
func (a *Allocator) place(v block.View, bp block.Handle, asize int) {
	size := v.Size(bp)
	prevAllocated := v.Header(bp).PrevAllocated()
	a.freeList.Remove(v, bp)

	if size-asize >= block.MinBlockSize {
		v.Write(bp, asize, true, prevAllocated)
		a.freeRemainder(v, bp+block.Handle(asize), size-asize)
		return
	}

	v.Write(bp, size, true, prevAllocated)
	v.SetPrevAllocated(v.Next(bp), true)
}

// trim cuts the allocated block bp down to asize bytes if the cut-off tail could stand as a block
// of its own. Either way, the following block is told that bp is allocated.
func (a *Allocator) trim(v block.View, bp block.Handle, asize int) {
	size := v.Size(bp)
	if size-asize < block.MinBlockSize {
		v.SetPrevAllocated(v.Next(bp), true)
		return
	}

	v.Write(bp, asize, true, v.Header(bp).PrevAllocated())
	a.freeRemainder(v, bp+block.Handle(asize), size-asize)
}

// freeRemainder turns the tail of a just-split block into a free block. The block before it is
// always the allocated front half of the split.
func (a *Allocator) freeRemainder(v block.View, bp block.Handle, size int) {
	v.Write(bp, size, false, true)
	v.SetPrevAllocated(v.Next(bp), false)
	a.coalesce(v, bp)
}

// release marks the allocated block bp free and merges it into its neighbors
func (a *Allocator) release(v block.View, bp block.Handle) {
	v.Write(bp, v.Size(bp), false, v.Header(bp).PrevAllocated())
	v.SetPrevAllocated(v.Next(bp), false)
	a.coalesce(v, bp)
}
