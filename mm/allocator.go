package mm

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/block"
	"github.com/vkngwrapper/mmheap/memutils/fit"
	"github.com/vkngwrapper/mmheap/memutils/freelist"
	"github.com/vkngwrapper/mmheap/memutils/memlib"
	"golang.org/x/exp/slog"
)

// Pointer is the address of an allocation's payload within the heap
type Pointer uint32

// Null is the Pointer returned when an allocation cannot be made
const Null Pointer = 0

// maxRequestSize keeps padded sizes and block offsets within 32 bits
const maxRequestSize = math.MaxInt32

// Allocator is a boundary-tag heap allocator with an address-ordered explicit free list. It is
// not safe for concurrent use.
type Allocator struct {
	logger    *slog.Logger
	provider  memlib.Provider
	flags     CreateFlags
	chunkSize int
	finder    fit.Finder

	freeList freelist.List
	// requested size of every live allocation, by payload handle
	live *swiss.Map[block.Handle, int]

	requestCount       int
	requestedBytes     int
	peakRequestedBytes int
}

var _ memutils.Validatable = &Allocator{}

func (a *Allocator) view() block.View {
	return block.View(a.provider.Data())
}

// Allocate returns a pointer to a payload of at least size bytes, aligned to 8 bytes, or Null if
// size is not positive or the heap cannot grow enough to satisfy the request.
func (a *Allocator) Allocate(size int) Pointer {
	if size <= 0 {
		return Null
	}

	a.requestCount++
	bp := a.allocate(size)
	if bp == block.NoBlock {
		return Null
	}

	a.track(bp, size)
	memutils.DebugValidate(a)
	return Pointer(bp)
}

func (a *Allocator) allocate(size int) block.Handle {
	if size > maxRequestSize {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "allocation request is too large",
			slog.Int("Size", size))
		return block.NoBlock
	}

	asize := block.PadSize(size)
	v := a.view()

	bp := a.finder.Find(v, &a.freeList, asize)
	if bp == block.NoBlock {
		var err error
		bp, err = a.extendHeap(max(asize, a.chunkSize))
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn, "heap could not grow to satisfy an allocation",
				slog.Int("Size", size),
				slog.Int("PaddedSize", asize),
				slog.Any("error", err))
			return block.NoBlock
		}
		v = a.view()
	}

	a.place(v, bp, asize)
	return bp
}

// Deallocate frees an allocation so its block can be reused. Deallocating Null does nothing.
// Deallocating a pointer that is not a live allocation is logged and ignored, and panics when
// built with the debug_mem_utils tag.
func (a *Allocator) Deallocate(p Pointer) {
	if p == Null {
		return
	}

	bp := block.Handle(p)
	if !a.checkLive(bp, "Deallocate") {
		return
	}

	a.requestCount++
	a.untrack(bp)
	a.release(a.view(), bp)
	memutils.DebugValidate(a)
}

// Resize changes the size of an allocation, returning the pointer to the resized payload. The
// contents are preserved up to the lesser of the old and new sizes.
//
// A Null pointer behaves as Allocate, and a size of 0 behaves as Deallocate and returns Null.
// Growing first tries to absorb a free block that follows the allocation, then one that precedes
// it (moving the payload down), and finally falls back to a new allocation and a copy. If that
// fails, Null is returned and the original allocation is left untouched.
func (a *Allocator) Resize(p Pointer, size int) Pointer {
	if p == Null {
		return a.Allocate(size)
	}

	if size == 0 {
		a.Deallocate(p)
		return Null
	}

	bp := block.Handle(p)
	if !a.checkLive(bp, "Resize") {
		return Null
	}
	if size < 0 || size > maxRequestSize {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "resize request has an invalid size",
			slog.Int("Size", size))
		return Null
	}

	a.requestCount++
	v := a.view()
	asize := block.PadSize(size)
	current := v.Size(bp)

	if asize <= current {
		if asize < current && a.flags&CreateSplitOnShrink != 0 {
			a.trim(v, bp, asize)
		}

		a.untrack(bp)
		a.track(bp, size)
		memutils.DebugValidate(a)
		return p
	}

	// Expand toward higher addresses: no copy needed
	next := v.Next(bp)
	if !v.Allocated(next) {
		nextSize := v.Size(next)
		if current+nextSize >= asize {
			a.logger.Debug("Allocator::Resize expanding into next block",
				slog.Int("Offset", int(bp)), slog.Int("Size", current), slog.Int("NextSize", nextSize))

			a.freeList.Remove(v, next)
			v.Write(bp, current+nextSize, true, v.Header(bp).PrevAllocated())
			a.trim(v, bp, asize)

			a.untrack(bp)
			a.track(bp, size)
			memutils.DebugValidate(a)
			return p
		}
	}

	// Expand toward lower addresses: the payload moves to the start of the previous block
	if !v.Header(bp).PrevAllocated() {
		prev := v.Prev(bp)
		prevSize := v.Size(prev)
		if prevSize+current >= asize {
			a.logger.Debug("Allocator::Resize expanding into previous block",
				slog.Int("Offset", int(bp)), slog.Int("Size", current), slog.Int("PrevSize", prevSize))

			a.freeList.Remove(v, prev)
			prevAllocated := v.Header(prev).PrevAllocated()
			copy(v[prev:], v.Payload(bp))
			v.Write(prev, prevSize+current, true, prevAllocated)
			a.trim(v, prev, asize)

			a.untrack(bp)
			a.track(prev, size)
			memutils.DebugValidate(a)
			return Pointer(prev)
		}
	}

	newBp := a.allocate(size)
	if newBp == block.NoBlock {
		return Null
	}

	a.logger.Debug("Allocator::Resize moving allocation",
		slog.Int("Offset", int(bp)), slog.Int("NewOffset", int(newBp)), slog.Int("Size", size))

	v = a.view()
	copySize := min(current-block.Overhead, size)
	copy(v[newBp:int(newBp)+copySize], v[bp:int(bp)+copySize])

	a.untrack(bp)
	a.release(v, bp)
	a.track(newBp, size)
	memutils.DebugValidate(a)
	return Pointer(newBp)
}

// Payload returns the bytes of a live allocation. The slice may be longer than the size that was
// requested, and it is only valid until the allocation is resized or deallocated.
func (a *Allocator) Payload(p Pointer) []byte {
	bp := block.Handle(p)
	if p == Null || !a.live.Has(bp) {
		return nil
	}

	return a.view().Payload(bp)
}

// UsableSize returns the number of payload bytes available in a live allocation, or 0 if p is not
// a live allocation
func (a *Allocator) UsableSize(p Pointer) int {
	bp := block.Handle(p)
	if p == Null || !a.live.Has(bp) {
		return 0
	}

	return a.view().Size(bp) - block.Overhead
}

// Bounds returns the current extent of the heap
func (a *Allocator) Bounds() (low, high int) {
	return a.provider.Bounds()
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	return a.live.Count()
}

// RequestCount returns the number of allocate, deallocate, and resize requests that have been
// carried out since the heap was initialized
func (a *Allocator) RequestCount() int {
	return a.requestCount
}

// Utilization returns the peak number of requested bytes that were live at once, divided by the
// current size of the heap
func (a *Allocator) Utilization() float64 {
	_, high := a.provider.Bounds()
	if high == 0 {
		return 0
	}

	return float64(a.peakRequestedBytes) / float64(high)
}

func (a *Allocator) checkLive(bp block.Handle, operation string) bool {
	if a.live.Has(bp) {
		return true
	}

	err := errors.Newf("%s received pointer %s, which is not a live allocation", operation, bp)
	a.logger.LogAttrs(context.Background(), slog.LevelError, "rejected pointer",
		slog.String("Operation", operation),
		slog.Int("Pointer", int(bp)),
		slog.Any("error", err))
	memutils.DebugCheck(err)
	return false
}

func (a *Allocator) track(bp block.Handle, size int) {
	a.live.Put(bp, size)
	a.requestedBytes += size
	if a.requestedBytes > a.peakRequestedBytes {
		a.peakRequestedBytes = a.requestedBytes
	}
}

func (a *Allocator) untrack(bp block.Handle) {
	size, ok := a.live.Get(bp)
	if !ok {
		return
	}

	a.requestedBytes -= size
	a.live.Delete(bp)
}
