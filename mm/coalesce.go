package mm

import (
	"github.com/vkngwrapper/mmheap/memutils/block"
)

// coalesce merges the free block bp, which must not be in the free list yet, with whichever of
// its neighbors are free, and links the result into the free list exactly once. The merged block
// is returned; it starts at the previous block when that block was free.
//
// When a neighbor is absorbed, the merged block takes over the neighbor's place in the list: no
// other free block lies between them, so the neighbor's links already bracket the right position.
func (a *Allocator) coalesce(v block.View, bp block.Handle) block.Handle {
	prevAllocated := v.Header(bp).PrevAllocated()
	next := v.Next(bp)
	nextAllocated := v.Allocated(next)
	size := v.Size(bp)

	var pred, succ block.Handle

	switch {
	case prevAllocated && nextAllocated:
		pred = a.freeList.FindPredecessor(v, bp)
		if pred == block.NoBlock {
			succ = a.freeList.Head()
		} else {
			succ = v.Succ(pred)
		}

	case prevAllocated && !nextAllocated:
		size += v.Size(next)
		pred, succ = v.Pred(next), v.Succ(next)
		a.freeList.Remove(v, next)

		v.Write(bp, size, false, true)

	case !prevAllocated && nextAllocated:
		prev := v.Prev(bp)
		size += v.Size(prev)
		pred, succ = v.Pred(prev), v.Succ(prev)
		a.freeList.Remove(v, prev)

		bp = prev
		v.Write(bp, size, false, v.Header(bp).PrevAllocated())

	default:
		prev := v.Prev(bp)
		size += v.Size(prev) + v.Size(next)
		pred, succ = v.Pred(prev), v.Succ(next)
		a.freeList.Remove(v, prev)
		a.freeList.Remove(v, next)

		bp = prev
		v.Write(bp, size, false, v.Header(bp).PrevAllocated())
	}

	a.freeList.InsertBetween(v, pred, bp, succ)
	return bp
}
