// Package fit searches a free list for a block that can hold a padded request size.
// Searches never modify the list.
package fit

import (
	"math"

	"github.com/vkngwrapper/mmheap/memutils/block"
	"github.com/vkngwrapper/mmheap/memutils/freelist"
)

// DefaultTraversalLimit is the number of free blocks a best-match search will look at before
// settling for the best candidate found so far
const DefaultTraversalLimit = 10000

// Finder runs one Strategy against a free list
type Finder struct {
	Strategy Strategy
	// TraversalLimit bounds best-match searches. Zero means DefaultTraversalLimit.
	TraversalLimit int
}

// Find returns a free block from list whose size is at least asize, or block.NoBlock if
// there isn't one
func (f Finder) Find(v block.View, list *freelist.List, asize int) block.Handle {
	if list.IsEmpty() {
		return block.NoBlock
	}

	switch f.Strategy {
	case StrategyFirstMatch:
		return firstMatch(v, list, asize)
	case StrategyBestMatch:
		return bestMatch(v, list, asize, f.limit(), false)
	case StrategyBestMatchFromTail:
		return bestMatch(v, list, asize, f.limit(), true)
	default:
		return lastMatch(v, list, asize)
	}
}

func (f Finder) limit() int {
	if f.TraversalLimit <= 0 {
		return DefaultTraversalLimit
	}
	return f.TraversalLimit
}

func firstMatch(v block.View, list *freelist.List, asize int) block.Handle {
	found := block.NoBlock
	list.Visit(v, math.MaxInt, func(b block.Handle) bool {
		if v.Size(b) >= asize {
			found = b
			return false
		}
		return true
	})
	return found
}

func lastMatch(v block.View, list *freelist.List, asize int) block.Handle {
	found := block.NoBlock
	list.VisitReverse(v, math.MaxInt, func(b block.Handle) bool {
		if v.Size(b) >= asize {
			found = b
			return false
		}
		return true
	})
	return found
}

func bestMatch(v block.View, list *freelist.List, asize int, limit int, fromTail bool) block.Handle {
	candidate := block.NoBlock
	candidateSize := math.MaxInt

	visitor := func(b block.Handle) bool {
		size := v.Size(b)
		if size == asize {
			candidate = b
			return false
		}

		if size > asize && size < candidateSize {
			candidate = b
			candidateSize = size
		}
		return true
	}

	if fromTail {
		list.VisitReverse(v, limit, visitor)
	} else {
		list.Visit(v, limit, visitor)
	}

	// Nothing large enough within the limit, so take whatever fits rather than grow the heap
	if candidate == block.NoBlock && list.Len() > limit {
		if fromTail {
			return lastMatch(v, list, asize)
		}
		return firstMatch(v, list, asize)
	}

	return candidate
}
