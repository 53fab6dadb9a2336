// Package freelist threads the free blocks of a heap into a doubly-linked list ordered by
// address. The links live inside the free blocks themselves, so the List only holds the ends
// and a count; every method takes the View that the links should be read from and written to.
package freelist

import (
	"github.com/vkngwrapper/mmheap/memutils/block"
)

// List is an address-ordered free list. The zero value is an empty list.
type List struct {
	head  block.Handle
	tail  block.Handle
	count int
}

// Head returns the lowest-addressed free block, or block.NoBlock if the list is empty
func (l *List) Head() block.Handle { return l.head }

// Tail returns the highest-addressed free block, or block.NoBlock if the list is empty
func (l *List) Tail() block.Handle { return l.tail }

// Len returns the number of blocks in the list
func (l *List) Len() int { return l.count }

// IsEmpty returns true if the list has no blocks
func (l *List) IsEmpty() bool { return l.head == block.NoBlock }

// Clear empties the list without touching any block
func (l *List) Clear() {
	l.head = block.NoBlock
	l.tail = block.NoBlock
	l.count = 0
}

// FindPredecessor returns the block that b should follow in the list, or block.NoBlock if b
// belongs at the head. b must not already be in the list.
//
// The scan starts from whichever end of the list is closer to b, judged by comparing b against
// the midpoint of the head and tail addresses.
func (l *List) FindPredecessor(v block.View, b block.Handle) block.Handle {
	if l.head == block.NoBlock || b < l.head {
		return block.NoBlock
	}

	if l.tail != l.head && (uint64(l.head)+uint64(l.tail))/2 < uint64(b) {
		for pred := l.tail; pred != block.NoBlock; pred = v.Pred(pred) {
			if pred < b {
				return pred
			}
		}

		return block.NoBlock
	}

	pred := l.head
	for {
		succ := v.Succ(pred)
		if succ == block.NoBlock || succ > b {
			return pred
		}
		pred = succ
	}
}

// Insert adds b to the list at its address-ordered position
func (l *List) Insert(v block.View, b block.Handle) {
	pred := l.FindPredecessor(v, b)

	succ := l.head
	if pred != block.NoBlock {
		succ = v.Succ(pred)
	}

	l.InsertBetween(v, pred, b, succ)
}

// InsertBetween links b into the list between pred and succ, which must be adjacent in the
// list (or block.NoBlock at either end). Use it when the position is already known, such as
// when b replaces neighbors that were just removed.
func (l *List) InsertBetween(v block.View, pred, b, succ block.Handle) {
	v.SetPred(b, pred)
	v.SetSucc(b, succ)

	if pred == block.NoBlock {
		l.head = b
	} else {
		v.SetSucc(pred, b)
	}

	if succ == block.NoBlock {
		l.tail = b
	} else {
		v.SetPred(succ, b)
	}

	l.count++
}

// Remove splices b out of the list by joining its neighbors
func (l *List) Remove(v block.View, b block.Handle) {
	pred := v.Pred(b)
	succ := v.Succ(b)

	if pred == block.NoBlock {
		l.head = succ
	} else {
		v.SetSucc(pred, succ)
	}

	if succ == block.NoBlock {
		l.tail = pred
	} else {
		v.SetPred(succ, pred)
	}

	l.count--
}

// Visit calls visitor for each block in the list from head to tail, stopping early if visitor
// returns false. At most limit blocks are visited.
func (l *List) Visit(v block.View, limit int, visitor func(b block.Handle) bool) {
	for b := l.head; b != block.NoBlock && limit > 0; b = v.Succ(b) {
		if !visitor(b) {
			return
		}
		limit--
	}
}

// VisitReverse calls visitor for each block in the list from tail to head, stopping early if
// visitor returns false. At most limit blocks are visited.
func (l *List) VisitReverse(v block.View, limit int, visitor func(b block.Handle) bool) {
	for b := l.tail; b != block.NoBlock && limit > 0; b = v.Pred(b) {
		if !visitor(b) {
			return
		}
		limit--
	}
}
