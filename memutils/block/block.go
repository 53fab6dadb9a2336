// Package block encodes and decodes the in-band metadata of heap blocks. A block is never
// materialized as an object: it is identified by a Handle, the offset of its payload within
// the heap's bytes, and everything else is derived from the words around that offset.
//
// Layout of a block at handle h with size s:
//
//	h-4          header   size | prevAllocated<<1 | allocated
//	h            payload  (pred link while free)
//	h+4                   (succ link while free)
//	h+s-8        footer   copy of the header word as it was last written in full
//	h+s-4        header of the next block
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/vkngwrapper/mmheap/memutils"
)

const (
	// WordSize is the size in bytes of a header, footer, or free list link
	WordSize = 4
	// DoubleWordSize is the size of a header plus a footer
	DoubleWordSize = 2 * WordSize
	// Alignment is the alignment of every block size and every payload offset
	Alignment = DoubleWordSize
	// Overhead is the number of bytes of each block that are taken up by metadata
	Overhead = DoubleWordSize
	// MinBlockSize is large enough to hold a header, two free list links, and a footer
	MinBlockSize = 2 * DoubleWordSize

	allocatedBit     Word = 0x1
	prevAllocatedBit Word = 0x2
	flagMask         Word = Alignment - 1
)

// Handle is the offset of a block's payload within the heap
type Handle uint32

// NoBlock is the null Handle. Offset 0 holds the heap's alignment padding and is never a payload.
const NoBlock Handle = 0

func (h Handle) String() string {
	if h == NoBlock {
		return "NoBlock"
	}
	return fmt.Sprintf("0x%x", uint32(h))
}

// Word is a single metadata word: a header or a footer
type Word uint32

// Pack combines an aligned size with the block's own allocation flag (bit 0) and its
// predecessor's allocation flag (bit 1)
func Pack(size int, allocated, prevAllocated bool) Word {
	w := Word(size) &^ flagMask
	if allocated {
		w |= allocatedBit
	}
	if prevAllocated {
		w |= prevAllocatedBit
	}
	return w
}

// Size returns the block size stored in the word
func (w Word) Size() int { return int(w &^ flagMask) }

// Allocated returns whether the word marks its own block as allocated
func (w Word) Allocated() bool { return w&allocatedBit != 0 }

// PrevAllocated returns whether the word marks the block before its own as allocated
func (w Word) PrevAllocated() bool { return w&prevAllocatedBit != 0 }

// WithPrevAllocated returns a copy of the word with the predecessor flag replaced
func (w Word) WithPrevAllocated(prevAllocated bool) Word {
	if prevAllocated {
		return w | prevAllocatedBit
	}
	return w &^ prevAllocatedBit
}

func (w Word) String() string {
	return fmt.Sprintf("[%d][a:%t][pa:%t]", w.Size(), w.Allocated(), w.PrevAllocated())
}

// HeaderOffset returns the offset of the header of the block at h
func HeaderOffset(h Handle) int { return int(h) - WordSize }

// FooterOffset returns the offset of the footer of a block at h with the given size
func FooterOffset(h Handle, size int) int { return int(h) + size - DoubleWordSize }

// View interprets a heap's bytes as a chain of blocks. It holds no state of its own; a View
// should be re-derived from the heap whenever the heap may have grown.
type View []byte

func (v View) word(offset int) Word {
	return Word(binary.LittleEndian.Uint32(v[offset:]))
}

func (v View) putWord(offset int, w Word) {
	binary.LittleEndian.PutUint32(v[offset:], uint32(w))
}

// Contains reports whether h could be the handle of a block with a header inside the view
func (v View) Contains(h Handle) bool {
	return h != NoBlock && int(h)%Alignment == 0 && HeaderOffset(h) >= 0 && int(h) <= len(v)
}

// Header returns the header word of the block at h
func (v View) Header(h Handle) Word {
	return v.word(HeaderOffset(h))
}

// SetHeader writes the header word of the block at h
func (v View) SetHeader(h Handle, w Word) {
	v.putWord(HeaderOffset(h), w)
}

// Footer returns the footer word of the block at h, located using the size in its header
func (v View) Footer(h Handle) Word {
	return v.word(FooterOffset(h, v.Header(h).Size()))
}

// PrevFooter returns the word immediately before the header of the block at h. It is only
// meaningful when the previous block carries a footer.
func (v View) PrevFooter(h Handle) Word {
	return v.word(int(h) - DoubleWordSize)
}

// Write sets both the header and the footer of the block at h
func (v View) Write(h Handle, size int, allocated, prevAllocated bool) {
	w := Pack(size, allocated, prevAllocated)
	v.putWord(HeaderOffset(h), w)
	v.putWord(FooterOffset(h, size), w)
}

// SetPrevAllocated rewrites the predecessor flag in the header of the block at h. The footer
// is left alone: the flag is only ever read from headers.
func (v View) SetPrevAllocated(h Handle, prevAllocated bool) {
	v.SetHeader(h, v.Header(h).WithPrevAllocated(prevAllocated))
}

// Size returns the size of the block at h
func (v View) Size(h Handle) int { return v.Header(h).Size() }

// Allocated returns whether the block at h is allocated
func (v View) Allocated(h Handle) bool { return v.Header(h).Allocated() }

// Next returns the handle of the block following h in address order. It must not be called
// on the epilogue.
func (v View) Next(h Handle) Handle {
	return h + Handle(v.Size(h))
}

// Prev returns the handle of the block preceding h in address order, using the previous
// block's footer. Callers should consult the prevAllocated flag in h's header before relying on it.
func (v View) Prev(h Handle) Handle {
	return h - Handle(v.PrevFooter(h).Size())
}

// Pred returns the free list predecessor link of the free block at h
func (v View) Pred(h Handle) Handle {
	return Handle(binary.LittleEndian.Uint32(v[h:]))
}

// Succ returns the free list successor link of the free block at h
func (v View) Succ(h Handle) Handle {
	return Handle(binary.LittleEndian.Uint32(v[h+WordSize:]))
}

// SetPred writes the free list predecessor link of the free block at h
func (v View) SetPred(h Handle, pred Handle) {
	binary.LittleEndian.PutUint32(v[h:], uint32(pred))
}

// SetSucc writes the free list successor link of the free block at h
func (v View) SetSucc(h Handle, succ Handle) {
	binary.LittleEndian.PutUint32(v[h+WordSize:], uint32(succ))
}

// Links returns the free list links of the block at h. ok is false if the block is allocated,
// in which case the link words belong to the caller's payload.
func (v View) Links(h Handle) (pred, succ Handle, ok bool) {
	if v.Allocated(h) {
		return NoBlock, NoBlock, false
	}
	return v.Pred(h), v.Succ(h), true
}

// Payload returns the payload bytes of the block at h: everything between its header and footer
func (v View) Payload(h Handle) []byte {
	end := FooterOffset(h, v.Size(h))
	return v[h:end:end]
}

// PadSize returns the block size needed to hold a payload of n bytes
func PadSize(n int) int {
	if n <= DoubleWordSize {
		return MinBlockSize
	}

	return memutils.AlignUp(n+Overhead, Alignment)
}
