package mm

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap/memutils/block"
	"golang.org/x/exp/slog"
)

// AuditStatus summarizes the problems found by Audit. The zero value, AuditOK, means the heap
// and free list are consistent.
type AuditStatus uint32

const (
	AuditOK AuditStatus = 0
	// AuditHeapInvalid indicates a problem with the block chain: mismatched header and footer,
	// stale predecessor flag, uncoalesced free neighbors, a free block missing from the free list,
	// or a damaged prologue or epilogue
	AuditHeapInvalid AuditStatus = 1 << (iota - 1)
	// AuditListInvalid indicates a problem with the free list: broken back-links, address
	// order, allocated or out-of-bounds nodes, or disagreement with the block chain
	AuditListInvalid
	// AuditListCircular indicates that the free list loops back on itself. The list walk is
	// abandoned when this is found.
	AuditListCircular
)

var auditStatusMapping = map[AuditStatus]string{
	AuditHeapInvalid:  "AuditHeapInvalid",
	AuditListInvalid:  "AuditListInvalid",
	AuditListCircular: "AuditListCircular",
}

func (s AuditStatus) String() string {
	if s == AuditOK {
		return "AuditOK"
	}

	var names []string
	for _, bit := range []AuditStatus{AuditHeapInvalid, AuditListInvalid, AuditListCircular} {
		if s&bit != 0 {
			names = append(names, auditStatusMapping[bit])
		}
	}

	return strings.Join(names, "|")
}

type auditReport struct {
	status AuditStatus
	issues []error
}

func (r *auditReport) add(status AuditStatus, format string, args ...any) {
	r.status |= status
	r.issues = append(r.issues, errors.Newf(format, args...))
}

// Validate runs Audit without logging and returns every problem found, or nil if the heap is
// consistent. It is called after every operation when built with the debug_mem_utils tag.
func (a *Allocator) Validate() error {
	_, err := a.Audit(false)
	return err
}

// Audit walks the block chain and the free list independently and cross-checks them. If verbose
// is true, every block and free list node is logged at info level. The returned error joins one
// error per problem found, each naming the offending offsets.
//
// Audit only reads the heap, and every walk is bounded by the heap's extent, so it is safe to run
// on a corrupted heap.
func (a *Allocator) Audit(verbose bool) (AuditStatus, error) {
	v := a.view()
	low, high := a.provider.Bounds()
	report := &auditReport{}

	if verbose {
		a.logger.Info("HEAP", slog.Int("Low", low), slog.Int("High", high))
	}

	listed := a.checkList(v, high, verbose, report)
	a.checkHeap(v, high, listed, verbose, report)

	return report.status, errors.Join(report.issues...)
}

// linkable reports whether h can be dereferenced as a free block: its header and both links
// must be inside the heap, between the prologue and the epilogue
func linkable(h block.Handle, high int) bool {
	return h >= firstBlock && int(h)%block.Alignment == 0 && int(h)+block.MinBlockSize-block.WordSize <= high
}

// checkList walks the free list from its head and returns the set of nodes it found, or nil if
// the walk had to be abandoned
func (a *Allocator) checkList(v block.View, high int, verbose bool, report *auditReport) *swiss.Map[block.Handle, struct{}] {
	head := a.freeList.Head()
	tail := a.freeList.Tail()

	if verbose {
		a.logger.Info("FREE LIST", slog.String("Head", head.String()), slog.String("Tail", tail.String()), slog.Int("Length", a.freeList.Len()))
	}

	listed := swiss.NewMap[block.Handle, struct{}](uint32(a.freeList.Len() + 1))

	if head == block.NoBlock {
		if tail != block.NoBlock {
			report.add(AuditListInvalid, "free list has no head but its tail is %s", tail)
		}
		if a.freeList.Len() != 0 {
			report.add(AuditListInvalid, "free list has no head but its length is %d", a.freeList.Len())
		}
		return listed
	}

	if !linkable(head, high) {
		report.add(AuditListInvalid, "free list head %s is outside the heap, which ends at %d", head, high)
		return nil
	}

	if pred := v.Pred(head); pred != block.NoBlock {
		report.add(AuditListInvalid, "free list head %s has predecessor %s", head, pred)
	}

	maxNodes := high/block.MinBlockSize + 1
	visited := 0
	prev := block.NoBlock
	hare := head

	for bp := head; bp != block.NoBlock; bp = v.Succ(bp) {
		if !linkable(bp, high) {
			report.add(AuditListInvalid, "free list node %s after %s is outside the heap, which ends at %d", bp, prev, high)
			return nil
		}

		if verbose {
			a.logNode(v, bp, high)
		}

		pred, succ, free := v.Links(bp)
		if !free {
			report.add(AuditListInvalid, "allocated block %s is in the free list", bp)
			pred, succ = v.Pred(bp), v.Succ(bp)
		}

		if prev != block.NoBlock {
			if pred != prev {
				report.add(AuditListInvalid, "free list node %s has predecessor %s, but follows %s", bp, pred, prev)
			}
			if bp <= prev {
				report.add(AuditListInvalid, "free list node %s follows %s, which is not a lower address", bp, prev)
			}
		}

		listed.Put(bp, struct{}{})
		prev = bp
		visited++

		// bp is the tortoise; hare moves two nodes for each of its one and meets it only in a loop
		for i := 0; i < 2 && hare != block.NoBlock; i++ {
			hare = v.Succ(hare)
			if hare != block.NoBlock && !linkable(hare, high) {
				hare = block.NoBlock
			}
		}
		if hare != block.NoBlock && hare == succ {
			report.add(AuditListCircular, "free list is circular at %s", hare)
			return nil
		}

		if visited > maxNodes {
			report.add(AuditListCircular, "free list has more than %d nodes, which cannot fit in the heap", maxNodes)
			return nil
		}
	}

	if prev != tail {
		report.add(AuditListInvalid, "free list ends at %s, but its tail is %s", prev, tail)
	}

	if visited != a.freeList.Len() {
		report.add(AuditListInvalid, "free list has %d nodes, but its length is %d", visited, a.freeList.Len())
	}

	if verbose {
		a.logger.Info("FREE LIST finished", slog.Int("Nodes", visited))
	}

	return listed
}

// checkHeap walks the block chain from the prologue to the epilogue. Free blocks are checked
// against listed, the free list nodes found by checkList, unless that walk was abandoned.
func (a *Allocator) checkHeap(v block.View, high int, listed *swiss.Map[block.Handle, struct{}], verbose bool, report *auditReport) {
	if high < int(firstBlock) {
		report.add(AuditHeapInvalid, "heap ends at %d, before the end of the prologue", high)
		return
	}

	prologue := block.Pack(block.DoubleWordSize, true, true)
	if header := v.Header(prologueHandle); header != prologue {
		report.add(AuditHeapInvalid, "prologue header is %s, expected %s", header, prologue)
	}
	if footer := v.PrevFooter(firstBlock); footer != prologue {
		report.add(AuditHeapInvalid, "prologue footer is %s, expected %s", footer, prologue)
	}

	if verbose {
		a.logger.Info("HEAP MORPHOLOGY", slog.String("Prologue", v.Header(prologueHandle).String()))
	}

	heapFree := swiss.NewMap[block.Handle, struct{}](uint32(a.freeList.Len() + 1))
	prev := prologueHandle
	prevAllocated := true
	bp := firstBlock

	for {
		if !v.Contains(bp) {
			report.add(AuditHeapInvalid, "block %s starts past the end of the heap at %d", bp, high)
			return
		}

		header := v.Header(bp)
		size := header.Size()

		if size == 0 {
			if verbose {
				a.logger.Info("Epilogue block", slog.String("Handle", bp.String()), slog.String("Header", header.String()))
			}
			if int(bp) != high {
				report.add(AuditHeapInvalid, "zero-size block at %s, but the heap ends at %d", bp, high)
			}
			if !header.Allocated() {
				report.add(AuditHeapInvalid, "epilogue %s is not marked allocated", bp)
			}
			if header.PrevAllocated() != prevAllocated {
				report.add(AuditHeapInvalid, "epilogue %s records its predecessor as allocated=%t, but block %s is allocated=%t", bp, header.PrevAllocated(), prev, prevAllocated)
			}
			break
		}

		if size < block.MinBlockSize || size%block.Alignment != 0 || int(bp)+size > high {
			report.add(AuditHeapInvalid, "block %s has size %d, which does not fit between the prologue and the end of the heap at %d", bp, size, high)
			return
		}

		footer := v.Footer(bp)
		if verbose {
			a.logBlock(bp, header, footer)
		}

		if footer.Size() != size || footer.Allocated() != header.Allocated() {
			report.add(AuditHeapInvalid, "block %s has header %s but footer %s", bp, header, footer)
		}

		if header.PrevAllocated() != prevAllocated {
			report.add(AuditHeapInvalid, "block %s records its predecessor as allocated=%t, but block %s is allocated=%t", bp, header.PrevAllocated(), prev, prevAllocated)
		}

		if !header.Allocated() {
			heapFree.Put(bp, struct{}{})

			if !prevAllocated {
				report.add(AuditHeapInvalid, "free block %s is not coalesced with the free block %s before it", bp, prev)
			}

			if listed != nil && !listed.Has(bp) {
				report.add(AuditHeapInvalid, "free block %s is not in the free list", bp)
			}
		}

		prev = bp
		prevAllocated = header.Allocated()
		bp += block.Handle(size)
	}

	if listed == nil {
		return
	}

	listed.Iter(func(node block.Handle, _ struct{}) bool {
		if !heapFree.Has(node) {
			report.add(AuditListInvalid, "free list node %s is not a free block in the heap", node)
		}
		return false
	})
}

func (a *Allocator) logBlock(bp block.Handle, header, footer block.Word) {
	state := "f"
	if header.Allocated() {
		state = "a"
	}

	a.logger.LogAttrs(context.Background(), slog.LevelInfo, state,
		slog.String("Handle", bp.String()),
		slog.String("Header", header.String()),
		slog.String("Footer", footer.String()),
	)
}

func (a *Allocator) logNode(v block.View, bp block.Handle, high int) {
	header := v.Header(bp)
	attrs := []slog.Attr{
		slog.String("Handle", bp.String()),
		slog.String("Header", header.String()),
		slog.String("Pred", v.Pred(bp).String()),
		slog.String("Succ", v.Succ(bp).String()),
	}
	if block.FooterOffset(bp, header.Size())+block.WordSize <= high {
		attrs = append(attrs, slog.String("Footer", v.Footer(bp).String()))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "f", attrs...)
}
