package mm

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/block"
)

// BlockType describes a block in the output of PrintDetailedMap
type BlockType uint32

const (
	BlockTypeFree BlockType = iota
	BlockTypeAllocated
)

var blockTypeMapping = map[BlockType]string{
	BlockTypeFree:      "BlockTypeFree",
	BlockTypeAllocated: "BlockTypeAllocated",
}

func (t BlockType) String() string {
	return blockTypeMapping[t]
}

// visitBlocks calls visitor for every block between the prologue and the epilogue, in address
// order. It assumes the heap is consistent.
func (a *Allocator) visitBlocks(visitor func(bp block.Handle, size int, allocated bool)) {
	v := a.view()
	for bp := firstBlock; v.Size(bp) > 0; bp = v.Next(bp) {
		visitor(bp, v.Size(bp), v.Allocated(bp))
	}
}

// AddStatistics adds a coarse summary of this heap to stats. The whole heap, including the
// prologue and epilogue, counts as one block.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	_, high := a.provider.Bounds()
	stats.BlockCount++
	stats.BlockBytes += high

	a.visitBlocks(func(bp block.Handle, size int, allocated bool) {
		if allocated {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
	})
}

// AddDetailedStatistics adds a summary of this heap to stats, including the size extremes of
// allocations and free blocks
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	_, high := a.provider.Bounds()
	stats.BlockCount++
	stats.BlockBytes += high

	a.visitBlocks(func(bp block.Handle, size int, allocated bool) {
		if allocated {
			stats.AddAllocation(size)
		} else {
			stats.AddUnusedRange(size)
		}
	})
}

// PrintDetailedMap writes a JSON object describing every block in the heap and the order of the
// free list
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	objState := writer.Object()
	defer objState.End()

	objState.Name("TotalBytes").Int(stats.BlockBytes)
	objState.Name("UnusedBytes").Int(stats.FreeBytes())
	objState.Name("Allocations").Int(stats.AllocationCount)
	objState.Name("UnusedRanges").Int(stats.UnusedRangeCount)
	objState.Name("Strategy").String(a.finder.Strategy.String())

	a.printDetailedMapBlocks(objState)
	a.printDetailedMapFreeList(objState)
}

func (a *Allocator) printDetailedMapBlocks(json jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	a.visitBlocks(func(bp block.Handle, size int, allocated bool) {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(bp))
		obj.Name("Size").Int(size)

		if !allocated {
			obj.Name("Type").String(BlockTypeFree.String())
			return
		}

		obj.Name("Type").String(BlockTypeAllocated.String())
		if requested, ok := a.live.Get(bp); ok {
			obj.Name("RequestedSize").Int(requested)
		}
	})
}

func (a *Allocator) printDetailedMapFreeList(json jwriter.ObjectState) {
	arrayState := json.Name("FreeList").Array()
	defer arrayState.End()

	a.freeList.Visit(a.view(), a.freeList.Len(), func(bp block.Handle) bool {
		arrayState.Int(int(bp))
		return true
	})
}
