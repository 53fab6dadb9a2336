package mm_test

import (
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/fit"
	"github.com/vkngwrapper/mmheap/memutils/memlib"
	"github.com/vkngwrapper/mmheap/mm"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAllocator(t *testing.T, options mm.CreateOptions) *mm.Allocator {
	allocator, err := mm.New(testLogger(), nil, options)
	require.NoError(t, err)
	return allocator
}

func requireConsistent(t *testing.T, allocator *mm.Allocator) {
	status, err := allocator.Audit(false)
	require.NoError(t, err)
	require.Equal(t, mm.AuditOK, status)
}

func detailedStats(allocator *mm.Allocator) memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)
	return stats
}

func fill(payload []byte, size int, value byte) {
	for i := 0; i < size; i++ {
		payload[i] = value
	}
}

func requireFilled(t *testing.T, payload []byte, size int, value byte) {
	for i := 0; i < size; i++ {
		if payload[i] != value {
			require.Equalf(t, value, payload[i], "byte %d of payload", i)
		}
	}
}

func TestNewHeap(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})
	requireConsistent(t, allocator)

	low, high := allocator.Bounds()
	require.Equal(t, 0, low)
	require.Equal(t, 16+mm.DefaultChunkSize, high)
	require.Equal(t, 0, allocator.AllocationCount())

	stats := detailedStats(allocator)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 16 + mm.DefaultChunkSize,
		},
		UnusedRangeCount:   1,
		UnusedRangeBytes:   mm.DefaultChunkSize,
		AllocationSizeMin:  math.MaxInt,
		UnusedRangeSizeMin: mm.DefaultChunkSize,
		UnusedRangeSizeMax: mm.DefaultChunkSize,
	}, stats)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := mm.New(testLogger(), nil, mm.CreateOptions{Strategy: fit.Strategy(17)})
	require.Error(t, err)

	_, err = mm.New(testLogger(), nil, mm.CreateOptions{ChunkSize: 100})
	require.Error(t, err)

	_, err = mm.New(testLogger(), nil, mm.CreateOptions{ChunkSize: 8})
	require.ErrorIs(t, err, memutils.ErrInvalidSize)

	_, err = mm.New(testLogger(), nil, mm.CreateOptions{BestFitTraversalLimit: -1})
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
}

func TestNewRequiresEmptyProvider(t *testing.T) {
	provider := memlib.NewSliceProvider(memlib.DefaultMaxHeapSize)
	_, err := provider.Grow(64)
	require.NoError(t, err)

	_, err = mm.New(testLogger(), provider, mm.CreateOptions{})
	require.Error(t, err)
}

func TestAllocateZero(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})
	require.Equal(t, mm.Null, allocator.Allocate(0))
	require.Equal(t, 0, allocator.RequestCount())
	requireConsistent(t, allocator)
}

func TestFreeingEverythingLeavesOneBlock(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p1 := allocator.Allocate(100)
	require.NotEqual(t, mm.Null, p1)
	p2 := allocator.Allocate(100)
	require.NotEqual(t, mm.Null, p2)
	require.NotEqual(t, p1, p2)
	requireConsistent(t, allocator)

	allocator.Deallocate(p1)
	requireConsistent(t, allocator)
	allocator.Deallocate(p2)
	requireConsistent(t, allocator)

	stats := detailedStats(allocator)
	require.Equal(t, 0, stats.AllocationCount)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, mm.DefaultChunkSize, stats.UnusedRangeSizeMax)
	require.Equal(t, float64(0), stats.ExternalFragmentation())
}

func TestReuseAfterFree(t *testing.T) {
	for _, strategy := range []fit.Strategy{fit.StrategyFirstMatch, fit.StrategyLastMatch} {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator := newAllocator(t, mm.CreateOptions{Strategy: strategy})

			p := allocator.Allocate(4000)
			require.NotEqual(t, mm.Null, p)
			allocator.Deallocate(p)

			require.Equal(t, p, allocator.Allocate(4000))
			requireConsistent(t, allocator)
		})
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	sizes := []int{1, 7, 8, 9, 16, 24, 100, 1000, 4000, 5000, 17}
	pointers := make([]mm.Pointer, len(sizes))
	for i, size := range sizes {
		pointers[i] = allocator.Allocate(size)
		require.NotEqual(t, mm.Null, pointers[i])
		require.Zero(t, int(pointers[i])%8)
		require.GreaterOrEqual(t, allocator.UsableSize(pointers[i]), size)
		fill(allocator.Payload(pointers[i]), size, byte(i+1))
	}

	for i, size := range sizes {
		requireFilled(t, allocator.Payload(pointers[i]), size, byte(i+1))
	}

	require.Equal(t, len(sizes), allocator.AllocationCount())
	requireConsistent(t, allocator)
}

func TestPlacedBlockIsTight(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	for _, size := range []int{1, 8, 9, 100, 255, 1024} {
		p := allocator.Allocate(size)
		require.NotEqual(t, mm.Null, p)

		asize := size + 8
		if asize < 16 {
			asize = 16
		}
		usable := allocator.UsableSize(p)
		require.GreaterOrEqual(t, usable+8, asize)
		require.Less(t, usable+8, asize+16)
	}
}

func TestStrategies(t *testing.T) {
	testCases := map[fit.Strategy]mm.Pointer{
		fit.StrategyFirstMatch:        16,
		fit.StrategyLastMatch:         464,
		fit.StrategyBestMatch:         16,
		fit.StrategyBestMatchFromTail: 240,
	}

	for strategy, expected := range testCases {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator := newAllocator(t, mm.CreateOptions{Strategy: strategy})

			a := allocator.Allocate(100)
			require.Equal(t, mm.Pointer(16), a)
			require.NotEqual(t, mm.Null, allocator.Allocate(100))
			c := allocator.Allocate(100)
			require.Equal(t, mm.Pointer(240), c)
			require.NotEqual(t, mm.Null, allocator.Allocate(100))

			allocator.Deallocate(a)
			allocator.Deallocate(c)
			requireConsistent(t, allocator)

			require.Equal(t, expected, allocator.Allocate(50))
			requireConsistent(t, allocator)
		})
	}
}

func TestHeapGrowsForLargeRequest(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})
	_, before := allocator.Bounds()

	p := allocator.Allocate(10000)
	require.NotEqual(t, mm.Null, p)
	require.GreaterOrEqual(t, allocator.UsableSize(p), 10000)

	_, after := allocator.Bounds()
	require.Greater(t, after, before)
	requireConsistent(t, allocator)
}

func TestAllocateFailsWhenProviderIsExhausted(t *testing.T) {
	provider := memlib.NewSliceProvider(16 + mm.DefaultChunkSize)
	allocator, err := mm.New(testLogger(), provider, mm.CreateOptions{})
	require.NoError(t, err)

	_, high := allocator.Bounds()
	require.Equal(t, provider.MaxSize(), high)

	require.Equal(t, mm.Null, allocator.Allocate(5000))
	requireConsistent(t, allocator)

	require.NotEqual(t, mm.Null, allocator.Allocate(4000))
	requireConsistent(t, allocator)
}

func TestResizeSameSize(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p := allocator.Allocate(100)
	require.Equal(t, p, allocator.Resize(p, 100))
	require.Equal(t, p, allocator.Resize(p, 98))
	requireConsistent(t, allocator)
}

func TestResizeNullAllocates(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p := allocator.Resize(mm.Null, 100)
	require.NotEqual(t, mm.Null, p)
	require.Equal(t, 1, allocator.AllocationCount())
}

func TestResizeToZeroFrees(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p := allocator.Allocate(100)
	require.Equal(t, mm.Null, allocator.Resize(p, 0))
	require.Equal(t, 0, allocator.AllocationCount())
	requireConsistent(t, allocator)

	stats := detailedStats(allocator)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, mm.DefaultChunkSize, stats.UnusedRangeBytes)
}

func TestResizeGrowsIntoNextBlock(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p := allocator.Allocate(16)
	fill(allocator.Payload(p), 16, 0xAB)

	require.Equal(t, p, allocator.Resize(p, 1000))
	require.GreaterOrEqual(t, allocator.UsableSize(p), 1000)
	requireFilled(t, allocator.Payload(p), 16, 0xAB)
	requireConsistent(t, allocator)

	stats := detailedStats(allocator)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 1, stats.UnusedRangeCount)
}

func TestResizeGrowsIntoPreviousBlock(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	a := allocator.Allocate(100)
	b := allocator.Allocate(100)
	c := allocator.Allocate(100)
	fill(allocator.Payload(c), 100, 0xCC)
	allocator.Deallocate(a)

	fill(allocator.Payload(b), 100, 0xBB)

	moved := allocator.Resize(b, 200)
	require.Equal(t, a, moved)
	require.GreaterOrEqual(t, allocator.UsableSize(moved), 200)
	requireFilled(t, allocator.Payload(moved), 100, 0xBB)
	requireFilled(t, allocator.Payload(c), 100, 0xCC)
	require.Nil(t, allocator.Payload(b))
	requireConsistent(t, allocator)
}

func TestResizeMovesWhenNeighborsAreTaken(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	a := allocator.Allocate(100)
	b := allocator.Allocate(100)
	fill(allocator.Payload(a), 100, 0x11)

	moved := allocator.Resize(a, 500)
	require.NotEqual(t, mm.Null, moved)
	require.NotEqual(t, a, moved)
	require.Greater(t, moved, b)
	requireFilled(t, allocator.Payload(moved), 100, 0x11)
	require.Equal(t, 2, allocator.AllocationCount())
	requireConsistent(t, allocator)
}

func TestResizeFailureKeepsAllocation(t *testing.T) {
	allocator, err := mm.New(testLogger(), memlib.NewSliceProvider(16+mm.DefaultChunkSize), mm.CreateOptions{})
	require.NoError(t, err)

	p := allocator.Allocate(100)
	fill(allocator.Payload(p), 100, 0x42)
	require.NotEqual(t, mm.Null, allocator.Allocate(3800))

	require.Equal(t, mm.Null, allocator.Resize(p, 1000))
	require.Equal(t, 2, allocator.AllocationCount())
	requireFilled(t, allocator.Payload(p), 100, 0x42)
	requireConsistent(t, allocator)
}

func TestResizeShrink(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})

	p := allocator.Allocate(1000)
	require.Equal(t, p, allocator.Resize(p, 100))
	require.Equal(t, 1000, allocator.UsableSize(p))
	requireConsistent(t, allocator)
}

func TestResizeShrinkWithSplit(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{Flags: mm.CreateSplitOnShrink})

	p := allocator.Allocate(1000)
	fill(allocator.Payload(p), 100, 0x5A)

	require.Equal(t, p, allocator.Resize(p, 100))
	require.Equal(t, 104, allocator.UsableSize(p))
	requireFilled(t, allocator.Payload(p), 100, 0x5A)
	requireConsistent(t, allocator)

	stats := detailedStats(allocator)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, mm.DefaultChunkSize-112, stats.UnusedRangeBytes)
}

func TestRejectsUnknownPointers(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("unknown pointers panic in debug builds")
	}

	allocator := newAllocator(t, mm.CreateOptions{})
	p := allocator.Allocate(100)

	allocator.Deallocate(p + 8)
	require.Equal(t, mm.Null, allocator.Resize(p+8, 200))
	require.Equal(t, 1, allocator.AllocationCount())

	allocator.Deallocate(p)
	allocator.Deallocate(p)
	require.Equal(t, 0, allocator.AllocationCount())
	requireConsistent(t, allocator)
}

func TestReset(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})
	for i := 0; i < 10; i++ {
		require.NotEqual(t, mm.Null, allocator.Allocate(3000))
	}

	require.NoError(t, allocator.Reset())
	require.Equal(t, 0, allocator.AllocationCount())
	require.Equal(t, 0, allocator.RequestCount())

	_, high := allocator.Bounds()
	require.Equal(t, 16+mm.DefaultChunkSize, high)
	require.Equal(t, mm.Pointer(16), allocator.Allocate(100))
	requireConsistent(t, allocator)
}

func TestUtilization(t *testing.T) {
	allocator := newAllocator(t, mm.CreateOptions{})
	require.Equal(t, float64(0), allocator.Utilization())

	p := allocator.Allocate(2056)
	_, high := allocator.Bounds()
	require.InDelta(t, 2056/float64(high), allocator.Utilization(), 1e-9)

	allocator.Deallocate(p)
	require.InDelta(t, 2056/float64(high), allocator.Utilization(), 1e-9)
}

func TestRandomWorkload(t *testing.T) {
	for _, strategy := range []fit.Strategy{fit.StrategyLastMatch, fit.StrategyFirstMatch, fit.StrategyBestMatch, fit.StrategyBestMatchFromTail} {
		t.Run(strategy.String(), func(t *testing.T) {
			allocator := newAllocator(t, mm.CreateOptions{Strategy: strategy})
			rng := rand.New(rand.NewSource(1337))

			type liveAllocation struct {
				pointer mm.Pointer
				size    int
				value   byte
			}
			var live []liveAllocation
			_, lastHigh := allocator.Bounds()

			for i := 1; i <= 10000; i++ {
				op := rng.Intn(10)
				switch {
				case len(live) == 0 || op < 5:
					size := rng.Intn(2048) + 1
					p := allocator.Allocate(size)
					require.NotEqual(t, mm.Null, p)

					value := byte(rng.Intn(256))
					fill(allocator.Payload(p), size, value)
					live = append(live, liveAllocation{pointer: p, size: size, value: value})

				case op < 8:
					index := rng.Intn(len(live))
					requireFilled(t, allocator.Payload(live[index].pointer), live[index].size, live[index].value)
					allocator.Deallocate(live[index].pointer)
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]
					requireConsistent(t, allocator)

				default:
					index := rng.Intn(len(live))
					size := rng.Intn(2048) + 1
					p := allocator.Resize(live[index].pointer, size)
					require.NotEqual(t, mm.Null, p)

					requireFilled(t, allocator.Payload(p), min(size, live[index].size), live[index].value)
					fill(allocator.Payload(p), size, live[index].value)
					live[index].pointer = p
					live[index].size = size
				}

				_, high := allocator.Bounds()
				require.GreaterOrEqual(t, high, lastHigh)
				lastHigh = high

				if i%100 == 0 {
					requireConsistent(t, allocator)
				}
			}

			require.Equal(t, len(live), allocator.AllocationCount())
			for _, allocation := range live {
				allocator.Deallocate(allocation.pointer)
			}
			requireConsistent(t, allocator)

			stats := detailedStats(allocator)
			require.Equal(t, 0, stats.AllocationCount)
			require.Equal(t, 1, stats.UnusedRangeCount)
		})
	}
}
