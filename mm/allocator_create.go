package mm

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/block"
	"github.com/vkngwrapper/mmheap/memutils/fit"
	"github.com/vkngwrapper/mmheap/memutils/memlib"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags uint32

const (
	// CreateSplitOnShrink makes Resize give back the tail of a block when the block shrinks by at
	// least a minimum block's worth. Without it, shrinking keeps the whole block.
	CreateSplitOnShrink CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateSplitOnShrink: "CreateSplitOnShrink",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultChunkSize is the minimum number of bytes the heap grows by when no free block fits
	// a request. It is used when CreateOptions.ChunkSize is 0.
	DefaultChunkSize int = 1 << 12

	// heap image before the first growth: padding word, prologue header and footer, epilogue header
	initialHeapSize = 4 * block.WordSize
	prologueHandle  = block.Handle(block.DoubleWordSize)
	firstBlock      = prologueHandle + block.DoubleWordSize
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Strategy is the free list search policy. The zero value is fit.StrategyLastMatch.
	Strategy fit.Strategy
	// ChunkSize is the minimum growth of the heap when no free block fits a request. It must be a
	// multiple of 8 and at least 16. 0 means DefaultChunkSize.
	ChunkSize int
	// BestFitTraversalLimit is the number of free blocks the best-match strategies look at before
	// settling. 0 means fit.DefaultTraversalLimit.
	BestFitTraversalLimit int
}

// New creates a new Allocator on top of the provided address range and initializes the heap
// inside it. The provider must be empty: its break must be at 0.
//
// logger - Destination for diagnostics. If nil, slog.Default() is used
//
// provider - The range the heap grows into. If nil, a memlib.SliceProvider with
// memlib.DefaultMaxHeapSize bytes is used
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider memlib.Provider, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if provider == nil {
		provider = memlib.NewSliceProvider(memlib.DefaultMaxHeapSize)
	}

	if !options.Strategy.Valid() {
		return nil, errors.Newf("unknown fit strategy %d", options.Strategy)
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if err := memutils.CheckAligned(chunkSize, block.Alignment, "CreateOptions.ChunkSize"); err != nil {
		return nil, err
	}
	if chunkSize < block.MinBlockSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "CreateOptions.ChunkSize is %d, but must be at least %d", chunkSize, block.MinBlockSize)
	}

	if options.BestFitTraversalLimit < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "CreateOptions.BestFitTraversalLimit is %d, but must not be negative", options.BestFitTraversalLimit)
	}

	allocator := &Allocator{
		logger:    logger,
		provider:  provider,
		flags:     options.Flags,
		chunkSize: chunkSize,
		finder: fit.Finder{
			Strategy:       options.Strategy,
			TraversalLimit: options.BestFitTraversalLimit,
		},
		live: swiss.NewMap[block.Handle, int](42),
	}

	err := allocator.init()
	if err != nil {
		return nil, err
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::New",
		slog.String("Strategy", options.Strategy.String()),
		slog.String("Flags", options.Flags.String()),
		slog.Int("ChunkSize", chunkSize),
	)

	return allocator, nil
}

// init lays down the prologue and epilogue in an empty range and grows the heap by one chunk
func (a *Allocator) init() error {
	a.freeList.Clear()
	a.live.Clear()
	a.requestCount = 0
	a.requestedBytes = 0
	a.peakRequestedBytes = 0

	start, err := a.provider.Grow(initialHeapSize)
	if err != nil {
		return errors.Wrap(err, "failed to reserve the heap prologue")
	}
	if start != 0 {
		return errors.Newf("the heap must start in an empty range, but the break was at %d", start)
	}

	v := a.view()
	clear(v[:block.WordSize])
	v.Write(prologueHandle, block.DoubleWordSize, true, true)
	v.SetHeader(firstBlock, block.Pack(0, true, true))

	_, err = a.extendHeap(a.chunkSize)
	if err != nil {
		return errors.Wrap(err, "failed to grow the heap by its first chunk")
	}

	memutils.DebugValidate(a)
	return nil
}

// Reset discards every allocation and re-initializes the heap from an empty range
func (a *Allocator) Reset() error {
	a.provider.Reset()
	return a.init()
}
