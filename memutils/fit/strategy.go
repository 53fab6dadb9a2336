package fit

// Strategy selects how a free list is searched for a block that can hold a request. Every
// strategy is correct; they trade search time against how tightly the heap is packed.
type Strategy uint32

const (
	// StrategyLastMatch scans from the highest-addressed free block down and returns the first
	// block that is large enough. With an address-ordered list this approximates best fit
	// cheaply, and it is the default.
	StrategyLastMatch Strategy = iota
	// StrategyFirstMatch scans from the lowest-addressed free block up and returns the first
	// block that is large enough
	StrategyFirstMatch
	// StrategyBestMatch scans from the head for the smallest block that is large enough,
	// returning immediately on an exact match. The scan is bounded by a traversal limit.
	StrategyBestMatch
	// StrategyBestMatchFromTail is StrategyBestMatch scanning from the tail
	StrategyBestMatchFromTail
)

var strategyMapping = map[Strategy]string{
	StrategyLastMatch:         "StrategyLastMatch",
	StrategyFirstMatch:        "StrategyFirstMatch",
	StrategyBestMatch:         "StrategyBestMatch",
	StrategyBestMatchFromTail: "StrategyBestMatchFromTail",
}

func (s Strategy) String() string {
	return strategyMapping[s]
}

// Valid returns true if s is one of the known strategies
func (s Strategy) Valid() bool {
	_, ok := strategyMapping[s]
	return ok
}
