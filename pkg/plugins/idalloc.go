package plugins

import "sync/atomic"

// IDAllocator hands out process-unique plugin IDs. IDs are monotonic,
// start at 1 and are never reused; zero is never a valid plugin ID.
// Each Manager owns its own allocator, which keeps ID sequences
// deterministic in tests.
type IDAllocator struct {
	next atomic.Uint32
}

// NewIDAllocator returns an allocator whose first ID is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next unused ID.
func (a *IDAllocator) Next() uint32 {
	return a.next.Add(1)
}
