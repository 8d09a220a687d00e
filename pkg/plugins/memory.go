package plugins

import "sync"

// AllocationToken identifies one host-side allocation handed to a
// plugin through an out-parameter. The plugin must return the token
// through HostAPI.FreeMemory once it is done with the value. Zero is
// never a valid token.
type AllocationToken uint64

// AllocationCurator keeps track of host allocations crossing the plugin
// boundary and how to release each one. It mirrors the contract of the
// native ABI, where the host allocates and the plugin frees by handle:
// a token the plugin never returns is a leak by contract, not a bug in
// this layer.
type AllocationCurator struct {
	mu       sync.Mutex
	nextID   AllocationToken
	deleters map[AllocationToken]func()
}

// NewAllocationCurator returns an empty curator.
func NewAllocationCurator() *AllocationCurator {
	return &AllocationCurator{
		deleters: make(map[AllocationToken]func()),
	}
}

// Register records an allocation and its deleter, returning the token
// the plugin must use to free it. A nil deleter is allowed for values
// that only need tracking.
func (c *AllocationCurator) Register(deleter func()) AllocationToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	token := c.nextID
	c.deleters[token] = deleter
	return token
}

// Release frees the allocation identified by token. Releasing an
// unknown or already-released token returns ErrorCodePointerNotFound.
func (c *AllocationCurator) Release(token AllocationToken) ErrorCode {
	c.mu.Lock()
	deleter, ok := c.deleters[token]
	if ok {
		delete(c.deleters, token)
	}
	c.mu.Unlock()

	if !ok {
		return ErrorCodePointerNotFound
	}
	if deleter != nil {
		deleter()
	}
	return ErrorCodeOK
}

// Outstanding returns the number of allocations not yet released.
func (c *AllocationCurator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.deleters)
}

// DrainAll releases every outstanding allocation. Called on host
// shutdown so plugin leaks do not outlive the subsystem.
func (c *AllocationCurator) DrainAll() {
	c.mu.Lock()
	deleters := c.deleters
	c.deleters = make(map[AllocationToken]func())
	c.mu.Unlock()

	for _, deleter := range deleters {
		if deleter != nil {
			deleter()
		}
	}
}
