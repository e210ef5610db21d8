package graphrt

import "sync"

// resolveState is the tri-state spec §3 assigns to a cache entry.
type resolveState int

const (
	statePending resolveState = iota
	stateResolved
	stateRejected
)

// cacheEntry is one executor's resolution state within a Scope/Pod. All
// concurrent callers resolving the same executor observe and wait on the
// same entry, satisfying the "concurrent resolves share one pending
// promise" invariant — grounded on pkg/core/scope.go's
// cacheEntry{value,err,resolving,wg}, reworked around a close-once channel.
type cacheEntry struct {
	mu    sync.Mutex
	state resolveState
	value any
	err   error
	done  chan struct{}
}

func newPendingEntry() *cacheEntry {
	return &cacheEntry{state: statePending, done: make(chan struct{})}
}

// settle transitions a pending entry to resolved/rejected exactly once and
// releases every waiter.
func (c *cacheEntry) settle(value any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePending {
		return
	}
	if err != nil {
		c.state = stateRejected
		c.err = err
	} else {
		c.state = stateResolved
		c.value = value
	}
	close(c.done)
}

// await blocks until the entry settles and returns its outcome.
func (c *cacheEntry) await() (any, error) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// snapshot returns the current outcome without blocking; ok is false while
// still pending.
func (c *cacheEntry) snapshot() (value any, err error, ok bool) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.value, c.err, true
	default:
		return nil, nil, false
	}
}

// cleanupEntry is one registered cleanup callable, kept in registration
// order so teardown can run them LIFO.
type cleanupEntry struct {
	fn func() error
}
