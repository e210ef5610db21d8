package graphrt

import (
	"context"
	"sync"
)

// PoolManager recycles the short-lived allocations made on every resolve: a
// ResolveCtx and its cleanup slice per resolution. It also pools an
// ExecutionCtx and its tag store, but flow invocation does not draw from
// that pool. Grounded on pool_manager.go's
// PoolManager (sync.Pool per allocation shape plus hit/miss metrics), adapted
// onto ResolveCtx's (scope, executor, chain, mu, cleanups) fields and
// ExecutionCtx's (id, parent, scope, data, ctx) fields — neither shape
// survived from the teacher's original struct layout, so every Acquire/
// Release pair below was rewritten against the current definitions rather
// than ported verbatim.
type PoolManager struct {
	resolveCtxPool   sync.Pool
	executionCtxPool sync.Pool
	cleanupSlicePool sync.Pool

	metrics PoolMetrics
}

// PoolMetrics tracks pool usage statistics.
type PoolMetrics struct {
	mu                 sync.RWMutex
	resolveCtxHits     uint64
	resolveCtxMisses   uint64
	executionCtxHits   uint64
	executionCtxMisses uint64
	cleanupHits        uint64
	cleanupMisses      uint64
}

// NewPoolManager creates a pool manager with initialized pools.
func NewPoolManager() *PoolManager {
	return &PoolManager{
		resolveCtxPool: sync.Pool{
			New: func() any { return &ResolveCtx{} },
		},
		executionCtxPool: sync.Pool{
			New: func() any { return &ExecutionCtx{data: newSyncTagMap()} },
		},
		cleanupSlicePool: sync.Pool{
			New: func() any {
				s := make([]func() error, 0, 8)
				return &s
			},
		},
	}
}

// AcquireResolveCtx gets a ResolveCtx from the pool, or creates a new one,
// bound to exec's resolution within scope.
func (pm *PoolManager) AcquireResolveCtx(scope *Scope, exec AnyExecutor, chain []AnyExecutor, mu *sync.Mutex, cleanups *[]func() error) *ResolveCtx {
	rc, ok := pm.resolveCtxPool.Get().(*ResolveCtx)
	if ok {
		rc.scope = scope
		rc.executor = exec
		rc.chain = chain
		rc.mu = mu
		rc.cleanups = cleanups
		pm.metrics.mu.Lock()
		pm.metrics.resolveCtxHits++
		pm.metrics.mu.Unlock()
		return rc
	}

	pm.metrics.mu.Lock()
	pm.metrics.resolveCtxMisses++
	pm.metrics.mu.Unlock()
	return newResolveCtx(scope, exec, chain, mu, cleanups)
}

// ReleaseResolveCtx returns rc to the pool. Callers must not use rc again.
func (pm *PoolManager) ReleaseResolveCtx(rc *ResolveCtx) {
	if rc == nil {
		return
	}
	rc.scope = nil
	rc.executor = nil
	rc.chain = nil
	rc.mu = nil
	rc.cleanups = nil
	pm.resolveCtxPool.Put(rc)
}

// AcquireExecutionCtx gets an ExecutionCtx from the pool, or creates a new
// one, with a clean tag store.
func (pm *PoolManager) AcquireExecutionCtx(id string, parent *ExecutionCtx, scope *Scope, goCtx context.Context) *ExecutionCtx {
	execCtx, ok := pm.executionCtxPool.Get().(*ExecutionCtx)
	if ok {
		execCtx.id = id
		execCtx.parent = parent
		execCtx.scope = scope
		execCtx.ctx = goCtx
		execCtx.data.reset()
		pm.metrics.mu.Lock()
		pm.metrics.executionCtxHits++
		pm.metrics.mu.Unlock()
		return execCtx
	}

	pm.metrics.mu.Lock()
	pm.metrics.executionCtxMisses++
	pm.metrics.mu.Unlock()
	return newExecCtx(scope, parent, id, goCtx)
}

// ReleaseExecutionCtx returns execCtx to the pool. Callers must not use
// execCtx, or any value read from it, again.
func (pm *PoolManager) ReleaseExecutionCtx(execCtx *ExecutionCtx) {
	if execCtx == nil {
		return
	}
	execCtx.id = ""
	execCtx.parent = nil
	execCtx.scope = nil
	execCtx.ctx = nil
	pm.executionCtxPool.Put(execCtx)
}

// AcquireCleanupSlice gets a cleanup-function slice from the pool.
func (pm *PoolManager) AcquireCleanupSlice() *[]func() error {
	slice, ok := pm.cleanupSlicePool.Get().(*[]func() error)
	if ok {
		*slice = (*slice)[:0]
		pm.metrics.mu.Lock()
		pm.metrics.cleanupHits++
		pm.metrics.mu.Unlock()
		return slice
	}

	pm.metrics.mu.Lock()
	pm.metrics.cleanupMisses++
	pm.metrics.mu.Unlock()
	s := make([]func() error, 0, 8)
	return &s
}

// ReleaseCleanupSlice returns slice to the pool.
func (pm *PoolManager) ReleaseCleanupSlice(slice *[]func() error) {
	if slice == nil {
		return
	}
	*slice = (*slice)[:0]
	pm.cleanupSlicePool.Put(slice)
}

// GetMetrics returns a copy of the current pool metrics.
func (pm *PoolManager) GetMetrics() PoolMetrics {
	pm.metrics.mu.RLock()
	defer pm.metrics.mu.RUnlock()
	return PoolMetrics{
		resolveCtxHits:     pm.metrics.resolveCtxHits,
		resolveCtxMisses:   pm.metrics.resolveCtxMisses,
		executionCtxHits:   pm.metrics.executionCtxHits,
		executionCtxMisses: pm.metrics.executionCtxMisses,
		cleanupHits:        pm.metrics.cleanupHits,
		cleanupMisses:      pm.metrics.cleanupMisses,
	}
}

// ResetMetrics resets all pool metrics to zero.
func (pm *PoolManager) ResetMetrics() {
	pm.metrics.mu.Lock()
	defer pm.metrics.mu.Unlock()
	pm.metrics.resolveCtxHits = 0
	pm.metrics.resolveCtxMisses = 0
	pm.metrics.executionCtxHits = 0
	pm.metrics.executionCtxMisses = 0
	pm.metrics.cleanupHits = 0
	pm.metrics.cleanupMisses = 0
}

var globalPoolManager = NewPoolManager()

// GetGlobalPoolManager returns the process-wide pool manager used by
// Scope.computeEntry to recycle ResolveCtx and cleanup-slice allocations.
func GetGlobalPoolManager() *PoolManager {
	return globalPoolManager
}
