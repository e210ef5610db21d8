package graphrt

import "sync"

// ResolveCtx is the controller passed to a factory function during
// resolution. Grounded on context.go's ResolveCtx, extended with the
// OnCleanup/Release/Reload machinery that pool_manager.go expected but the
// original context.go never actually wired up.
type ResolveCtx struct {
	scope    *Scope
	executor AnyExecutor
	chain    []AnyExecutor
	mu       *sync.Mutex
	cleanups *[]func() error
}

func newResolveCtx(scope *Scope, executor AnyExecutor, chain []AnyExecutor, mu *sync.Mutex, cleanups *[]func() error) *ResolveCtx {
	return &ResolveCtx{scope: scope, executor: executor, chain: chain, mu: mu, cleanups: cleanups}
}

// Scope returns the scope this factory is resolving within.
func (rc *ResolveCtx) Scope() *Scope { return rc.scope }

// OnCleanup registers fn to run, in LIFO order, when this executor's cache
// entry is released or its owning scope/pod is disposed.
func (rc *ResolveCtx) OnCleanup(fn func() error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	*rc.cleanups = append(*rc.cleanups, fn)
}

// Release tears down this executor's own cache entry immediately, running
// its registered cleanups. Rarely called from inside the executor's own
// factory; mostly useful from a cleanup registered against a dependency.
func (rc *ResolveCtx) Release(soft bool) error {
	return rc.scope.releaseExecutor(rc.executor, soft)
}

// Reload discards any cached value for this executor and re-invokes its
// factory immediately.
func (rc *ResolveCtx) Reload() (any, error) {
	return rc.scope.reloadExecutor(rc.executor)
}

// GetTag retrieves a typed tag value visible to the scope this factory
// resolves within.
func GetTag[T any](ctx *ResolveCtx, tag Tag[T]) (T, error) {
	return tag.Get(ctx.scope)
}

// GetTagOrDefault retrieves a typed tag, or def if no value and no tag
// default are configured.
func GetTagOrDefault[T any](ctx *ResolveCtx, tag Tag[T], def T) T {
	v, ok := tag.Find(ctx.scope)
	if !ok {
		return def
	}
	return v
}
