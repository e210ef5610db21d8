package graphrt

// Accessor is the typed handle a caller uses to read, force-resolve, update,
// release or subscribe to a single executor's value in a Scope or Pod.
// Grounded on controller.go's Controller[T] (Get/Peek/Update/Release/Reload/
// IsCached), renamed to match the spec's Accessor terminology and split
// Reload into an explicit Resolve(force) so the cache-then-recompute
// decision is visible at the call site instead of buried in two calls.
type Accessor[T any] struct {
	executor *Executor[T]
	scope    *Scope
}

func newAccessor[T any](scope *Scope, executor *Executor[T]) *Accessor[T] {
	return &Accessor[T]{executor: executor, scope: scope}
}

// Lookup returns the cached value without triggering resolution. ok is false
// if the executor has never been resolved in this scope, is mid-resolution,
// or was released.
func (a *Accessor[T]) Lookup() (T, bool) {
	raw, ok := a.scope.peekAny(a.executor)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, true
}

// Get returns the cached value, resolving it first if necessary.
func (a *Accessor[T]) Get() (T, error) {
	return a.Resolve(false)
}

// Resolve returns the executor's value. force=true discards any cached
// value first and re-invokes the factory; force=false reuses a cached or
// in-flight resolution.
func (a *Accessor[T]) Resolve(force bool) (T, error) {
	var (
		raw any
		err error
	)
	if force {
		raw, err = a.scope.reloadExecutor(a.executor)
	} else {
		raw, err = a.scope.resolveAny(a.executor)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		var zero T
		return zero, &SchemaError{Issues: []string{"resolved value type mismatch"}}
	}
	return typed, nil
}

// Release tears down the cached entry, running any registered cleanups.
// soft=true keeps reactive subscriptions wired for a later re-resolve;
// soft=false severs them as well.
func (a *Accessor[T]) Release(soft bool) error {
	return a.scope.releaseExecutor(a.executor, soft)
}

// Update installs newVal as the cached value directly (bypassing the
// factory) and propagates the change to reactive dependents.
func (a *Accessor[T]) Update(newVal T) error {
	return a.scope.updateAny(a.executor, newVal)
}

// Set is an alias for Update.
func (a *Accessor[T]) Set(newVal T) error {
	return a.Update(newVal)
}

// Subscribe registers cb to run every time the executor's value changes via
// Update or reactive propagation. The returned func unregisters it.
func (a *Accessor[T]) Subscribe(cb func(T)) func() {
	return a.scope.subscribeAny(a.executor, func(raw any) {
		if typed, ok := raw.(T); ok {
			cb(typed)
		}
	})
}

// IsCached reports whether the executor currently has a resolved value.
func (a *Accessor[T]) IsCached() bool {
	_, ok := a.scope.peekAny(a.executor)
	return ok
}
