package graphrt

import (
	"errors"
	"sync"

	"github.com/graphrt/graphrt/internal/schema"
)

// MultiExecutor is a lazily-growing, keyed pool of main executors sharing
// one factory shape: the first resolve for a given key builds and caches
// that key's *Executor[T]; later resolves for the same key reuse it. New
// relative to the teacher, which only ever supported statically declared
// DeriveN lists — grounded in shape on executor_generated.go's always-an-
// Accessor factory convention and on Scope's cache/release machinery, which
// Release below delegates to directly instead of re-implementing teardown.
type MultiExecutor[K comparable, T any] struct {
	mu        sync.Mutex
	keySchema schema.Validator
	factory   func(key K) func(*ResolveCtx) (T, error)
	built     map[K]*Executor[T]
	opts      []ExecutorOption[T]
}

// Multi creates a keyed executor pool. keySchema may be nil to skip key
// validation.
func Multi[K comparable, T any](keySchema schema.Validator, factory func(key K) func(*ResolveCtx) (T, error), opts ...ExecutorOption[T]) *MultiExecutor[K, T] {
	return &MultiExecutor[K, T]{
		keySchema: keySchema,
		factory:   factory,
		built:     make(map[K]*Executor[T]),
		opts:      opts,
	}
}

// For returns the executor for key, building and caching it on first use.
func (m *MultiExecutor[K, T]) For(key K) (*Executor[T], error) {
	if m.keySchema != nil {
		res := m.keySchema.Validate(key)
		if !res.OK() {
			msgs := make([]string, len(res.Issues))
			for i, iss := range res.Issues {
				msgs[i] = iss.String()
			}
			return nil, &SchemaError{Issues: msgs}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.built[key]; ok {
		return e, nil
	}
	e := newExecutor(nil, m.factory(key), m.opts)
	m.built[key] = e
	return e, nil
}

// Resolve is a convenience wrapper around For + Resolve.
func (m *MultiExecutor[K, T]) Resolve(scope *Scope, key K) (T, error) {
	exec, err := m.For(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return Resolve(scope, exec)
}

// Keys returns every key that has had an executor built for it so far.
func (m *MultiExecutor[K, T]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.built))
	for k := range m.built {
		keys = append(keys, k)
	}
	return keys
}

// Release tears down every built key's cache entry in scope, running its
// registered cleanups.
func (m *MultiExecutor[K, T]) Release(scope *Scope) error {
	m.mu.Lock()
	execs := make([]*Executor[T], 0, len(m.built))
	for _, e := range m.built {
		execs = append(execs, e)
	}
	m.mu.Unlock()

	for _, e := range execs {
		if err := scope.releaseExecutor(e, false); err != nil {
			var notResolved *ErrExecutorNotResolved
			if errors.As(err, &notResolved) {
				continue
			}
			return err
		}
	}
	return nil
}
