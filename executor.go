package graphrt

import (
	"fmt"
	"sync/atomic"
)

// ExecutorKind is the closed tagged variant identifying which of the four
// node shapes an executor (or a dependency reference to one) is. The engine
// always branches on this field rather than doing ad-hoc type assertions.
type ExecutorKind string

const (
	KindMain     ExecutorKind = "main"
	KindLazy     ExecutorKind = "lazy"
	KindReactive ExecutorKind = "reactive"
	KindStatic   ExecutorKind = "static"
)

var execSeq atomic.Uint64

// AnyExecutor is the type-erased identity of a main executor: the pointer
// value backing it is the cache key used everywhere in Scope/Pod. Only
// *Executor[T] implements it.
type AnyExecutor interface {
	Kind() ExecutorKind
	// Name returns the executor's debug name (its WithName tag or a
	// generated placeholder), for use by logging/debug extensions.
	Name() string
	// Tags returns the executor's tag store as a Source, so extensions
	// outside this package can read per-executor tagged metadata without
	// needing access to its unexported fields.
	Tags() Source
	dependencies() []Dependency
	tagStore() *syncTagMap
	debugName() string
	resolveFactory(rc *ResolveCtx) (any, error)
	id() uint64
}

// Dependency is how an executor is referenced from another executor's
// dependency list: a main executor used directly is a plain dependency;
// .Lazy()/.Reactive()/.Static() wrap it with delivery-mode metadata without
// creating a second cacheable identity — the wrapped main executor's
// pointer remains the cache key.
type Dependency interface {
	GetExecutor() AnyExecutor
	GetMode() ExecutorKind
}

// DepArg is a Dependency that additionally knows how to produce the
// argument a factory receives for its slot. Plain and reactive dependencies
// deliver the resolved value itself (A = D); lazy and static dependencies
// deliver an *Accessor[D] instead (A = *Accessor[D]), since their contract
// is to hand the factory a handle rather than a value already in hand.
type DepArg[A any] interface {
	Dependency
	deliver(rc *ResolveCtx) A
}

// Executor is a main executor: an immutable factory plus its dependency
// list and tags.
type Executor[T any] struct {
	seq     uint64
	factory func(*ResolveCtx) (T, error)
	deps    []Dependency
	tags    *syncTagMap
	name    string
}

func (e *Executor[T]) Kind() ExecutorKind            { return KindMain }
func (e *Executor[T]) GetExecutor() AnyExecutor       { return e }
func (e *Executor[T]) GetMode() ExecutorKind          { return KindMain }
func (e *Executor[T]) dependencies() []Dependency     { return e.deps }
func (e *Executor[T]) tagStore() *syncTagMap          { return e.tags }
func (e *Executor[T]) id() uint64                     { return e.seq }
func (e *Executor[T]) Name() string                   { return e.debugName() }
func (e *Executor[T]) Tags() Source                   { return e.tags }
func (e *Executor[T]) debugName() string {
	if e.name != "" {
		return e.name
	}
	return fmt.Sprintf("executor#%d", e.seq)
}

func (e *Executor[T]) resolveFactory(rc *ResolveCtx) (any, error) {
	return e.factory(rc)
}

// deliver implements DepArg[T] for a plain (main) dependency: the target is
// already resolved by the pre-resolution loop, so this just reads its
// cached value.
func (e *Executor[T]) deliver(rc *ResolveCtx) T {
	val, _ := newAccessor(rc.scope, e).Get()
	return val
}

// Lazy yields a dependency reference whose factory receives an Accessor
// that does not resolve the target up front.
func (e *Executor[T]) Lazy() DepArg[*Accessor[T]] { return lazyDep[T]{main: e} }

// Reactive yields a dependency reference that subscribes the depending
// executor to the target's updates; on update the dependent is invalidated
// and re-resolved automatically.
func (e *Executor[T]) Reactive() DepArg[T] { return reactiveDep[T]{main: e} }

// Static yields a dependency reference whose target is resolved eagerly at
// dependency-resolution time but delivered as an Accessor, not a raw value.
func (e *Executor[T]) Static() DepArg[*Accessor[T]] { return staticDep[T]{main: e} }

type lazyDep[T any] struct{ main *Executor[T] }

func (d lazyDep[T]) GetExecutor() AnyExecutor { return d.main }
func (d lazyDep[T]) GetMode() ExecutorKind    { return KindLazy }

// deliver implements DepArg[*Accessor[T]]: a lazy dependency hands the
// factory a handle without resolving the target up front.
func (d lazyDep[T]) deliver(rc *ResolveCtx) *Accessor[T] {
	return newAccessor(rc.scope, d.main)
}

type reactiveDep[T any] struct{ main *Executor[T] }

func (d reactiveDep[T]) GetExecutor() AnyExecutor { return d.main }
func (d reactiveDep[T]) GetMode() ExecutorKind    { return KindReactive }

// deliver implements DepArg[T]: the pre-resolution loop both resolves the
// target and records the reactive edge before the factory runs, so this
// just reads the now-cached value.
func (d reactiveDep[T]) deliver(rc *ResolveCtx) T {
	val, _ := newAccessor(rc.scope, d.main).Get()
	return val
}

type staticDep[T any] struct{ main *Executor[T] }

func (d staticDep[T]) GetExecutor() AnyExecutor { return d.main }
func (d staticDep[T]) GetMode() ExecutorKind    { return KindStatic }

// deliver implements DepArg[*Accessor[T]]: the target is resolved eagerly
// by the pre-resolution loop, but handed to the factory as a handle rather
// than a bare value.
func (d staticDep[T]) deliver(rc *ResolveCtx) *Accessor[T] {
	return newAccessor(rc.scope, d.main)
}

// ExecutorOption configures a newly built Executor, e.g. attaching tags.
type ExecutorOption[T any] func(*Executor[T])

// WithName attaches a debug name, surfaced by error messages and the
// graphdebug extension.
func WithName[T any](name string) ExecutorOption[T] {
	return func(e *Executor[T]) { e.name = name }
}

// WithTagValue attaches a pre-validated tagged value to the executor.
func WithTagValue[T any](tv TaggedValue) ExecutorOption[T] {
	return func(e *Executor[T]) { e.tags.tagSet(tv.key, tv.value) }
}

func newExecutor[T any](deps []Dependency, factory func(*ResolveCtx) (T, error), opts []ExecutorOption[T]) *Executor[T] {
	e := &Executor[T]{
		seq:     execSeq.Add(1),
		factory: factory,
		deps:    deps,
		tags:    newSyncTagMap(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provide creates a main executor with no dependencies.
func Provide[T any](factory func(*ResolveCtx) (T, error), opts ...ExecutorOption[T]) *Executor[T] {
	return newExecutor(nil, factory, opts)
}

// Preset is a substitution scheduled on a Scope at construction time: either
// a concrete value or a replacement executor sharing the target's cache
// identity.
type Preset struct {
	target AnyExecutor
	value  any
	isValu bool
	sub    AnyExecutor
}

// PresetValue produces a value substitution: resolve(target) returns value
// without ever invoking target's factory.
func PresetValue[T any](target *Executor[T], value T) Preset {
	return Preset{target: target, value: value, isValu: true}
}

// PresetExecutor produces a substitution that keeps target's cache identity
// but resolves using substitute's factory and dependency spec instead.
func PresetExecutor[T any](target, substitute *Executor[T]) Preset {
	return Preset{target: target, sub: substitute}
}

// Placeholder produces an executor whose factory always fails unless a
// preset has been installed for it — a declared slot with no real
// implementation, filled in only by the scope that resolves it (e.g. tests).
func Placeholder[T any](opts ...ExecutorOption[T]) *Executor[T] {
	return newExecutor(nil, func(*ResolveCtx) (T, error) {
		var zero T
		return zero, fmt.Errorf("graphrt: placeholder executor resolved without a preset")
	}, opts)
}

// IsExecutor reports whether v is any dependency reference (main executor or
// one of its lazy/reactive/static siblings).
func IsExecutor(v any) bool {
	_, ok := v.(Dependency)
	return ok
}

func kindOf(v any) (ExecutorKind, bool) {
	d, ok := v.(Dependency)
	if !ok {
		return "", false
	}
	return d.GetMode(), true
}

func IsMainExecutor(v any) bool {
	k, ok := kindOf(v)
	return ok && k == KindMain
}

func IsLazyExecutor(v any) bool {
	k, ok := kindOf(v)
	return ok && k == KindLazy
}

func IsReactiveExecutor(v any) bool {
	k, ok := kindOf(v)
	return ok && k == KindReactive
}

func IsStaticExecutor(v any) bool {
	k, ok := kindOf(v)
	return ok && k == KindStatic
}

func IsPreset(v any) bool {
	_, ok := v.(Preset)
	return ok
}
