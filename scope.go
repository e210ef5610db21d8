package graphrt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Scope owns the cache, reactive graph, presets, extensions and tags for one
// dependency-resolution session. Grounded on scope.go's Scope (sync.Map
// cache + downstream map + extensions slice + presets map), reworked so the
// cache stores *cacheEntry (pending/resolved/rejected) instead of raw
// values, which is what makes concurrent resolves of the same executor
// share one in-flight result instead of racing the factory twice.
type Scope struct {
	cacheMu sync.Mutex
	cache   map[AnyExecutor]*cacheEntry

	graph *reactiveGraph

	extMu      sync.RWMutex
	extensions []Extension

	presetsMu sync.RWMutex
	presets   map[AnyExecutor]Preset

	tagsStore *syncTagMap

	cleanupMu    sync.Mutex
	cleanupsReg  map[AnyExecutor][]func() error
	cleanupOrder []AnyExecutor

	subsMu sync.Mutex
	subs   map[AnyExecutor][]subscriberEntry
	subSeq atomic.Uint64

	scopeSubsMu sync.Mutex
	changeSubs  []scopeSubscriber
	releaseSubs []scopeSubscriber
	errorSubs   []errorSubscriber
	scopeSubSeq atomic.Uint64

	isPod  bool
	parent *Scope
	podsMu sync.Mutex
	pods   map[*Scope]struct{}

	disposedMu sync.RWMutex
	disposed   bool

	execIDSeq atomic.Uint64
}

type subscriberEntry struct {
	id uint64
	fn func(any)
}

// scopeSubscriber backs OnChange/OnRelease: scope-wide listeners that fire
// for every executor, not just one.
type scopeSubscriber struct {
	id uint64
	fn func(AnyExecutor, any)
}

// errorSubscriber backs scope-level OnError, distinct from per-extension
// OnError hooks: it observes every resolve/update/propagate failure in this
// scope regardless of which (if any) extensions are installed.
type errorSubscriber struct {
	id uint64
	fn func(error)
}

// ScopeOption configures a Scope (or Pod) at construction time.
type ScopeOption func(*Scope)

// WithExtension registers ext on the new scope, in Init/InitPod order.
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		if err := s.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// WithPreset installs a value or executor substitution computed via
// PresetValue/PresetExecutor.
func WithPreset(p Preset) ScopeOption {
	return func(s *Scope) { s.presets[p.target] = p }
}

// WithTag seeds the scope's tag store with value.
func WithTag[T any](tag Tag[T], value T) ScopeOption {
	return func(s *Scope) {
		if _, err := tag.Set(s, value); err != nil {
			panic(err)
		}
	}
}

func newBareScope() *Scope {
	return &Scope{
		cache:       make(map[AnyExecutor]*cacheEntry),
		graph:       newReactiveGraph(),
		presets:     make(map[AnyExecutor]Preset),
		tagsStore:   newSyncTagMap(),
		cleanupsReg: make(map[AnyExecutor][]func() error),
		subs:        make(map[AnyExecutor][]subscriberEntry),
		pods:        make(map[*Scope]struct{}),
	}
}

// NewScope creates a root scope.
func NewScope(opts ...ScopeOption) *Scope {
	s := newBareScope()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pod forks a short-lived child scope. A pod reads through to the parent's
// already-resolved values (copy-on-read, no cache coupling back to the
// parent) and forbids reactive dependencies outright — there is no
// worthwhile "propagate to a pod" semantics since pods are meant to be
// disposed quickly. New scope, entirely new code: the teacher has no pod
// concept anywhere; this reuses Scope's cache/cleanup/extension machinery
// under a second flag rather than duplicating it.
func (s *Scope) Pod(opts ...ScopeOption) *Scope {
	pod := newBareScope()
	pod.isPod = true
	pod.parent = s

	pod.extensions = append([]Extension(nil), s.snapshotExtensions()...)
	for _, ext := range pod.extensions {
		if err := ext.InitPod(pod); err != nil {
			panic(err)
		}
	}

	for _, opt := range opts {
		opt(pod)
	}

	s.podsMu.Lock()
	s.pods[pod] = struct{}{}
	s.podsMu.Unlock()

	return pod
}

// IsPod reports whether this scope is a pod forked from another scope.
func (s *Scope) IsPod() bool { return s.isPod }

func (s *Scope) isDisposed() bool {
	s.disposedMu.RLock()
	defer s.disposedMu.RUnlock()
	return s.disposed
}

// UseExtension registers ext, re-sorting by Order (lower runs first and
// wraps outermost; extensions with equal Order keep registration order, so
// among them the first registered is the outermost wrapper).
func (s *Scope) UseExtension(ext Extension) error {
	s.extMu.Lock()
	s.extensions = append(s.extensions, ext)
	sort.SliceStable(s.extensions, func(i, j int) bool {
		return s.extensions[i].Order() < s.extensions[j].Order()
	})
	s.extMu.Unlock()

	if s.isPod {
		return ext.InitPod(s)
	}
	return ext.Init(s)
}

func (s *Scope) snapshotExtensions() []Extension {
	s.extMu.RLock()
	defer s.extMu.RUnlock()
	out := make([]Extension, len(s.extensions))
	copy(out, s.extensions)
	return out
}

func (s *Scope) runThroughExtensions(ctx context.Context, op *Operation, exts []Extension, base func() (any, error)) (any, error) {
	next := base
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		cur := next
		next = func() (any, error) { return ext.Wrap(ctx, cur, op) }
	}
	return next()
}

func (s *Scope) getOrCreateEntry(exec AnyExecutor) (entry *cacheEntry, created bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if e, ok := s.cache[exec]; ok {
		return e, false
	}
	e := newPendingEntry()
	s.cache[exec] = e
	return e, true
}

func (s *Scope) resolveAny(exec AnyExecutor) (any, error) {
	if s.isDisposed() {
		return nil, &ErrScopeDisposed{Op: "resolve"}
	}
	return s.resolveChain(exec, nil)
}

func (s *Scope) resolveChain(exec AnyExecutor, chain []AnyExecutor) (any, error) {
	for _, c := range chain {
		if c == exec {
			full := append(append([]AnyExecutor(nil), chain...), exec)
			return nil, &CircularDependencyError{Chain: full}
		}
	}
	entry, created := s.getOrCreateEntry(exec)
	if !created {
		return entry.await()
	}
	return s.computeEntry(exec, chain, entry)
}

func (s *Scope) computeEntry(exec AnyExecutor, chain []AnyExecutor, entry *cacheEntry) (any, error) {
	s.presetsMu.RLock()
	p, hasPreset := s.presets[exec]
	s.presetsMu.RUnlock()

	if hasPreset {
		if p.isValu {
			entry.settle(p.value, nil)
			return p.value, nil
		}
		val, err := s.resolveChain(p.sub, chain)
		entry.settle(val, err)
		return val, err
	}

	if s.isPod && s.parent != nil {
		if val, ok := s.parent.peekAny(exec); ok {
			entry.settle(val, nil)
			return val, nil
		}
	}

	nextChain := append(append([]AnyExecutor(nil), chain...), exec)

	for _, dep := range exec.dependencies() {
		mode := dep.GetMode()
		if mode == KindLazy {
			continue
		}
		if mode == KindReactive {
			if s.isPod {
				err := &ErrPodReactivityForbidden{Executor: exec}
				entry.settle(nil, err)
				return nil, err
			}
			s.graph.addEdge(dep.GetExecutor(), exec)
		}
		if _, err := s.resolveChain(dep.GetExecutor(), nextChain); err != nil {
			wrapped := &DependencyResolutionError{
				Executor:          exec,
				MissingDependency: dep.GetExecutor(),
				Chain:             nextChain,
				Cause:             err,
				Stage:             StageDependencyResolution,
				Timestamp:         time.Now(),
				AdditionalInfo:    map[string]any{"mode": mode},
			}
			entry.settle(nil, wrapped)
			return nil, wrapped
		}
	}

	var cleanupsMu sync.Mutex
	pm := GetGlobalPoolManager()
	cleanups := pm.AcquireCleanupSlice()
	rc := pm.AcquireResolveCtx(s, exec, nextChain, &cleanupsMu, cleanups)
	defer func() {
		pm.ReleaseResolveCtx(rc)
		pm.ReleaseCleanupSlice(cleanups)
	}()

	op := &Operation{Kind: OpResolve, Executor: exec, Scope: s}
	exts := s.snapshotExtensions()

	result, err := s.runThroughExtensions(context.Background(), op, exts, func() (result any, ferr error) {
		defer func() {
			if r := recover(); r != nil {
				ferr = newFactoryExecutionError(exec, nextChain, fmt.Errorf("panic: %v", r))
			}
		}()
		return exec.resolveFactory(rc)
	})

	if err != nil {
		entry.settle(nil, err)
		for _, ext := range exts {
			ext.OnError(err, op, s)
		}
		s.emitScopeError(err)
		return nil, err
	}

	s.registerCleanups(exec, append([]func() error(nil), (*cleanups)...))
	entry.settle(result, nil)
	return result, nil
}

func (s *Scope) peekAny(exec AnyExecutor) (any, bool) {
	s.cacheMu.Lock()
	entry, ok := s.cache[exec]
	s.cacheMu.Unlock()
	if !ok {
		return nil, false
	}
	val, err, settled := entry.snapshot()
	if !settled || err != nil {
		return nil, false
	}
	return val, true
}

func (s *Scope) setResolved(exec AnyExecutor, value any) {
	entry := newPendingEntry()
	entry.settle(value, nil)
	s.cacheMu.Lock()
	s.cache[exec] = entry
	s.cacheMu.Unlock()
}

func (s *Scope) releaseExecutor(exec AnyExecutor, soft bool) error {
	if s.isDisposed() {
		return &ErrScopeDisposed{Op: "release"}
	}
	s.cacheMu.Lock()
	_, cached := s.cache[exec]
	if cached {
		delete(s.cache, exec)
	}
	s.cacheMu.Unlock()

	if !cached {
		if !soft {
			return &ErrExecutorNotResolved{Executor: exec}
		}
		return nil
	}

	s.runCleanups(exec, "release")
	if !soft {
		s.graph.removeAll(exec)
		s.emitRelease(exec)
	}
	return nil
}

func (s *Scope) reloadExecutor(exec AnyExecutor) (any, error) {
	if s.isDisposed() {
		return nil, &ErrScopeDisposed{Op: "reload"}
	}
	_ = s.releaseExecutor(exec, true)
	val, err := s.resolveChain(exec, nil)
	if err == nil {
		s.notifySubscribers(exec, val)
		s.propagateReactive(exec)
	}
	return val, err
}

func (s *Scope) updateAny(exec AnyExecutor, value any) error {
	if s.isDisposed() {
		return &ErrScopeDisposed{Op: "update"}
	}
	op := &Operation{Kind: OpUpdate, Executor: exec, Scope: s}
	exts := s.snapshotExtensions()

	_, err := s.runThroughExtensions(context.Background(), op, exts, func() (any, error) {
		s.runCleanups(exec, "update")
		s.setResolved(exec, value)
		s.notifySubscribers(exec, value)
		s.emitChange(exec, value)
		s.propagateReactive(exec)
		return value, nil
	})
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op, s)
		}
		s.emitScopeError(err)
	}
	return err
}

// propagateReactive walks the reactive graph one hop at a time, releasing
// and eagerly re-resolving every direct dependent and recursing into its
// own dependents. Grounded on graph.go's ReactiveGraph, which performed the
// same walk but returned the transitive set for a caller to process; here
// the engine does the re-resolution itself so Update's effects are visible
// by the time it returns.
func (s *Scope) propagateReactive(exec AnyExecutor) {
	for _, dependent := range s.graph.directDependents(exec) {
		_ = s.releaseExecutor(dependent, true)
		val, err := s.resolveChain(dependent, nil)
		if err != nil {
			op := &Operation{Kind: OpResolve, Executor: dependent, Scope: s}
			for _, ext := range s.snapshotExtensions() {
				ext.OnError(err, op, s)
			}
			s.emitScopeError(err)
			continue
		}
		s.notifySubscribers(dependent, val)
		s.emitChange(dependent, val)
		s.propagateReactive(dependent)
	}
}

func (s *Scope) subscribeAny(exec AnyExecutor, fn func(any)) func() {
	id := s.subSeq.Add(1)
	s.subsMu.Lock()
	s.subs[exec] = append(s.subs[exec], subscriberEntry{id: id, fn: fn})
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		list := s.subs[exec]
		for i, e := range list {
			if e.id == id {
				s.subs[exec] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *Scope) notifySubscribers(exec AnyExecutor, value any) {
	s.subsMu.Lock()
	list := append([]subscriberEntry(nil), s.subs[exec]...)
	s.subsMu.Unlock()
	for _, e := range list {
		e.fn(value)
	}
}

func (s *Scope) registerCleanups(exec AnyExecutor, fns []func() error) {
	if len(fns) == 0 {
		return
	}
	s.cleanupMu.Lock()
	if _, exists := s.cleanupsReg[exec]; !exists {
		s.cleanupOrder = append(s.cleanupOrder, exec)
	}
	s.cleanupsReg[exec] = append(s.cleanupsReg[exec], fns...)
	s.cleanupMu.Unlock()
}

func (s *Scope) runCleanups(exec AnyExecutor, cleanupCtx string) {
	s.cleanupMu.Lock()
	fns := s.cleanupsReg[exec]
	delete(s.cleanupsReg, exec)
	for i, e := range s.cleanupOrder {
		if e == exec {
			s.cleanupOrder = append(s.cleanupOrder[:i], s.cleanupOrder[i+1:]...)
			break
		}
	}
	s.cleanupMu.Unlock()
	s.runCleanupList(fns, exec, cleanupCtx)
}

func (s *Scope) runCleanupList(fns []func() error, exec AnyExecutor, cleanupCtx string) {
	if len(fns) == 0 {
		return
	}
	exts := s.snapshotExtensions()
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			cerr := &CleanupError{Executor: exec, Cause: err, Context: cleanupCtx}
			handled := false
			for _, ext := range exts {
				if ext.OnCleanupError(cerr) {
					handled = true
					break
				}
			}
			_ = handled
		}
	}
}

// Dispose tears down a scope in dependent-first order: child pods go first
// (their teardown may still touch the parent's cache while it's intact),
// then extension Dispose/DisposePod hooks observe a scope that still has its
// own cache, and only last does the scope release its own cached entries'
// cleanups, in reverse registration order, mirroring how a single
// executor's own cleanups run LIFO in runCleanupList.
func (s *Scope) Dispose() error {
	s.disposedMu.Lock()
	if s.disposed {
		s.disposedMu.Unlock()
		return nil
	}
	s.disposed = true
	s.disposedMu.Unlock()

	if s.isPod && s.parent != nil {
		s.parent.podsMu.Lock()
		delete(s.parent.pods, s)
		s.parent.podsMu.Unlock()
	} else {
		s.podsMu.Lock()
		pods := make([]*Scope, 0, len(s.pods))
		for p := range s.pods {
			pods = append(pods, p)
		}
		s.podsMu.Unlock()
		for _, p := range pods {
			_ = p.Dispose()
		}
	}

	exts := s.snapshotExtensions()
	for _, ext := range exts {
		var err error
		if s.isPod {
			err = ext.DisposePod(s)
		} else {
			err = ext.Dispose(s)
		}
		if err != nil {
			return fmt.Errorf("graphrt: disposing extension %s: %w", ext.Name(), err)
		}
	}

	s.cleanupMu.Lock()
	all := s.cleanupsReg
	order := s.cleanupOrder
	s.cleanupsReg = make(map[AnyExecutor][]func() error)
	s.cleanupOrder = nil
	s.cleanupMu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		exec := order[i]
		if fns, ok := all[exec]; ok {
			s.runCleanupList(fns, exec, "dispose")
		}
	}

	return nil
}

// RegisteredExecutors returns every executor that currently has a cache
// entry (pending, resolved or rejected) in this scope.
func (s *Scope) RegisteredExecutors() []AnyExecutor {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	out := make([]AnyExecutor, 0, len(s.cache))
	for e := range s.cache {
		out = append(out, e)
	}
	return out
}

// CacheEntrySnapshot pairs an executor with its settled value, as returned
// by Entries.
type CacheEntrySnapshot struct {
	Executor AnyExecutor
	Value    any
}

// Entries returns a snapshot of every resolved (not pending or rejected)
// cache entry in this scope, executor paired with its current value.
func (s *Scope) Entries() []CacheEntrySnapshot {
	s.cacheMu.Lock()
	snap := make(map[AnyExecutor]*cacheEntry, len(s.cache))
	for e, entry := range s.cache {
		snap[e] = entry
	}
	s.cacheMu.Unlock()

	out := make([]CacheEntrySnapshot, 0, len(snap))
	for e, entry := range snap {
		if val, err, ok := entry.snapshot(); ok && err == nil {
			out = append(out, CacheEntrySnapshot{Executor: e, Value: val})
		}
	}
	return out
}

// OnChange registers cb to run every time any executor's value changes in
// this scope, via Update or reactive propagation. The returned func
// unregisters it.
func (s *Scope) OnChange(cb func(AnyExecutor, any)) func() {
	id := s.scopeSubSeq.Add(1)
	s.scopeSubsMu.Lock()
	s.changeSubs = append(s.changeSubs, scopeSubscriber{id: id, fn: cb})
	s.scopeSubsMu.Unlock()
	return func() {
		s.scopeSubsMu.Lock()
		defer s.scopeSubsMu.Unlock()
		for i, e := range s.changeSubs {
			if e.id == id {
				s.changeSubs = append(s.changeSubs[:i], s.changeSubs[i+1:]...)
				return
			}
		}
	}
}

// OnRelease registers cb to run every time an executor is released
// (non-soft) from this scope. The returned func unregisters it.
func (s *Scope) OnRelease(cb func(AnyExecutor)) func() {
	id := s.scopeSubSeq.Add(1)
	s.scopeSubsMu.Lock()
	s.releaseSubs = append(s.releaseSubs, scopeSubscriber{id: id, fn: func(e AnyExecutor, _ any) { cb(e) }})
	s.scopeSubsMu.Unlock()
	return func() {
		s.scopeSubsMu.Lock()
		defer s.scopeSubsMu.Unlock()
		for i, e := range s.releaseSubs {
			if e.id == id {
				s.releaseSubs = append(s.releaseSubs[:i], s.releaseSubs[i+1:]...)
				return
			}
		}
	}
}

// OnError registers cb to run for every resolve/update/propagate failure
// observed directly by this scope, independent of any extension's OnError
// hook. The returned func unregisters it.
func (s *Scope) OnError(cb func(error)) func() {
	id := s.scopeSubSeq.Add(1)
	s.scopeSubsMu.Lock()
	s.errorSubs = append(s.errorSubs, errorSubscriber{id: id, fn: cb})
	s.scopeSubsMu.Unlock()
	return func() {
		s.scopeSubsMu.Lock()
		defer s.scopeSubsMu.Unlock()
		for i, e := range s.errorSubs {
			if e.id == id {
				s.errorSubs = append(s.errorSubs[:i], s.errorSubs[i+1:]...)
				return
			}
		}
	}
}

func (s *Scope) emitChange(exec AnyExecutor, value any) {
	s.scopeSubsMu.Lock()
	subs := append([]scopeSubscriber(nil), s.changeSubs...)
	s.scopeSubsMu.Unlock()
	for _, sub := range subs {
		sub.fn(exec, value)
	}
}

func (s *Scope) emitRelease(exec AnyExecutor) {
	s.scopeSubsMu.Lock()
	subs := append([]scopeSubscriber(nil), s.releaseSubs...)
	s.scopeSubsMu.Unlock()
	for _, sub := range subs {
		sub.fn(exec, nil)
	}
}

func (s *Scope) emitScopeError(err error) {
	s.scopeSubsMu.Lock()
	subs := append([]errorSubscriber(nil), s.errorSubs...)
	s.scopeSubsMu.Unlock()
	for _, sub := range subs {
		sub.fn(err)
	}
}

// DisposePod tears down pod, a child previously created via Pod, from the
// parent's side. It is equivalent to calling pod.Dispose() directly but
// rejects a pod that does not belong to this scope.
func (s *Scope) DisposePod(pod *Scope) error {
	if pod == nil || pod.parent != s {
		return fmt.Errorf("graphrt: DisposePod called with a pod that does not belong to this scope")
	}
	return pod.Dispose()
}

// ExportDependencyGraph returns a defensive copy of the reactive dependency
// edges tracked so far (target -> its reactive dependents), for debug
// extensions to visualize.
func (s *Scope) ExportDependencyGraph() map[AnyExecutor][]AnyExecutor {
	return s.graph.snapshot()
}

func (s *Scope) tagGet(k tagKey) (any, bool) { return s.tagsStore.tagGet(k) }
func (s *Scope) tagSet(k tagKey, v any)      { s.tagsStore.tagSet(k, v) }
func (s *Scope) tagAll(k tagKey) []any       { return s.tagsStore.tagAll(k) }

// Resolve resolves exec's value within scope, caching it for subsequent
// calls and sharing one in-flight computation across concurrent callers.
func Resolve[T any](scope *Scope, exec *Executor[T]) (T, error) {
	raw, err := scope.resolveAny(exec)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("graphrt: resolved value type mismatch for %s", executorLabel(exec))
	}
	return typed, nil
}

// Update installs value as exec's cached result directly, propagating to
// every reactive dependent.
func Update[T any](scope *Scope, exec *Executor[T], value T) error {
	return scope.updateAny(exec, value)
}

// GetAccessor returns a typed Accessor bound to exec within scope.
func GetAccessor[T any](scope *Scope, exec *Executor[T]) *Accessor[T] {
	return newAccessor(scope, exec)
}
