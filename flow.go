package graphrt

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/graphrt/graphrt/internal/schema"
)

// AnyFlow is the type-erased identity of a Flow[R], used by extension hooks.
// Grounded on flow.go's AnyFlow.
type AnyFlow interface {
	GetDeps() []Dependency
	Name() string
	inputSchema() schema.Validator
	outputSchema() schema.Validator
}

// Flow is a short-lived, non-cached handler: every invocation re-runs deps
// pre-resolution (for non-lazy deps) and the factory, and validates input
// and output against the boundary schemas configured on its FlowDefinition.
// Grounded on flow.go's Flow[R], split into a builder (FlowDefinition) per
// SPEC_FULL's Define().Handler() form; Define(...).Handler(...) is the only
// constructor.
type Flow[R any] struct {
	deps    []Dependency
	name    string
	input   schema.Validator
	output  schema.Validator
	factory func(*ExecutionCtx, *ResolveCtx) (R, error)
}

func (f *Flow[R]) GetDeps() []Dependency          { return f.deps }
func (f *Flow[R]) Name() string                   { return f.name }
func (f *Flow[R]) inputSchema() schema.Validator  { return f.input }
func (f *Flow[R]) outputSchema() schema.Validator { return f.output }

// FlowDefinition accumulates a flow's dependencies, name and boundary
// schemas before Handler attaches the factory and produces a *Flow[R].
type FlowDefinition[R any] struct {
	deps   []Dependency
	name   string
	input  schema.Validator
	output schema.Validator
}

// FlowOption configures a FlowDefinition.
type FlowOption[R any] func(*FlowDefinition[R])

func WithFlowDeps[R any](deps ...Dependency) FlowOption[R] {
	return func(d *FlowDefinition[R]) { d.deps = append(d.deps, deps...) }
}

func WithFlowName[R any](name string) FlowOption[R] {
	return func(d *FlowDefinition[R]) { d.name = name }
}

func WithInputSchema[R any](v schema.Validator) FlowOption[R] {
	return func(d *FlowDefinition[R]) { d.input = v }
}

func WithOutputSchema[R any](v schema.Validator) FlowOption[R] {
	return func(d *FlowDefinition[R]) { d.output = v }
}

// Define starts building a flow.
func Define[R any](opts ...FlowOption[R]) *FlowDefinition[R] {
	d := &FlowDefinition[R]{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handler attaches the factory and finishes construction of the flow.
func (d *FlowDefinition[R]) Handler(fn func(*ExecutionCtx, *ResolveCtx) (R, error)) *Flow[R] {
	return &Flow[R]{
		deps:    d.deps,
		name:    d.name,
		input:   d.input,
		output:  d.output,
		factory: fn,
	}
}

// ExecutionCtx is the per-invocation context threaded through a flow and its
// subflows: a tag-addressable Source chained to its parent and, ultimately,
// the scope, plus journal (Run) and fan-out (Parallel/ParallelSettled)
// helpers. Grounded on flow.go's ExecutionCtx (data map[any]any + parent
// chain + scope fallback), reworked onto the Tag[T]/Source machinery.
type ExecutionCtx struct {
	id     string
	parent *ExecutionCtx
	scope  *Scope
	data   *syncTagMap
	ctx    context.Context
}

func (e *ExecutionCtx) tagGet(k tagKey) (any, bool) {
	if v, ok := e.data.tagGet(k); ok {
		return v, true
	}
	if e.parent != nil {
		return e.parent.tagGet(k)
	}
	return e.scope.tagGet(k)
}

func (e *ExecutionCtx) tagSet(k tagKey, v any) { e.data.tagSet(k, v) }

func (e *ExecutionCtx) tagAll(k tagKey) []any {
	out := e.data.tagAll(k)
	if e.parent != nil {
		out = append(out, e.parent.tagAll(k)...)
	} else {
		out = append(out, e.scope.tagAll(k)...)
	}
	return out
}

func (e *ExecutionCtx) ID() string          { return e.id }
func (e *ExecutionCtx) Scope() *Scope       { return e.scope }
func (e *ExecutionCtx) Context() context.Context { return e.ctx }

func newExecCtx(scope *Scope, parent *ExecutionCtx, id string, ctx context.Context) *ExecutionCtx {
	return &ExecutionCtx{id: id, parent: parent, scope: scope, data: newSyncTagMap(), ctx: ctx}
}

func (s *Scope) generateExecutionID() string {
	return fmt.Sprintf("exec-%d", s.execIDSeq.Add(1))
}

var (
	flowNameTag  = NewTag[string](nil, WithLabel[string]("flow.name"))
	startTimeTag = NewTag[time.Time](nil, WithLabel[time.Time]("exec.start_time"))
	endTimeTag   = NewTag[time.Time](nil, WithLabel[time.Time]("exec.end_time"))
	statusTag    = NewTag[ExecutionStatus](nil, WithLabel[ExecutionStatus]("exec.status"))
	errorTag     = NewTag[error](nil, WithLabel[error]("exec.error"))
	inputTag     = NewTag[any](nil, WithLabel[any]("exec.input"))
	outputTag    = NewTag[any](nil, WithLabel[any]("exec.output"))
)

func FlowName() Tag[string]        { return flowNameTag }
func StartTime() Tag[time.Time]    { return startTimeTag }
func EndTime() Tag[time.Time]      { return endTimeTag }
func Status() Tag[ExecutionStatus] { return statusTag }
func ErrorTag() Tag[error]         { return errorTag }
func Input() Tag[any]              { return inputTag }
func Output() Tag[any]             { return outputTag }

// ExecutionStatus is the terminal (or in-flight) state of one flow invocation.
type ExecutionStatus int

const (
	ExecutionStatusRunning ExecutionStatus = iota
	ExecutionStatusSuccess
	ExecutionStatusFailed
	ExecutionStatusCancelled
)

// ExecuteFlow runs a root flow invocation against scope. Grounded on
// scope.go's package-level Exec[R]/Exec1, generalized to validate input and
// output at the boundary (the teacher declared Input()/Output() tags but
// never actually validated anything against them).
func ExecuteFlow[R any](scope *Scope, ctx context.Context, flow *Flow[R], input any) (R, error) {
	result, _, err := runFlow(scope, nil, ctx, flow, input)
	return result, err
}

// Exec invokes flow as a subflow of the caller's own execution, sharing its
// cancellation context and chaining tag lookups to it.
func Exec[R any](parent *ExecutionCtx, flow *Flow[R], input any) (R, error) {
	result, _, err := runFlow(parent.scope, parent, parent.ctx, flow, input)
	return result, err
}

func runFlow[R any](scope *Scope, parent *ExecutionCtx, goCtx context.Context, flow *Flow[R], input any) (result R, execCtx *ExecutionCtx, err error) {
	var zero R

	if flow.input != nil {
		res := flow.input.Validate(input)
		if !res.OK() {
			msgs := make([]string, len(res.Issues))
			for i, iss := range res.Issues {
				msgs[i] = iss.String()
			}
			return zero, nil, &FlowValidationError{FlowName: flow.name, Boundary: "input", Issues: msgs, Stage: StageValidation, Timestamp: time.Now()}
		}
		input = res.Value
	}

	select {
	case <-goCtx.Done():
		return zero, nil, goCtx.Err()
	default:
	}

	for _, dep := range flow.deps {
		if dep.GetMode() == KindLazy {
			continue
		}
		select {
		case <-goCtx.Done():
			return zero, nil, goCtx.Err()
		default:
		}
		if _, err := scope.resolveAny(dep.GetExecutor()); err != nil {
			return zero, nil, fmt.Errorf("graphrt: resolving flow dependency: %w", err)
		}
	}

	// Not pooled: invokeFactory races the flow's factory against goCtx on a
	// separate goroutine, which may still be running (and writing through
	// execCtx) after this function returns. See invokeFactory's rc comment.
	execCtx = newExecCtx(scope, parent, scope.generateExecutionID(), goCtx)
	execCtx.tagSet(flowNameTag.key, flow.name)
	execCtx.tagSet(startTimeTag.key, time.Now())
	execCtx.tagSet(statusTag.key, ExecutionStatusRunning)
	execCtx.tagSet(inputTag.key, input)

	exts := scope.snapshotExtensions()
	for _, ext := range exts {
		if err := ext.OnFlowStart(execCtx, flow); err != nil {
			execCtx.tagSet(statusTag.key, ExecutionStatusFailed)
			execCtx.tagSet(errorTag.key, err)
			return zero, execCtx, err
		}
	}

	opKind := OpSubflow
	if parent == nil {
		opKind = OpExecute
	}
	op := &Operation{Kind: opKind, Flow: flow, Scope: scope}
	raw, err := scope.runThroughExtensions(goCtx, op, exts, func() (any, error) {
		return invokeFactory(execCtx, flow, goCtx)
	})

	execCtx.tagSet(endTimeTag.key, time.Now())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			execCtx.tagSet(statusTag.key, ExecutionStatusCancelled)
		} else {
			execCtx.tagSet(statusTag.key, ExecutionStatusFailed)
		}
		execCtx.tagSet(errorTag.key, err)
	} else {
		typed, ok := raw.(R)
		if !ok {
			err = fmt.Errorf("graphrt: flow %q result type mismatch", flow.name)
		} else {
			result = typed
			if flow.output != nil {
				vres := flow.output.Validate(result)
				if !vres.OK() {
					msgs := make([]string, len(vres.Issues))
					for i, iss := range vres.Issues {
						msgs[i] = iss.String()
					}
					err = &FlowValidationError{FlowName: flow.name, Boundary: "output", Issues: msgs, Stage: StageValidation, Timestamp: time.Now()}
				}
			}
		}
		if err != nil {
			execCtx.tagSet(statusTag.key, ExecutionStatusFailed)
			execCtx.tagSet(errorTag.key, err)
		} else {
			execCtx.tagSet(statusTag.key, ExecutionStatusSuccess)
			execCtx.tagSet(outputTag.key, result)
		}
	}

	for i := len(exts) - 1; i >= 0; i-- {
		if extErr := exts[i].OnFlowEnd(execCtx, result, err); extErr != nil && err == nil {
			err = extErr
		}
	}

	if err != nil {
		var zeroR R
		return zeroR, execCtx, err
	}
	return result, execCtx, nil
}

// invokeFactory races flow.factory against goCtx cancellation, grounded on
// flow.go's executeFlow goroutine-race pattern: the factory runs on its own
// goroutine so a cancelled context returns control to the caller immediately
// even if the factory keeps running to completion in the background.
func invokeFactory[R any](execCtx *ExecutionCtx, flow *Flow[R], goCtx context.Context) (result any, err error) {
	type outcome struct {
		value R
		err   error
		panic any
		stack []byte
	}

	ch := make(chan outcome, 1)
	// Not pooled, unlike computeEntry's ResolveCtx: the factory runs on its
	// own goroutine and may still be executing after goCtx.Done() wins the
	// select below, so rc cannot be safely recycled the moment this function
	// returns — a later caller could be handed the same instance while the
	// orphaned goroutine is still writing through it.
	rc := newResolveCtx(execCtx.scope, nil, nil, &sync.Mutex{}, &[]func() error{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{panic: r, stack: debug.Stack()}
			}
		}()
		v, e := flow.factory(execCtx, rc)
		ch <- outcome{value: v, err: e}
	}()

	select {
	case o := <-ch:
		if o.panic != nil {
			execCtx.tagSet(errorTag.key, fmt.Errorf("panic in flow: %v", o.panic))
			for _, ext := range execCtx.scope.snapshotExtensions() {
				if extErr := ext.OnFlowPanic(execCtx, o.panic, o.stack); extErr != nil {
					return nil, errors.Join(fmt.Errorf("panic in flow %q: %v", flow.name, o.panic), extErr)
				}
			}
			return nil, fmt.Errorf("graphrt: panic in flow %q: %v", flow.name, o.panic)
		}
		return o.value, o.err
	case <-goCtx.Done():
		return nil, goCtx.Err()
	}
}

// Run executes one journal step under label, wrapped through the extension
// pipeline as OpJournal so a journaling extension can record or replay it.
// New relative to the teacher: context.go declared cachedTag/skipExecTag/
// resumedTag fields that nothing ever read or wrote — this finishes what
// those fields were scaffolding for.
func Run[T any](execCtx *ExecutionCtx, label string, fn func() (T, error)) (T, error) {
	var zero T
	op := &Operation{Kind: OpJournal, Scope: execCtx.scope}
	raw, err := execCtx.scope.runThroughExtensions(execCtx.ctx, op, execCtx.scope.snapshotExtensions(), func() (any, error) {
		select {
		case <-execCtx.ctx.Done():
			return nil, execCtx.ctx.Err()
		default:
		}
		return fn()
	})
	if err != nil {
		return zero, fmt.Errorf("graphrt: journal step %q: %w", label, err)
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("graphrt: journal step %q result type mismatch", label)
	}
	return typed, nil
}

// ParallelResult pairs one fan-out branch's outcome with its index, the
// shape ParallelSettled returns so no result is thrown away even for failed
// branches.
type ParallelResult[T any] struct {
	Index int
	Value T
	Err   error
}

// ParallelStats summarizes a parallel/parallelSettled gather: how many
// branches ran, and how many of those landed on each side of success.
type ParallelStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// ParallelOutcome is what Parallel returns: the gathered values alongside
// the stats spec's parallel combinator reports, `{results, stats}`.
type ParallelOutcome[T any] struct {
	Results []T
	Stats   ParallelStats
}

// ParallelSettledOutcome is what ParallelSettled returns: one ParallelResult
// per branch plus the same stats shape as ParallelOutcome.
type ParallelSettledOutcome[T any] struct {
	Results []ParallelResult[T]
	Stats   ParallelStats
}

// Parallel runs every thunk concurrently under execCtx's cancellation
// context and fails fast: the first error cancels the derived context so the
// other branches can stop early. Parallel returns once every branch has
// returned, with the error of the lowest-indexed failed branch. Stats count
// the branches that returned an error as failed. Grounded on flow.go's ParallelExecutor
// (WithFailFast/WithCollectErrors), split into two plain functions since Go
// cannot express "T varies per call" through one generic builder type.
func Parallel[T any](execCtx *ExecutionCtx, thunks ...func(context.Context) (T, error)) (ParallelOutcome[T], error) {
	ctx, cancel := context.WithCancel(execCtx.ctx)
	defer cancel()

	op := &Operation{Kind: OpParallel, Scope: execCtx.scope}
	errs := make([]error, len(thunks))
	raw, err := execCtx.scope.runThroughExtensions(ctx, op, execCtx.scope.snapshotExtensions(), func() (any, error) {
		results := make([]T, len(thunks))
		var wg sync.WaitGroup
		for i, thunk := range thunks {
			wg.Add(1)
			go func(i int, thunk func(context.Context) (T, error)) {
				defer wg.Done()
				v, e := thunk(ctx)
				if e != nil {
					errs[i] = e
					cancel()
					return
				}
				results[i] = v
			}(i, thunk)
		}
		wg.Wait()
		for _, e := range errs {
			if e != nil {
				return results, e
			}
		}
		return results, nil
	})
	typed, _ := raw.([]T)

	stats := ParallelStats{Total: len(thunks)}
	for _, e := range errs {
		if e != nil {
			stats.Failed++
		}
	}
	stats.Succeeded = stats.Total - stats.Failed
	return ParallelOutcome[T]{Results: typed, Stats: stats}, err
}

// ParallelSettled runs every thunk concurrently and always waits for all of
// them, returning one ParallelResult per thunk regardless of failures.
func ParallelSettled[T any](execCtx *ExecutionCtx, thunks ...func(context.Context) (T, error)) ParallelSettledOutcome[T] {
	results := make([]ParallelResult[T], len(thunks))
	var wg sync.WaitGroup
	for i, thunk := range thunks {
		wg.Add(1)
		go func(i int, thunk func(context.Context) (T, error)) {
			defer wg.Done()
			v, e := thunk(execCtx.ctx)
			results[i] = ParallelResult[T]{Index: i, Value: v, Err: e}
		}(i, thunk)
	}
	wg.Wait()

	stats := ParallelStats{Total: len(thunks)}
	for _, r := range results {
		if r.Err != nil {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
	}
	return ParallelSettledOutcome[T]{Results: results, Stats: stats}
}
