package graphrt

import "context"

// Extension hooks into the resolution, update and flow-execution pipeline.
// Grounded on extension.go's Extension interface, extended with pod
// lifecycle hooks (initPod/onPodError/disposePod) and three new Operation
// kinds (subflow/journal/parallel) the teacher's flow layer never modeled
// as operations at all.
type Extension interface {
	// Name returns the extension's name.
	Name() string

	// Order determines extension execution order (lower = earlier).
	Order() int

	// Init is called when the extension is registered to a scope.
	Init(scope *Scope) error

	// InitPod is called when the extension is active on a newly forked pod.
	InitPod(pod *Scope) error

	// Wrap intercepts a resolve/update/subflow/journal/parallel operation.
	Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error)

	// OnError observes an error surfaced by a resolve, an update or reactive
	// propagation, in a scope or in a pod (passed as scope). Flow errors are
	// reported through OnFlowEnd, not OnError.
	OnError(err error, op *Operation, scope *Scope)

	// OnPodError receives an error together with the pod it belongs to. The
	// engine does not call it: errors raised in a pod reach OnError.
	OnPodError(err error, op *Operation, pod *Scope)

	// OnCleanupError handles a cleanup failure. Returns true if handled;
	// false passes it to the next extension, and a failure no extension
	// handles is dropped while teardown continues.
	OnCleanupError(err *CleanupError) bool

	// Flow execution hooks.
	OnFlowStart(execCtx *ExecutionCtx, flow AnyFlow) error
	OnFlowEnd(execCtx *ExecutionCtx, result any, err error) error
	OnFlowPanic(execCtx *ExecutionCtx, recovered any, stack []byte) error

	// Dispose is called when the scope is disposed.
	Dispose(scope *Scope) error

	// DisposePod is called when a pod is disposed, independent of its parent.
	DisposePod(pod *Scope) error
}

// BaseExtension provides default no-op implementations; extensions embed it
// and override only the hooks they need.
type BaseExtension struct {
	name  string
	order int
}

// NewBaseExtension creates a base extension with the given name and the
// default order (100).
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name, order: 100}
}

func (e *BaseExtension) Name() string { return e.name }

func (e *BaseExtension) Order() int { return e.order }

func (e *BaseExtension) Init(scope *Scope) error { return nil }

func (e *BaseExtension) InitPod(pod *Scope) error { return nil }

func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *Operation, scope *Scope) {}

func (e *BaseExtension) OnPodError(err error, op *Operation, pod *Scope) {}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool { return false }

func (e *BaseExtension) OnFlowStart(execCtx *ExecutionCtx, flow AnyFlow) error { return nil }

func (e *BaseExtension) OnFlowEnd(execCtx *ExecutionCtx, result any, err error) error { return nil }

func (e *BaseExtension) OnFlowPanic(execCtx *ExecutionCtx, recovered any, stack []byte) error {
	return nil
}

func (e *BaseExtension) Dispose(scope *Scope) error { return nil }

func (e *BaseExtension) DisposePod(pod *Scope) error { return nil }

// Operation describes the operation an extension is wrapping or observing.
type Operation struct {
	Kind     OperationKind
	Executor AnyExecutor
	Flow     AnyFlow
	Scope    *Scope
}

// OperationKind identifies what kind of unit of work is passing through the
// extension pipeline.
type OperationKind string

const (
	// OpResolve is a single executor resolution (including re-resolution
	// triggered by reactive propagation).
	OpResolve OperationKind = "resolve"
	// OpUpdate is an Accessor.Update/Set call.
	OpUpdate OperationKind = "update"
	// OpExecute is a root flow invocation via ExecuteFlow.
	OpExecute OperationKind = "execute"
	// OpSubflow is one flow invoking another via ExecutionCtx.Exec.
	OpSubflow OperationKind = "subflow"
	// OpJournal is a single ExecutionCtx.Run step.
	OpJournal OperationKind = "journal"
	// OpParallel is a Parallel fan-out. ParallelSettled does not pass
	// through the extension pipeline.
	OpParallel OperationKind = "parallel"
)
