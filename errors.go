package graphrt

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Stage identifies where in the resolve/execute pipeline a failure occurred.
type Stage string

const (
	StageDependencyResolution Stage = "dependency-resolution"
	StageFactoryExecution     Stage = "factory-execution"
	StageValidation           Stage = "validation"
	StagePostProcessing       Stage = "post-processing"
)

// ErrScopeDisposed is returned by any operation attempted after Dispose.
type ErrScopeDisposed struct {
	Op string
}

func (e *ErrScopeDisposed) Error() string {
	return fmt.Sprintf("graphrt: scope disposed, cannot perform %s", e.Op)
}

// ErrExecutorNotResolved is returned by a non-soft release of an executor
// that has no cache entry in the scope.
type ErrExecutorNotResolved struct {
	Executor AnyExecutor
}

func (e *ErrExecutorNotResolved) Error() string {
	return fmt.Sprintf("graphrt: executor %s not resolved", executorLabel(e.Executor))
}

// DependencyResolutionError wraps a failure encountered while resolving a
// dependency chain. Stage/Timestamp/AdditionalInfo are the "context
// captured on failure" spec §7 requires at every rejection site.
type DependencyResolutionError struct {
	Executor          AnyExecutor
	MissingDependency AnyExecutor
	Chain             []AnyExecutor
	Cause             error
	Stage             Stage
	Timestamp         time.Time
	AdditionalInfo    map[string]any
}

func (e *DependencyResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "graphrt: resolving %s", executorLabel(e.Executor))
	if e.MissingDependency != nil {
		fmt.Fprintf(&b, " (missing dependency %s)", executorLabel(e.MissingDependency))
	}
	if len(e.Chain) > 0 {
		b.WriteString(": chain=")
		for i, c := range e.Chain {
			if i > 0 {
				b.WriteString("->")
			}
			b.WriteString(executorLabel(c))
		}
	}
	fmt.Fprintf(&b, ": %v", e.Cause)
	return b.String()
}

func (e *DependencyResolutionError) Unwrap() error { return e.Cause }

// FactoryExecutionError wraps a panic raised inside a factory (an error the
// factory returns is passed through unwrapped), with
// the dependency chain active at the point of failure plus the same
// Stage/Timestamp/AdditionalInfo failure context as DependencyResolutionError.
type FactoryExecutionError struct {
	Executor       AnyExecutor
	Chain          []AnyExecutor
	Cause          error
	StackTrace     []byte
	Stage          Stage
	Timestamp      time.Time
	AdditionalInfo map[string]any
}

func (e *FactoryExecutionError) Error() string {
	return fmt.Sprintf("graphrt: factory for %s failed: %v", executorLabel(e.Executor), e.Cause)
}

func (e *FactoryExecutionError) Unwrap() error { return e.Cause }

func newFactoryExecutionError(exec AnyExecutor, chain []AnyExecutor, cause error) *FactoryExecutionError {
	return &FactoryExecutionError{
		Executor:   exec,
		Chain:      append([]AnyExecutor(nil), chain...),
		Cause:      cause,
		StackTrace: debug.Stack(),
		Stage:      StageFactoryExecution,
		Timestamp:  time.Now(),
		AdditionalInfo: map[string]any{
			"chainDepth": len(chain),
		},
	}
}

// SchemaError reports one or more validation issues.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("graphrt: schema validation failed: %s", strings.Join(e.Issues, "; "))
}

// ErrTagMissing is returned by Tag.Get when no value and no default exist.
type ErrTagMissing struct {
	Label string
}

func (e *ErrTagMissing) Error() string {
	return fmt.Sprintf("graphrt: tag %q missing and has no default", e.Label)
}

// ErrPodReactivityForbidden is returned when a reactive dependency is resolved through a pod.
type ErrPodReactivityForbidden struct {
	Executor AnyExecutor
}

func (e *ErrPodReactivityForbidden) Error() string {
	return fmt.Sprintf("graphrt: reactive dependency on %s forbidden inside a pod", executorLabel(e.Executor))
}

// FlowValidationError reports input/output schema failures at a flow
// boundary. Stage is always StageValidation; Timestamp marks when the
// boundary check ran.
type FlowValidationError struct {
	FlowName  string
	Boundary  string // "input" | "output"
	Issues    []string
	Stage     Stage
	Timestamp time.Time
}

func (e *FlowValidationError) Error() string {
	return fmt.Sprintf("graphrt: flow %q %s validation failed: %s", e.FlowName, e.Boundary, strings.Join(e.Issues, "; "))
}

// ErrFlowTimeout is raised by extensions that race next() against a timer.
type ErrFlowTimeout struct {
	FlowName string
}

func (e *ErrFlowTimeout) Error() string {
	return fmt.Sprintf("graphrt: flow %q timed out", e.FlowName)
}

// FlowError is a caller-defined failure carrying a stable code.
type FlowError struct {
	Code string
	Data any
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("graphrt: flow error %s", e.Code)
}

// CircularDependencyError reports a cycle detected during resolve.
type CircularDependencyError struct {
	Chain []AnyExecutor
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, c := range e.Chain {
		parts[i] = executorLabel(c)
	}
	return fmt.Sprintf("graphrt: circular dependency: %s", strings.Join(parts, "->"))
}

// CleanupError is reported to extensions when a registered cleanup fails; it
// never aborts the release/update/dispose it occurred during.
type CleanupError struct {
	Executor AnyExecutor
	Cause    error
	Context  string // "update" | "release" | "dispose"
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("graphrt: cleanup for %s failed during %s: %v", executorLabel(e.Executor), e.Context, e.Cause)
}

func (e *CleanupError) Unwrap() error { return e.Cause }

// executorLabel best-effort names an executor via its name tag, falling back
// to a pointer-derived identity string.
func executorLabel(e AnyExecutor) string {
	if e == nil {
		return "<nil>"
	}
	if named, ok := e.(interface{ debugName() string }); ok {
		if n := named.debugName(); n != "" {
			return n
		}
	}
	return fmt.Sprintf("%p", e)
}
