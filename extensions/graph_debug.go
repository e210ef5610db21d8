package extensions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m1gwings/treedrawer/tree"
	graphrt "github.com/graphrt/graphrt"
)

// traceStatus is the last known outcome of resolving one executor, as
// observed through Wrap.
type traceStatus struct {
	resolved bool
	err      error
}

// DependencyTraceExtension renders the reactive dependency graph around a
// failed resolution or a flow panic, so an operator can see which node broke
// and what state its neighbors were in. Grounded on graph_debug.go's
// GraphDebugExtension; reworked here to track resolution outcomes in a
// single mutex-guarded map (Wrap can run from concurrent resolves, so the
// two-map, unsynchronized version it was ported from was a latent race) and
// to surface the Stage/AdditionalInfo failure context DependencyResolutionError
// and FactoryExecutionError now carry.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewDependencyTraceExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewDependencyTraceExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewDependencyTraceExtension(extensions.NewSilentHandler())
type DependencyTraceExtension struct {
	graphrt.BaseExtension

	mu     sync.Mutex
	status map[graphrt.AnyExecutor]traceStatus
	logger *slog.Logger
}

// NewDependencyTraceExtension creates an extension logging through
// logHandler (use HumanHandler for formatted output, or any other
// slog.Handler).
func NewDependencyTraceExtension(logHandler slog.Handler) *DependencyTraceExtension {
	return &DependencyTraceExtension{
		BaseExtension: graphrt.NewBaseExtension("dependency-trace"),
		status:        make(map[graphrt.AnyExecutor]traceStatus),
		logger:        slog.New(logHandler),
	}
}

// Wrap records each resolve outcome so a later error report can mark every
// node in the graph as resolved, failed, or still pending.
func (e *DependencyTraceExtension) Wrap(ctx context.Context, next func() (any, error), op *graphrt.Operation) (any, error) {
	result, err := next()

	if op.Kind == graphrt.OpResolve && op.Executor != nil {
		e.mu.Lock()
		e.status[op.Executor] = traceStatus{resolved: err == nil, err: err}
		e.mu.Unlock()
	}

	return result, err
}

func (e *DependencyTraceExtension) snapshot(exec graphrt.AnyExecutor) (traceStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.status[exec]
	return st, ok
}

// OnError logs the dependency graph around the failed executor, annotated
// with whatever Stage/AdditionalInfo context the failure carries.
func (e *DependencyTraceExtension) OnError(err error, op *graphrt.Operation, scope *graphrt.Scope) {
	execName := e.nameOf(op.Executor)
	graphOutput := e.traceReport(scope, op.Executor, err)

	attrs := []any{
		"executor", execName,
		"error", err.Error(),
		"operation", string(op.Kind),
		"dependency_graph", graphOutput,
	}

	var depErr *graphrt.DependencyResolutionError
	var factErr *graphrt.FactoryExecutionError
	switch {
	case errors.As(err, &depErr):
		attrs = append(attrs, "stage", string(depErr.Stage))
		if len(depErr.AdditionalInfo) > 0 {
			attrs = append(attrs, "stage_info", depErr.AdditionalInfo)
		}
	case errors.As(err, &factErr):
		attrs = append(attrs, "stage", string(factErr.Stage))
		if len(factErr.AdditionalInfo) > 0 {
			attrs = append(attrs, "stage_info", factErr.AdditionalInfo)
		}
	}

	e.logger.Error("Dependency Resolution Error", attrs...)
}

// OnFlowPanic logs the recovered panic and its stack trace.
func (e *DependencyTraceExtension) OnFlowPanic(execCtx *graphrt.ExecutionCtx, recovered any, stack []byte) error {
	attrs := []any{
		"panic", fmt.Sprintf("%v", recovered),
		"stack_trace", string(stack),
	}

	if flowName, ok := graphrt.FlowName().Find(execCtx); ok {
		attrs = append(attrs, "flow", flowName)
	}

	e.logger.Error("Flow Panic", attrs...)

	return nil // don't suppress the error
}

// renderTree draws the dependency graph as a horizontal tree using
// treedrawer, falling back to the empty string when no clear root exists.
func (e *DependencyTraceExtension) renderTree(graph map[graphrt.AnyExecutor][]graphrt.AnyExecutor, failedExecutor graphrt.AnyExecutor) string {
	parents := make(map[graphrt.AnyExecutor][]graphrt.AnyExecutor)
	allNodes := make(map[graphrt.AnyExecutor]bool)

	for parent, children := range graph {
		allNodes[parent] = true
		for _, child := range children {
			allNodes[child] = true
			parents[child] = append(parents[child], parent)
		}
	}

	var roots []graphrt.AnyExecutor
	for node := range allNodes {
		if len(parents[node]) == 0 {
			roots = append(roots, node)
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		return e.nameOf(roots[i]) < e.nameOf(roots[j])
	})

	if len(roots) == 0 {
		return ""
	}

	var rootNode *tree.Tree
	if len(roots) == 1 {
		rootNode = e.nodeFor(roots[0], graph, failedExecutor, make(map[graphrt.AnyExecutor]bool))
	} else {
		rootNode = tree.NewTree(tree.NodeString("Dependencies"))
		for _, root := range roots {
			childTree := e.nodeFor(root, graph, failedExecutor, make(map[graphrt.AnyExecutor]bool))
			if childTree != nil {
				e.graftChild(rootNode, childTree)
			}
		}
	}

	if rootNode == nil {
		return ""
	}

	return rootNode.String()
}

// nodeFor recursively builds a tree node from the dependency graph.
func (e *DependencyTraceExtension) nodeFor(executor graphrt.AnyExecutor, graph map[graphrt.AnyExecutor][]graphrt.AnyExecutor, failedExecutor graphrt.AnyExecutor, visited map[graphrt.AnyExecutor]bool) *tree.Tree {
	if visited[executor] {
		return nil
	}
	visited[executor] = true

	label := e.nameOf(executor)
	st, _ := e.snapshot(executor)
	if executor == failedExecutor {
		label += " ❌"
	} else if st.resolved {
		label += " ✓"
	}

	node := tree.NewTree(tree.NodeString(label))

	if children, ok := graph[executor]; ok {
		sortedChildren := make([]graphrt.AnyExecutor, len(children))
		copy(sortedChildren, children)
		sort.Slice(sortedChildren, func(i, j int) bool {
			return e.nameOf(sortedChildren[i]) < e.nameOf(sortedChildren[j])
		})

		for _, child := range sortedChildren {
			childTree := e.nodeFor(child, graph, failedExecutor, visited)
			if childTree != nil {
				e.graftChild(node, childTree)
			}
		}
	}

	return node
}

// graftChild adds child as a child of parent, recursively copying its own
// children across since treedrawer has no "graft subtree" primitive.
func (e *DependencyTraceExtension) graftChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		e.graftChild(newChild, grandchild)
	}
}

func (e *DependencyTraceExtension) traceReport(scope *graphrt.Scope, failedExecutor graphrt.AnyExecutor, failedErr error) string {
	var sb strings.Builder
	graph := scope.ExportDependencyGraph()

	if len(graph) == 0 {
		sb.WriteString("\n(empty - no reactive dependencies tracked)")
		return sb.String()
	}

	if horizontalTree := e.renderTree(graph, failedExecutor); horizontalTree != "" {
		sb.WriteString("\n")
		sb.WriteString(horizontalTree)
		sb.WriteString("\n")
	}

	sb.WriteString("\nDetailed View:\n")

	type sortEntry struct {
		parent   graphrt.AnyExecutor
		name     string
		children []graphrt.AnyExecutor
	}

	entries := make([]sortEntry, 0, len(graph))
	for parent, children := range graph {
		entries = append(entries, sortEntry{parent: parent, name: e.nameOf(parent), children: children})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, entry := range entries {
		parent := entry.parent
		children := entry.children
		parentName := entry.name

		parentStatus := ""
		if st, ok := e.snapshot(parent); ok {
			if st.resolved {
				parentStatus = " ✓"
			} else if st.err != nil {
				parentStatus = " ❌"
			}
		}

		if len(children) == 0 {
			sb.WriteString(fmt.Sprintf("  %s%s (no dependents)\n", parentName, parentStatus))
			continue
		}

		sb.WriteString(fmt.Sprintf("  %s%s\n", parentName, parentStatus))

		type childEntry struct {
			executor graphrt.AnyExecutor
			name     string
		}
		childEntries := make([]childEntry, 0, len(children))
		for _, child := range children {
			childEntries = append(childEntries, childEntry{executor: child, name: e.nameOf(child)})
		}
		sort.Slice(childEntries, func(i, j int) bool { return childEntries[i].name < childEntries[j].name })

		for i, ce := range childEntries {
			child := ce.executor
			childName := ce.name

			st, known := e.snapshot(child)
			switch {
			case child == failedExecutor:
				childName = childName + " ❌ FAILED"
			case known && st.resolved:
				childName = childName + " ✓"
			case known && st.err != nil:
				childName = fmt.Sprintf("%s ❌ (error: %v)", childName, st.err)
			default:
				childName = childName + " (pending)"
			}

			if i == len(childEntries)-1 {
				sb.WriteString(fmt.Sprintf("    └─> %s\n", childName))
			} else {
				sb.WriteString(fmt.Sprintf("    ├─> %s\n", childName))
			}
		}
	}

	if failedErr != nil {
		sb.WriteString("\nError Details:\n")
		sb.WriteString(fmt.Sprintf("  Executor: %s\n", e.nameOf(failedExecutor)))
		sb.WriteString(fmt.Sprintf("  Error: %v\n", failedErr))
	}

	return sb.String()
}

func (e *DependencyTraceExtension) nameOf(exec graphrt.AnyExecutor) string {
	if exec == nil {
		return "<nil>"
	}
	return exec.Name()
}

// SilentHandler is a slog.Handler that discards all log output, for tests
// that don't want output.
type SilentHandler struct{}

func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool { return false }

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error { return nil }

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *SilentHandler) WithGroup(name string) slog.Handler { return h }

// HumanHandler is a slog.Handler that formats logs for human readability,
// with real line breaks instead of the escaped newlines slog.TextHandler
// would produce for multi-line attribute values like a dependency graph or
// a stack trace.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool { return level >= h.level }

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	switch record.Message {
	case "Dependency Resolution Error":
		return h.handleDependencyError(record)
	case "Flow Panic":
		return h.handleFlowPanic(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleDependencyError(record slog.Record) error {
	var executor, errorMsg, operation, dependencyGraph, stage string

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "executor":
			executor = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "operation":
			operation = a.Value.String()
		case "dependency_graph":
			dependencyGraph = a.Value.String()
		case "stage":
			stage = a.Value.String()
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[DependencyTrace] Dependency Resolution Error"); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nFailed Executor: %s\n", executor); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error: %s\n", errorMsg); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Operation: %s\n", operation); return err },
	}
	if stage != "" {
		writes = append(writes, func() error { _, err := fmt.Fprintf(h.writer, "Stage: %s\n", stage); return err })
	}
	writes = append(writes,
		func() error { _, err := fmt.Fprintf(h.writer, "\nDependency Graph:%s", dependencyGraph); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	)

	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func (h *HumanHandler) handleFlowPanic(record slog.Record) error {
	var panicMsg, stackTrace, flow string
	var hasFlow bool

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "panic":
			panicMsg = a.Value.String()
		case "stack_trace":
			stackTrace = a.Value.String()
		case "flow":
			flow = a.Value.String()
			hasFlow = true
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[DependencyTrace] Flow Panic"); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nPanic: %s\n", panicMsg); return err },
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}

	if hasFlow {
		if _, err := fmt.Fprintf(h.writer, "Flow: %s\n", flow); err != nil {
			return err
		}
	}

	finalWrites := []func() error{
		func() error { _, err := fmt.Fprintf(h.writer, "\nStack Trace:\n%s\n", stackTrace); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}
	for _, write := range finalWrites {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *HumanHandler) WithGroup(name string) slog.Handler { return h }
