// Package graphrt is a dependency-graph runtime: executors, scopes, pods,
// flows, extensions and tags for wiring long-lived resources and running
// short-lived operations against them.
//
// # Overview
//
// graphrt organizes code around a few core concepts:
//
//  1. Executors: units of computation with explicit dependencies
//  2. Scopes: lifecycle managers that resolve and cache executor values
//  3. Pods: forked, short-lived scopes that copy-on-read from a parent
//  4. Flows: short-span operations with hierarchical execution contexts
//  5. Promised: lazily composable async values
//  6. Multi-executors: lazily-growing keyed pools of executors
//
// # Basic Usage
//
// Create executors to define your application graph:
//
//	scope := graphrt.NewScope()
//
//	config := graphrt.Provide(func(ctx *graphrt.ResolveCtx) (*Config, error) {
//	    return &Config{Port: 8080}, nil
//	})
//
//	server := graphrt.Derive1(
//	    config,
//	    func(ctx *graphrt.ResolveCtx, cfg *Config) (*Server, error) {
//	        return NewServer(cfg.Port), nil
//	    },
//	)
//
// Access values through accessors:
//
//	srvAccessor := graphrt.GetAccessor(scope, server)
//	srv, err := srvAccessor.Get()
//
// # Dependency Modes
//
// Dependencies can be resolved in different modes:
//
//	// Plain (default): resolved before the factory runs and passed as a
//	// value; an update to config does not re-run this factory
//	service := graphrt.Derive1(
//	    config,  // plain dependency; config.Static() would pass an Accessor
//	    func(ctx *graphrt.ResolveCtx, cfg *Config) (*Service, error) {
//	        // only called once
//	        return NewService(cfg), nil
//	    },
//	)
//
//	// Reactive: invalidate and re-resolve when the dependency changes
//	counter := graphrt.Provide(func(ctx *graphrt.ResolveCtx) (int, error) {
//	    return 0, nil
//	})
//
//	doubled := graphrt.Derive1(
//	    counter.Reactive(),
//	    func(ctx *graphrt.ResolveCtx, val int) (int, error) {
//	        return val * 2, nil
//	    },
//	)
//
//	counterAccessor := graphrt.GetAccessor(scope, counter)
//	counterAccessor.Update(5) // triggers re-resolution of doubled
//
//	// Lazy: defer resolution until explicitly requested
//	logger := graphrt.Derive1(
//	    config.Lazy(), // won't resolve unless accessed
//	    func(ctx *graphrt.ResolveCtx, cfg *graphrt.Accessor[*Config]) (*Logger, error) {
//	        return NewLogger(), nil
//	    },
//	)
//
// # Accessors
//
// Accessors provide lifecycle operations for executor values:
//
//	acc := graphrt.GetAccessor(scope, executor)
//
//	val, err := acc.Get()             // resolves and caches
//	val, ok := acc.Lookup()           // returns cached value without resolving
//	acc.Update(newVal)                // sets a new value, propagates to reactive dependents
//	acc.Release(false)                // drops the cached value
//	val, err = acc.Resolve(true)      // forces a reload
//	cached := acc.IsCached()
//
// # Pods
//
// A pod is a short-lived fork of a scope: it copies resolved values from its
// parent on first read and keeps its own overrides without mutating the
// parent. Reactive dependencies are forbidden inside a pod.
//
//	pod := scope.Pod()
//	defer pod.Dispose()
//
// # Flows
//
// Flows represent short-span operations with their own execution context:
//
//	db := graphrt.Provide(func(ctx *graphrt.ResolveCtx) (*DB, error) {
//	    return OpenDB(), nil
//	})
//
//	fetchUser := graphrt.Define[*User](
//	    graphrt.WithFlowDeps[*User](db),
//	    graphrt.WithFlowName[*User]("fetchUser"),
//	).Handler(func(execCtx *graphrt.ExecutionCtx, rc *graphrt.ResolveCtx) (*User, error) {
//	    database, _ := graphrt.GetTag(rc, dbTag)
//	    return database.Query("SELECT * FROM users WHERE id = ?", 123)
//	})
//
//	user, err := graphrt.ExecuteFlow(scope, context.Background(), fetchUser, nil)
//
// Sub-flows chain execution contexts instead of forming a separate tree:
//
//	parentFlow := graphrt.Define[string](...).Handler(
//	    func(execCtx *graphrt.ExecutionCtx, rc *graphrt.ResolveCtx) (string, error) {
//	        user, err := graphrt.Exec(execCtx, fetchUserFlow, nil)
//	        if err != nil {
//	            return "", err
//	        }
//	        orders, err := graphrt.Exec(execCtx, fetchOrdersFlow, user.ID)
//	        return fmt.Sprintf("%s has %d orders", user.Name, len(orders)), err
//	    },
//	)
//
// # Tags
//
// Tags provide type-safe, schema-validated metadata addressable on any
// Source (a scope, a pod, an executor, or an execution context):
//
//	versionTag := graphrt.NewTag[string](nil, graphrt.WithLabel[string]("version"))
//
//	exec := graphrt.Provide(
//	    func(ctx *graphrt.ResolveCtx) (int, error) { return 42, nil },
//	    graphrt.WithTagValue[int](mustEntry(versionTag, "1.0.0")),
//	)
//
//	version, err := versionTag.Get(exec.Tags())
//
// # Extensions
//
// Extensions hook into the resolve/update/flow pipeline:
//
//	type LoggingExtension struct {
//	    graphrt.BaseExtension
//	}
//
//	func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *graphrt.Operation) (any, error) {
//	    log.Printf("starting %s", op.Kind)
//	    result, err := next()
//	    log.Printf("finished %s", op.Kind)
//	    return result, err
//	}
//
//	scope := graphrt.NewScope(
//	    graphrt.WithExtension(&LoggingExtension{
//	        BaseExtension: graphrt.NewBaseExtension("logging"),
//	    }),
//	)
//
// # Resource Cleanup
//
// Register cleanup functions for automatic resource management:
//
//	db := graphrt.Provide(func(ctx *graphrt.ResolveCtx) (*DB, error) {
//	    database := OpenDB()
//	    ctx.OnCleanup(func() error {
//	        return database.Close()
//	    })
//	    return database, nil
//	})
//
// Cleanup functions run when a reactive dependent is invalidated for
// re-resolution and when the owning scope (or pod) is disposed.
//
// # Testing with Presets
//
// Replace executors with test doubles at scope construction time:
//
//	realDB := graphrt.Provide(func(ctx *graphrt.ResolveCtx) (*DB, error) {
//	    return ConnectToDB(), nil
//	})
//
//	testScope := graphrt.NewScope(
//	    graphrt.WithPreset(graphrt.PresetValue(realDB, &DB{Mock: true})),
//	)
//
// # Promised
//
// Promised wraps a deferred, composable computation bound to a context:
//
//	p := graphrt.FromExecutor[*Config](scope, config)
//	cfg, err := p.Await()
//
//	doubled := graphrt.MapPromised(p, func(c *Config) int { return c.Port * 2 })
//
// # Thread Safety
//
// Scopes, pods, accessors and flows are all safe for concurrent use.
package graphrt
