package graphrt

// Derive1..Derive5 build a main executor from N dependencies. Each slot's
// factory argument type is inferred from the factory literal itself: a
// plain or .Reactive() dependency resolves to the dependency's value type
// directly, while a .Lazy()/.Static() dependency resolves to *Accessor[D] —
// grounded on executor_generated.go's generated Derive1..DeriveN, reworked
// so the factory signature reflects each slot's delivery mode instead of
// always taking a Controller/Accessor regardless of mode. The timing of
// pre-resolution itself is unchanged and still lives in Scope.computeEntry.
//
//go:generate go run ./codegen -w

func Derive1[T any, A1 any](
	d1 DepArg[A1],
	factory func(*ResolveCtx, A1) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	return newExecutor(
		[]Dependency{d1},
		func(rc *ResolveCtx) (T, error) {
			return factory(rc, d1.deliver(rc))
		},
		opts,
	)
}

func Derive2[T any, A1, A2 any](
	d1 DepArg[A1],
	d2 DepArg[A2],
	factory func(*ResolveCtx, A1, A2) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	return newExecutor(
		[]Dependency{d1, d2},
		func(rc *ResolveCtx) (T, error) {
			return factory(rc, d1.deliver(rc), d2.deliver(rc))
		},
		opts,
	)
}

func Derive3[T any, A1, A2, A3 any](
	d1 DepArg[A1],
	d2 DepArg[A2],
	d3 DepArg[A3],
	factory func(*ResolveCtx, A1, A2, A3) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	return newExecutor(
		[]Dependency{d1, d2, d3},
		func(rc *ResolveCtx) (T, error) {
			return factory(rc, d1.deliver(rc), d2.deliver(rc), d3.deliver(rc))
		},
		opts,
	)
}

func Derive4[T any, A1, A2, A3, A4 any](
	d1 DepArg[A1],
	d2 DepArg[A2],
	d3 DepArg[A3],
	d4 DepArg[A4],
	factory func(*ResolveCtx, A1, A2, A3, A4) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	return newExecutor(
		[]Dependency{d1, d2, d3, d4},
		func(rc *ResolveCtx) (T, error) {
			return factory(rc, d1.deliver(rc), d2.deliver(rc), d3.deliver(rc), d4.deliver(rc))
		},
		opts,
	)
}

func Derive5[T any, A1, A2, A3, A4, A5 any](
	d1 DepArg[A1],
	d2 DepArg[A2],
	d3 DepArg[A3],
	d4 DepArg[A4],
	d5 DepArg[A5],
	factory func(*ResolveCtx, A1, A2, A3, A4, A5) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	return newExecutor(
		[]Dependency{d1, d2, d3, d4, d5},
		func(rc *ResolveCtx) (T, error) {
			return factory(rc, d1.deliver(rc), d2.deliver(rc), d3.deliver(rc), d4.deliver(rc), d5.deliver(rc))
		},
		opts,
	)
}

// DeriveSlice builds a main executor depending on a homogeneous slice of
// dependencies sharing the same delivery argument type A. New relative to
// the teacher (which only ever generated fixed-arity DeriveN), grounded on
// the same per-slot delivery pattern generalized to a variable-length
// dependency list the way pkg/core.DeriveMulti attempted before its
// generic-interface design made it uncompilable.
func DeriveSlice[T any, A any](
	deps []DepArg[A],
	factory func(*ResolveCtx, []A) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	plain := make([]Dependency, len(deps))
	for i, d := range deps {
		plain[i] = d
	}
	return newExecutor(
		plain,
		func(rc *ResolveCtx) (T, error) {
			args := make([]A, len(deps))
			for i, d := range deps {
				args[i] = d.deliver(rc)
			}
			return factory(rc, args)
		},
		opts,
	)
}

// DeriveMap builds a main executor depending on a keyed set of dependencies,
// all sharing the same delivery argument type A.
func DeriveMap[T any, A any](
	deps map[string]DepArg[A],
	factory func(*ResolveCtx, map[string]A) (T, error),
	opts ...ExecutorOption[T],
) *Executor[T] {
	plain := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		plain = append(plain, d)
	}
	return newExecutor(
		plain,
		func(rc *ResolveCtx) (T, error) {
			args := make(map[string]A, len(deps))
			for k, d := range deps {
				args[k] = d.deliver(rc)
			}
			return factory(rc, args)
		},
		opts,
	)
}
