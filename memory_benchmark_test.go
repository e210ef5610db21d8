package graphrt

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// memoryAllocationMetrics captures memory statistics for benchmarking.
type memoryAllocationMetrics struct {
	Allocs        uint64
	TotalAlloc    uint64
	Sys           uint64
	NumGC         uint32
	GCCPUFraction float64
}

func getMemoryMetrics() memoryAllocationMetrics {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return memoryAllocationMetrics{
		Allocs:        m.Mallocs,
		TotalAlloc:    m.TotalAlloc,
		Sys:           m.Sys,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// createTestDependencyChain creates a chain of dependencies for testing.
func createTestDependencyChain(depth int) []*Executor[int] {
	executors := make([]*Executor[int], depth)

	for i := 0; i < depth; i++ {
		if i == 0 {
			executors[i] = Provide(func(ctx *ResolveCtx) (int, error) {
				return 1, nil
			})
		} else {
			prev := executors[i-1]
			executors[i] = Derive1(prev, func(ctx *ResolveCtx, val int) (int, error) {
				return val + 1, nil
			})
		}
	}

	return executors
}

// createTestFlowChain creates a chain of flows for testing.
func createTestFlowChain(depth int) []*Flow[int] {
	flows := make([]*Flow[int], depth)

	for i := 0; i < depth; i++ {
		if i == 0 {
			baseExec := Provide(func(ctx *ResolveCtx) (int, error) {
				return 1, nil
			})
			flows[i] = Define[int](WithFlowDeps[int](baseExec)).Handler(
				func(execCtx *ExecutionCtx, rc *ResolveCtx) (int, error) {
					val, err := GetAccessor(execCtx.Scope(), baseExec).Get()
					if err != nil {
						return 0, err
					}
					return val * 2, nil
				},
			)
		} else {
			prev := flows[i-1]
			idx := i
			base := Provide(func(ctx *ResolveCtx) (int, error) {
				return idx + 1, nil
			})
			flows[i] = Define[int](WithFlowDeps[int](base)).Handler(
				func(execCtx *ExecutionCtx, rc *ResolveCtx) (int, error) {
					baseVal, err := GetAccessor(execCtx.Scope(), base).Get()
					if err != nil {
						return 0, err
					}

					prevResult, err := Exec(execCtx, prev, nil)
					if err != nil {
						return 0, err
					}

					return baseVal + prevResult, nil
				},
			)
		}
	}

	return flows
}

// BenchmarkResolveCtxAllocation measures memory allocation during executor resolution.
func BenchmarkResolveCtxAllocation(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	base := Provide(func(ctx *ResolveCtx) (string, error) {
		return "base", nil
	})

	dependent := Derive1(base, func(ctx *ResolveCtx, val string) (string, error) {
		return val + "-dependent", nil
	})

	final := Derive1(dependent, func(ctx *ResolveCtx, val string) (string, error) {
		return val + "-final", nil
	})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		scope.cacheMu.Lock()
		scope.cache = make(map[AnyExecutor]*cacheEntry)
		scope.cacheMu.Unlock()

		_, err := Resolve(scope, final)
		if err != nil {
			b.Fatalf("resolution failed: %v", err)
		}
	}
}

// BenchmarkExecutionCtxAllocation measures memory allocation during flow execution.
func BenchmarkExecutionCtxAllocation(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	input := Provide(func(ctx *ResolveCtx) (int, error) {
		return 42, nil
	})

	flow := Define[int](WithFlowDeps[int](input)).Handler(
		func(execCtx *ExecutionCtx, rc *ResolveCtx) (int, error) {
			val, err := GetAccessor(execCtx.Scope(), input).Get()
			if err != nil {
				return 0, err
			}
			return val * 2, nil
		},
	)

	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := ExecuteFlow(scope, ctx, flow, nil)
		if err != nil {
			b.Fatalf("flow execution failed: %v", err)
		}
	}
}

// BenchmarkExtensionCopying measures memory allocation from extension slice copying.
func BenchmarkExtensionCopying(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	for i := 0; i < 10; i++ {
		ext := &mockExtension{id: i}
		scope.UseExtension(ext)
	}

	input := Provide(func(ctx *ResolveCtx) (int, error) {
		return 42, nil
	})

	output := Derive1(input, func(ctx *ResolveCtx, val int) (int, error) {
		return val * 2, nil
	})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := Resolve(scope, output)
		if err != nil {
			b.Fatalf("resolution failed: %v", err)
		}
	}
}

// BenchmarkReactiveDependencyTracking measures memory allocation in reactive dependency tracking.
func BenchmarkReactiveDependencyTracking(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	base := Provide(func(ctx *ResolveCtx) (int, error) {
		return 0, nil
	})

	level1 := Derive1(base.Reactive(), func(ctx *ResolveCtx, val int) (int, error) {
		return val + 1, nil
	})

	level2 := make([]*Executor[int], 10)
	for i := range level2 {
		idx := i
		level2[i] = Derive1(level1.Reactive(), func(ctx *ResolveCtx, val int) (int, error) {
			return val + idx + 1, nil
		})
	}

	for _, exec := range level2 {
		_, err := Resolve(scope, exec)
		if err != nil {
			b.Fatalf("initial resolution failed: %v", err)
		}
	}

	baseAcc := GetAccessor(scope, base)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		err := baseAcc.Update(i)
		if err != nil {
			b.Fatalf("update failed: %v", err)
		}
	}
}

// BenchmarkConcurrentResolutions measures memory allocation under concurrent load.
func BenchmarkConcurrentResolutions(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	chains := make([]*Executor[int], 10)
	for i := range chains {
		chain := createTestDependencyChain(5)
		chains[i] = chain[len(chain)-1]
	}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for _, chain := range chains {
				_, err := Resolve(scope, chain)
				if err != nil {
					b.Fatalf("resolution failed: %v", err)
				}
			}
		}
	})
}

// BenchmarkComplexDependencyGraph measures memory allocation in complex scenarios.
func BenchmarkComplexDependencyGraph(b *testing.B) {
	scope := NewScope()
	defer scope.Dispose()

	base := Provide(func(ctx *ResolveCtx) (int, error) {
		return 1, nil
	})

	l1 := make([]*Executor[int], 3)
	for i := range l1 {
		idx := i
		l1[i] = Derive1(base, func(ctx *ResolveCtx, val int) (int, error) {
			return val + idx + 1, nil
		})
	}

	l2 := make([]*Executor[int], 6)
	for i := range l2 {
		l2[i] = Derive2(l1[i%3], l1[(i+1)%3], func(ctx *ResolveCtx, v1, v2 int) (int, error) {
			return v1 + v2, nil
		})
	}

	l2Deps := make([]DepArg[int], len(l2))
	for i, e := range l2 {
		l2Deps[i] = e
	}
	final := DeriveSlice[int, int](l2Deps, func(ctx *ResolveCtx, vals []int) (int, error) {
		sum := 0
		for _, val := range vals {
			sum += val
		}
		return sum, nil
	})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		scope.cacheMu.Lock()
		scope.cache = make(map[AnyExecutor]*cacheEntry)
		scope.cacheMu.Unlock()

		_, err := Resolve(scope, final)
		if err != nil {
			b.Fatalf("resolution failed: %v", err)
		}
	}
}

// BenchmarkMemoryUsageProfile provides detailed memory usage analysis.
func BenchmarkMemoryUsageProfile(b *testing.B) {
	scenarios := []struct {
		name string
		fn   func(scope *Scope) error
	}{
		{
			name: "SimpleResolution",
			fn: func(scope *Scope) error {
				exec := Provide(func(ctx *ResolveCtx) (int, error) { return 42, nil })
				_, err := Resolve(scope, exec)
				return err
			},
		},
		{
			name: "DeepDependencyChain",
			fn: func(scope *Scope) error {
				chain := createTestDependencyChain(20)
				_, err := Resolve(scope, chain[len(chain)-1])
				return err
			},
		},
		{
			name: "WideDependencyGraph",
			fn: func(scope *Scope) error {
				base := Provide(func(ctx *ResolveCtx) (int, error) { return 1, nil })
				dependents := make([]*Executor[int], 50)
				for i := range dependents {
					idx := i
					dependents[i] = Derive1(base, func(ctx *ResolveCtx, val int) (int, error) {
						return val + idx + 1, nil
					})
				}

				for _, dep := range dependents {
					_, err := Resolve(scope, dep)
					if err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "FlowExecution",
			fn: func(scope *Scope) error {
				input := Provide(func(ctx *ResolveCtx) (int, error) { return 42, nil })
				flow := Define[int](WithFlowDeps[int](input)).Handler(
					func(execCtx *ExecutionCtx, rc *ResolveCtx) (int, error) {
						val, err := GetAccessor(execCtx.Scope(), input).Get()
						if err != nil {
							return 0, err
						}
						return val * 2, nil
					},
				)
				_, err := ExecuteFlow(scope, context.Background(), flow, nil)
				return err
			},
		},
		{
			name: "ComplexFlowChain",
			fn: func(scope *Scope) error {
				flows := createTestFlowChain(10)
				_, err := ExecuteFlow(scope, context.Background(), flows[len(flows)-1], nil)
				return err
			},
		},
	}

	for _, scenario := range scenarios {
		b.Run(scenario.name, func(b *testing.B) {
			b.StopTimer()
			initialMetrics := getMemoryMetrics()

			b.StartTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				scope := NewScope()

				err := scenario.fn(scope)
				if err != nil {
					b.Fatalf("scenario failed: %v", err)
				}

				scope.Dispose()
			}

			b.StopTimer()
			finalMetrics := getMemoryMetrics()

			allocDiff := finalMetrics.TotalAlloc - initialMetrics.TotalAlloc
			b.ReportMetric(float64(allocDiff)/float64(b.N), "bytes/op_total")
			b.ReportMetric(float64(finalMetrics.Allocs-initialMetrics.Allocs)/float64(b.N), "allocs/op")
		})
	}
}

// BenchmarkStressTest performs stress testing with high allocation rates.
func BenchmarkStressTest(b *testing.B) {
	const (
		numScopes      = 100
		numExecutors   = 50
		numResolutions = 10
	)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup

		for s := 0; s < numScopes; s++ {
			wg.Add(1)
			go func(scopeID int) {
				defer wg.Done()

				scope := NewScope()
				defer scope.Dispose()

				executors := make([]*Executor[string], numExecutors)
				for i := range executors {
					idx := i
					executors[i] = Provide(func(ctx *ResolveCtx) (string, error) {
						return fmt.Sprintf("exec-%d-%d", scopeID, idx), nil
					})
				}

				for r := 0; r < numResolutions; r++ {
					for _, exec := range executors {
						_, err := Resolve(scope, exec)
						if err != nil {
							b.Errorf("resolution failed: %v", err)
							return
						}
					}
				}
			}(s)
		}

		wg.Wait()
	}
}

// Mock extension for testing extension copying overhead.
type mockExtension struct {
	BaseExtension
	id int
}

func (m *mockExtension) Name() string {
	return fmt.Sprintf("mock-extension-%d", m.id)
}

func (m *mockExtension) Order() int {
	return m.id
}
