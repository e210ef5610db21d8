package graphrt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPromised_Resolved(t *testing.T) {
	p := Resolved(context.Background(), 42)
	val, err := p.Await()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestPromised_Rejected(t *testing.T) {
	wantErr := errors.New("boom")
	p := Rejected[int](context.Background(), wantErr)
	_, err := p.Await()
	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestPromised_FromExecutor(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	exec := Provide(func(ctx *ResolveCtx) (string, error) {
		return "value", nil
	})

	p := FromExecutor(scope, exec)
	val, err := p.Await()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if val != "value" {
		t.Errorf("expected 'value', got %q", val)
	}
}

func TestPromised_ThenCatchFinally(t *testing.T) {
	var thenCalled, catchCalled, finallyCalled bool

	ok := Resolved(context.Background(), 1).
		Then(func(v int) { thenCalled = true }).
		Catch(func(err error) { catchCalled = true }).
		Finally(func() { finallyCalled = true })

	if _, err := ok.Await(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !thenCalled || catchCalled != false || !finallyCalled {
		t.Errorf("then=%v catch=%v finally=%v", thenCalled, catchCalled, finallyCalled)
	}

	thenCalled, catchCalled, finallyCalled = false, false, false
	failing := Rejected[int](context.Background(), errors.New("fail")).
		Then(func(v int) { thenCalled = true }).
		Catch(func(err error) { catchCalled = true }).
		Finally(func() { finallyCalled = true })

	if _, err := failing.Await(); err == nil {
		t.Fatal("expected error")
	}
	if thenCalled || !catchCalled || !finallyCalled {
		t.Errorf("then=%v catch=%v finally=%v", thenCalled, catchCalled, finallyCalled)
	}
}

func TestMapPromised(t *testing.T) {
	p := MapPromised(Resolved(context.Background(), 10), func(v int) string {
		return "n=" + string(rune('0'+v/10))
	})
	val, err := p.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "n=1" {
		t.Errorf("expected 'n=1', got %q", val)
	}
}

func TestSwitchPromised(t *testing.T) {
	p := SwitchPromised(Resolved(context.Background(), 3), func(v int) (int, error) {
		if v < 0 {
			return 0, errors.New("negative")
		}
		return v * v, nil
	})
	val, err := p.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 9 {
		t.Errorf("expected 9, got %d", val)
	}
}

func TestMapErrorPromised(t *testing.T) {
	wrapped := errors.New("wrapped")
	p := MapErrorPromised(Rejected[int](context.Background(), errors.New("inner")), func(err error) error {
		return wrapped
	})
	_, err := p.Await()
	if !errors.Is(err, wrapped) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestSwitchErrorPromised(t *testing.T) {
	p := SwitchErrorPromised(Rejected[int](context.Background(), errors.New("inner")), func(err error) (int, error) {
		return 99, nil
	})
	val, err := p.Await()
	if err != nil {
		t.Fatalf("expected recovered value, got error: %v", err)
	}
	if val != 99 {
		t.Errorf("expected 99, got %d", val)
	}
}

func TestAllPromised_Success(t *testing.T) {
	p := AllPromised(
		Resolved(context.Background(), 1),
		Resolved(context.Background(), 2),
		Resolved(context.Background(), 3),
	)
	outcome, err := p.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vals := outcome.Results
	if len(vals) != 3 || vals[0] != 1 || vals[1] != 2 || vals[2] != 3 {
		t.Errorf("unexpected values: %v", vals)
	}
	if outcome.Stats.Total != 3 || outcome.Stats.Succeeded != 3 || outcome.Stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", outcome.Stats)
	}
}

func TestAllPromised_FailsFast(t *testing.T) {
	wantErr := errors.New("boom")
	p := AllPromised(
		Resolved(context.Background(), 1),
		Rejected[int](context.Background(), wantErr),
		NewPromised(context.Background(), func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}),
	)
	_, err := p.Await()
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRacePromised(t *testing.T) {
	fast := NewPromised(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	slow := NewPromised(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 2, nil
	})

	p := RacePromised(slow, fast)
	val, err := p.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 1 {
		t.Errorf("expected the fast promise to win with 1, got %d", val)
	}
}

func TestAllSettledPromised(t *testing.T) {
	wantErr := errors.New("boom")
	p := AllSettledPromised(
		Resolved(context.Background(), 1),
		Rejected[int](context.Background(), wantErr),
	)
	outcome, err := p.Await()
	if err != nil {
		t.Fatalf("AllSettledPromised itself should not fail: %v", err)
	}
	results := outcome.Results
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if outcome.Stats.Total != 2 || outcome.Stats.Succeeded != 1 || outcome.Stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", outcome.Stats)
	}

	byIndex := make(map[int]ParallelResult[int])
	for _, r := range results {
		byIndex[r.Index] = r
	}

	if byIndex[0].Err != nil || byIndex[0].Value != 1 {
		t.Errorf("expected result 0 to be (1, nil), got (%d, %v)", byIndex[0].Value, byIndex[0].Err)
	}
	if !errors.Is(byIndex[1].Err, wantErr) {
		t.Errorf("expected result 1 to carry %v, got %v", wantErr, byIndex[1].Err)
	}
}

func TestPromised_WithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPromised(context.Background(), func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return 1, nil
		}
	}).WithContext(ctx)

	_, err := p.Await()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTryPromised(t *testing.T) {
	p := TryPromised(context.Background(), func(ctx context.Context) (int, error) {
		return 7, nil
	})
	val, err := p.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 7 {
		t.Errorf("expected 7, got %d", val)
	}
}
