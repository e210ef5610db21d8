package graphrt

import (
	"errors"
	"testing"

	"github.com/graphrt/graphrt/internal/schema"
)

func TestTag_SetAndGet(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	tag := NewTag[string](nil, WithLabel[string]("env"))

	if _, err := tag.Set(scope, "production"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, err := tag.Get(scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "production" {
		t.Errorf("expected 'production', got %q", val)
	}
}

func TestTag_GetMissingNoDefault(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	tag := NewTag[int](nil, WithLabel[int]("missing"))

	_, err := tag.Get(scope)
	if err == nil {
		t.Fatal("expected ErrTagMissing")
	}
	var missing *ErrTagMissing
	if !errors.As(err, &missing) {
		t.Errorf("expected *ErrTagMissing, got %T", err)
	}
}

func TestTag_WithDefault(t *testing.T) {
	tag := NewTag[int](nil, WithLabel[int]("retries"), WithDefault(3))

	scope := NewScope()
	defer scope.Dispose()

	val, err := tag.Get(scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 3 {
		t.Errorf("expected default 3, got %d", val)
	}

	found, ok := tag.Find(scope)
	if !ok || found != 3 {
		t.Errorf("expected Find to surface the default, got %d ok=%v", found, ok)
	}
}

func TestTag_Find(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	tag := NewTag[bool](nil, WithLabel[bool]("feature.enabled"))

	_, ok := tag.Find(scope)
	if ok {
		t.Error("expected not found before Set")
	}

	if _, err := tag.Set(scope, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, ok := tag.Find(scope)
	if !ok || !val {
		t.Errorf("expected found=true value=true, got found=%v value=%v", ok, val)
	}
}

func TestTag_SchemaValidation(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	tag := NewTag[int](schema.Typed[int](), WithLabel[int]("count"))

	if _, err := tag.Set(scope, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, err := tag.Get(scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 5 {
		t.Errorf("expected 5, got %d", val)
	}
}

func TestTag_Some_MultipleValues(t *testing.T) {
	seq := newTagSlice()
	tag := NewTag[string](nil, WithLabel[string]("plugin"))

	entryA, err := tag.Entry("alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entryB, err := tag.Entry("beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq.tagSet(entryA.key, entryA.value)
	seq.tagSet(entryB.key, entryB.value)

	all := tag.Some(seq)
	if len(all) != 2 || all[0] != "alpha" || all[1] != "beta" {
		t.Errorf("expected [alpha beta], got %v", all)
	}
}

func TestTag_ExecutorTags(t *testing.T) {
	tag := NewTag[string](nil, WithLabel[string]("owner"))
	entry, err := tag.Entry("team-platform")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exec := Provide(func(ctx *ResolveCtx) (int, error) {
		return 1, nil
	}, WithTagValue[int](entry))

	val, ok := tag.Find(exec.Tags())
	if !ok || val != "team-platform" {
		t.Errorf("expected 'team-platform', got %q (ok=%v)", val, ok)
	}
}

func TestTag_Entry(t *testing.T) {
	tag := NewTag[int](nil, WithLabel[int]("port"))

	entry, err := tag.Entry(8080)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq := newTagSlice(entry)
	val, err := tag.Get(seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 8080 {
		t.Errorf("expected 8080, got %d", val)
	}
}
