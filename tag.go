package graphrt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/graphrt/graphrt/internal/schema"
)

// tagKey is the opaque, process-wide-unique identity backing a Tag. It is
// never exposed directly; Tag[T] is the only handle callers hold.
type tagKey struct {
	seq   uint64
	label string
}

var tagSeq atomic.Uint64

// TaggedValue is a (key, validated value) pair, the unit bulk-initialization
// and Source lookups operate on.
type TaggedValue struct {
	key   tagKey
	value any
}

// Source is anything a Tag can read from or write to: a Scope, a Pod, an
// executor's metadata, an ExecutionCtx, or a plain slice of TaggedValue.
type Source interface {
	tagGet(k tagKey) (any, bool)
	tagSet(k tagKey, v any)
	tagAll(k tagKey) []any
}

// Tag is a typed, labeled, schema-validated key addressing a value slot in
// any Source.
type Tag[T any] struct {
	key       tagKey
	validator schema.Validator
	label     string
	def       *T
}

// TagOption configures a Tag at construction time.
type TagOption[T any] func(*tagOptions[T])

type tagOptions[T any] struct {
	label string
	def   *T
}

func WithLabel[T any](label string) TagOption[T] {
	return func(o *tagOptions[T]) { o.label = label }
}

func WithDefault[T any](def T) TagOption[T] {
	return func(o *tagOptions[T]) { o.def = &def }
}

// NewTag creates a tag validated against the given schema.Validator. Pass
// nil to fall back to a validator that only checks the Go type T.
func NewTag[T any](validator schema.Validator, opts ...TagOption[T]) Tag[T] {
	if validator == nil {
		validator = schema.Typed[T]()
	}
	var o tagOptions[T]
	for _, opt := range opts {
		opt(&o)
	}
	label := o.label
	if label == "" {
		label = fmt.Sprintf("tag#%d", tagSeq.Load()+1)
	}
	return Tag[T]{
		key:       tagKey{seq: tagSeq.Add(1), label: label},
		validator: validator,
		label:     label,
		def:       o.def,
	}
}

func (t Tag[T]) Label() string { return t.label }

func (t Tag[T]) validate(value any) (T, error) {
	res := t.validator.Validate(value)
	if !res.OK() {
		msgs := make([]string, len(res.Issues))
		for i, iss := range res.Issues {
			msgs[i] = iss.String()
		}
		var zero T
		return zero, &SchemaError{Issues: msgs}
	}
	typed, ok := res.Value.(T)
	if !ok {
		// Validators that return the raw input unchanged (e.g. schema.Any)
		// still need a type assertion pass-through for T == any.
		if res.Value == nil {
			var zero T
			return zero, nil
		}
		var zero T
		return zero, &SchemaError{Issues: []string{fmt.Sprintf("validated value has type %T, expected %T", res.Value, zero)}}
	}
	return typed, nil
}

// Entry validates value and returns a TaggedValue suitable for bulk
// initialization (Scope/Pod tags, ExecutionCtx forks).
func (t Tag[T]) Entry(value T) (TaggedValue, error) {
	validated, err := t.validate(value)
	if err != nil {
		return TaggedValue{}, err
	}
	return TaggedValue{key: t.key, value: validated}, nil
}

// Get returns the value from source, raising ErrTagMissing if absent and no
// default is configured.
func (t Tag[T]) Get(source Source) (T, error) {
	raw, ok := source.tagGet(t.key)
	if !ok {
		if t.def != nil {
			return *t.def, nil
		}
		var zero T
		return zero, &ErrTagMissing{Label: t.label}
	}
	typed, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("graphrt: tag %q stored value has type %T, expected %T", t.label, raw, zero)
	}
	return typed, nil
}

// Find returns the value, or the configured default, or the zero value with
// found=false if neither is available.
func (t Tag[T]) Find(source Source) (T, bool) {
	raw, ok := source.tagGet(t.key)
	if ok {
		if typed, ok := raw.(T); ok {
			return typed, true
		}
	}
	if t.def != nil {
		return *t.def, true
	}
	var zero T
	return zero, false
}

// Some returns every value tagged with this key in source (sources may carry
// more than one tagged value sharing a key, e.g. a multi-executor pool tag).
func (t Tag[T]) Some(source Source) []T {
	raw := source.tagAll(t.key)
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		if typed, ok := r.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// Set validates value then writes it to the nearest writable store in
// source. For container/sequence sources it returns the new TaggedValue.
func (t Tag[T]) Set(store Source, value T) (TaggedValue, error) {
	validated, err := t.validate(value)
	if err != nil {
		return TaggedValue{}, err
	}
	store.tagSet(t.key, validated)
	return TaggedValue{key: t.key, value: validated}, nil
}

// tagSlice is the Source implementation backing a plain []TaggedValue — the
// "sequence of tagged values" form mentioned throughout spec §4.B.
type tagSlice struct {
	values []TaggedValue
}

func newTagSlice(values ...TaggedValue) *tagSlice {
	return &tagSlice{values: append([]TaggedValue(nil), values...)}
}

func (s *tagSlice) tagGet(k tagKey) (any, bool) {
	for i := len(s.values) - 1; i >= 0; i-- {
		if s.values[i].key == k {
			return s.values[i].value, true
		}
	}
	return nil, false
}

func (s *tagSlice) tagSet(k tagKey, v any) {
	s.values = append(s.values, TaggedValue{key: k, value: v})
}

func (s *tagSlice) tagAll(k tagKey) []any {
	var out []any
	for _, tv := range s.values {
		if tv.key == k {
			out = append(out, tv.value)
		}
	}
	return out
}

// syncTagMap is the concurrency-safe Source used by Scope/Pod/Executor
// metadata.
type syncTagMap struct {
	mu sync.RWMutex
	m  map[tagKey][]any
}

func newSyncTagMap() *syncTagMap {
	return &syncTagMap{m: make(map[tagKey][]any)}
}

// reset clears every stored value so the map can be recycled by a pool
// without re-allocating its backing map.
func (s *syncTagMap) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.m {
		delete(s.m, k)
	}
}

func (s *syncTagMap) tagGet(k tagKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.m[k]
	if !ok || len(vs) == 0 {
		return nil, false
	}
	return vs[len(vs)-1], true
}

func (s *syncTagMap) tagSet(k tagKey, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = append(s.m[k], v)
}

func (s *syncTagMap) tagAll(k tagKey) []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]any(nil), s.m[k]...)
}
