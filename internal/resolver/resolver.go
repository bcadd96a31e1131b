// Package resolver maps (type name, field name) pairs to resolver functions
// and defines the tagged result variants a resolver can produce, including
// the pending-key marker that suspends a field until the next batch flush.
package resolver

import (
	"context"
	"fmt"
	"sync"
)

// Func computes one field's value from its parent value, arguments, and
// request context. Expected business outcomes (absent rows, bad input) are
// expressed through the Result variants, not panics; a panic is contained
// and reported as a field error.
type Func func(ctx context.Context, parent any, args map[string]any) Result

// Kind discriminates the Result variants.
type Kind int

const (
	// KindValue is a resolved leaf value.
	KindValue Kind = iota
	// KindList is a resolved list of leaf values.
	KindList
	// KindObject is a resolved object whose children are selected against
	// the carried type name.
	KindObject
	// KindObjectList is a resolved list of objects.
	KindObjectList
	// KindNotFound is a business "absent"; it renders as null with no error.
	KindNotFound
	// KindError is an application failure scoped to this field.
	KindError
	// KindDeferred is a pending leaf lookup against a batch loader.
	KindDeferred
	// KindDeferredObject is a pending object lookup against a batch loader.
	KindDeferredObject
)

// Result is the tagged outcome of a resolver invocation.
type Result struct {
	kind      Kind
	value     any
	typeName  string
	batchKey  string
	lookupKey string
	err       error
}

// Value returns a resolved leaf result.
func Value(v any) Result { return Result{kind: KindValue, value: v} }

// List returns a resolved list of leaf values.
func List(items []any) Result { return Result{kind: KindList, value: items} }

// Object returns a resolved object; child selections resolve against
// typeName with v as their parent value.
func Object(typeName string, v any) Result {
	return Result{kind: KindObject, typeName: typeName, value: v}
}

// ObjectList returns a resolved list of objects of typeName.
func ObjectList(typeName string, items []any) Result {
	return Result{kind: KindObjectList, typeName: typeName, value: items}
}

// NotFound returns the business "absent" result.
func NotFound() Result { return Result{kind: KindNotFound} }

// Error returns an application failure scoped to the resolving field.
func Error(err error) Result { return Result{kind: KindError, err: err} }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) Result {
	return Error(fmt.Errorf(format, args...))
}

// Deferred suspends the field on (batchKey, lookupKey); the value arrives as
// a leaf after the batch key's next flush.
func Deferred(batchKey, lookupKey string) Result {
	return Result{kind: KindDeferred, batchKey: batchKey, lookupKey: lookupKey}
}

// DeferredObject suspends the field on (batchKey, lookupKey); the fetched
// value is an object whose children resolve against typeName.
func DeferredObject(batchKey, lookupKey, typeName string) Result {
	return Result{kind: KindDeferredObject, batchKey: batchKey, lookupKey: lookupKey, typeName: typeName}
}

// Kind returns the variant tag.
func (r Result) Kind() Kind { return r.kind }

// Value returns the resolved value for the Value, List, Object, and
// ObjectList variants.
func (r Result) Value() any { return r.value }

// TypeName returns the object type name carried by the Object, ObjectList,
// and DeferredObject variants.
func (r Result) TypeName() string { return r.typeName }

// Deferred returns the pending lookup for the Deferred and DeferredObject
// variants.
func (r Result) Deferred() (batchKey, lookupKey string) { return r.batchKey, r.lookupKey }

// Err returns the application error for the Error variant.
func (r Result) Err() error { return r.err }

// MissingResolverError reports a field with no registered binding.
type MissingResolverError struct {
	TypeName string
	Field    string
}

func (e *MissingResolverError) Error() string {
	return fmt.Sprintf("no resolver bound for %s.%s", e.TypeName, e.Field)
}

type bindingKey struct {
	typeName string
	field    string
}

// Registry holds the field-to-resolver bindings. It is populated at startup
// and shared read-only by all passes, so every schema field's resolver is
// verifiable before the first request.
type Registry struct {
	mu       sync.RWMutex
	bindings map[bindingKey]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[bindingKey]Func)}
}

// Register binds fn to (typeName, fieldName). At most one binding per pair.
func (r *Registry) Register(typeName, fieldName string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("resolver: nil func for %s.%s", typeName, fieldName)
	}
	key := bindingKey{typeName, fieldName}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[key]; exists {
		return fmt.Errorf("resolver: %s.%s already bound", typeName, fieldName)
	}
	r.bindings[key] = fn
	return nil
}

// MustRegister is Register that panics on error, for static startup wiring.
func (r *Registry) MustRegister(typeName, fieldName string, fn Func) {
	if err := r.Register(typeName, fieldName, fn); err != nil {
		panic(err)
	}
}

// Resolve looks up the binding for (typeName, fieldName) and invokes it.
// An unbound field returns MissingResolverError. A panicking resolver is
// recovered into an Error result.
func (r *Registry) Resolve(ctx context.Context, typeName, fieldName string, parent any, args map[string]any) (Result, error) {
	r.mu.RLock()
	fn, ok := r.bindings[bindingKey{typeName, fieldName}]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &MissingResolverError{TypeName: typeName, Field: fieldName}
	}
	return invoke(ctx, fn, parent, args), nil
}

func invoke(ctx context.Context, fn Func, parent any, args map[string]any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Errorf("resolver panic: %v", p)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return fn(ctx, parent, args)
}
