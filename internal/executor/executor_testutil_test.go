package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	batch "github.com/gqlbatch/gqlbatch/internal/batch"
	resolver "github.com/gqlbatch/gqlbatch/internal/resolver"
	selection "github.com/gqlbatch/gqlbatch/internal/selection"
)

// mustParse parses a query into a selection tree and fails the test on error.
func mustParse(t *testing.T, q string) []*selection.Node {
	t.Helper()
	sels, err := selection.Parse(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return sels
}

// fetchCall records one grouped fetch observed by the rig.
type fetchCall struct {
	BatchKey string
	Keys     []string
}

// testRig bundles registries with a shared log of grouped fetch calls.
type testRig struct {
	resolvers *resolver.Registry
	loaders   *batch.Registry

	mu    sync.Mutex
	calls []fetchCall
}

func newTestRig() *testRig {
	return &testRig{
		resolvers: resolver.NewRegistry(),
		loaders:   batch.NewRegistry(),
	}
}

func (r *testRig) mustResolver(t *testing.T, typeName, field string, fn resolver.Func) {
	t.Helper()
	if err := r.resolvers.Register(typeName, field, fn); err != nil {
		t.Fatalf("register resolver: %v", err)
	}
}

// mustLoader registers fn under batchKey, wrapped to record each call.
func (r *testRig) mustLoader(t *testing.T, batchKey string, fn batch.FetchFunc) {
	t.Helper()
	wrapped := func(ctx context.Context, keys []string) (map[string]batch.Result, error) {
		r.mu.Lock()
		r.calls = append(r.calls, fetchCall{BatchKey: batchKey, Keys: append([]string(nil), keys...)})
		r.mu.Unlock()
		return fn(ctx, keys)
	}
	if err := r.loaders.Register(batchKey, wrapped); err != nil {
		t.Fatalf("register loader: %v", err)
	}
}

func (r *testRig) fetchCalls() []fetchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fetchCall(nil), r.calls...)
}

func (r *testRig) executor(opts ...Option) *Executor {
	return New(r.resolvers, r.loaders, opts...)
}

// valueResolver returns v for every invocation.
func valueResolver(v any) resolver.Func {
	return func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Value(v)
	}
}

// encodeJSON renders v for order-sensitive shape assertions.
func encodeJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
