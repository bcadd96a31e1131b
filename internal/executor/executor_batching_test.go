package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	batch "github.com/gqlbatch/gqlbatch/internal/batch"
	resolver "github.com/gqlbatch/gqlbatch/internal/resolver"
)

func authorLoader(names map[string]string) batch.FetchFunc {
	return func(ctx context.Context, keys []string) (map[string]batch.Result, error) {
		out := make(map[string]batch.Result, len(keys))
		for _, key := range keys {
			name, ok := names[key]
			if !ok {
				out[key] = batch.Result{Err: fmt.Errorf("author %s not found", key)}
				continue
			}
			out[key] = batch.Result{Value: map[string]any{"id": key, "name": name}}
		}
		return out, nil
	}
}

// Pattern: one grouped fetch per batch key per depth (the anti-N+1 guarantee).
func TestBatching_SiblingsShareOneFetch(t *testing.T) {
	rig := newTestRig()
	const n = 100
	books := make([]any, n)
	names := make(map[string]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("a%d", i)
		books[i] = map[string]any{"authorID": id}
		names[id] = fmt.Sprintf("author %d", i)
	}
	rig.mustResolver(t, "Query", "books", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.ObjectList("Book", books)
	})
	rig.mustResolver(t, "Book", "author", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		id := parent.(map[string]any)["authorID"].(string)
		return resolver.DeferredObject("author", id, "Author")
	})
	rig.mustResolver(t, "Author", "name", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Value(parent.(map[string]any)["name"])
	})
	rig.mustLoader(t, "author", authorLoader(names))

	res, err := rig.executor().Execute(context.Background(), mustParse(t, `{ books { author { name } } }`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	calls := rig.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("want exactly 1 grouped fetch, got %d", len(calls))
	}
	if len(calls[0].Keys) != n {
		t.Fatalf("want %d distinct keys in one fetch, got %d", n, len(calls[0].Keys))
	}
	// Keys arrive in first-request order.
	for i, key := range calls[0].Keys {
		if want := fmt.Sprintf("a%d", i); key != want {
			t.Fatalf("key order mismatch at %d: want %s, got %s", i, want, key)
		}
	}
}

// Pattern: duplicate lookup keys coalesce; all requesters observe one value.
func TestBatching_DuplicateKeysCoalesce(t *testing.T) {
	rig := newTestRig()
	books := []any{
		map[string]any{"authorID": "a1"},
		map[string]any{"authorID": "a1"},
		map[string]any{"authorID": "a2"},
	}
	rig.mustResolver(t, "Query", "books", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.ObjectList("Book", books)
	})
	rig.mustResolver(t, "Book", "author", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.DeferredObject("author", parent.(map[string]any)["authorID"].(string), "Author")
	})
	rig.mustResolver(t, "Author", "name", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Value(parent.(map[string]any)["name"])
	})
	rig.mustLoader(t, "author", authorLoader(map[string]string{"a1": "Alice", "a2": "Bob"}))

	res, err := rig.executor().Execute(context.Background(), mustParse(t, `{ books { author { name } } }`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	calls := rig.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("want 1 fetch, got %d", len(calls))
	}
	if diff := cmp.Diff([]string{"a1", "a2"}, calls[0].Keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	want := `{"books":[{"author":{"name":"Alice"}},{"author":{"name":"Alice"}},{"author":{"name":"Bob"}}]}`
	if got := encodeJSON(t, res.Data); got != want {
		t.Fatalf("data mismatch:\nwant %s\ngot  %s", want, got)
	}
}

// Pattern: depth boundaries, not batch keys, decide flush counts. The same
// batch key touched at two depths fetches twice.
func TestBatching_OneFlushPerDepth(t *testing.T) {
	rig := newTestRig()
	rig.mustResolver(t, "Query", "author", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.DeferredObject("author", args["id"].(string), "Author")
	})
	rig.mustResolver(t, "Author", "name", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Value(parent.(map[string]any)["name"])
	})
	rig.mustResolver(t, "Author", "mentor", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.DeferredObject("author", parent.(map[string]any)["mentorID"].(string), "Author")
	})
	rig.mustLoader(t, "author", func(ctx context.Context, keys []string) (map[string]batch.Result, error) {
		out := make(map[string]batch.Result, len(keys))
		for _, key := range keys {
			out[key] = batch.Result{Value: map[string]any{"name": "author " + key, "mentorID": "m-" + key}}
		}
		return out, nil
	})

	query := `{ author(id: "a1") { name mentor { name } } }`
	res, err := rig.executor().Execute(context.Background(), mustParse(t, query), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	calls := rig.fetchCalls()
	if len(calls) != 2 {
		t.Fatalf("want 2 fetches (one per depth), got %d", len(calls))
	}
	if diff := cmp.Diff([]string{"a1"}, calls[0].Keys); diff != "" {
		t.Fatalf("depth-1 keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m-a1"}, calls[1].Keys); diff != "" {
		t.Fatalf("depth-2 keys (-want +got):\n%s", diff)
	}

	want := `{"author":{"name":"author a1","mentor":{"name":"author m-a1"}}}`
	if got := encodeJSON(t, res.Data); got != want {
		t.Fatalf("data mismatch:\nwant %s\ngot  %s", want, got)
	}
}

// Pattern: distinct batch keys at one depth flush in first-touch order.
func TestBatching_MultipleBatchKeysPerDepth(t *testing.T) {
	rig := newTestRig()
	rig.mustResolver(t, "Query", "a", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Deferred("alpha", "1")
	})
	rig.mustResolver(t, "Query", "b", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
		return resolver.Deferred("beta", "2")
	})
	echo := func(ctx context.Context, keys []string) (map[string]batch.Result, error) {
		out := make(map[string]batch.Result, len(keys))
		for _, key := range keys {
			out[key] = batch.Result{Value: key}
		}
		return out, nil
	}
	rig.mustLoader(t, "alpha", echo)
	rig.mustLoader(t, "beta", echo)

	res, err := rig.executor().Execute(context.Background(), mustParse(t, `{ a b }`), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	calls := rig.fetchCalls()
	want := []fetchCall{
		{BatchKey: "alpha", Keys: []string{"1"}},
		{BatchKey: "beta", Keys: []string{"2"}},
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("fetch calls mismatch (-want +got):\n%s", diff)
	}

	if got, want := encodeJSON(t, res.Data), `{"a":"1","b":"2"}`; got != want {
		t.Fatalf("data mismatch:\nwant %s\ngot  %s", want, got)
	}
}
