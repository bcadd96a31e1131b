package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// countingLoader records every grouped fetch it serves.
type countingLoader struct {
	calls [][]string
	fn    FetchFunc
}

func (c *countingLoader) fetch(ctx context.Context, keys []string) (map[string]Result, error) {
	c.calls = append(c.calls, append([]string(nil), keys...))
	return c.fn(ctx, keys)
}

func echoLoader() *countingLoader {
	c := &countingLoader{}
	c.fn = func(ctx context.Context, keys []string) (map[string]Result, error) {
		out := make(map[string]Result, len(keys))
		for _, k := range keys {
			out[k] = Result{Value: "value:" + k}
		}
		return out, nil
	}
	return c
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", echoLoader().fetch))
	require.Error(t, reg.Register("author", echoLoader().fetch))
}

func TestLoadUnknownBatchKey(t *testing.T) {
	b := New(NewRegistry())
	_, err := b.Load("missing", "1")
	var ube *UnknownBatchKeyError
	require.ErrorAs(t, err, &ube)
	require.Equal(t, "missing", ube.BatchKey)
}

func TestThunkUnresolvedBeforeFlush(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", echoLoader().fetch))
	b := New(reg)

	th, err := b.Load("author", "1")
	require.NoError(t, err)
	_, err = th.Value()
	require.ErrorIs(t, err, ErrUnresolvedThunk)
}

func TestFlushBatchesDistinctKeysInFirstRequestOrder(t *testing.T) {
	loader := echoLoader()
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", loader.fetch))
	b := New(reg)

	t3, err := b.Load("author", "3")
	require.NoError(t, err)
	t1, err := b.Load("author", "1")
	require.NoError(t, err)
	t2, err := b.Load("author", "2")
	require.NoError(t, err)

	require.NoError(t, b.Flush(context.Background(), "author"))
	require.Len(t, loader.calls, 1)
	require.Equal(t, []string{"3", "1", "2"}, loader.calls[0])

	for th, want := range map[*Thunk]string{t3: "value:3", t1: "value:1", t2: "value:2"} {
		v, err := th.Value()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
}

func TestDuplicateKeysCoalesceIntoOneFetchEntry(t *testing.T) {
	loader := echoLoader()
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", loader.fetch))
	b := New(reg)

	ta, err := b.Load("author", "7")
	require.NoError(t, err)
	tb, err := b.Load("author", "7")
	require.NoError(t, err)

	require.NoError(t, b.Flush(context.Background(), "author"))
	require.Len(t, loader.calls, 1)
	require.Equal(t, []string{"7"}, loader.calls[0])

	va, err := ta.Value()
	require.NoError(t, err)
	vb, err := tb.Value()
	require.NoError(t, err)
	require.Equal(t, va, vb)
}

func TestCacheHitSkipsFetch(t *testing.T) {
	loader := echoLoader()
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", loader.fetch))
	b := New(reg)

	_, err := b.Load("author", "1")
	require.NoError(t, err)
	require.NoError(t, b.Flush(context.Background(), "author"))

	th, err := b.Load("author", "1")
	require.NoError(t, err)
	v, err := th.Value()
	require.NoError(t, err)
	require.Equal(t, "value:1", v)

	// Nothing pending, so this flush must not fetch.
	require.NoError(t, b.Flush(context.Background(), "author"))
	require.Len(t, loader.calls, 1)
}

func TestFlushIdempotentWithNoPendingKeys(t *testing.T) {
	loader := echoLoader()
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", loader.fetch))
	b := New(reg)

	require.NoError(t, b.Flush(context.Background(), "author"))
	require.Empty(t, loader.calls)

	_, err := b.Load("author", "1")
	require.NoError(t, err)
	require.NoError(t, b.Flush(context.Background(), "author"))
	require.NoError(t, b.Flush(context.Background(), "author"))
	require.Len(t, loader.calls, 1)
}

func TestContractViolationScopedToMissingKeys(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("posts", func(ctx context.Context, keys []string) (map[string]Result, error) {
		out := make(map[string]Result)
		for _, k := range keys {
			if k == "8" || k == "9" {
				continue // simulate a loader dropping entries
			}
			out[k] = Result{Value: "post:" + k}
		}
		return out, nil
	}))
	b := New(reg)

	thunks := make(map[string]*Thunk)
	for i := 0; i < 10; i++ {
		key := fmt.Sprint(i)
		th, err := b.Load("posts", key)
		require.NoError(t, err)
		thunks[key] = th
	}
	require.NoError(t, b.Flush(context.Background(), "posts"))

	for key, th := range thunks {
		v, err := th.Value()
		if key == "8" || key == "9" {
			var cv *ContractViolationError
			require.ErrorAs(t, err, &cv)
			require.Equal(t, "posts", cv.BatchKey)
			require.Equal(t, key, cv.LookupKey)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, "post:"+key, v)
	}
}

func TestFetchErrorRecordedForEveryKey(t *testing.T) {
	boom := errors.New("backend down")
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", func(ctx context.Context, keys []string) (map[string]Result, error) {
		return nil, boom
	}))
	b := New(reg)

	t1, err := b.Load("author", "1")
	require.NoError(t, err)
	t2, err := b.Load("author", "2")
	require.NoError(t, err)

	require.ErrorIs(t, b.Flush(context.Background(), "author"), boom)
	_, err = t1.Value()
	require.ErrorIs(t, err, boom)
	_, err = t2.Value()
	require.ErrorIs(t, err, boom)

	// The failure is cached like any other outcome.
	th, err := b.Load("author", "1")
	require.NoError(t, err)
	_, err = th.Value()
	require.ErrorIs(t, err, boom)
}

func TestFetchPanicContained(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("author", func(ctx context.Context, keys []string) (map[string]Result, error) {
		panic("loader bug")
	}))
	b := New(reg)

	th, err := b.Load("author", "1")
	require.NoError(t, err)
	require.Error(t, b.Flush(context.Background(), "author"))
	_, err = th.Value()
	require.Error(t, err)
	require.Contains(t, err.Error(), "loader bug")
}

func TestPendingBatchKeysFirstTouchOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("b", echoLoader().fetch))
	require.NoError(t, reg.Register("a", echoLoader().fetch))
	b := New(reg)

	_, err := b.Load("b", "1")
	require.NoError(t, err)
	_, err = b.Load("a", "1")
	require.NoError(t, err)
	_, err = b.Load("b", "2")
	require.NoError(t, err)

	require.Equal(t, []string{"b", "a"}, b.PendingBatchKeys())
	require.NoError(t, b.Flush(context.Background(), "b"))
	require.Equal(t, []string{"a"}, b.PendingBatchKeys())
}
