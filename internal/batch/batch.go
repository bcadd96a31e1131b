// Package batch coalesces individual keyed lookups issued during one
// execution pass into grouped fetches, one per batch key per depth, and
// caches results for the remainder of the pass.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	eventbus "github.com/gqlbatch/gqlbatch/internal/eventbus"
	events "github.com/gqlbatch/gqlbatch/internal/events"
)

// Result is the outcome of one lookup key within a grouped fetch.
type Result struct {
	Value any
	Err   error
}

// FetchFunc is the grouped fetch contract a batch loader must satisfy: given
// the distinct pending lookup keys in first-request order, return an entry
// for every requested key. Keys missing from the returned map surface as
// ContractViolationError for those keys only.
type FetchFunc func(ctx context.Context, keys []string) (map[string]Result, error)

// UnknownBatchKeyError reports a lookup against a batch key with no
// registered loader.
type UnknownBatchKeyError struct {
	BatchKey string
}

func (e *UnknownBatchKeyError) Error() string {
	return fmt.Sprintf("no batch loader registered for %q", e.BatchKey)
}

// ContractViolationError reports a grouped fetch that returned no entry for
// a requested lookup key.
type ContractViolationError struct {
	BatchKey  string
	LookupKey string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("batch loader %q returned no result for key %q", e.BatchKey, e.LookupKey)
}

// ErrUnresolvedThunk is returned when a thunk is read before its batch key
// has been flushed. It indicates a scheduling bug in the caller, not a data
// error.
var ErrUnresolvedThunk = errors.New("batch: thunk read before flush")

// Registry maps batch keys to their grouped fetch functions. It is populated
// at startup and shared read-only by all passes.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]FetchFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]FetchFunc)}
}

// Register binds fn to batchKey. At most one loader per batch key.
func (r *Registry) Register(batchKey string, fn FetchFunc) error {
	if fn == nil {
		return fmt.Errorf("batch: nil fetch func for %q", batchKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fetchers[batchKey]; exists {
		return fmt.Errorf("batch: loader already registered for %q", batchKey)
	}
	r.fetchers[batchKey] = fn
	return nil
}

func (r *Registry) fetcher(batchKey string) (FetchFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fetchers[batchKey]
	return fn, ok
}

// Thunk is the handle for one deferred lookup. It resolves when its batch
// key is flushed; all requesters of the same (batch key, lookup key) pair
// share the resolved value or error.
type Thunk struct {
	resolved bool
	value    any
	err      error
}

// Value returns the resolved value or error. Reading an unresolved thunk
// returns ErrUnresolvedThunk.
func (t *Thunk) Value() (any, error) {
	if !t.resolved {
		return nil, ErrUnresolvedThunk
	}
	return t.value, t.err
}

func (t *Thunk) resolve(res Result) {
	t.resolved = true
	t.value = res.Value
	t.err = res.Err
}

type cacheKey struct {
	batchKey  string
	lookupKey string
}

// pendingGroup holds one batch key's queued lookups since its last flush.
type pendingGroup struct {
	keys    []string // distinct, first-request order
	waiters map[string][]*Thunk
}

// Batcher accumulates lookups for one execution pass. It is owned and
// mutated by that pass's single logical thread of control; it must not be
// shared across passes.
type Batcher struct {
	reg     *Registry
	cache   map[cacheKey]Result
	pending map[string]*pendingGroup
	order   []string // batch keys with pending work, first-touch order
}

// New creates a Batcher scoped to one pass over the given registry.
func New(reg *Registry) *Batcher {
	return &Batcher{
		reg:     reg,
		cache:   make(map[cacheKey]Result),
		pending: make(map[string]*pendingGroup),
	}
}

// Load requests the value for lookupKey from batchKey's loader. A cached
// pair resolves immediately without queueing new work; otherwise the lookup
// is queued (deduplicated) for the next flush of batchKey.
func (b *Batcher) Load(batchKey, lookupKey string) (*Thunk, error) {
	if _, ok := b.reg.fetcher(batchKey); !ok {
		return nil, &UnknownBatchKeyError{BatchKey: batchKey}
	}
	if res, ok := b.cache[cacheKey{batchKey, lookupKey}]; ok {
		t := &Thunk{}
		t.resolve(res)
		return t, nil
	}

	group := b.pending[batchKey]
	if group == nil {
		group = &pendingGroup{waiters: make(map[string][]*Thunk)}
		b.pending[batchKey] = group
		b.order = append(b.order, batchKey)
	}
	if _, queued := group.waiters[lookupKey]; !queued {
		group.keys = append(group.keys, lookupKey)
	}
	t := &Thunk{}
	group.waiters[lookupKey] = append(group.waiters[lookupKey], t)
	return t, nil
}

// PendingBatchKeys returns the batch keys with queued lookups, in the order
// they were first touched since their last flush.
func (b *Batcher) PendingBatchKeys() []string {
	return append([]string(nil), b.order...)
}

// Flush drains batchKey's pending lookups and invokes its fetch function
// once with the distinct keys. Results are cached and every waiting thunk is
// resolved, duplicates included. With nothing pending the call is a no-op.
//
// A fetch-level error (or panic) resolves every key in the flush with that
// error; it is also returned. Per-key contract violations resolve only the
// missing keys and do not produce a non-nil return.
func (b *Batcher) Flush(ctx context.Context, batchKey string) error {
	group := b.pending[batchKey]
	if group == nil || len(group.keys) == 0 {
		return nil
	}
	delete(b.pending, batchKey)
	for i, k := range b.order {
		if k == batchKey {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}

	fn, ok := b.reg.fetcher(batchKey)
	if !ok {
		// Load already validated the key; a vanished loader is a wiring bug.
		return &UnknownBatchKeyError{BatchKey: batchKey}
	}

	eventbus.Publish(ctx, events.FlushStart{BatchKey: batchKey, KeyCount: len(group.keys)})
	start := time.Now()
	results, err := safeFetch(ctx, fn, group.keys)
	eventbus.Publish(ctx, events.FlushFinish{
		BatchKey: batchKey,
		KeyCount: len(group.keys),
		Duration: time.Since(start),
		Err:      err,
	})

	for _, key := range group.keys {
		var res Result
		switch {
		case err != nil:
			res = Result{Err: err}
		default:
			var ok bool
			res, ok = results[key]
			if !ok {
				res = Result{Err: &ContractViolationError{BatchKey: batchKey, LookupKey: key}}
			}
		}
		b.cache[cacheKey{batchKey, key}] = res
		for _, t := range group.waiters[key] {
			t.resolve(res)
		}
	}
	return err
}

// safeFetch invokes fn, converting a panic into a fetch-level error so a
// failing data source cannot take down the pass.
func safeFetch(ctx context.Context, fn FetchFunc, keys []string) (results map[string]Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			results = nil
			err = fmt.Errorf("batch: fetch panic: %v", p)
		}
	}()
	return fn(ctx, keys)
}
