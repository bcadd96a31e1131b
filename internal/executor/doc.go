// Package executor drives a single request's resolution: it walks the
// selection tree breadth-first, resolves each field through the resolver
// registry, and coalesces deferred lookups through the batch package so that
// siblings sharing a batch key cost one grouped fetch instead of one each.
//
// # Execution model
//
// A pass cycles through four states per depth:
//
//	Walking        every field at the current depth is resolved. Terminal
//	               outcomes (values, objects, not-found, application errors)
//	               are held for assembly; deferred outcomes register a
//	               pending lookup with the pass's batcher and suspend.
//	AwaitingFlush  entered only when at least one field at the depth
//	               deferred. Every distinct batch key touched at this depth
//	               is flushed once, in first-touch order; suspended fields
//	               then read their resolved thunks, which is a cache hit by
//	               construction.
//	Assembling     outcomes are written into the ordered output tree in
//	               request order, and children of object-valued fields form
//	               the next depth's frontier.
//	Done           no frontier remains.
//
// A child field is never resolved before its parent's value is available;
// within a depth, batching is breadth-first, which is what guarantees the
// anti-N+1 property: N sibling lookups against one batch key produce exactly
// one grouped fetch at that depth.
//
// # Errors and partial success
//
// Failures are field-scoped: a missing resolver, an application error, or a
// batch contract violation nulls its own field and is recorded as a located
// error while siblings and ancestors proceed. The only pass-fatal outcomes
// are cancellation and RootFailureError, raised when not a single top-level
// field was resolvable.
//
// # Ownership
//
// Each pass owns its selection tree, its batcher, and its cache; nothing is
// shared across passes, so concurrent Execute calls need no coordination.
package executor
