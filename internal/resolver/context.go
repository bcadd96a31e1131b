package resolver

import "context"

// storeKey is the context key for the request-scoped store.
type storeKey struct{}

// NewContext returns a copy of parent carrying store for resolvers to read.
// Injecting the store through the context replaces process-wide mutable
// state; each embedding application decides the store's concrete type.
func NewContext(parent context.Context, store any) context.Context {
	return context.WithValue(parent, storeKey{}, store)
}

// StoreFrom extracts the store placed by NewContext, or nil.
func StoreFrom(ctx context.Context) any {
	return ctx.Value(storeKey{})
}
