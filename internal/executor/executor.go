package executor

import (
	"context"
	"fmt"
	"time"

	batch "github.com/gqlbatch/gqlbatch/internal/batch"
	eventbus "github.com/gqlbatch/gqlbatch/internal/eventbus"
	events "github.com/gqlbatch/gqlbatch/internal/events"
	resolver "github.com/gqlbatch/gqlbatch/internal/resolver"
	selection "github.com/gqlbatch/gqlbatch/internal/selection"
)

// DefaultRootType is the type name root selections resolve against unless
// overridden with WithRootType.
const DefaultRootType = "Query"

// Executor drives execution passes against a resolver registry and a batch
// loader registry. It is safe for concurrent use; every Execute call owns a
// fresh pass with its own batcher and cache.
type Executor struct {
	resolvers *resolver.Registry
	loaders   *batch.Registry
	rootType  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithRootType sets the type name for top-level fields.
func WithRootType(name string) Option {
	return func(e *Executor) { e.rootType = name }
}

// New creates an Executor over the given registries.
func New(resolvers *resolver.Registry, loaders *batch.Registry, opts ...Option) *Executor {
	e := &Executor{resolvers: resolvers, loaders: loaders, rootType: DefaultRootType}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// passState tracks where a pass is in its per-depth cycle.
type passState int

const (
	stateWalking passState = iota
	stateAwaitingFlush
	stateAssembling
	stateDone
)

// fieldNode is one field instance awaiting resolution: its selection, the
// type owning the field, the parent value, the output map it writes into,
// and its response path.
type fieldNode struct {
	sel      *selection.Node
	typeName string
	source   any
	out      *OrderedMap
	path     Path
}

// resolvedField pairs a field with its terminal outcome. err is set only
// for infrastructure failures (missing resolver, unknown batch key, batch
// fetch failures); application errors travel inside res.
type resolvedField struct {
	node fieldNode
	res  resolver.Result
	err  error
}

// pendingField is a field suspended on a batch lookup until the flush point.
type pendingField struct {
	node     fieldNode
	thunk    *batch.Thunk
	typeName string
	object   bool
}

type pass struct {
	exec    *Executor
	batcher *batch.Batcher
	state   passState
	errors  []FieldError
}

// Execute runs one pass over the selection tree. Field-level failures are
// collected into the Result; the returned error is non-nil only for
// cancellation or when no root field was resolvable (RootFailureError).
func (e *Executor) Execute(ctx context.Context, sels []*selection.Node, rootValue any) (*Result, error) {
	p := &pass{exec: e, batcher: batch.New(e.loaders), errors: []FieldError{}}
	data := NewOrderedMap()
	frontier := make([]fieldNode, 0, len(sels))
	for _, s := range sels {
		frontier = append(frontier, fieldNode{
			sel:      s,
			typeName: e.rootType,
			source:   rootValue,
			out:      data,
			path:     Path{s.ResponseName()},
		})
	}

	eventbus.Publish(ctx, events.PassStart{RootType: e.rootType, FieldCount: len(sels)})
	start := time.Now()
	res, err := p.run(ctx, frontier, data)
	finish := events.PassFinish{
		RootType:   e.rootType,
		FieldCount: len(sels),
		ErrorCount: len(p.errors),
		Duration:   time.Since(start),
	}
	eventbus.Publish(ctx, finish)
	return res, err
}

func (p *pass) run(ctx context.Context, frontier []fieldNode, data *OrderedMap) (*Result, error) {
	depth := 0
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, unresolvable, err := p.runDepth(ctx, frontier)
		if err != nil {
			return nil, err
		}
		if depth == 0 && unresolvable == len(frontier) {
			return nil, &RootFailureError{Errors: p.errors}
		}
		frontier = next
		depth++
	}
	p.state = stateDone
	return &Result{Data: data, Errors: p.errors}, nil
}

// runDepth takes every field at one depth to a terminal value or error and
// returns the next depth's frontier. unresolvable counts fields that failed
// before their resolver could produce an outcome.
func (p *pass) runDepth(ctx context.Context, frontier []fieldNode) (next []fieldNode, unresolvable int, err error) {
	p.state = stateWalking
	resolved := make([]resolvedField, 0, len(frontier))
	var pending []pendingField
	for _, fn := range frontier {
		// Reserve the output slot now so mixed sync/deferred siblings keep
		// request order.
		fn.out.Set(fn.sel.ResponseName(), nil)

		res, rerr := p.exec.resolvers.Resolve(ctx, fn.typeName, fn.sel.Field, fn.source, fn.sel.Arguments)
		if rerr != nil {
			resolved = append(resolved, resolvedField{node: fn, err: rerr})
			continue
		}
		switch res.Kind() {
		case resolver.KindDeferred, resolver.KindDeferredObject:
			batchKey, lookupKey := res.Deferred()
			thunk, lerr := p.batcher.Load(batchKey, lookupKey)
			if lerr != nil {
				resolved = append(resolved, resolvedField{node: fn, err: lerr})
				continue
			}
			pending = append(pending, pendingField{
				node:     fn,
				thunk:    thunk,
				typeName: res.TypeName(),
				object:   res.Kind() == resolver.KindDeferredObject,
			})
		default:
			resolved = append(resolved, resolvedField{node: fn, res: res})
		}
	}

	if len(pending) > 0 {
		p.state = stateAwaitingFlush
		for _, batchKey := range p.batcher.PendingBatchKeys() {
			if cerr := ctx.Err(); cerr != nil {
				return nil, 0, cerr
			}
			// Fetch-level failures reach each field through its thunk.
			_ = p.batcher.Flush(ctx, batchKey)
		}
		for _, pf := range pending {
			v, terr := pf.thunk.Value()
			switch {
			case terr != nil:
				resolved = append(resolved, resolvedField{node: pf.node, err: terr})
			case pf.object:
				if v == nil {
					resolved = append(resolved, resolvedField{node: pf.node, res: resolver.NotFound()})
				} else {
					resolved = append(resolved, resolvedField{node: pf.node, res: resolver.Object(pf.typeName, v)})
				}
			default:
				resolved = append(resolved, resolvedField{node: pf.node, res: resolver.Value(v)})
			}
		}
	}

	p.state = stateAssembling
	for _, rf := range resolved {
		if rf.err != nil {
			p.addError(rf.err.Error(), rf.node.path)
			unresolvable++
			continue
		}
		next = append(next, p.assemble(rf.node, rf.res)...)
	}
	return next, unresolvable, nil
}

// assemble writes one terminal outcome into the output tree and returns the
// child fields it opens for the next depth.
func (p *pass) assemble(fn fieldNode, res resolver.Result) []fieldNode {
	name := fn.sel.ResponseName()
	switch res.Kind() {
	case resolver.KindNotFound:
		fn.out.Set(name, nil)

	case resolver.KindError:
		p.addError(res.Err().Error(), fn.path)
		fn.out.Set(name, nil)

	case resolver.KindValue, resolver.KindList:
		if len(fn.sel.Children) > 0 {
			p.addError(fmt.Sprintf("field %s.%s resolved to a leaf but has sub-selections", fn.typeName, fn.sel.Field), fn.path)
			fn.out.Set(name, nil)
			return nil
		}
		fn.out.Set(name, res.Value())

	case resolver.KindObject:
		if res.Value() == nil {
			fn.out.Set(name, nil)
			return nil
		}
		if len(fn.sel.Children) == 0 {
			p.addError(fmt.Sprintf("object field %s.%s requires sub-selections", fn.typeName, fn.sel.Field), fn.path)
			fn.out.Set(name, nil)
			return nil
		}
		child := NewOrderedMap()
		fn.out.Set(name, child)
		return childFrontier(fn.sel.Children, res.TypeName(), res.Value(), child, fn.path)

	case resolver.KindObjectList:
		if len(fn.sel.Children) == 0 {
			p.addError(fmt.Sprintf("object field %s.%s requires sub-selections", fn.typeName, fn.sel.Field), fn.path)
			fn.out.Set(name, nil)
			return nil
		}
		items, ok := res.Value().([]any)
		if !ok && res.Value() != nil {
			p.addError(fmt.Sprintf("field %s.%s: object list value must be []any, got %T", fn.typeName, fn.sel.Field, res.Value()), fn.path)
			fn.out.Set(name, nil)
			return nil
		}
		out := make([]any, len(items))
		var next []fieldNode
		for i, item := range items {
			if item == nil {
				continue
			}
			elem := NewOrderedMap()
			out[i] = elem
			elemPath := appendPath(fn.path, i)
			next = append(next, childFrontier(fn.sel.Children, res.TypeName(), item, elem, elemPath)...)
		}
		fn.out.Set(name, out)
		return next
	}
	return nil
}

func childFrontier(children []*selection.Node, typeName string, source any, out *OrderedMap, parentPath Path) []fieldNode {
	nodes := make([]fieldNode, 0, len(children))
	for _, c := range children {
		nodes = append(nodes, fieldNode{
			sel:      c,
			typeName: typeName,
			source:   source,
			out:      out,
			path:     appendPath(parentPath, c.ResponseName()),
		})
	}
	return nodes
}

func appendPath(path Path, elem any) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

func (p *pass) addError(message string, path Path) {
	p.errors = append(p.errors, FieldError{Message: message, Path: path})
}
