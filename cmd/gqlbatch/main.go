package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gqlbatch/gqlbatch/internal/batch"
	"github.com/gqlbatch/gqlbatch/internal/eventbus"
	"github.com/gqlbatch/gqlbatch/internal/executor"
	"github.com/gqlbatch/gqlbatch/internal/logging"
	"github.com/gqlbatch/gqlbatch/internal/otel"
	"github.com/gqlbatch/gqlbatch/internal/resolver"
	"github.com/gqlbatch/gqlbatch/internal/server"
)

const rootUsage = `gqlbatch — batched resolver execution over HTTP

USAGE:
  gqlbatch <command> [flags]

COMMANDS:
  serve            Run the HTTP endpoint backed by the demo bookstore
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>        HTTP listen address (default: :8080)
  -server.pretty             Pretty-print JSON responses
  -server.timeout <duration> Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body <bytes>   Max request body size (default: 1048576)
  -log.debug                 Verbose structured logging
  -otel.endpoint <addr>      OTLP collector endpoint
  -otel.service <name>       OpenTelemetry service name (default: gqlbatch)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("gqlbatch", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	debug := false
	otelEndpoint := ""
	otelService := "gqlbatch"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body", maxBody, "Max request body size")
	fs.BoolVar(&debug, "log.debug", debug, "Verbose structured logging")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	logger, err := logging.NewZap(debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	detach := logging.Attach(logger)
	defer detach()

	resolvers, loaders, store, err := buildBookstore()
	if err != nil {
		return err
	}

	exec := executor.New(resolvers, loaders)
	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if maxBody > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(maxBody))
	}
	handler := server.New(exec, sopts...)

	mux := http.NewServeMux()
	mux.Handle("/graphql", withStore(store, handler))

	srv := &http.Server{Addr: addr, Handler: mux}
	fmt.Printf("listening on %s\n", addr)
	return srv.ListenAndServe()
}

// withStore injects the bookstore into every request context so resolvers
// read it via resolver.StoreFrom instead of package-level state.
func withStore(store *bookStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := resolver.NewContext(r.Context(), store)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ------------------ Demo bookstore ------------------

type book struct {
	ID       string
	Title    string
	AuthorID string
}

type author struct {
	ID   string
	Name string
}

type bookStore struct {
	books   map[string]book
	order   []string
	authors map[string]author
}

func storeFrom(ctx context.Context) *bookStore {
	s, _ := resolver.StoreFrom(ctx).(*bookStore)
	return s
}

func buildBookstore() (*resolver.Registry, *batch.Registry, *bookStore, error) {
	store := &bookStore{
		books: map[string]book{
			"1": {ID: "1", Title: "The Left Hand of Darkness", AuthorID: "a1"},
			"2": {ID: "2", Title: "The Dispossessed", AuthorID: "a1"},
			"3": {ID: "3", Title: "Solaris", AuthorID: "a2"},
		},
		order: []string{"1", "2", "3"},
		authors: map[string]author{
			"a1": {ID: "a1", Name: "Ursula K. Le Guin"},
			"a2": {ID: "a2", Name: "Stanisław Lem"},
		},
	}

	resolvers := resolver.NewRegistry()
	loaders := batch.NewRegistry()

	reg := func(typeName, field string, fn resolver.Func) error {
		return resolvers.Register(typeName, field, fn)
	}
	steps := []error{
		reg("Query", "books", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			s := storeFrom(ctx)
			if s == nil {
				return resolver.Errorf("store not configured")
			}
			items := make([]any, 0, len(s.order))
			for _, id := range s.order {
				items = append(items, s.books[id])
			}
			return resolver.ObjectList("Book", items)
		}),
		reg("Query", "book", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			s := storeFrom(ctx)
			if s == nil {
				return resolver.Errorf("store not configured")
			}
			id, _ := args["id"].(string)
			b, ok := s.books[id]
			if !ok {
				return resolver.Errorf("Book with ID %s not found", id)
			}
			return resolver.Object("Book", b)
		}),
		reg("Book", "id", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			return resolver.Value(parent.(book).ID)
		}),
		reg("Book", "title", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			return resolver.Value(parent.(book).Title)
		}),
		reg("Book", "author", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			return resolver.DeferredObject("author", parent.(book).AuthorID, "Author")
		}),
		reg("Author", "id", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			return resolver.Value(parent.(author).ID)
		}),
		reg("Author", "name", func(ctx context.Context, parent any, args map[string]any) resolver.Result {
			return resolver.Value(parent.(author).Name)
		}),
	}
	for _, err := range steps {
		if err != nil {
			return nil, nil, nil, err
		}
	}

	err := loaders.Register("author", func(ctx context.Context, keys []string) (map[string]batch.Result, error) {
		s := storeFrom(ctx)
		if s == nil {
			return nil, fmt.Errorf("store not configured")
		}
		out := make(map[string]batch.Result, len(keys))
		for _, key := range keys {
			a, ok := s.authors[key]
			if !ok {
				out[key] = batch.Result{Err: fmt.Errorf("author %s not found", key)}
				continue
			}
			out[key] = batch.Result{Value: a}
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return resolvers, loaders, store, nil
}
