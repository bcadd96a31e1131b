// Package server exposes the execution core over HTTP. It parses GraphQL
// requests, runs one execution pass per operation, and renders spec-shaped
// JSON responses with the data tree in request order.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/gqlbatch/gqlbatch/internal/eventbus"
	events "github.com/gqlbatch/gqlbatch/internal/events"
	executor "github.com/gqlbatch/gqlbatch/internal/executor"
	reqid "github.com/gqlbatch/gqlbatch/internal/reqid"
	selection "github.com/gqlbatch/gqlbatch/internal/selection"
)

// Handler is an http.Handler serving the execution core.
type Handler struct {
	exec *executor.Executor
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// RootValue is passed to every pass as the root fields' parent value.
	RootValue any
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithRootValue(v any) Option { return func(o *Options) { o.RootValue = v } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates an HTTP handler around the given executor.
func New(exec *executor.Executor, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	req, batchReqs, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != "" {
		status = http.StatusBadRequest
		if perr == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(perr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batchReqs != nil {
		out := make([]any, len(batchReqs))
		for i := range batchReqs {
			out[i] = h.executeOne(ctx, batchReqs[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	writeJSON(w, status, h.executeOne(ctx, req), h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, req Request) any {
	if len(req.Variables) > 0 {
		return errorResponse("variables are not supported; inline argument literals instead")
	}
	sels, err := selection.Parse(req.Query)
	if err != nil {
		return errorResponse(err.Error())
	}

	result, err := h.exec.Execute(ctx, sels, h.opt.RootValue)
	if err != nil {
		var rf *executor.RootFailureError
		if errors.As(err, &rf) {
			return specResult{Data: nil, Errors: specErrors(rf.Errors)}
		}
		return errorResponse(err.Error())
	}
	return specResult{Data: result.Data, Errors: specErrors(result.Errors)}
}

// ------------------ Request parsing ------------------

type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (Request, []Request, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return Request{}, nil, "missing 'query'"
		}
		return Request{Query: q}, nil, ""
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return Request{}, nil, "failed to read body"
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return Request{}, nil, errBodyTooLargeMessage
		}

		// Try array (batch)
		if len(body) > 0 && body[0] == '[' {
			var arr []Request
			if err := json.Unmarshal(body, &arr); err != nil {
				return Request{}, nil, "invalid JSON"
			}
			if len(arr) == 0 {
				return Request{}, nil, "empty batch"
			}
			return Request{}, arr, ""
		}
		// Single
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return Request{}, nil, "invalid JSON"
		}
		if req.Query == "" {
			return Request{}, nil, "missing 'query'"
		}
		return req, nil, ""
	}

	return Request{}, nil, "unsupported Content-Type"
}

// ------------------ Response formatting ------------------

type specError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

func errorResponse(message string) specResult {
	return specResult{Data: nil, Errors: []specError{{Message: message}}}
}

func specErrors(errs []executor.FieldError) []specError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]specError, len(errs))
	for i, e := range errs {
		out[i] = specError{Message: e.Message, Path: e.Path}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowed = true
			wildcard = true
		}
		if o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
