// Package events defines the typed payloads published on the event bus by
// the server, the executor, and the key batcher.
package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when an HTTP request is received.
// Context carries the request context.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// PassStart is emitted before an execution pass begins walking its
// selection tree.
type PassStart struct {
	RootType   string
	FieldCount int
}

// PassFinish is emitted after an execution pass completes.
type PassFinish struct {
	RootType   string
	FieldCount int
	ErrorCount int
	Duration   time.Duration
}

// FlushStart is emitted before a batch key's pending lookups are handed to
// its grouped fetch function.
type FlushStart struct {
	BatchKey string
	KeyCount int
}

// FlushFinish is emitted after the grouped fetch returns. Err is the
// fetch-level failure, if any; per-key misses are not reported here.
type FlushFinish struct {
	BatchKey string
	KeyCount int
	Duration time.Duration
	Err      error
}
