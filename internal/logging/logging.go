// Package logging attaches a structured logger to the event bus, recording
// pass and flush lifecycle alongside HTTP traffic.
package logging

import (
	"context"

	abstractlogger "github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"

	eventbus "github.com/gqlbatch/gqlbatch/internal/eventbus"
	events "github.com/gqlbatch/gqlbatch/internal/events"
	reqid "github.com/gqlbatch/gqlbatch/internal/reqid"
)

// NewZap builds an abstractlogger backed by zap. With debug enabled the
// development config and debug level are used.
func NewZap(debug bool) (abstractlogger.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	level := abstractlogger.InfoLevel
	if debug {
		l, err = zap.NewDevelopmentConfig().Build()
		level = abstractlogger.DebugLevel
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return abstractlogger.NewZapLogger(l, level), nil
}

// Attach subscribes log to the event bus and returns a detach function.
func Attach(log abstractlogger.Logger) (detach func()) {
	if log == nil {
		log = abstractlogger.NoopLogger
	}
	var unsubs []func()
	sub := func(u func()) { unsubs = append(unsubs, u) }

	sub(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		log.Info("http request",
			abstractlogger.String("method", e.Request.Method),
			abstractlogger.String("path", e.Request.URL.Path),
			abstractlogger.Int("status", e.Status),
			abstractlogger.Any("duration", e.Duration),
			abstractlogger.Any("request_id", rid),
		)
	}))

	sub(eventbus.Subscribe(func(ctx context.Context, e events.PassStart) {
		rid, _ := reqid.FromContext(ctx)
		log.Debug("pass start",
			abstractlogger.String("root_type", e.RootType),
			abstractlogger.Int("root_fields", e.FieldCount),
			abstractlogger.Any("request_id", rid),
		)
	}))

	sub(eventbus.Subscribe(func(ctx context.Context, e events.PassFinish) {
		rid, _ := reqid.FromContext(ctx)
		log.Debug("pass finish",
			abstractlogger.String("root_type", e.RootType),
			abstractlogger.Int("errors", e.ErrorCount),
			abstractlogger.Any("duration", e.Duration),
			abstractlogger.Any("request_id", rid),
		)
	}))

	sub(eventbus.Subscribe(func(ctx context.Context, e events.FlushStart) {
		rid, _ := reqid.FromContext(ctx)
		log.Debug("flush start",
			abstractlogger.String("batch_key", e.BatchKey),
			abstractlogger.Int("keys", e.KeyCount),
			abstractlogger.Any("request_id", rid),
		)
	}))

	sub(eventbus.Subscribe(func(ctx context.Context, e events.FlushFinish) {
		rid, _ := reqid.FromContext(ctx)
		if e.Err != nil {
			log.Error("flush failed",
				abstractlogger.String("batch_key", e.BatchKey),
				abstractlogger.Int("keys", e.KeyCount),
				abstractlogger.Error(e.Err),
				abstractlogger.Any("request_id", rid),
			)
			return
		}
		log.Debug("flush finish",
			abstractlogger.String("batch_key", e.BatchKey),
			abstractlogger.Int("keys", e.KeyCount),
			abstractlogger.Any("duration", e.Duration),
			abstractlogger.Any("request_id", rid),
		)
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
