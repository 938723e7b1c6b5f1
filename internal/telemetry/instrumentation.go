package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed metrics, so keep them bounded: operation names, component names and
// status values only. Download IDs, hashes, file paths and error text belong in logs.

const (
	statusSuccess = "success"
	statusError   = "error"
)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", statusOf(err)))

	return err
}

// InstrumentDBOperation traces a database call and records its duration.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentEngineOperation traces a torrent engine call. The engine client reports failure as
// a boolean, so fn returns ok and the span is marked failed when ok is false.
func (t *Telemetry) InstrumentEngineOperation(ctx context.Context, operation string, fn func(ctx context.Context) bool) bool {
	if t == nil {
		return fn(ctx)
	}

	ok := true

	_ = t.InstrumentOperation(ctx, "engine_"+operation, "torrent_engine", func(ctx context.Context) error {
		if ok = fn(ctx); !ok {
			return errEngineCallFailed
		}

		return nil
	})

	status := statusSuccess
	if !ok {
		status = statusError
	}

	t.RecordEngineOperation(ctx, operation, status)

	return ok
}

// InstrumentTick traces a reconciliation tick. skipped reports a tick that did nothing because
// the engine is disabled or disconnected.
func (t *Telemetry) InstrumentTick(ctx context.Context, fn func(ctx context.Context) (skipped bool, err error)) error {
	start := time.Now()

	var skipped bool

	err := t.InstrumentOperation(ctx, "reconcile_tick", "reconciler", func(ctx context.Context) error {
		var err error
		skipped, err = fn(ctx)

		return err
	})

	status := statusOf(err)
	if err == nil && skipped {
		status = "skipped"
	}

	t.RecordReconcileTick(ctx, status, time.Since(start))

	return err
}

var errEngineCallFailed = errors.New("torrent engine call failed")

func statusOf(err error) string {
	if err != nil {
		return statusError
	}

	return statusSuccess
}
