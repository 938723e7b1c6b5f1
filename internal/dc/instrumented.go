package dc

import (
	"context"

	"github.com/italolelis/downloadhub/internal/telemetry"
)

// InstrumentedEngine wraps an Engine with tracing and operation metrics.
type InstrumentedEngine struct {
	engine    Engine
	telemetry *telemetry.Telemetry
}

// NewInstrumentedEngine creates a new instrumented engine.
func NewInstrumentedEngine(engine Engine, tel *telemetry.Telemetry) *InstrumentedEngine {
	return &InstrumentedEngine{engine: engine, telemetry: tel}
}

var _ Engine = (*InstrumentedEngine)(nil)

func (e *InstrumentedEngine) IsEnabled() bool {
	return e.engine.IsEnabled()
}

func (e *InstrumentedEngine) IsConnected() bool {
	return e.engine.IsConnected()
}

func (e *InstrumentedEngine) Login(ctx context.Context) bool {
	return e.telemetry.InstrumentEngineOperation(ctx, "login", e.engine.Login)
}

func (e *InstrumentedEngine) AddJob(ctx context.Context, uri, savePath string) (string, bool) {
	var hash string

	ok := e.telemetry.InstrumentEngineOperation(ctx, "add", func(ctx context.Context) bool {
		var ok bool
		hash, ok = e.engine.AddJob(ctx, uri, savePath)

		return ok
	})

	return hash, ok
}

func (e *InstrumentedEngine) ListJobs(ctx context.Context) []Job {
	var jobs []Job

	// an empty listing is indistinguishable from a failed one, so it always counts as success
	e.telemetry.InstrumentEngineOperation(ctx, "list", func(ctx context.Context) bool {
		jobs = e.engine.ListJobs(ctx)

		return true
	})

	return jobs
}

func (e *InstrumentedEngine) ListJobFiles(ctx context.Context, hash string) []JobFile {
	var files []JobFile

	e.telemetry.InstrumentEngineOperation(ctx, "list_files", func(ctx context.Context) bool {
		files = e.engine.ListJobFiles(ctx, hash)

		return true
	})

	return files
}

func (e *InstrumentedEngine) Pause(ctx context.Context, hash string) bool {
	return e.telemetry.InstrumentEngineOperation(ctx, "pause", func(ctx context.Context) bool {
		return e.engine.Pause(ctx, hash)
	})
}

func (e *InstrumentedEngine) Resume(ctx context.Context, hash string) bool {
	return e.telemetry.InstrumentEngineOperation(ctx, "resume", func(ctx context.Context) bool {
		return e.engine.Resume(ctx, hash)
	})
}

func (e *InstrumentedEngine) Remove(ctx context.Context, hash string, deleteFiles bool) bool {
	return e.telemetry.InstrumentEngineOperation(ctx, "remove", func(ctx context.Context) bool {
		return e.engine.Remove(ctx, hash, deleteFiles)
	})
}
