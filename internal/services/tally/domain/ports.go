package domain

import (
	"context"

	gha "gharchive/internal/adapters/ingest/gharchive"
)

// RunnerPort is what the CLI calls
type RunnerPort interface {
	Tally(ctx context.Context, req Request) (Report, error)
}

// EventSource is the pull surface of a gharchive.Source
type EventSource interface {
	Next(ctx context.Context) (gha.Event, error)
	Stats() gha.Stats
	Close() error
}

// SourceFactory builds sources for a target or one sub-range of it
type SourceFactory interface {
	Open(t Target) (EventSource, error)
	OpenRange(r gha.Range) (EventSource, error)
}
