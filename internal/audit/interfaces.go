package audit

import (
	"context"
	"time"
)

// StateStore persists the event state table used by the debounce gate.
// LoadTable returns the whole table; SaveTable replaces it.
type StateStore interface {
	LoadTable(ctx context.Context) (EventStateTable, error)
	SaveTable(ctx context.Context, table EventStateTable) error
}

// Sink accepts encoded dispatch messages for later redelivery.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
}

// Auditor executes one page audit and returns a structured report.
type Auditor interface {
	Audit(ctx context.Context, req Request) (Report, error)
}

// ReportStore writes raw audit artifacts and returns a URI.
type ReportStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ResultStore appends one row per completed admitted run.
type ResultStore interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// TargetSource produces the ordered target catalog.
type TargetSource interface {
	Targets(ctx context.Context) ([]Target, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch and run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
