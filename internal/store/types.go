package store

import (
	"context"
	"time"
)

// RunRecord is the persisted aggregate of one batch run. Individual
// responses are not stored; they belong to the caller.
type RunRecord struct {
	ID             string
	Provider       string
	Model          string
	Total          int
	Success        int
	Fail           int
	Retries        int
	TotalLatencyMs int64
	WallMs         int64
	CreatedAt      time.Time
}

// Store persists batch run history.
type Store interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
