package domain

import (
	"context"
	"sync/atomic"
	"time"
)

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
	BatchFailed    BatchStatus = "failed"
)

// Batch represents one run of the downloader against a table.
type Batch struct {
	ID        string      `json:"id"`
	TableID   string      `json:"table_id"`
	Status    BatchStatus `json:"status"`
	OutputDir string      `json:"output_dir"`

	Total     int          `json:"total"`
	Completed atomic.Int64 `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`

	CancelFunc context.CancelFunc `json:"-"`
}
