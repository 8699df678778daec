package controllers

import (
	"time"

	"github.com/larkpull/larkpull/internal/domain"
)

type LaunchRequest struct {
	TableID string `json:"table_id"`
}

// BatchResponse is the JSON shape of a batch; the progress counter is an
// atomic in the domain type, so it is flattened here.
type BatchResponse struct {
	ID         string             `json:"id"`
	TableID    string             `json:"table_id"`
	Status     domain.BatchStatus `json:"status"`
	OutputDir  string             `json:"output_dir"`
	Total      int                `json:"total"`
	Completed  int64              `json:"completed"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type StatusResponse struct {
	Active bool           `json:"active"`
	Batch  *BatchResponse `json:"batch,omitempty"`
}

func toBatchResponse(b *domain.Batch) *BatchResponse {
	resp := &BatchResponse{
		ID:        b.ID,
		TableID:   b.TableID,
		Status:    b.Status,
		OutputDir: b.OutputDir,
		Total:     b.Total,
		Completed: b.Completed.Load(),
		StartedAt: b.StartedAt,
		Error:     b.Error,
	}
	if !b.FinishedAt.IsZero() {
		t := b.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}
