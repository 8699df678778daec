package downloader

import "github.com/larkpull/larkpull/internal/domain"

// EventSink receives per-task outcomes as they are recorded, decoupled from
// the pool's control flow. Workers call TaskDone concurrently, so
// implementations must be safe for concurrent use.
type EventSink interface {
	TaskDone(res domain.Result, completed, total int)
}

// EventFunc adapts a function to an EventSink.
type EventFunc func(res domain.Result, completed, total int)

func (f EventFunc) TaskDone(res domain.Result, completed, total int) {
	f(res, completed, total)
}
