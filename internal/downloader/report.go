package downloader

import (
	"sync"

	"github.com/larkpull/larkpull/internal/domain"
)

// Aggregator accumulates per-asset outcomes into a Report. Record is safe
// for concurrent use; Finalize returns a snapshot once the pool is done.
type Aggregator struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	report domain.Report
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		seen: make(map[string]struct{}),
		report: domain.Report{
			Fields: make(map[string]domain.FieldTally),
		},
	}
}

// Record appends one result and updates the counters. Recording two
// results for the same asset identity is a programming error, not a
// user-facing condition, so it panics.
func (a *Aggregator) Record(res domain.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := res.Asset.Key()
	if _, dup := a.seen[key]; dup {
		panic("downloader: duplicate result recorded for asset " + key)
	}
	a.seen[key] = struct{}{}

	a.report.Total++
	tally := a.report.Fields[res.Asset.FieldName]
	tally.Total++

	if res.Success {
		a.report.Succeeded++
		tally.Succeeded++
	} else {
		a.report.Failed++
	}

	a.report.Fields[res.Asset.FieldName] = tally
	a.report.Results = append(a.report.Results, res)
}

// Finalize returns an immutable snapshot of the report.
func (a *Aggregator) Finalize() domain.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.report
	out.Results = make([]domain.Result, len(a.report.Results))
	copy(out.Results, a.report.Results)

	out.Fields = make(map[string]domain.FieldTally, len(a.report.Fields))
	for name, tally := range a.report.Fields {
		out.Fields[name] = tally
	}

	return out
}
