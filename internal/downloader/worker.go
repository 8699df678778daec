package downloader

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/larkpull/larkpull/internal/domain"
)

// RunBatch downloads every asset with exactly `concurrency` workers
// draining a shared task queue. Exactly one Result is recorded per asset:
// a fatal credential failure flips the pool into a draining state where
// in-flight tasks finish but every remaining asset is recorded as an auth
// failure without touching the network, and an external cancel drains the
// same way with canceled results.
func (s *Service) RunBatch(ctx context.Context, assets []domain.Asset, outDir string, concurrency int) (domain.Report, error) {
	if concurrency <= 0 {
		concurrency = 2
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return domain.Report{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	agg := NewAggregator()
	tasks := make(chan domain.Asset)
	total := len(assets)

	var (
		wg         sync.WaitGroup
		authFailed atomic.Bool
		completed  atomic.Int64
	)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range tasks {
				var res domain.Result

				switch {
				case authFailed.Load():
					res = failure(asset, fmt.Errorf("%w: batch halted, no usable token", domain.ErrAuth), 0)
				case ctx.Err() != nil:
					res = failure(asset, context.Canceled, 0)
				default:
					res = s.process(ctx, asset, outDir)
					if res.Kind == domain.KindAuth {
						authFailed.Store(true)
					}
				}

				agg.Record(res)
				done := completed.Add(1)

				if res.Success {
					s.logger.Debug("Downloaded %d/%d: %s (%d bytes)", done, total, res.LocalPath, res.BytesWritten)
				} else {
					s.logger.Debug("Failed %d/%d: %s: %s", done, total, res.Asset.Key(), res.Message)
				}

				if s.opts.Events != nil {
					s.opts.Events.TaskDone(res, int(done), total)
				}
			}
		}()
	}

	// Every asset is dispatched unconditionally; draining workers still
	// consume each one so the one-result-per-asset invariant holds.
	go func() {
		defer close(tasks)
		for _, a := range assets {
			tasks <- a
		}
	}()

	wg.Wait()

	report := agg.Finalize()
	s.logger.Info("Batch finished: %d total, %d succeeded, %d failed",
		report.Total, report.Succeeded, report.Failed)

	return report, nil
}
