package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/larkpull/larkpull/internal/app"
	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/downloader"
	"github.com/larkpull/larkpull/internal/extract"
	"github.com/larkpull/larkpull/internal/feishu"
	"github.com/segmentio/ksuid"
)

// ErrBatchActive is returned when a launch is attempted while another
// batch is still running. Provider throttling makes overlapping batches
// pointless, so one runs at a time.
var ErrBatchActive = errors.New("a batch is already running")

// Manager owns the single active batch: it lists records, extracts asset
// descriptors, runs the downloader and persists the outcome. It also acts
// as the downloader's event sink, feeding the progress counter, metrics
// and the log.
type Manager struct {
	app    *app.Context
	client *feishu.Client
	svc    *downloader.Service

	mu     sync.Mutex
	active *domain.Batch
}

func NewManager(appCtx *app.Context, client *feishu.Client, limiter downloader.Admitter) *Manager {
	m := &Manager{
		app:    appCtx,
		client: client,
	}

	cfg := appCtx.Config
	m.svc = downloader.NewService(client.Tokens(), client.Resolver(), limiter, appCtx.Logger, downloader.Options{
		MaxRetries:   cfg.Download.MaxRetries,
		RetryDelay:   cfg.Download.RetryDelay(),
		FetchTimeout: cfg.Feishu.Timeout(),
		Events:       m,
	})

	return m
}

// Run executes one batch synchronously. Used by the CLI.
func (m *Manager) Run(ctx context.Context, tableID string) (*domain.Batch, domain.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := m.newBatch(tableID)
	b.CancelFunc = cancel
	if err := m.claim(b); err != nil {
		return nil, domain.Report{}, err
	}
	defer m.release()

	report, err := m.execute(runCtx, b)
	return b, report, err
}

// Launch starts a batch in the background and returns a snapshot of its
// initial state. Used by the API.
func (m *Manager) Launch(tableID string) (*domain.Batch, error) {
	runCtx, cancel := context.WithCancel(context.Background())

	b := m.newBatch(tableID)
	b.CancelFunc = cancel
	if err := m.claim(b); err != nil {
		cancel()
		return nil, err
	}

	// Taken before the worker goroutine exists, so b has no other writer
	// yet.
	snap := snapshot(b)

	go func() {
		defer cancel()
		defer m.release()
		_, _ = m.execute(runCtx, b)
	}()

	return snap, nil
}

// Active returns a copy of the currently running batch's state, or nil.
// The worker goroutine keeps mutating the live batch, so callers only
// ever see snapshots taken under the manager's lock.
func (m *Manager) Active() *domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	return snapshot(m.active)
}

// snapshot copies a batch field by field; the progress counter is an
// atomic and cannot be struct-copied. The caller holds m.mu whenever the
// batch may already have a worker goroutine writing to it.
func snapshot(b *domain.Batch) *domain.Batch {
	out := &domain.Batch{
		ID:         b.ID,
		TableID:    b.TableID,
		Status:     b.Status,
		OutputDir:  b.OutputDir,
		Total:      b.Total,
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
		Error:      b.Error,
	}
	out.Completed.Store(b.Completed.Load())
	return out
}

// Cancel aborts the active batch if its ID matches. In-flight downloads
// finish or fail cleanly; undispatched assets are recorded as canceled.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.ID != id {
		return false
	}
	if m.active.CancelFunc != nil {
		m.active.CancelFunc()
	}
	return true
}

func (m *Manager) newBatch(tableID string) *domain.Batch {
	return &domain.Batch{
		ID:      ksuid.New().String(),
		TableID: tableID,
		Status:  domain.BatchPending,
		// The output dir is keyed by table so re-runs land on the same
		// files and stay idempotent.
		OutputDir: filepath.Join(m.app.Config.Download.OutDir, tableID),
		StartedAt: time.Now(),
	}
}

func (m *Manager) claim(b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return ErrBatchActive
	}
	m.active = b
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
}

func (m *Manager) execute(ctx context.Context, b *domain.Batch) (domain.Report, error) {
	cfg := m.app.Config

	m.app.Logger.Info("Batch %s: listing records from table %s", b.ID, b.TableID)
	m.saveBatch(b)

	records, err := m.client.ListRecords(ctx, b.TableID)
	if err != nil {
		m.finalize(b, domain.Report{}, err)
		return domain.Report{}, err
	}

	assets := extract.Assets(records, cfg.Download.AttachmentFields, cfg.Download.ProductField)
	m.app.Logger.Info("Batch %s: found %d attachments across %d records", b.ID, len(assets), len(records))

	m.mu.Lock()
	b.Total = len(assets)
	b.Status = domain.BatchRunning
	m.mu.Unlock()
	m.saveBatch(b)

	report, err := m.svc.RunBatch(ctx, assets, b.OutputDir, cfg.Download.Workers)
	if err == nil && ctx.Err() != nil {
		// The pool drained a cancellation into per-asset results; the
		// batch itself must not read as completed.
		err = ctx.Err()
	}
	m.finalize(b, report, err)
	return report, err
}

// TaskDone implements downloader.EventSink.
func (m *Manager) TaskDone(res domain.Result, completed, total int) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != nil {
		active.Completed.Store(int64(completed))
	}

	if res.Success {
		m.app.Metrics.DownloadsTotal.WithLabelValues("success").Inc()
		m.app.Metrics.BytesWritten.Add(float64(res.BytesWritten))
		m.app.Logger.Info("Progress %d/%d: %s", completed, total, filepath.Base(res.LocalPath))
	} else {
		m.app.Metrics.DownloadsTotal.WithLabelValues(string(res.Kind)).Inc()
		m.app.Logger.Warn("Progress %d/%d: %s failed (%s): %s", completed, total, res.Asset.Key(), res.Kind, res.Message)
	}
}

func (m *Manager) finalize(b *domain.Batch, report domain.Report, err error) {
	if len(report.Results) > 0 {
		if saveErr := m.app.Store.SaveResults(b.ID, report.Results); saveErr != nil {
			m.app.Logger.Error("Batch %s: failed to persist results: %v", b.ID, saveErr)
		}
	}

	m.mu.Lock()
	b.FinishedAt = time.Now()
	switch {
	case err == nil:
		b.Status = domain.BatchCompleted
	case errors.Is(err, context.Canceled):
		b.Status = domain.BatchCancelled
		b.Error = "cancelled by user"
	default:
		b.Status = domain.BatchFailed
		b.Error = err.Error()
	}
	m.mu.Unlock()

	m.saveBatch(b)
	m.app.Metrics.BatchesTotal.WithLabelValues(string(b.Status)).Inc()
}

func (m *Manager) saveBatch(b *domain.Batch) {
	if err := m.app.Store.SaveBatch(b); err != nil {
		m.app.Logger.Error("Batch %s: failed to save state: %v", b.ID, err)
	}
}
