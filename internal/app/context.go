package app

import (
	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/infra/config"
	"github.com/larkpull/larkpull/internal/infra/logger"
	"github.com/larkpull/larkpull/internal/infra/metrics"
)

// Store persists batch history. Defined here so consumers don't have to
// import the sqlite-backed implementation directly.
type Store interface {
	SaveBatch(b *domain.Batch) error
	SaveResults(batchID string, results []domain.Result) error
	GetBatches() ([]*domain.Batch, error)
	GetBatch(id string) (*domain.Batch, error)
	GetResults(batchID string) ([]domain.Result, error)
	Close() error
}

// Context holds the core environment and shared resources for larkpull.
// It acts as the single source of truth for the application state.
type Context struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Store   Store
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	}
}
