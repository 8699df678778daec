package downloader

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/infra/logger"
)

// TokenSource yields a valid bearer token, refreshing it when needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// URLResolver exchanges an opaque file token for a signed download URL.
// Implementations admit through the rate limiter themselves.
type URLResolver interface {
	Resolve(ctx context.Context, fileToken string) (string, error)
}

// Admitter grants permission to issue the next outbound request under the
// global pacing rule.
type Admitter interface {
	Admit(ctx context.Context) error
}

type Options struct {
	// MaxRetries is the number of additional attempts after a transport
	// failure. Other failure kinds are never retried.
	MaxRetries int

	// RetryDelay is the base delay between attempts; attempt n waits
	// n * RetryDelay before re-admitting through the rate limiter.
	RetryDelay time.Duration

	// DefaultExt is used when the declared file name has no extension.
	DefaultExt string

	// FetchTimeout bounds each signed-URL fetch so an unresponsive
	// endpoint cannot stall a worker indefinitely.
	FetchTimeout time.Duration

	// Events, when set, receives every recorded result.
	Events EventSink
}

// Service downloads batches of assets under bounded concurrency and the
// global request pacing rule.
type Service struct {
	tokens   TokenSource
	resolver URLResolver
	limiter  Admitter
	client   *http.Client
	logger   *logger.Logger
	opts     Options
}

func NewService(tokens TokenSource, resolver URLResolver, limiter Admitter, log *logger.Logger, opts Options) *Service {
	if opts.DefaultExt == "" {
		opts.DefaultExt = ".jpg"
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}

	return &Service{
		tokens:   tokens,
		resolver: resolver,
		limiter:  limiter,
		client:   &http.Client{},
		logger:   log,
		opts:     opts,
	}
}

// process runs the full pipeline for one asset and converts every failure
// into a Result. Only transport failures re-enter the pipeline, and each
// retry re-admits through the rate limiter because it is a new request.
func (s *Service) process(ctx context.Context, asset domain.Asset, outDir string) domain.Result {
	if asset.FileToken == "" {
		return failure(asset, domain.ErrValidation, 0)
	}

	for attempt := 1; ; attempt++ {
		path, written, err := s.attempt(ctx, asset, outDir)
		if err == nil {
			return domain.Result{
				Asset:        asset,
				Success:      true,
				LocalPath:    path,
				BytesWritten: written,
				Attempts:     attempt,
			}
		}

		if !domain.Retryable(err) || attempt > s.opts.MaxRetries {
			return failure(asset, err, attempt)
		}

		s.logger.Warn("[Retry] %s: attempt %d failed: %v", asset.Key(), attempt, err)

		select {
		case <-ctx.Done():
			return failure(asset, context.Canceled, attempt)
		case <-time.After(time.Duration(attempt) * s.opts.RetryDelay):
		}
	}
}

// attempt is one pass through admit -> token -> resolve -> fetch.
func (s *Service) attempt(ctx context.Context, asset domain.Asset, outDir string) (string, int64, error) {
	if err := s.limiter.Admit(ctx); err != nil {
		return "", 0, err
	}

	if _, err := s.tokens.Token(ctx); err != nil {
		return "", 0, err
	}

	signedURL, err := s.resolver.Resolve(ctx, asset.FileToken)
	if err != nil {
		return "", 0, err
	}

	finalPath := filepath.Join(outDir, s.localName(asset))
	written, err := s.fetch(ctx, signedURL, finalPath)
	if err != nil {
		return "", 0, err
	}
	return finalPath, written, nil
}

// fetch streams the signed URL's body to finalPath. The signed URL is
// pre-authorized, so no auth header is attached.
func (s *Service) fetch(ctx context.Context, signedURL, finalPath string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, signedURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: fetch returned status %d", domain.ErrNetwork, resp.StatusCode)
	}

	return writeAtomic(finalPath, resp.Body)
}

// Windows/Linux/macOS safety
var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]`)

func sanitize(s string) string {
	return strings.TrimSpace(unsafeChars.ReplaceAllString(s, "_"))
}

// localName computes the deterministic output file name for an asset.
func (s *Service) localName(a domain.Asset) string {
	ext := filepath.Ext(a.FileName)
	if ext == "" {
		ext = s.opts.DefaultExt
	}
	return fmt.Sprintf("%s_%s_%d%s", sanitize(a.ProductID), sanitize(a.FieldName), a.Index, ext)
}

func failure(a domain.Asset, err error, attempts int) domain.Result {
	return domain.Result{
		Asset:    a,
		Kind:     domain.Classify(err),
		Message:  err.Error(),
		Attempts: attempts,
	}
}
