package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/infra/logger"
	"github.com/larkpull/larkpull/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, logger.LevelError)
}

type stubTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "t-token", nil
}

func (s *stubTokens) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubResolver struct {
	mu      sync.Mutex
	calls   map[string]int
	resolve func(fileToken string, call int) (string, error)
}

func (s *stubResolver) Resolve(ctx context.Context, fileToken string) (string, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[fileToken]++
	call := s.calls[fileToken]
	s.mu.Unlock()
	return s.resolve(fileToken, call)
}

func (s *stubResolver) count(fileToken string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fileToken]
}

func (s *stubResolver) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

type admitFunc func(ctx context.Context) error

func (f admitFunc) Admit(ctx context.Context) error { return f(ctx) }

func noLimit() Admitter {
	return admitFunc(func(ctx context.Context) error { return nil })
}

// assetServer serves a fixed payload and counts fetches.
func assetServer(t *testing.T, payload string) (*httptest.Server, *int64) {
	t.Helper()
	var fetches int64
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func makeAssets(n int) []domain.Asset {
	assets := make([]domain.Asset, 0, n)
	for i := 0; i < n; i++ {
		assets = append(assets, domain.Asset{
			RecordID:  fmt.Sprintf("rec%d", i),
			ProductID: fmt.Sprintf("SKU-%d", i),
			FieldName: "主图",
			Index:     0,
			FileToken: fmt.Sprintf("tok%d", i),
			FileName:  "img.png",
		})
	}
	return assets
}

func TestRunBatchTotalsInvariant(t *testing.T) {
	srv, _ := assetServer(t, "payload")

	resolver := &stubResolver{resolve: func(fileToken string, call int) (string, error) {
		if fileToken == "tok2" {
			return "", fmt.Errorf("%w: file not found", domain.ErrResolve)
		}
		return srv.URL, nil
	}}

	assets := makeAssets(4)
	assets = append(assets, domain.Asset{
		RecordID: "rec-bad", ProductID: "SKU-bad", FieldName: "详情图", Index: 0,
	}) // empty file token

	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{})
	report, err := svc.RunBatch(context.Background(), assets, t.TempDir(), 3)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, report.Total, report.Succeeded+report.Failed)
	assert.Len(t, report.Results, 5)

	assert.Equal(t, domain.FieldTally{Total: 4, Succeeded: 3}, report.Fields["主图"])
	assert.Equal(t, domain.FieldTally{Total: 1, Succeeded: 0}, report.Fields["详情图"])
}

func TestEmptyFileTokenFailsWithoutNetwork(t *testing.T) {
	tokens := &stubTokens{}
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return "", fmt.Errorf("%w: unreachable", domain.ErrResolve)
	}}

	admits := 0
	limiter := admitFunc(func(ctx context.Context) error { admits++; return nil })

	svc := NewService(tokens, resolver, limiter, testLogger(), Options{MaxRetries: 3})
	report, err := svc.RunBatch(context.Background(), []domain.Asset{
		{RecordID: "r1", ProductID: "p1", FieldName: "主图", Index: 0},
	}, t.TempDir(), 1)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindValidation, res.Kind)

	assert.Zero(t, admits, "validation failures must not consume rate budget")
	assert.Zero(t, tokens.count())
	assert.Zero(t, resolver.total())
}

func TestResolveFailureIsNotRetried(t *testing.T) {
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return "", fmt.Errorf("%w: code 91403", domain.ErrResolve)
	}}

	outDir := t.TempDir()
	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{MaxRetries: 2})
	report, err := svc.RunBatch(context.Background(), makeAssets(3), outDir, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Failed)
	for _, res := range report.Results {
		assert.Equal(t, domain.KindResolve, res.Kind)
		assert.Equal(t, 1, res.Attempts, "resolve failures are terminal")
	}
	for tok := range resolver.calls {
		assert.Equal(t, 1, resolver.count(tok))
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no bytes may reach disk on resolve failure")
}

func TestAuthFailureDrainsPool(t *testing.T) {
	tokens := &stubTokens{err: fmt.Errorf("%w: app_secret rejected", domain.ErrAuth)}
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return "http://unused.invalid", nil
	}}

	svc := NewService(tokens, resolver, noLimit(), testLogger(), Options{MaxRetries: 2})
	report, err := svc.RunBatch(context.Background(), makeAssets(8), t.TempDir(), 2)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Total)
	assert.Equal(t, 8, report.Failed)
	for _, res := range report.Results {
		assert.Equal(t, domain.KindAuth, res.Kind)
	}

	assert.Zero(t, resolver.total(), "drained tasks must not touch the network")
	assert.LessOrEqual(t, tokens.count(), 2, "only in-flight tasks may still refresh")
}

func TestRunBatchHonorsMinInterval(t *testing.T) {
	srv, _ := assetServer(t, "x")
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return srv.URL, nil
	}}

	const interval = 60 * time.Millisecond
	limiter := ratelimit.New(interval)

	svc := NewService(&stubTokens{}, resolver, limiter, testLogger(), Options{})

	start := time.Now()
	report, err := svc.RunBatch(context.Background(), makeAssets(5), t.TempDir(), 2)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 5, report.Succeeded)
	// 5 admissions spaced >= interval take at least 4 intervals end to end,
	// no matter how many workers run.
	assert.GreaterOrEqual(t, elapsed, 4*interval-10*time.Millisecond)
}

func TestTransientFailureIsRetriedOnce(t *testing.T) {
	srv, _ := assetServer(t, "bytes")
	resolver := &stubResolver{resolve: func(fileToken string, call int) (string, error) {
		if fileToken == "tok1" && call == 1 {
			return "", fmt.Errorf("%w: connection reset", domain.ErrNetwork)
		}
		return srv.URL, nil
	}}

	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	report, err := svc.RunBatch(context.Background(), makeAssets(3), t.TempDir(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, resolver.count("tok1"), "flaky asset gets exactly one extra attempt")
	assert.Equal(t, 1, resolver.count("tok0"))
	assert.Equal(t, 1, resolver.count("tok2"))

	for _, res := range report.Results {
		if res.Asset.FileToken == "tok1" {
			assert.Equal(t, 2, res.Attempts)
		}
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return "", fmt.Errorf("%w: timeout", domain.ErrNetwork)
	}}

	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	report, err := svc.RunBatch(context.Background(), makeAssets(1), t.TempDir(), 1)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, domain.KindNetwork, res.Kind)
	assert.Equal(t, 3, res.Attempts, "one initial attempt plus two retries")
	assert.Equal(t, 3, resolver.count("tok0"))
}

func TestRunBatchIdempotentReRun(t *testing.T) {
	srv, fetches := assetServer(t, "image-bytes")
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return srv.URL, nil
	}}

	outDir := t.TempDir()
	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{})

	for run := 0; run < 2; run++ {
		report, err := svc.RunBatch(context.Background(), makeAssets(2), outDir, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Succeeded)
	}
	assert.EqualValues(t, 4, *fetches, "re-runs re-download in place")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"SKU-0_主图_0.png", "SKU-1_主图_0.png"}, names)

	for _, name := range names {
		assert.NotContains(t, name, ".part", "no temp files may survive a run")
		data, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err)
		assert.Equal(t, "image-bytes", string(data))
	}
}

func TestRunBatchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return "http://unused.invalid", nil
	}}
	limiter := admitFunc(func(ctx context.Context) error { return ctx.Err() })

	svc := NewService(&stubTokens{}, resolver, limiter, testLogger(), Options{})
	report, err := svc.RunBatch(ctx, makeAssets(4), t.TempDir(), 2)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Failed)
	for _, res := range report.Results {
		assert.Equal(t, domain.KindCanceled, res.Kind)
	}
}

func TestLocalNameSanitizesAndDefaultsExtension(t *testing.T) {
	svc := NewService(&stubTokens{}, &stubResolver{}, noLimit(), testLogger(), Options{})

	name := svc.localName(domain.Asset{
		ProductID: `A/B:C*D`,
		FieldName: "主图",
		Index:     3,
		FileName:  "photo.png",
	})
	assert.Equal(t, "A_B_C_D_主图_3.png", name)

	name = svc.localName(domain.Asset{
		ProductID: "SKU-1",
		FieldName: "详情图",
		Index:     0,
		FileName:  "noext",
	})
	assert.Equal(t, "SKU-1_详情图_0.jpg", name)
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	svc := NewService(&stubTokens{}, &stubResolver{}, noLimit(), testLogger(), Options{})
	_, err := svc.fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out.jpg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
}

func TestRunBatchEmitsOneEventPerAsset(t *testing.T) {
	srv, _ := assetServer(t, "x")
	resolver := &stubResolver{resolve: func(string, int) (string, error) {
		return srv.URL, nil
	}}

	var mu sync.Mutex
	var completions []int
	events := EventFunc(func(res domain.Result, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		completions = append(completions, completed)
	})

	svc := NewService(&stubTokens{}, resolver, noLimit(), testLogger(), Options{Events: events})
	_, err := svc.RunBatch(context.Background(), makeAssets(4), t.TempDir(), 2)
	require.NoError(t, err)

	require.Len(t, completions, 4)
	sort.Ints(completions)
	assert.Equal(t, []int{1, 2, 3, 4}, completions)
}
