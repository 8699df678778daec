package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/infra/config"
)

// Tokens are refreshed this long before their reported expiry so an
// in-flight download never races the server-side cutoff.
const tokenSafetyMargin = 5 * time.Minute

// The API reports expiry in seconds; this is the documented default when
// the field is absent.
const defaultTokenExpire = 7200

// TokenManager caches the tenant access token and refreshes it when it
// nears expiry. The refresh path is a critical section: concurrent callers
// block on the mutex while one refresh is in flight and then reuse its
// result, so duplicate credential exchanges never happen.
type TokenManager struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

func NewTokenManager(cfg config.FeishuConfig, httpClient *http.Client) *TokenManager {
	return &TokenManager{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      httpClient,
		now:       time.Now,
	}
}

type tokenResponse struct {
	apiEnvelope
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// Token returns a valid bearer token, performing a credential exchange if
// the cached one is missing or about to expire. Failures wrap
// domain.ErrAuth and are fatal for the whole batch.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, nil
	}

	token, expiresAt, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiresAt = expiresAt
	return m.token, nil
}

// refresh performs the credential exchange. Called with m.mu held.
func (m *TokenManager) refresh(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"app_id":     m.appID,
		"app_secret": m.appSecret,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: encode request: %v", domain.ErrAuth, err)
	}

	u := m.baseURL + "/open-apis/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("%w: credential exchange returned status %d", domain.ErrAuth, resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: decode response: %v", domain.ErrAuth, err)
	}

	if out.Code != 0 {
		return "", time.Time{}, fmt.Errorf("%w: code %d: %s", domain.ErrAuth, out.Code, out.Msg)
	}
	if out.TenantAccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: response carried no token", domain.ErrAuth)
	}

	expire := out.Expire
	if expire <= 0 {
		expire = defaultTokenExpire
	}

	expiresAt := m.now().Add(time.Duration(expire)*time.Second - tokenSafetyMargin)
	return out.TenantAccessToken, expiresAt, nil
}
