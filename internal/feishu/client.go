package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/infra/config"
	"github.com/larkpull/larkpull/internal/infra/logger"
)

// Admitter grants permission to issue the next outbound request under the
// global pacing rule.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Client talks to the Feishu open API: credential exchange, Bitable record
// listing and temporary download URL resolution. Every request it issues
// goes through the shared admitter so the provider-wide pacing holds across
// record listing and downloads alike.
type Client struct {
	baseURL string
	http    *http.Client
	limiter Admitter
	logger  *logger.Logger

	tokens   *TokenManager
	appToken string
}

func NewClient(cfg config.FeishuConfig, limiter Admitter, log *logger.Logger) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout()}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpClient,
		limiter:  limiter,
		logger:   log,
		tokens:   NewTokenManager(cfg, httpClient),
		appToken: cfg.AppToken,
	}
}

// Tokens exposes the client's token manager so the downloader can fail fast
// on credential problems before resolving URLs.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Resolver returns a URL resolver sharing this client's transport, pacing
// and credentials.
func (c *Client) Resolver() *URLResolver {
	return &URLResolver{
		baseURL: c.baseURL,
		http:    c.http,
		limiter: c.limiter,
		tokens:  c.tokens,
	}
}

// apiEnvelope is the common response wrapper of the open API.
type apiEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// getJSON issues a paced, authenticated GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Admit(ctx); err != nil {
		return err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: api returned status %d for %s", domain.ErrNetwork, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response for %s: %v", domain.ErrNetwork, path, err)
	}
	return nil
}
