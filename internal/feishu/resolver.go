package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/larkpull/larkpull/internal/domain"
)

// URLResolver exchanges an opaque file token for a short-lived signed
// download URL. Resolution is itself a rate-limited call, so Resolve
// admits through the shared limiter before touching the network.
type URLResolver struct {
	baseURL string
	http    *http.Client
	limiter Admitter
	tokens  *TokenManager
}

type tmpURLResponse struct {
	apiEnvelope
	Data struct {
		TmpDownloadURLs []struct {
			FileToken      string `json:"file_token"`
			TmpDownloadURL string `json:"tmp_download_url"`
		} `json:"tmp_download_urls"`
	} `json:"data"`
}

// Resolve returns a signed URL for fileToken. An API error code or a
// response without a URL is a ResolveError scoped to this one asset;
// transport failures stay NetworkErrors so the retry policy can apply.
func (r *URLResolver) Resolve(ctx context.Context, fileToken string) (string, error) {
	if err := r.limiter.Admit(ctx); err != nil {
		return "", err
	}

	// Normally a cache hit; a real refresh failure here is fatal upstream.
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("file_tokens", fileToken)
	u := r.baseURL + "/open-apis/drive/v1/medias/batch_get_tmp_download_url?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrResolve, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: resolution returned status %d", domain.ErrResolve, resp.StatusCode)
	}

	var out tmpURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrResolve, err)
	}

	if out.Code != 0 {
		return "", fmt.Errorf("%w: code %d: %s", domain.ErrResolve, out.Code, out.Msg)
	}

	for _, entry := range out.Data.TmpDownloadURLs {
		if entry.FileToken == fileToken && entry.TmpDownloadURL != "" {
			return entry.TmpDownloadURL, nil
		}
	}

	return "", fmt.Errorf("%w: no url returned for file token %s", domain.ErrResolve, fileToken)
}
