package gbp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies a currently-valid bearer token for the
// business-profile API. Refresh mechanics are opaque to callers.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Useful for short-lived runs
// and tests; real deployments use the refresh flow.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty access token")
	}
	return string(s), nil
}

// RefreshTokenSource exchanges an OAuth refresh token for access tokens,
// caching each until shortly before expiry.
type RefreshTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	hc           *http.Client

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// expirySkew: refresh this long before the reported expiry so a token
// never goes stale mid-cycle.
const expirySkew = 2 * time.Minute

func NewRefreshTokenSource(tokenURL, clientID, clientSecret, refreshToken string) *RefreshTokenSource {
	return &RefreshTokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		hc:           &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" && time.Now().Before(r.expiry) {
		return r.cached, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"refresh_token": {r.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh: remote %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token refresh: empty access_token")
	}

	r.cached = body.AccessToken
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl > expirySkew {
		ttl -= expirySkew
	}
	r.expiry = time.Now().Add(ttl)
	return r.cached, nil
}
