package remote

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

// tokenProvider fetches and caches a two-legged client-credentials access
// token for the remote services. Refresh is serialized; a token is renewed
// one minute before it expires.
type tokenProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	scopes       string
	httpClient   *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func newTokenProvider(baseURL, clientID, clientSecret, scopes string, httpClient *http.Client) *tokenProvider {
	return &tokenProvider{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   httpClient,
	}
}

// Token returns a valid access token, fetching a fresh one if the cached
// token is missing or about to expire.
func (p *tokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiry.Add(-time.Minute)) {
		return p.token, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("scope", p.scopes)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/authentication/v2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StoreError{Op: "token", StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	p.token = tr.AccessToken
	p.expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return p.token, nil
}
