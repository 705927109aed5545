package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// jwtRefreshMargin is how long a JWT is reused after it was obtained.
// The hub issues 15-minute tokens, so a token is refreshed 3 minutes
// before it expires.
const jwtRefreshMargin = 12 * time.Minute

type authResponse struct {
	Token string `json:"token"`
}

// tokenManager caches a JWT obtained from the hub via API key, refreshing
// it shortly before it expires. Concurrent refreshes collapse into one
// in-flight request via singleflight.
type tokenManager struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	mu          sync.RWMutex
	jwt         string
	obtainedAt  time.Time
	refreshOnce singleflight.Group
}

func newTokenManager(httpClient *http.Client, baseURL, apiKey string) *tokenManager {
	return &tokenManager{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

func (t *tokenManager) getJWT(ctx context.Context) (string, error) {
	t.mu.RLock()
	token := t.jwt
	fresh := token != "" && time.Since(t.obtainedAt) < jwtRefreshMargin
	t.mu.RUnlock()
	if fresh {
		return token, nil
	}

	v, err, _ := t.refreshOnce.Do("refresh", func() (any, error) {
		return t.refreshJWT(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *tokenManager) refreshJWT(ctx context.Context) (string, error) {
	slog.Debug("refreshing hub JWT")

	body, err := json.Marshal(map[string]string{"accessToken": t.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("auth failed (%s): %s", resp.Status, respBody)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}

	t.mu.Lock()
	t.jwt = auth.Token
	t.obtainedAt = time.Now()
	t.mu.Unlock()

	slog.Info("hub JWT refreshed")
	return auth.Token, nil
}
