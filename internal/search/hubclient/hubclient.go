// Package hubclient talks to the hub's REST and SSE APIs: token-managed
// catch-up pagination, session metadata caching, and a reconnecting
// event stream.
package hubclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hapi-systems/hapi-core/internal/search/models"
	"github.com/hapi-systems/hapi-core/internal/telemetry"
)

// sseReconnectDelay is how long to wait before retrying after the event
// stream disconnects or a JWT refresh fails.
const sseReconnectDelay = 5 * time.Second

var tracer = telemetry.Tracer("hubclient")

// Client is a hub REST/SSE client with JWT caching and a session metadata cache.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     *tokenManager

	mu       sync.RWMutex
	sessions map[string]models.SyncSession
}

// New builds a Client authenticating against the hub with the given API key.
func New(baseURL, apiKey string) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     newTokenManager(httpClient, baseURL, apiKey),
		sessions:   make(map[string]models.SyncSession),
	}
}

// FetchMessages pages through the hub's sync/messages API.
func (c *Client) FetchMessages(ctx context.Context, since int64, limit int, cursor string) (*models.SyncMessagesResponse, error) {
	token, err := c.tokens.getJWT(ctx)
	if err != nil {
		return nil, fmt.Errorf("get jwt: %w", err)
	}

	u := fmt.Sprintf("%s/api/sync/messages?since=%d&limit=%d&token=%s", c.baseURL, since, limit, url.QueryEscape(token))
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}

	slog.Debug("fetching messages", "since", since, "limit", limit)

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("hub sync/messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hub sync/messages failed (%s): %s", resp.Status, body)
	}

	var data models.SyncMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode sync/messages response: %w", err)
	}
	return &data, nil
}

// FetchSessions fetches session metadata updated since a given timestamp
// and refreshes the local session cache with the result.
func (c *Client) FetchSessions(ctx context.Context, updatedSince int64) ([]models.SyncSession, error) {
	token, err := c.tokens.getJWT(ctx)
	if err != nil {
		return nil, fmt.Errorf("get jwt: %w", err)
	}

	u := fmt.Sprintf("%s/api/sync/sessions?updatedSince=%d&token=%s", c.baseURL, updatedSince, url.QueryEscape(token))

	slog.Debug("fetching sessions", "updated_since", updatedSince)

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("hub sync/sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hub sync/sessions failed (%s): %s", resp.Status, body)
	}

	var data models.SyncSessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode sync/sessions response: %w", err)
	}

	c.mu.Lock()
	for _, s := range data.Sessions {
		c.sessions[s.ID] = s
	}
	c.mu.Unlock()

	return data.Sessions, nil
}

// GetSession returns a cached session by id.
func (c *Client) GetSession(id string) (models.SyncSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// RemoveSession evicts a session from the cache.
func (c *Client) RemoveSession(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// PutSession inserts or updates a cached session directly.
func (c *Client) PutSession(s models.SyncSession) {
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, rawURL string) (resp *http.Response, err error) {
	spanCtx, span := telemetry.StartHTTPSpan(ctx, tracer, http.MethodGet, spanURL(rawURL))
	defer telemetry.EndSpan(span, &err)

	req, err := http.NewRequestWithContext(spanCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err = c.httpClient.Do(req)
	if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	return resp, err
}

// spanURL strips the query string (which carries the short-lived JWT) from
// a request URL before it's attached to a span attribute.
func spanURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

// SubscribeEvents connects to the hub's SSE event stream and calls onEvent
// for each decoded event, reconnecting with a fixed delay on disconnect or
// JWT failure, until ctx is canceled.
func (c *Client) SubscribeEvents(ctx context.Context, onEvent func(models.SSEEvent)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		token, err := c.tokens.getJWT(ctx)
		if err != nil {
			slog.Error("failed to get jwt for sse", "error", err)
			if !sleepOrDone(ctx, sseReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		u := fmt.Sprintf("%s/api/events?all=true&token=%s", c.baseURL, url.QueryEscape(token))
		slog.Info("connecting to sse")

		if err := c.streamOnce(ctx, u, onEvent); err != nil {
			slog.Warn("sse stream error, reconnecting", "error", err)
		}

		slog.Info("sse disconnected, reconnecting", "delay", sseReconnectDelay)
		if !sleepOrDone(ctx, sseReconnectDelay) {
			return ctx.Err()
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, rawURL string, onEvent func(models.SSEEvent)) (err error) {
	connCtx, span := telemetry.StartHTTPSpan(ctx, tracer, http.MethodGet, spanURL(rawURL))
	defer telemetry.EndSpan(span, &err)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sse connect: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("sse connect failed (%s): %s", resp.Status, body)
		return err
	}

	slog.Info("sse connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataBuf strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if dataBuf.Len() == 0 {
				continue
			}
			dispatchSSEData(dataBuf.String(), onEvent)
			dataBuf.Reset()
		case strings.HasPrefix(line, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// ignore event:/id:/comment lines; this stream has no
			// multi-type framing to preserve
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse stream: %w", err)
	}
	return nil
}

func dispatchSSEData(data string, onEvent func(models.SSEEvent)) {
	if data == "" {
		return
	}
	var evt models.SSEEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		slog.Debug("failed to parse sse event", "error", err)
		return
	}
	onEvent(evt)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
