// Package searchengine is a client for a Meilisearch-compatible search
// engine: index lifecycle, document upsert/delete, and hybrid search.
package searchengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

// IndexName is the single index this service maintains.
const IndexName = "hapi-messages"

// Client talks to a Meilisearch-compatible HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New builds a Client pointed at the given base URL, optionally authenticating
// with a bearer API key.
func New(url, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(url, "/"),
		apiKey:     apiKey,
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// InitIndex enables the vector store feature, creates the index if it
// doesn't already exist, and configures searchable/filterable/sortable
// attributes plus the bge embedder for hybrid search.
func (c *Client) InitIndex(ctx context.Context) error {
	slog.Info("initializing search index", "index", IndexName)

	resp, err := c.request(ctx, http.MethodPatch, "/experimental-features", map[string]any{"vectorStore": true})
	if err != nil {
		return fmt.Errorf("enable vector store: %w", err)
	}
	if err := drainNonSuccess(resp, "enable vector store"); err != nil {
		return err
	}
	slog.Info("vector store enabled")

	resp, err = c.request(ctx, http.MethodPost, "/indexes", map[string]any{
		"uid":        IndexName,
		"primaryKey": "id",
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	body, status, err := readBody(resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		if !strings.Contains(body, "already_exists") {
			return fmt.Errorf("create index failed (%d): %s", status, body)
		}
	}

	time.Sleep(1 * time.Second)

	resp, err = c.request(ctx, http.MethodPatch, "/indexes/"+IndexName+"/settings", map[string]any{
		"searchableAttributes": []string{"text", "sessionName", "sessionPath"},
		"filterableAttributes": []string{"sessionId", "role", "sessionFlavor"},
		"sortableAttributes":   []string{"createdAt"},
		"localizedAttributes": []map[string]any{
			{
				"attributePatterns": []string{"text", "sessionName", "sessionPath"},
				"locales":           []string{"cmn", "eng"},
			},
		},
		"embedders": map[string]any{
			"bge": map[string]any{
				"source":     "userProvided",
				"dimensions": 1024,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configure index settings: %w", err)
	}
	if err := drainNonSuccess(resp, "configure index settings"); err != nil {
		return err
	}

	slog.Info("search index configured")
	return nil
}

// AddDocuments upserts documents into the index. An empty batch is a no-op.
func (c *Client) AddDocuments(ctx context.Context, documents []models.SearchDocument) error {
	if len(documents) == 0 {
		return nil
	}

	slog.Debug("indexing documents", "count", len(documents))

	resp, err := c.request(ctx, http.MethodPost, "/indexes/"+IndexName+"/documents", documents)
	if err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return drainNonSuccess(resp, "add documents")
}

// DeleteSessionDocuments deletes every document belonging to a session.
func (c *Client) DeleteSessionDocuments(ctx context.Context, sessionID string) error {
	slog.Info("deleting documents for session", "session_id", sessionID)

	resp, err := c.request(ctx, http.MethodPost, "/indexes/"+IndexName+"/documents/delete", map[string]any{
		"filter": fmt.Sprintf("sessionId = %q", sessionID),
	})
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return drainNonSuccess(resp, "delete documents")
}

// Hit is one raw hit from a hybrid search, with the ranking/semantic/keyword
// scores extracted from Meilisearch's ranking score details.
type Hit struct {
	Document        models.SearchDocument
	HighlightedText string
	RankingScore    float64
	SemanticScore   *float64
	KeywordScore    *float64
}

// SearchResult is the engine's raw search response.
type SearchResult struct {
	Hits               []Hit
	EstimatedTotalHits int
	ProcessingTimeMs   int64
}

type rawSearchResponse struct {
	Hits               []json.RawMessage `json:"hits"`
	EstimatedTotalHits int               `json:"estimatedTotalHits"`
	ProcessingTimeMs   int64             `json:"processingTimeMs"`
}

// Search runs a hybrid (keyword + vector) search against the index.
func (c *Client) Search(ctx context.Context, query string, vector []float32, limit, offset int) (*SearchResult, error) {
	body := map[string]any{
		"q":                       query,
		"limit":                   limit,
		"offset":                  offset,
		"showRankingScore":        true,
		"showRankingScoreDetails": true,
		"attributesToHighlight":   []string{"text"},
		"highlightPreTag":         "<mark>",
		"highlightPostTag":        "</mark>",
		"hybrid": map[string]any{
			"semanticRatio": 0.9,
			"embedder":      "bge",
		},
		"vector": vector,
	}

	resp, err := c.request(ctx, http.MethodPost, "/indexes/"+IndexName+"/search", body)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	responseBody, status, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("search failed: %s", responseBody)
	}

	var raw rawSearchResponse
	if err := json.Unmarshal([]byte(responseBody), &raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(raw.Hits))
	for _, h := range raw.Hits {
		hits = append(hits, parseHit(h))
	}

	return &SearchResult{
		Hits:               hits,
		EstimatedTotalHits: raw.EstimatedTotalHits,
		ProcessingTimeMs:   raw.ProcessingTimeMs,
	}, nil
}

func parseHit(raw json.RawMessage) Hit {
	var envelope struct {
		Formatted    map[string]any `json:"_formatted"`
		RankingScore *float64       `json:"_rankingScore"`
	}
	_ = json.Unmarshal(raw, &envelope)

	var doc models.SearchDocument
	_ = json.Unmarshal(raw, &doc)

	var sourceMap map[string]any
	_ = json.Unmarshal(raw, &sourceMap)

	highlighted := ""
	if envelope.Formatted != nil {
		if text, ok := envelope.Formatted["text"].(string); ok {
			highlighted = text
		}
	}

	var semanticScore, keywordScore *float64
	if details, ok := sourceMap["_rankingScoreDetails"].(map[string]any); ok {
		if vs, ok := details["vectorSort"].(map[string]any); ok {
			if sim, ok := vs["similarity"].(float64); ok {
				semanticScore = &sim
			}
		}
		if words, ok := details["words"].(map[string]any); ok {
			if score, ok := words["score"].(float64); ok {
				keywordScore = &score
			}
		}
	}

	ranking := 0.0
	if envelope.RankingScore != nil {
		ranking = *envelope.RankingScore
	}

	return Hit{
		Document:        doc,
		HighlightedText: highlighted,
		RankingScore:    ranking,
		SemanticScore:   semanticScore,
		KeywordScore:    keywordScore,
	}
}

// Stats reports index-level statistics.
type Stats struct {
	NumberOfDocuments int
}

// GetStats returns the index's document count, or a zeroed Stats if the
// request fails (e.g. the index does not exist yet).
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	resp, err := c.request(ctx, http.MethodGet, "/indexes/"+IndexName+"/stats", nil)
	if err != nil {
		slog.Warn("get stats request failed", "error", err)
		return &Stats{}, nil
	}
	body, status, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return &Stats{}, nil
	}

	var data struct {
		NumberOfDocuments int `json:"numberOfDocuments"`
	}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}

	return &Stats{NumberOfDocuments: data.NumberOfDocuments}, nil
}

func readBody(resp *http.Response) (string, int, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return string(b), resp.StatusCode, nil
}

func drainNonSuccess(resp *http.Response, action string) error {
	body, status, err := readBody(resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return fmt.Errorf("%s failed (%d): %s", action, status, body)
	}
	return nil
}
