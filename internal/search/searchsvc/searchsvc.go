// Package searchsvc answers query-time search requests: embed the query,
// fetch hybrid hits, group them by session, and apply a small name-match
// boost before paginating.
package searchsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/hapi-systems/hapi-core/internal/search/models"
	"github.com/hapi-systems/hapi-core/internal/search/searchengine"
)

// EmbedderAPI is the subset of embedder.Embedder the search service depends on.
type EmbedderAPI interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EngineAPI is the subset of searchengine.Client the search service depends on.
type EngineAPI interface {
	Search(ctx context.Context, query string, vector []float32, limit, offset int) (*searchengine.SearchResult, error)
}

// Service answers search queries against the index.
type Service struct {
	engine   EngineAPI
	embedder EmbedderAPI
	hapiURL  string
}

// New builds a Service. hapiURL is used to build session deep links.
func New(engine EngineAPI, embedder EmbedderAPI, hapiURL string) *Service {
	return &Service{engine: engine, embedder: embedder, hapiURL: strings.TrimRight(hapiURL, "/")}
}

type sessionGroup struct {
	bestHit    models.SearchHit
	chunkCount int
}

// Search embeds the query, fetches a wider pool of hybrid hits than
// requested, groups them by session keeping the highest-scoring hit per
// session, applies a small session-name-match boost, sorts by score then
// chunk count, and paginates the result.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) (*models.SearchResponse, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetchLimit := clamp(limit*5, 50, 200)
	result, err := s.engine.Search(ctx, query, vector, fetchLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("engine search: %w", err)
	}

	slog.Debug("search", "query", query, "estimated_total_hits", result.EstimatedTotalHits, "processing_time_ms", result.ProcessingTimeMs)

	queryLower := strings.ToLower(query)
	groups := make(map[string]*sessionGroup)
	var order []string

	for _, hit := range result.Hits {
		doc := hit.Document
		nameBoost := computeNameBoost(doc.SessionName, queryLower)
		finalScore := hit.RankingScore + nameBoost

		searchHit := models.SearchHit{
			Text:      hit.HighlightedText,
			Role:      doc.Role,
			MessageID: doc.MessageID,
			Seq:       doc.Seq,
			CreatedAt: doc.CreatedAt,
			Session: models.SearchHitSession{
				ID:     doc.SessionID,
				Name:   doc.SessionName,
				Path:   doc.SessionPath,
				Flavor: doc.SessionFlavor,
				URL:    fmt.Sprintf("%s/sessions/%s", s.hapiURL, doc.SessionID),
			},
			Score:         finalScore,
			SemanticScore: hit.SemanticScore,
			KeywordScore:  hit.KeywordScore,
		}

		group, ok := groups[doc.SessionID]
		if !ok {
			group = &sessionGroup{bestHit: searchHit}
			groups[doc.SessionID] = group
			order = append(order, doc.SessionID)
		}
		group.chunkCount++
		if finalScore > group.bestHit.Score {
			group.bestHit = searchHit
		}
	}

	sessionResults := make([]*sessionGroup, 0, len(order))
	for _, id := range order {
		sessionResults = append(sessionResults, groups[id])
	}
	sort.SliceStable(sessionResults, func(i, j int) bool {
		a, b := sessionResults[i], sessionResults[j]
		if a.bestHit.Score != b.bestHit.Score {
			return a.bestHit.Score > b.bestHit.Score
		}
		return a.chunkCount > b.chunkCount
	})

	total := len(sessionResults)
	paged := paginate(sessionResults, offset, limit)

	hits := make([]models.SearchHit, 0, len(paged))
	for _, g := range paged {
		hits = append(hits, g.bestHit)
	}

	return &models.SearchResponse{
		Query:            query,
		Hits:             hits,
		TotalHits:        total,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}, nil
}

func paginate(groups []*sessionGroup, offset, limit int) []*sessionGroup {
	if offset >= len(groups) {
		return nil
	}
	end := offset + limit
	if end > len(groups) {
		end = len(groups)
	}
	return groups[offset:end]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// computeNameBoost returns a small boost (0.0 to 0.02) based on how many
// query tokens (len > 2 bytes, whitespace/","/"、"-separated) appear in
// the session name, intended to break near-ties without overriding
// semantic ranking.
func computeNameBoost(sessionName, queryLower string) float64 {
	if sessionName == "" {
		return 0.0
	}

	nameLower := strings.ToLower(sessionName)

	tokens := strings.FieldsFunc(queryLower, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '、'
	})

	var filtered []string
	for _, tok := range tokens {
		if len(tok) > 2 {
			filtered = append(filtered, tok)
		}
	}
	if len(filtered) == 0 {
		return 0.0
	}

	matched := 0
	for _, tok := range filtered {
		if strings.Contains(nameLower, tok) {
			matched++
		}
	}

	ratio := float64(matched) / float64(len(filtered))
	return ratio * 0.02
}
