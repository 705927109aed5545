package searchengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

func TestAddDocuments_EmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.AddDocuments(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected no HTTP request for empty document batch")
	}
}

func TestAddDocuments_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-key")
	docs := []models.SearchDocument{{ID: "msg_m1_chunk_0"}}
	if err := c.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want Bearer secret-key", gotAuth)
	}
}

func TestDeleteSessionDocuments_FiltersOnSessionID(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.DeleteSessionDocuments(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["filter"] != `sessionId = "sess-1"` {
		t.Errorf("filter = %v, want sessionId = \"sess-1\"", gotBody["filter"])
	}
}

func TestSearch_ParsesHitsAndScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []map[string]any{
				{
					"id":            "msg_m1_chunk_0",
					"sessionId":     "s1",
					"text":          "hello world",
					"_formatted":    map[string]any{"text": "<mark>hello</mark> world"},
					"_rankingScore": 0.87,
					"_rankingScoreDetails": map[string]any{
						"vectorSort": map[string]any{"similarity": 0.91},
						"words":      map[string]any{"score": 0.5},
					},
				},
			},
			"estimatedTotalHits": 1,
			"processingTimeMs":   3,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	result, err := c.Search(context.Background(), "hello", []float32{0.1, 0.2}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(result.Hits))
	}
	hit := result.Hits[0]
	if hit.Document.ID != "msg_m1_chunk_0" {
		t.Errorf("document id = %q", hit.Document.ID)
	}
	if hit.HighlightedText != "<mark>hello</mark> world" {
		t.Errorf("highlighted text = %q", hit.HighlightedText)
	}
	if hit.RankingScore != 0.87 {
		t.Errorf("ranking score = %v, want 0.87", hit.RankingScore)
	}
	if hit.SemanticScore == nil || *hit.SemanticScore != 0.91 {
		t.Errorf("semantic score = %v, want 0.91", hit.SemanticScore)
	}
	if hit.KeywordScore == nil || *hit.KeywordScore != 0.5 {
		t.Errorf("keyword score = %v, want 0.5", hit.KeywordScore)
	}
}

func TestSearch_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("index not found"))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Search(context.Background(), "q", []float32{0.1}, 10, 0)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetStats_FailureReturnsZeroed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.NumberOfDocuments != 0 {
		t.Errorf("got %d, want 0", stats.NumberOfDocuments)
	}
}

func TestGetStats_ParsesDocumentCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"numberOfDocuments": 42})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.NumberOfDocuments != 42 {
		t.Errorf("got %d, want 42", stats.NumberOfDocuments)
	}
}
