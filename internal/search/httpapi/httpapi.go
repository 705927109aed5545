// Package httpapi is a thin HTTP frontend over the search service: a
// health check and the query endpoint. Routing, middleware, and the
// wider REST surface are intentionally out of scope.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

// SearchAPI is the subset of searchsvc.Service the handler depends on.
type SearchAPI interface {
	Search(ctx context.Context, query string, limit, offset int) (*models.SearchResponse, error)
}

// Handler serves the search HTTP surface.
type Handler struct {
	svc SearchAPI
}

// New builds a Handler over a search service.
func New(svc SearchAPI) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /api/search", h.handleSearch)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, `{"error":"missing query parameter q"}`, http.StatusBadRequest)
		return
	}

	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)

	resp, err := h.svc.Search(r.Context(), query, limit, offset)
	if err != nil {
		slog.Error("search request failed", "query", query, "error", err)
		http.Error(w, `{"error":"search failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode search response", "error", err)
	}
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
