package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

func TestFetchMessages_AuthenticatesAndPaginates(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			atomic.AddInt32(&authCalls, 1)
			json.NewEncoder(w).Encode(authResponse{Token: "jwt-token"})
		case "/api/sync/messages":
			if r.URL.Query().Get("token") != "jwt-token" {
				t.Errorf("token = %q, want jwt-token", r.URL.Query().Get("token"))
			}
			cursor := "next-cursor"
			json.NewEncoder(w).Encode(models.SyncMessagesResponse{
				Messages: []models.SyncMessage{{ID: "m1"}},
				Cursor:   &cursor,
				HasMore:  true,
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "api-key")
	resp, err := c.FetchMessages(context.Background(), 0, 500, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "m1" {
		t.Fatalf("got %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore true")
	}
	if atomic.LoadInt32(&authCalls) != 1 {
		t.Errorf("auth called %d times, want 1", authCalls)
	}
}

func TestFetchSessions_UpdatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			json.NewEncoder(w).Encode(authResponse{Token: "jwt"})
		case "/api/sync/sessions":
			json.NewEncoder(w).Encode(models.SyncSessionsResponse{
				Sessions: []models.SyncSession{{ID: "s1", Active: true}},
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "api-key")
	sessions, err := c.FetchSessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}

	cached, ok := c.GetSession("s1")
	if !ok || !cached.Active {
		t.Errorf("expected cached session s1 active, got %+v ok=%v", cached, ok)
	}

	c.RemoveSession("s1")
	if _, ok := c.GetSession("s1"); ok {
		t.Error("expected session removed from cache")
	}
}

func TestFetchMessages_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			json.NewEncoder(w).Encode(authResponse{Token: "jwt"})
		case "/api/sync/messages":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "api-key")
	_, err := c.FetchMessages(context.Background(), 0, 500, "")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSubscribeEvents_DispatchesParsedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			json.NewEncoder(w).Encode(authResponse{Token: "jwt"})
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"message-received\",\"sessionId\":\"s1\"}\n\n")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "api-key")

	received := make(chan models.SSEEvent, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go c.SubscribeEvents(ctx, func(evt models.SSEEvent) {
		select {
		case received <- evt:
		default:
		}
	})

	select {
	case evt := <-received:
		if evt.Type != "message-received" || evt.SessionID != "s1" {
			t.Errorf("got %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sse event")
	}
}
