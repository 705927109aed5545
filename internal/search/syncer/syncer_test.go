package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

type fakeHub struct {
	pages       []models.SyncMessagesResponse
	pageIdx     int
	sessions    map[string]models.SyncSession
	removed     []string
	fetchSessCalls int
}

func (f *fakeHub) FetchMessages(ctx context.Context, since int64, limit int, cursor string) (*models.SyncMessagesResponse, error) {
	if f.pageIdx >= len(f.pages) {
		return &models.SyncMessagesResponse{}, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return &page, nil
}

func (f *fakeHub) FetchSessions(ctx context.Context, updatedSince int64) ([]models.SyncSession, error) {
	f.fetchSessCalls++
	return nil, nil
}

func (f *fakeHub) GetSession(id string) (models.SyncSession, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

func (f *fakeHub) RemoveSession(id string) {
	f.removed = append(f.removed, id)
}

func (f *fakeHub) SubscribeEvents(ctx context.Context, onEvent func(models.SSEEvent)) error {
	return nil
}

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embed failed")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeEngine struct {
	documents []models.SearchDocument
	deleted   []string
}

func (f *fakeEngine) InitIndex(ctx context.Context) error { return nil }

func (f *fakeEngine) AddDocuments(ctx context.Context, documents []models.SearchDocument) error {
	f.documents = append(f.documents, documents...)
	return nil
}

func (f *fakeEngine) DeleteSessionDocuments(ctx context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type fakeCursor struct {
	cursor     string
	hasCursor  bool
	lastSyncTS int64
}

func (f *fakeCursor) GetCursor(ctx context.Context) (string, bool, error) {
	return f.cursor, f.hasCursor, nil
}

func (f *fakeCursor) SetCursor(ctx context.Context, cursor string) error {
	f.cursor = cursor
	f.hasCursor = true
	return nil
}

func (f *fakeCursor) GetLastSyncTS(ctx context.Context) (int64, error) {
	return f.lastSyncTS, nil
}

func (f *fakeCursor) SetLastSyncTS(ctx context.Context, ts int64) error {
	f.lastSyncTS = ts
	return nil
}

func userMessage(id, sessionID string, seq, createdAt int64, text string) models.SyncMessage {
	content, _ := json.Marshal(map[string]any{
		"role":    "user",
		"content": map[string]any{"type": "text", "text": text},
	})
	return models.SyncMessage{ID: id, SessionID: sessionID, Seq: seq, CreatedAt: createdAt, Content: content}
}

func TestInitialSync_IndexesAndAdvancesCursor(t *testing.T) {
	cursor2 := "cursor-2"
	hub := &fakeHub{
		pages: []models.SyncMessagesResponse{
			{
				Messages: []models.SyncMessage{userMessage("m1", "s1", 1, 100, "hello")},
				Cursor:   &cursor2,
				HasMore:  false,
			},
		},
	}
	embedder := &fakeEmbedder{}
	engine := &fakeEngine{}
	cur := &fakeCursor{}

	s := New(hub, embedder, engine, cur)
	if err := s.initialSync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(engine.documents) != 1 {
		t.Fatalf("got %d documents, want 1", len(engine.documents))
	}
	if engine.documents[0].ID != "msg_m1_chunk_0" {
		t.Errorf("document id = %q", engine.documents[0].ID)
	}
	if cur.lastSyncTS != 100 {
		t.Errorf("last sync ts = %d, want 100", cur.lastSyncTS)
	}
	if cur.cursor != "cursor-2" {
		t.Errorf("cursor = %q, want cursor-2", cur.cursor)
	}
}

func TestInitialSync_EmbedFailureDoesNotAdvanceCursor(t *testing.T) {
	cursor2 := "cursor-2"
	hub := &fakeHub{
		pages: []models.SyncMessagesResponse{
			{
				Messages: []models.SyncMessage{userMessage("m1", "s1", 1, 100, "hello")},
				Cursor:   &cursor2,
				HasMore:  false,
			},
		},
	}
	embedder := &fakeEmbedder{fail: true}
	engine := &fakeEngine{}
	cur := &fakeCursor{}

	s := New(hub, embedder, engine, cur)
	err := s.initialSync(context.Background())
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}
	if cur.hasCursor {
		t.Error("cursor should not have advanced after an embed failure")
	}
	if cur.lastSyncTS != 0 {
		t.Error("last sync ts should not have advanced after an embed failure")
	}
}

func TestProcessMessages_ResolvesSessionNameFromSummary(t *testing.T) {
	hub := &fakeHub{
		sessions: map[string]models.SyncSession{
			"s1": {ID: "s1", Metadata: &models.SessionMetadata{Summary: &models.SummaryText{Text: "debugging auth"}}},
		},
	}
	embedder := &fakeEmbedder{}
	engine := &fakeEngine{}
	cur := &fakeCursor{}

	s := New(hub, embedder, engine, cur)
	err := s.processMessages(context.Background(), []models.SyncMessage{userMessage("m1", "s1", 1, 100, "hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.documents) != 1 {
		t.Fatalf("got %d documents", len(engine.documents))
	}
	if engine.documents[0].SessionName != "debugging auth" {
		t.Errorf("session name = %q, want debugging auth", engine.documents[0].SessionName)
	}
}

func TestHandleSessionRemoved_EvictsCacheAndDeletesDocuments(t *testing.T) {
	hub := &fakeHub{}
	engine := &fakeEngine{}
	s := New(hub, &fakeEmbedder{}, engine, &fakeCursor{})

	s.handleSessionRemoved(context.Background(), models.SSEEvent{Type: "session-removed", SessionID: "s1"})

	if len(hub.removed) != 1 || hub.removed[0] != "s1" {
		t.Errorf("removed = %+v, want [s1]", hub.removed)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "s1" {
		t.Errorf("deleted = %+v, want [s1]", engine.deleted)
	}
}

func TestHandleMessageReceived_SkipsEmptyMessage(t *testing.T) {
	hub := &fakeHub{}
	engine := &fakeEngine{}
	s := New(hub, &fakeEmbedder{}, engine, &fakeCursor{})

	s.handleMessageReceived(context.Background(), models.SSEEvent{Type: "message-received", Message: nil})

	if len(engine.documents) != 0 {
		t.Error("expected no documents indexed for a nil message")
	}
}
