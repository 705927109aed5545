// Package syncer orchestrates the search indexer's full pipeline: index
// initialization, cursor-based catch-up sync, and live SSE-driven updates.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hapi-systems/hapi-core/internal/search/chunker"
	"github.com/hapi-systems/hapi-core/internal/search/models"
	"github.com/hapi-systems/hapi-core/internal/search/textextract"
)

// BatchSize is how many messages are requested per catch-up page.
const BatchSize = 500

// EmbedBatchSize is how many chunks are embedded per window.
const EmbedBatchSize = 32

// HubAPI is the subset of hubclient.Client the syncer depends on.
type HubAPI interface {
	FetchMessages(ctx context.Context, since int64, limit int, cursor string) (*models.SyncMessagesResponse, error)
	FetchSessions(ctx context.Context, updatedSince int64) ([]models.SyncSession, error)
	GetSession(id string) (models.SyncSession, bool)
	RemoveSession(id string)
	SubscribeEvents(ctx context.Context, onEvent func(models.SSEEvent)) error
}

// EmbedderAPI is the subset of embedder.Embedder the syncer depends on.
type EmbedderAPI interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EngineAPI is the subset of searchengine.Client the syncer depends on.
type EngineAPI interface {
	InitIndex(ctx context.Context) error
	AddDocuments(ctx context.Context, documents []models.SearchDocument) error
	DeleteSessionDocuments(ctx context.Context, sessionID string) error
}

// CursorAPI is the subset of syncstate.Cursor the syncer depends on.
type CursorAPI interface {
	GetCursor(ctx context.Context) (string, bool, error)
	SetCursor(ctx context.Context, cursor string) error
	GetLastSyncTS(ctx context.Context) (int64, error)
	SetLastSyncTS(ctx context.Context, ts int64) error
}

// Syncer wires the hub client, embedder, search engine, and cursor store
// into the full sync pipeline.
type Syncer struct {
	hub      HubAPI
	embedder EmbedderAPI
	engine   EngineAPI
	cursor   CursorAPI
}

// New builds a Syncer from its dependencies.
func New(hub HubAPI, emb EmbedderAPI, engine EngineAPI, cursor CursorAPI) *Syncer {
	return &Syncer{hub: hub, embedder: emb, engine: engine, cursor: cursor}
}

// Run initializes the search index, seeds the session cache, catches up
// on missed messages, then switches to live SSE-driven updates. It
// returns only on an unrecoverable error or context cancellation.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.engine.InitIndex(ctx); err != nil {
		return fmt.Errorf("init index: %w", err)
	}

	if _, err := s.hub.FetchSessions(ctx, 0); err != nil {
		return fmt.Errorf("seed session cache: %w", err)
	}

	if err := s.initialSync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	return s.realtimeSync(ctx)
}

// initialSync pages through the hub's message history from the last
// persisted cursor, processing and indexing each page. The cursor and
// last-sync timestamp advance only after a page's embed-and-upsert
// windows all succeed, so a partial failure never loses the content
// that failed to index.
func (s *Syncer) initialSync(ctx context.Context) error {
	since, err := s.cursor.GetLastSyncTS(ctx)
	if err != nil {
		return fmt.Errorf("load last sync ts: %w", err)
	}
	cursor, _, err := s.cursor.GetCursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	totalIndexed := 0
	slog.Info("starting initial sync", "since", since, "cursor", cursor)

	for {
		resp, err := s.hub.FetchMessages(ctx, since, BatchSize, cursor)
		if err != nil {
			return err
		}

		count := len(resp.Messages)
		if count == 0 {
			break
		}

		slog.Info("fetched messages", "count", count)
		processErr := s.processMessages(ctx, resp.Messages)
		totalIndexed += count

		if processErr != nil {
			slog.Error("page processing had failures, cursor not advanced", "error", processErr)
			return processErr
		}

		last := resp.Messages[len(resp.Messages)-1]
		if err := s.cursor.SetLastSyncTS(ctx, last.CreatedAt); err != nil {
			return fmt.Errorf("persist last sync ts: %w", err)
		}
		since = last.CreatedAt

		if resp.Cursor != nil {
			if err := s.cursor.SetCursor(ctx, *resp.Cursor); err != nil {
				return fmt.Errorf("persist cursor: %w", err)
			}
			cursor = *resp.Cursor
		}

		if !resp.HasMore {
			break
		}
	}

	slog.Info("initial sync complete", "indexed", totalIndexed)
	return nil
}

type chunkMeta struct {
	sessionName   string
	sessionPath   string
	sessionFlavor string
}

// processMessages extracts text, groups by session, chunks, resolves
// session metadata, embeds in windows, and upserts documents. An
// embedder failure on one window is logged and skipped so it never
// poisons the rest of the page; the first such failure is still
// returned to the caller so the page's cursor advance can be gated on it.
func (s *Syncer) processMessages(ctx context.Context, messages []models.SyncMessage) error {
	segmentsByID := make(map[string][]models.TextSegment, len(messages))
	var sessionOrder []string
	sessionMessages := make(map[string][]models.SyncMessage)

	for _, msg := range messages {
		segments := textextract.Extract(msg.Content)
		if len(segments) == 0 {
			continue
		}
		segmentsByID[msg.ID] = segments

		if _, ok := sessionMessages[msg.SessionID]; !ok {
			sessionOrder = append(sessionOrder, msg.SessionID)
		}
		sessionMessages[msg.SessionID] = append(sessionMessages[msg.SessionID], msg)
	}

	segmentsOf := func(m models.SyncMessage) []models.TextSegment {
		return segmentsByID[m.ID]
	}

	var allChunks []models.TextChunk
	for _, sessionID := range sessionOrder {
		allChunks = append(allChunks, chunker.ChunkMessages(sessionMessages[sessionID], segmentsOf)...)
	}

	if len(allChunks) == 0 {
		return nil
	}

	slog.Debug("processing chunks", "count", len(allChunks))

	metas := make([]chunkMeta, len(allChunks))
	for i, chunk := range allChunks {
		metas[i] = s.resolveChunkMeta(chunk.SessionID)
	}

	var firstErr error
	for start := 0; start < len(allChunks); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(allChunks))

		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			text := allChunks[i].Text
			if metas[i].sessionName != "" {
				text = "[" + metas[i].sessionName + "] " + text
			}
			texts = append(texts, text)
		}

		embeddings, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			slog.Error("embedding failed", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("embed window [%d,%d): %w", start, end, err)
			}
			continue
		}

		documents := make([]models.SearchDocument, 0, len(embeddings))
		for i := start; i < end && i-start < len(embeddings); i++ {
			chunk := allChunks[i]
			meta := metas[i]
			documents = append(documents, models.SearchDocument{
				ID:            fmt.Sprintf("msg_%s_chunk_%d", chunk.MessageID, chunk.ChunkIndex),
				MessageID:     chunk.MessageID,
				SessionID:     chunk.SessionID,
				Seq:           chunk.Seq,
				Role:          chunk.Role,
				Text:          chunk.Text,
				SessionName:   meta.sessionName,
				SessionPath:   meta.sessionPath,
				SessionFlavor: meta.sessionFlavor,
				CreatedAt:     chunk.CreatedAt,
				Vectors:       models.Vectors{BGE: embeddings[i-start]},
			})
		}

		if err := s.engine.AddDocuments(ctx, documents); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("add documents window [%d,%d): %w", start, end, err)
			}
		}
	}

	return firstErr
}

func (s *Syncer) resolveChunkMeta(sessionID string) chunkMeta {
	session, ok := s.hub.GetSession(sessionID)
	if !ok || session.Metadata == nil {
		return chunkMeta{}
	}

	name := session.Metadata.Name
	if name == "" && session.Metadata.Summary != nil {
		name = session.Metadata.Summary.Text
	}

	return chunkMeta{
		sessionName:   name,
		sessionPath:   session.Metadata.Path,
		sessionFlavor: session.Metadata.Flavor,
	}
}

// realtimeSync subscribes to the hub's event stream and dispatches each
// event, logging and continuing on a per-event failure so one bad event
// never stops the stream.
func (s *Syncer) realtimeSync(ctx context.Context) error {
	slog.Info("real-time sync started")

	return s.hub.SubscribeEvents(ctx, func(evt models.SSEEvent) {
		switch evt.Type {
		case "message-received":
			s.handleMessageReceived(ctx, evt)
		case "session-updated":
			s.handleSessionUpdated(ctx, evt)
		case "session-removed":
			s.handleSessionRemoved(ctx, evt)
		case "connection-changed":
			slog.Debug("sse: connection-changed")
		default:
		}
	})
}

func (s *Syncer) handleMessageReceived(ctx context.Context, evt models.SSEEvent) {
	if evt.Message == nil {
		return
	}
	slog.Debug("sse: message-received", "session_id", evt.SessionID)

	seq := int64(0)
	if evt.Message.Seq != nil {
		seq = *evt.Message.Seq
	}
	msg := models.SyncMessage{
		ID:        evt.Message.ID,
		SessionID: evt.SessionID,
		Seq:       seq,
		Content:   evt.Message.Content,
		CreatedAt: evt.Message.CreatedAt,
	}
	if err := s.processMessages(ctx, []models.SyncMessage{msg}); err != nil {
		slog.Error("failed to process sse message", "error", err)
	}
}

func (s *Syncer) handleSessionUpdated(ctx context.Context, evt models.SSEEvent) {
	slog.Debug("sse: session-updated", "session_id", evt.SessionID)
	if _, err := s.hub.FetchSessions(ctx, 0); err != nil {
		slog.Warn("failed to refresh sessions", "error", err)
	}
}

func (s *Syncer) handleSessionRemoved(ctx context.Context, evt models.SSEEvent) {
	slog.Info("sse: session-removed", "session_id", evt.SessionID)
	s.hub.RemoveSession(evt.SessionID)
	if err := s.engine.DeleteSessionDocuments(ctx, evt.SessionID); err != nil {
		slog.Error("failed to delete session documents", "error", err)
	}
}
