// Package models holds the wire and domain structs shared across the
// search indexer's pipeline stages: hub responses, extracted text,
// chunks, and the documents written to the search engine.
package models

import "encoding/json"

// SyncMessage is one message as returned by the hub's sync API.
type SyncMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Seq       int64           `json:"seq"`
	Content   json.RawMessage `json:"content"`
	CreatedAt int64           `json:"createdAt"`
}

// SyncSession is session metadata as returned by the hub's sync API.
type SyncSession struct {
	ID        string           `json:"id"`
	Namespace string           `json:"namespace,omitempty"`
	Metadata  *SessionMetadata `json:"metadata,omitempty"`
	CreatedAt int64            `json:"createdAt"`
	UpdatedAt int64            `json:"updatedAt"`
	Active    bool             `json:"active"`
}

// SessionMetadata is the optional, mostly-absent metadata blob on a session.
type SessionMetadata struct {
	Name      string       `json:"name,omitempty"`
	Path      string       `json:"path,omitempty"`
	Summary   *SummaryText `json:"summary,omitempty"`
	Flavor    string       `json:"flavor,omitempty"`
	MachineID string       `json:"machineId,omitempty"`
}

// SummaryText wraps the session's generated summary text.
type SummaryText struct {
	Text string `json:"text"`
}

// SyncMessagesResponse is the hub's paginated messages response.
type SyncMessagesResponse struct {
	Messages []SyncMessage `json:"messages"`
	Cursor   *string       `json:"cursor,omitempty"`
	HasMore  bool          `json:"hasMore"`
}

// SyncSessionsResponse is the hub's sessions response.
type SyncSessionsResponse struct {
	Sessions []SyncSession `json:"sessions"`
}

// TextSegment is one role-tagged span of text extracted from a message.
type TextSegment struct {
	Role string
	Text string
}

// Role values a TextSegment can carry.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleTool       = "tool"
	RoleToolResult = "tool_result"
	RoleUnknown    = "unknown"
)

// TextChunk is a contiguous run of message text sized for one embedding call.
type TextChunk struct {
	MessageID  string
	SessionID  string
	Seq        int64
	CreatedAt  int64
	Role       string
	Text       string
	ChunkIndex int
}

// Vectors holds the named embedding vectors attached to a SearchDocument.
type Vectors struct {
	BGE []float32 `json:"bge"`
}

// SearchDocument is the record upserted into the search engine.
type SearchDocument struct {
	ID            string  `json:"id"`
	MessageID     string  `json:"messageId"`
	SessionID     string  `json:"sessionId"`
	Seq           int64   `json:"seq"`
	Role          string  `json:"role"`
	Text          string  `json:"text"`
	SessionName   string  `json:"sessionName"`
	SessionPath   string  `json:"sessionPath"`
	SessionFlavor string  `json:"sessionFlavor"`
	CreatedAt     int64   `json:"createdAt"`
	Vectors       Vectors `json:"_vectors"`
}

// SSEEvent is a decoded hub event-stream payload, discriminated by Type.
type SSEEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Message   *SSEMessage     `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SSEMessage is the message payload embedded in a message-received event.
type SSEMessage struct {
	ID        string          `json:"id"`
	Seq       *int64          `json:"seq,omitempty"`
	Content   json.RawMessage `json:"content"`
	CreatedAt int64           `json:"createdAt"`
}

// SearchHitSession is the session summary attached to a SearchHit.
type SearchHitSession struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Flavor string `json:"flavor"`
	URL    string `json:"url"`
}

// SearchHit is one session-grouped search result returned to callers.
type SearchHit struct {
	Text          string           `json:"text"`
	Role          string           `json:"role"`
	MessageID     string           `json:"messageId"`
	Seq           int64            `json:"seq"`
	CreatedAt     int64            `json:"createdAt"`
	Session       SearchHitSession `json:"session"`
	Score         float64          `json:"score"`
	SemanticScore *float64         `json:"semanticScore,omitempty"`
	KeywordScore  *float64         `json:"keywordScore,omitempty"`
}

// SearchResponse is the top-level response of a search query.
type SearchResponse struct {
	Query            string      `json:"query"`
	Hits             []SearchHit `json:"hits"`
	TotalHits        int         `json:"totalHits"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}
