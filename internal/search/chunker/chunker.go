// Package chunker merges a session's messages into embedding-sized
// text chunks, and separately offers a sliding-window splitter for
// long single-message text.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

// TargetChunkChars is the soft character budget a merged chunk grows to
// before it is flushed.
const TargetChunkChars = 1500

// flatMessage is one message flattened to a single text block, carrying
// the identity fields the eventual chunk needs if it becomes the buffer's
// first message.
type flatMessage struct {
	id        string
	sessionID string
	seq       int64
	createdAt int64
	role      string
	text      string
}

// ChunkMessages merges an ordered list of one session's messages into
// TextChunks. It never splits a message's flattened text across chunks;
// it merges adjacent short messages until TargetChunkChars is reached.
// chunk_index is assigned starting at 0 and is monotonically increasing.
func ChunkMessages(messages []models.SyncMessage, segmentsOf func(models.SyncMessage) []models.TextSegment) []models.TextChunk {
	var flattened []flatMessage
	for _, msg := range messages {
		segments := segmentsOf(msg)
		text, role := flattenSegments(segments)
		if text == "" {
			continue
		}
		flattened = append(flattened, flatMessage{
			id:        msg.ID,
			sessionID: msg.SessionID,
			seq:       msg.Seq,
			createdAt: msg.CreatedAt,
			role:      role,
			text:      text,
		})
	}

	if len(flattened) == 0 {
		return nil
	}

	var chunks []models.TextChunk
	chunkIndex := 0

	buf := flattened[0]
	bufChars := utf8.RuneCountInString(buf.text)

	flush := func() {
		chunks = append(chunks, models.TextChunk{
			MessageID:  buf.id,
			SessionID:  buf.sessionID,
			Seq:        buf.seq,
			CreatedAt:  buf.createdAt,
			Role:       buf.role,
			Text:       buf.text,
			ChunkIndex: chunkIndex,
		})
		chunkIndex++
	}

	for _, msg := range flattened[1:] {
		msgChars := utf8.RuneCountInString(msg.text)
		if bufChars+1+msgChars > TargetChunkChars {
			flush()
			buf = msg
			bufChars = msgChars
			continue
		}
		buf.text = buf.text + "\n" + msg.text
		bufChars = bufChars + 1 + msgChars
	}
	flush()

	return chunks
}

// flattenSegments renders a message's segments as "[role] text" lines
// joined by newlines, and returns the dominant role: the first segment
// whose role is "user", else the first segment's role, else "unknown".
func flattenSegments(segments []models.TextSegment) (text string, role string) {
	var lines []string
	dominant := ""
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		lines = append(lines, "["+seg.Role+"] "+seg.Text)
		if dominant == "" {
			dominant = seg.Role
		}
		if seg.Role == models.RoleUser && dominant != models.RoleUser {
			dominant = models.RoleUser
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	if dominant == "" {
		dominant = models.RoleUnknown
	}
	return strings.Join(lines, "\n"), dominant
}
