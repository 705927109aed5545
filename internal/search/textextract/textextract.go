// Package textextract pulls searchable text segments out of the varied
// message content shapes the hub stores: plain user text, assistant
// content blocks, tool calls, and tool results.
package textextract

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

// Extract returns the text segments found in a message's content JSON.
// Message content shape varies by role:
//   - user: {role: "user", content: {type: "text", text: "..."}}
//   - assistant: {role: "assistant", content: {message: {content: "..."|[...]}}}
//     or {role: "assistant", content: {data: [...]}}
//     or {content: [...]} (direct from CLI agents)
func Extract(content json.RawMessage) []models.TextSegment {
	var v map[string]any
	if err := json.Unmarshal(content, &v); err != nil {
		return nil
	}

	role, _ := v["role"].(string)
	switch role {
	case models.RoleUser:
		return extractUserText(v)
	case models.RoleAssistant:
		return extractAssistantText(v)
	default:
		segments := extractUserText(v)
		if len(segments) == 0 {
			segments = extractAssistantText(v)
		}
		return segments
	}
}

func extractUserText(v map[string]any) []models.TextSegment {
	var segments []models.TextSegment

	if text, ok := dig(v, "content", "text").(string); ok {
		if strings.TrimSpace(text) != "" {
			segments = append(segments, models.TextSegment{Role: models.RoleUser, Text: text})
		}
	}

	return segments
}

func extractAssistantText(v map[string]any) []models.TextSegment {
	var segments []models.TextSegment

	agentContent := dig(v, "content", "message", "content")
	dataContent := dig(v, "content", "data")
	var directContent any
	if c, ok := v["content"].([]any); ok {
		directContent = c
	}

	blocks := firstNonNil(agentContent, dataContent, directContent)
	if blocks != nil {
		extractContentBlocks(blocks, &segments)
	}

	return segments
}

func extractContentBlocks(value any, segments *[]models.TextSegment) {
	switch val := value.(type) {
	case string:
		if strings.TrimSpace(val) != "" {
			*segments = append(*segments, models.TextSegment{Role: models.RoleAssistant, Text: val})
		}
	case []any:
		for _, b := range val {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			blockType, _ := block["type"].(string)

			switch blockType {
			case "text":
				if text, ok := block["text"].(string); ok && strings.TrimSpace(text) != "" {
					*segments = append(*segments, models.TextSegment{Role: models.RoleAssistant, Text: text})
				}
			case "tool_use":
				name, _ := block["name"].(string)
				if name == "" {
					name = "unknown"
				}
				input := ""
				if in, ok := block["input"]; ok {
					input = truncateJSON(in, 500)
				}
				if input != "" {
					*segments = append(*segments, models.TextSegment{
						Role: models.RoleTool,
						Text: fmt.Sprintf("Tool: %s Input: %s", name, input),
					})
				}
			case "tool_result":
				resultText := extractToolResultText(block)
				if resultText != "" {
					*segments = append(*segments, models.TextSegment{
						Role: models.RoleToolResult,
						Text: TruncateString(resultText, 2000),
					})
				}
			}
		}
	}
}

func extractToolResultText(block map[string]any) string {
	content, ok := block["content"]
	if !ok {
		return ""
	}
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var texts []string
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := p["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n")
	default:
		return truncateJSON(content, 500)
	}
}

func truncateJSON(value any, maxChars int) string {
	b, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return TruncateString(string(b), maxChars)
}

// TruncateString shortens s when it has more than maxChars Unicode code
// points, keeping the first and last maxChars/2 code points joined by
// "...", so the result can be up to maxChars+3 code points long.
func TruncateString(s string, maxChars int) string {
	charCount := utf8.RuneCountInString(s)
	if charCount <= maxChars {
		return s
	}

	keep := maxChars / 2
	runes := []rune(s)
	start := string(runes[:keep])
	end := string(runes[charCount-keep:])
	return start + "..." + end
}

func dig(v map[string]any, keys ...string) any {
	var cur any = v
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[k]
		if !ok {
			return nil
		}
	}
	return cur
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
