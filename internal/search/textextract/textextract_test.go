package textextract

import (
	"testing"

	"github.com/hapi-systems/hapi-core/internal/search/models"
)

func TestExtract_UserText(t *testing.T) {
	content := []byte(`{"role":"user","content":{"type":"text","text":"hello there"}}`)
	segments := Extract(content)
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}
	if segments[0].Role != models.RoleUser || segments[0].Text != "hello there" {
		t.Errorf("got %+v", segments[0])
	}
}

func TestExtract_UserText_Blank(t *testing.T) {
	content := []byte(`{"role":"user","content":{"type":"text","text":"   "}}`)
	segments := Extract(content)
	if len(segments) != 0 {
		t.Errorf("got %d segments, want 0 for blank text", len(segments))
	}
}

func TestExtract_AssistantMessageContent(t *testing.T) {
	content := []byte(`{"role":"assistant","content":{"message":{"content":[
		{"type":"text","text":"thinking..."},
		{"type":"tool_use","name":"search","input":{"query":"foo"}}
	]}}}`)
	segments := Extract(content)
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segments), segments)
	}
	if segments[0].Role != models.RoleAssistant || segments[0].Text != "thinking..." {
		t.Errorf("segment 0 = %+v", segments[0])
	}
	if segments[1].Role != models.RoleTool {
		t.Errorf("segment 1 role = %q, want tool", segments[1].Role)
	}
}

func TestExtract_AssistantDataContent(t *testing.T) {
	content := []byte(`{"role":"assistant","content":{"data":[{"type":"text","text":"via data"}]}}`)
	segments := Extract(content)
	if len(segments) != 1 || segments[0].Text != "via data" {
		t.Fatalf("got %+v", segments)
	}
}

func TestExtract_DirectContentBlocks(t *testing.T) {
	content := []byte(`{"content":[{"type":"text","text":"direct block"}]}`)
	segments := Extract(content)
	if len(segments) != 1 || segments[0].Text != "direct block" {
		t.Fatalf("got %+v", segments)
	}
}

func TestExtract_ToolResult(t *testing.T) {
	content := []byte(`{"role":"assistant","content":{"message":{"content":[
		{"type":"tool_result","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}
	]}}}`)
	segments := Extract(content)
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}
	if segments[0].Role != models.RoleToolResult {
		t.Errorf("role = %q, want tool_result", segments[0].Role)
	}
	want := "line one\nline two"
	if segments[0].Text != want {
		t.Errorf("text = %q, want %q", segments[0].Text, want)
	}
}

func TestExtract_ToolResultStringContent(t *testing.T) {
	content := []byte(`{"role":"assistant","content":{"message":{"content":[
		{"type":"tool_result","content":"plain string result"}
	]}}}`)
	segments := Extract(content)
	if len(segments) != 1 || segments[0].Text != "plain string result" {
		t.Fatalf("got %+v", segments)
	}
}

func TestExtract_UnknownRoleFallsBackToAssistant(t *testing.T) {
	content := []byte(`{"content":[{"type":"text","text":"fallback text"}]}`)
	segments := Extract(content)
	if len(segments) != 1 || segments[0].Text != "fallback text" {
		t.Fatalf("got %+v", segments)
	}
}

func TestExtract_InvalidJSON(t *testing.T) {
	segments := Extract([]byte(`not json`))
	if segments != nil {
		t.Errorf("got %+v, want nil", segments)
	}
}

func TestTruncateString_ShortUnchanged(t *testing.T) {
	s := "short text"
	if got := TruncateString(s, 500); got != s {
		t.Errorf("got %q, want unchanged %q", got, s)
	}
}

func TestTruncateString_LongTruncatedAtCharBoundary(t *testing.T) {
	s := "日本語のテキストを含む長い文字列です。これは切り詰められるはずです。"
	got := TruncateString(s, 10)
	runeCount := 0
	for range got {
		runeCount++
	}
	if runeCount > 13 { // keep(5) + "..." + keep(5), roughly
		t.Errorf("truncated string too long: %d runes (%q)", runeCount, got)
	}
	if got == s {
		t.Errorf("expected truncation, got unchanged string")
	}
}
