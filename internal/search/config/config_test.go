package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.Listen != "0.0.0.0:7600" {
		t.Errorf("listen = %q, want default", cfg.Search.Listen)
	}
	if cfg.Meilisearch.URL != "http://localhost:7700" {
		t.Errorf("meilisearch url = %q, want default", cfg.Meilisearch.URL)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// trailing comma and comments are tolerated by json5
		hub: { url: "https://hub.example.com", apiKey: "key-123" },
		search: { listen: "127.0.0.1:9000" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Hub.URL != "https://hub.example.com" {
		t.Errorf("hub url = %q", cfg.Hub.URL)
	}
	if cfg.Search.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Search.Listen)
	}
	// unset fields keep their defaults
	if cfg.Embedder.Model != "bge-m3" {
		t.Errorf("embedder model = %q, want default preserved", cfg.Embedder.Model)
	}
}

func TestApplyEnvOverrides_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	os.WriteFile(path, []byte(`{hub: {url: "https://from-file.example.com", apiKey: "k"}}`), 0o644)

	t.Setenv("HAPI_SEARCH_HUB_URL", "https://from-env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Hub.URL != "https://from-env.example.com" {
		t.Errorf("hub url = %q, want env override", cfg.Hub.URL)
	}
}

func TestHapiURL_FallsBackToHubURL(t *testing.T) {
	cfg := Default()
	cfg.Hub.URL = "https://hub.example.com"
	if got := cfg.HapiURL(); got != "https://hub.example.com" {
		t.Errorf("got %q, want hub url fallback", got)
	}

	cfg.Search.HapiURL = "https://search-facing.example.com"
	if got := cfg.HapiURL(); got != "https://search-facing.example.com" {
		t.Errorf("got %q, want explicit override", got)
	}
}

func TestValidate_ReportsMissingFields(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing hub url/apiKey")
	}
	cfg.Hub.URL = "https://hub.example.com"
	cfg.Hub.APIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		listen string
		want   int
		wantOk bool
	}{
		{"0.0.0.0:7600", 7600, true},
		{"127.0.0.1:9000", 9000, true},
		{"no-port-here", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePort(tt.listen)
		if got != tt.want || ok != tt.wantOk {
			t.Errorf("ParsePort(%q) = (%d, %v), want (%d, %v)", tt.listen, got, ok, tt.want, tt.wantOk)
		}
	}
}
