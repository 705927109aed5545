// Package config loads the search indexer's configuration from a JSON5
// file with environment variable overrides, matching the teacher's
// file+env overlay pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the search service's full configuration.
type Config struct {
	Hub         HubConfig         `json:"hub"`
	Search      SearchConfig      `json:"search"`
	Meilisearch MeilisearchConfig `json:"meilisearch"`
	Embedder    EmbedderConfig    `json:"embedder"`
}

// HubConfig points at the hapi hub this indexer syncs from.
type HubConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

// SearchConfig configures the search service's own HTTP surface and state.
type SearchConfig struct {
	Listen      string `json:"listen"`
	HapiURL     string `json:"hapiUrl,omitempty"`
	StateDB     string `json:"stateDb"`
	Backend     string `json:"backend,omitempty"`
	PostgresDSN string `json:"postgresDsn,omitempty"`
}

// MeilisearchConfig points at the search engine backend.
type MeilisearchConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

// EmbedderConfig points at the embedding model endpoint.
type EmbedderConfig struct {
	URL   string `json:"url"`
	Model string `json:"model"`
}

// Default returns a Config with the teacher's "ship with sane defaults,
// env/file overlay on top" defaults.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Listen:  "0.0.0.0:7600",
			StateDB: "hapi-search-state.db",
			Backend: "sqlite",
		},
		Meilisearch: MeilisearchConfig{
			URL: "http://localhost:7700",
		},
		Embedder: EmbedderConfig{
			URL:   "http://localhost:11434",
			Model: "bge-m3",
		},
	}
}

// Load reads config from a JSON5 file (tolerating comments/trailing
// commas), then overlays environment variables. A missing file is not
// an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables; env wins over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("HAPI_SEARCH_HUB_URL", &c.Hub.URL)
	envStr("HAPI_SEARCH_HUB_API_KEY", &c.Hub.APIKey)
	envStr("HAPI_SEARCH_LISTEN", &c.Search.Listen)
	envStr("HAPI_SEARCH_HAPI_URL", &c.Search.HapiURL)
	envStr("HAPI_SEARCH_STATE_DB", &c.Search.StateDB)
	envStr("HAPI_SEARCH_BACKEND", &c.Search.Backend)
	envStr("HAPI_SEARCH_POSTGRES_DSN", &c.Search.PostgresDSN)
	envStr("HAPI_SEARCH_MEILISEARCH_URL", &c.Meilisearch.URL)
	envStr("HAPI_SEARCH_MEILISEARCH_API_KEY", &c.Meilisearch.APIKey)
	envStr("HAPI_SEARCH_EMBEDDER_URL", &c.Embedder.URL)
	envStr("HAPI_SEARCH_EMBEDDER_MODEL", &c.Embedder.Model)
}

// HapiURL returns the URL used to build session deep links, falling back
// to the hub URL when search.hapiUrl is unset.
func (c *Config) HapiURL() string {
	if c.Search.HapiURL != "" {
		return c.Search.HapiURL
	}
	return c.Hub.URL
}

// Validate reports whether required fields are present.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Hub.URL) == "" {
		missing = append(missing, "hub.url")
	}
	if strings.TrimSpace(c.Hub.APIKey) == "" {
		missing = append(missing, "hub.apiKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParsePort extracts the numeric port from a "host:port" listen address,
// returning ok=false if it cannot be parsed.
func ParsePort(listen string) (int, bool) {
	idx := strings.LastIndex(listen, ":")
	if idx < 0 {
		return 0, false
	}
	port, err := strconv.Atoi(listen[idx+1:])
	if err != nil {
		return 0, false
	}
	return port, true
}
