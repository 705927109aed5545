// Package config resolves the machine agent's identity and hub
// connection settings from settings.json plus environment overrides,
// auto-generating and persisting a machine id on first run.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Config is the machine agent's resolved runtime configuration.
type Config struct {
	APIURL      string
	Token       string
	MachineID   string
	MachineName string
	Hostname    string
	HapiHome    string
}

// settings is the on-disk shape of $HAPI_HOME/settings.json. Unknown
// fields are preserved across a load/save round trip.
type settings struct {
	MachineID   *string                    `json:"machineId,omitempty"`
	CLIAPIToken *string                    `json:"cliApiToken,omitempty"`
	APIURL      *string                    `json:"apiUrl,omitempty"`
	Extra       map[string]json.RawMessage `json:"-"`
}

func (s *settings) UnmarshalJSON(data []byte) error {
	type alias settings
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = settings(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"machineId", "cliApiToken", "apiUrl"} {
		delete(raw, known)
	}
	s.Extra = raw
	return nil
}

func (s settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.MachineID != nil {
		out["machineId"], _ = json.Marshal(*s.MachineID)
	}
	if s.CLIAPIToken != nil {
		out["cliApiToken"], _ = json.Marshal(*s.CLIAPIToken)
	}
	if s.APIURL != nil {
		out["apiUrl"], _ = json.Marshal(*s.APIURL)
	}
	return json.Marshal(out)
}

// HapiHome resolves $HAPI_HOME, falling back to $HOME/.hapi.
func HapiHome() string {
	if home := os.Getenv("HAPI_HOME"); home != "" {
		return home
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/root"
	}
	return filepath.Join(home, ".hapi")
}

func settingsPath(hapiHome string) string {
	return filepath.Join(hapiHome, "settings.json")
}

func readSettings(hapiHome string) settings {
	data, err := os.ReadFile(settingsPath(hapiHome))
	if err != nil {
		return settings{}
	}
	var s settings
	if err := json.Unmarshal(data, &s); err != nil {
		return settings{}
	}
	return s
}

func writeSettings(hapiHome string, s settings) error {
	if err := os.MkdirAll(hapiHome, 0o755); err != nil {
		return fmt.Errorf("create hapi home: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(settingsPath(hapiHome), data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Load resolves the machine agent's configuration: env vars win over
// settings.json, settings.json wins over defaults. The API token has no
// default and Load fails if it cannot be resolved. A machine id is
// generated and persisted to settings.json the first time none is found.
func Load() (*Config, error) {
	hapiHome := HapiHome()
	s := readSettings(hapiHome)

	apiURL := os.Getenv("HAPI_API_URL")
	if apiURL == "" && s.APIURL != nil {
		apiURL = *s.APIURL
	}
	if apiURL == "" {
		apiURL = "http://localhost:3006"
	}

	token := os.Getenv("CLI_API_TOKEN")
	if token == "" && s.CLIAPIToken != nil {
		token = *s.CLIAPIToken
	}
	if token == "" {
		return nil, fmt.Errorf("CLI_API_TOKEN not set (env or settings.json)")
	}

	machineID := ""
	if s.MachineID != nil {
		machineID = *s.MachineID
	}
	if machineID == "" {
		machineID = uuid.NewString()
		slog.Info("generated new machine id", "machine_id", machineID)
		s.MachineID = &machineID
		if err := writeSettings(hapiHome, s); err != nil {
			return nil, err
		}
	}

	hostname, _ := os.Hostname()
	if v := os.Getenv("HAPI_HOSTNAME"); v != "" {
		hostname = v
	}

	return &Config{
		APIURL:      apiURL,
		Token:       token,
		MachineID:   machineID,
		MachineName: os.Getenv("HAPI_MACHINE_NAME"),
		Hostname:    hostname,
		HapiHome:    hapiHome,
	}, nil
}
