// Package registration announces a machine agent to the hub before it
// opens its realtime connection.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hapi-systems/hapi-core/internal/machine/config"
)

const (
	maxAttempts  = 60
	agentVersion = "hapi-core/1"
)

// initialDelay and maxDelay are vars, not consts, so tests can shrink
// the backoff schedule without waiting out the real thing.
var (
	initialDelay = 1 * time.Second
	maxDelay     = 30 * time.Second
)

// Metadata describes the host a machine agent runs on. It is sent
// verbatim as the "metadata" field of the registration request.
type Metadata struct {
	Host           string `json:"host"`
	Platform       string `json:"platform"`
	HapiCliVersion string `json:"happyCliVersion"`
	DisplayName    string `json:"displayName,omitempty"`
	HomeDir        string `json:"homeDir"`
	HapiHomeDir    string `json:"happyHomeDir"`
	HapiLibDir     string `json:"happyLibDir"`
}

// BuildMetadata derives a Metadata value from the resolved config and
// the current process environment.
func BuildMetadata(cfg *config.Config) Metadata {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir = "/root"
	}

	libDir := "/usr/local/bin"
	if exe, err := os.Executable(); err == nil {
		libDir = filepath.Dir(exe)
	}

	return Metadata{
		Host:           cfg.Hostname,
		Platform:       runtime.GOOS,
		HapiCliVersion: agentVersion,
		DisplayName:    cfg.MachineName,
		HomeDir:        homeDir,
		HapiHomeDir:    cfg.HapiHome,
		HapiLibDir:     libDir,
	}
}

type registerRequest struct {
	ID          string   `json:"id"`
	Metadata    Metadata `json:"metadata"`
	RunnerState any      `json:"runnerState"`
}

// Register announces the machine to the hub, retrying with capped
// exponential backoff until it succeeds or the attempt budget is
// exhausted. It blocks until one of those outcomes or ctx is canceled.
func Register(ctx context.Context, cfg *config.Config, meta Metadata) error {
	client := &http.Client{Timeout: 60 * time.Second}
	url := cfg.APIURL + "/cli/machines"
	body, err := json.Marshal(registerRequest{ID: cfg.MachineID, Metadata: meta, RunnerState: nil})
	if err != nil {
		return fmt.Errorf("marshal registration body: %w", err)
	}

	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, attemptErr := attemptRegister(ctx, client, url, cfg.Token, body)
		if ok {
			slog.Info("machine registered", "machine_id", cfg.MachineID)
			return nil
		}
		slog.Warn("machine registration failed", "attempt", attempt, "max_attempts", maxAttempts, "error", attemptErr)

		if attempt < maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return fmt.Errorf("machine registration failed after %d attempts", maxAttempts)
}

func attemptRegister(ctx context.Context, client *http.Client, url, token string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("HTTP %d", resp.StatusCode)
}
