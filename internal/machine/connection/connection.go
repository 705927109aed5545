// Package connection drives the machine agent's realtime connection
// loop: connect, authenticate, announce state, keep alive, relay
// tunnels, and reconnect with backoff when the hub goes away.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hapi-systems/hapi-core/internal/machine/config"
	"github.com/hapi-systems/hapi-core/internal/machine/socket"
	"github.com/hapi-systems/hapi-core/internal/machine/tunnel"
	"github.com/hapi-systems/hapi-core/pkg/wire"
)

const (
	keepAliveEvery   = 20 * time.Second
	initialStateWait = 10 * time.Second
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
)

// Run connects to the hub and blocks until ctx is canceled, transparently
// reconnecting with capped exponential backoff whenever the socket drops.
func Run(ctx context.Context, cfg *config.Config) error {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		client, tm, err := connectAndAnnounce(ctx, cfg)
		if err != nil {
			slog.Warn("connect failed, retrying", "error", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		slog.Info("socket.io connected", "namespace", wire.Namespace, "api_url", cfg.APIURL)

		keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
		go keepAlive(keepAliveCtx, client, cfg.MachineID)

		select {
		case <-client.Disconnected():
			stopKeepAlive()
			tm.CloseAll()
			slog.Warn("disconnected, reconnecting", "backoff", backoff)
		case <-ctx.Done():
			stopKeepAlive()
			client.Disconnect()
			slog.Info("shutting down")
			return nil
		}

		if !sleepOrDone(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func connectAndAnnounce(ctx context.Context, cfg *config.Config) (*socket.Client, *tunnel.Manager, error) {
	auth := map[string]string{
		"token":      cfg.Token,
		"clientType": wire.ClientTypeMachineScoped,
		"machineId":  cfg.MachineID,
	}

	var tm *tunnel.Manager
	onEvent := func(event string, data json.RawMessage, c *socket.Client) {
		if tm != nil {
			dispatchEvent(ctx, tm, event, data)
		}
	}

	client, err := socket.Connect(ctx, cfg.APIURL, wire.Namespace, auth, onEvent)
	if err != nil {
		return nil, nil, fmt.Errorf("connection: socket connect: %w", err)
	}

	tm = tunnel.New(client, "")

	if err := emitInitialState(ctx, client, cfg.MachineID); err != nil {
		client.Disconnect()
		return nil, nil, fmt.Errorf("connection: emit initial state: %w", err)
	}

	return client, tm, nil
}

func dispatchEvent(ctx context.Context, tm *tunnel.Manager, event string, data json.RawMessage) {
	switch event {
	case wire.EventTunnelOpen:
		var payload struct {
			TunnelID string `json:"tunnelId"`
			Host     string `json:"host"`
			Port     int    `json:"port"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.TunnelID == "" || payload.Port == 0 {
			return
		}
		tm.Open(ctx, tunnel.OpenRequest{TunnelID: payload.TunnelID, Host: payload.Host, Port: payload.Port})
	case wire.EventTunnelData:
		var payload struct {
			TunnelID string `json:"tunnelId"`
			Data     string `json:"data"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.TunnelID == "" {
			return
		}
		tm.Data(tunnel.DataFrame{TunnelID: payload.TunnelID, Data: payload.Data})
	case wire.EventTunnelClose:
		var payload struct {
			TunnelID string `json:"tunnelId"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.TunnelID == "" {
			return
		}
		tm.Close(payload.TunnelID)
	}
}

func emitInitialState(ctx context.Context, client *socket.Client, machineID string) error {
	state := map[string]any{
		"machineId": machineID,
		"runnerState": map[string]any{
			"status":    wire.RunnerStatusRunning,
			"startedAt": time.Now().UnixMilli(),
		},
		"expectedVersion": 0,
	}
	_, err := client.EmitWithAck(ctx, wire.EventMachineUpdateState, state, initialStateWait)
	if err != nil {
		return err
	}
	slog.Info("emitted initial runner state", "machine_id", machineID)
	return nil
}

func keepAlive(ctx context.Context, client *socket.Client, machineID string) {
	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := client.Emit(wire.EventMachineAlive, map[string]any{
				"machineId": machineID,
				"time":      time.Now().UnixMilli(),
			})
			if err != nil {
				slog.Warn("failed to send keep-alive", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
