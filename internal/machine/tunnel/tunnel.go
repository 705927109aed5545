// Package tunnel multiplexes hub-initiated TCP tunnels over a single
// Socket.IO connection: each tunnel gets its own local TCP connection
// and a pair of pump goroutines relaying bytes as base64-encoded
// tunnel:data events.
package tunnel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

const (
	readBufferSize  = 16384
	writeQueueDepth = 256
)

// Emitter is the subset of socket.Client a tunnel manager needs.
type Emitter interface {
	Emit(event string, data any) error
}

// handle tracks the connection and write queue backing one open tunnel.
type handle struct {
	conn    net.Conn
	writeCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

// close tears down the tunnel's TCP connection, which unblocks both
// pump goroutines (the read pump's blocking Read and the write pump's
// blocking Write return errors and the goroutines exit on their own).
func (h *handle) close() {
	h.cancel()
	h.conn.Close()
}

// Manager owns the set of tunnels open on one socket connection. The
// tunnel map is guarded by mu.
type Manager struct {
	client   Emitter
	dialHost string
	mu       sync.Mutex
	tunnels  map[string]*handle
}

// New builds a Manager that emits tunnel frames via client. dialHost
// overrides the default target host (127.0.0.1) when set; pass "" to
// always honor the host named in each OpenRequest.
func New(client Emitter, dialHost string) *Manager {
	return &Manager{client: client, dialHost: dialHost, tunnels: make(map[string]*handle)}
}

// OpenRequest carries a hub-initiated tunnel:open event.
type OpenRequest struct {
	TunnelID string
	Host     string
	Port     int
}

// DataFrame carries a hub-initiated tunnel:data event.
type DataFrame struct {
	TunnelID string
	Data     string // base64
}

// Open dials the requested target and starts its read/write pumps.
func (m *Manager) Open(ctx context.Context, req OpenRequest) {
	host := req.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if m.dialHost != "" {
		host = m.dialHost
	}

	slog.Info("tunnel open", "tunnel_id", req.TunnelID, "host", host, "port", req.Port)

	addr := fmt.Sprintf("%s:%d", host, req.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		slog.Error("tunnel tcp connect failed", "tunnel_id", req.TunnelID, "addr", addr, "error", err)
		m.client.Emit("tunnel:error", map[string]string{
			"tunnelId": req.TunnelID,
			"message":  fmt.Sprintf("connect ECONNREFUSED %s", addr),
		})
		return
	}

	if err := m.client.Emit("tunnel:ready", map[string]string{"tunnelId": req.TunnelID}); err != nil {
		slog.Error("failed to emit tunnel:ready", "tunnel_id", req.TunnelID, "error", err)
		conn.Close()
		return
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	h := &handle{conn: conn, writeCh: make(chan []byte, writeQueueDepth), ctx: pumpCtx, cancel: cancel}

	m.mu.Lock()
	m.tunnels[req.TunnelID] = h
	m.mu.Unlock()

	go m.readPump(pumpCtx, conn, req.TunnelID)
	go writePump(pumpCtx, conn, h.writeCh)
}

// Data forwards a decoded tunnel:data frame to the tunnel's TCP
// connection. The send blocks until the write pump drains the queue,
// providing back-pressure to the socket goroutine that calls this. A
// frame that fails to decode is logged and dropped, and a frame for a
// tunnel whose pumps have stopped is dropped; Data never removes the
// tunnel itself.
func (m *Manager) Data(frame DataFrame) {
	m.mu.Lock()
	h, ok := m.tunnels[frame.TunnelID]
	m.mu.Unlock()
	if !ok {
		return
	}

	bytes, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		slog.Warn("tunnel base64 decode error", "tunnel_id", frame.TunnelID, "error", err)
		return
	}

	select {
	case h.writeCh <- bytes:
	case <-h.ctx.Done():
	}
}

// Close removes and tears down a single tunnel, e.g. on a hub-initiated
// tunnel:close event.
func (m *Manager) Close(tunnelID string) {
	slog.Info("tunnel close", "tunnel_id", tunnelID)
	m.remove(tunnelID)
}

// CloseAll tears down every open tunnel, e.g. when the socket
// disconnects and the hub can no longer be reached.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.tunnels)
	if n > 0 {
		slog.Warn("socket disconnected, closing tunnels", "count", n)
	}
	for id, h := range m.tunnels {
		h.close()
		delete(m.tunnels, id)
	}
}

func (m *Manager) remove(tunnelID string) {
	m.mu.Lock()
	h, ok := m.tunnels[tunnelID]
	if ok {
		delete(m.tunnels, tunnelID)
	}
	m.mu.Unlock()
	if ok {
		h.close()
	}
}

func (m *Manager) readPump(ctx context.Context, conn net.Conn, tunnelID string) {
	defer conn.Close()
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			encoded := base64.StdEncoding.EncodeToString(buf[:n])
			if emitErr := m.client.Emit("tunnel:data", map[string]string{
				"tunnelId": tunnelID,
				"data":     encoded,
			}); emitErr != nil {
				slog.Warn("tunnel failed to emit data", "tunnel_id", tunnelID, "error", emitErr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				slog.Debug("tunnel tcp eof", "tunnel_id", tunnelID)
				m.client.Emit("tunnel:close", map[string]string{"tunnelId": tunnelID})
			} else {
				slog.Debug("tunnel tcp read error", "tunnel_id", tunnelID, "error", err)
				m.client.Emit("tunnel:error", map[string]string{
					"tunnelId": tunnelID,
					"message":  err.Error(),
				})
			}
			return
		}
	}
}

func writePump(ctx context.Context, conn net.Conn, writeCh <-chan []byte) {
	for {
		select {
		case data := <-writeCh:
			if _, err := conn.Write(data); err != nil {
				slog.Debug("tunnel tcp write error", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
