// Package socket implements a minimal Socket.IO (Engine.IO v4) client
// over a raw WebSocket, matching the small subset of the protocol the
// hub's realtime gateway speaks: a single namespace, JSON event
// payloads, and optional acks.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hapi-systems/hapi-core/internal/telemetry"
)

var tracer = telemetry.Tracer("machine.socket")

const (
	connectAckTimeout = 10 * time.Second
	writeQueueSize    = 128

	// eventQueueDepth buffers one event's worth of dispatch between the
	// reader goroutine and the handler. A handler that blocks (e.g. the
	// tunnel manager applying back-pressure on a full write queue) stalls
	// dispatch after this one buffered slot fills, but the reader keeps
	// draining engine.io pings/pongs and one further event off the wire
	// in the meantime instead of stalling the whole connection.
	eventQueueDepth = 1
)

// EventHandler is invoked for every Socket.IO event frame received on
// the namespace. client lets a handler emit events of its own, e.g. to
// reply to a request carried in data.
type EventHandler func(event string, data json.RawMessage, client *Client)

// Client is a connected Socket.IO client for a single namespace.
type Client struct {
	conn      *websocket.Conn
	namespace string

	writeCh chan string
	eventCh chan queuedEvent

	mu         sync.Mutex
	nextID     int64
	ackWaiters map[int64]chan json.RawMessage

	disconnectOnce sync.Once
	disconnectCh   chan struct{}
}

// queuedEvent is one decoded Socket.IO event frame awaiting dispatch.
type queuedEvent struct {
	name    string
	payload json.RawMessage
}

// Connect dials apiURL's WebSocket transport, completes the Engine.IO
// and Socket.IO handshakes for namespace with the given auth payload,
// and starts the background reader/writer goroutines. onEvent is
// called for every received event from a dispatch goroutine fed by the
// reader; it must not block for long.
func Connect(ctx context.Context, apiURL, namespace string, auth any, onEvent EventHandler) (*Client, error) {
	wsURL, err := toWebSocketURL(apiURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: dial: %w", err)
	}
	conn.SetReadLimit(4 << 20)

	c := &Client{
		conn:         conn,
		namespace:    namespace,
		writeCh:      make(chan string, writeQueueSize),
		eventCh:      make(chan queuedEvent, eventQueueDepth),
		nextID:       1,
		ackWaiters:   make(map[int64]chan json.RawMessage),
		disconnectCh: make(chan struct{}),
	}

	if err := c.handshake(ctx, auth); err != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, err
	}

	go c.writeLoop()
	go c.dispatchLoop(onEvent)
	go c.readLoop()

	return c, nil
}

func toWebSocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("socket: invalid api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}

func (c *Client) handshake(ctx context.Context, auth any) (err error) {
	ctx, span := telemetry.StartSocketSpan(ctx, tracer, "handshake", c.namespace)
	defer telemetry.EndSpan(span, &err)

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("socket: no engine.io open packet: %w", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "0") {
		return fmt.Errorf("socket: expected engine.io open packet, got %q", truncate(text, 80))
	}

	authJSON, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("socket: marshal auth: %w", err)
	}
	connectPkt := fmt.Sprintf("40%s,%s", c.namespace, authJSON)
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(connectPkt)); err != nil {
		return fmt.Errorf("socket: send connect packet: %w", err)
	}

	deadline := time.Now().Add(connectAckTimeout)
	ackPrefix := "40" + c.namespace
	errPrefix := "44" + c.namespace
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("socket: connect ack timed out")
		}
		readCtx, cancel := context.WithTimeout(ctx, remaining)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("socket: connect ack timed out: %w", err)
		}
		text := string(data)

		if text == "2" {
			if err := c.conn.Write(ctx, websocket.MessageText, []byte("3")); err != nil {
				return fmt.Errorf("socket: pong during handshake: %w", err)
			}
			continue
		}
		if strings.HasPrefix(text, ackPrefix) {
			return nil
		}
		if strings.HasPrefix(text, errPrefix) {
			return fmt.Errorf("socket: connect error: %s", text)
		}
		if strings.HasPrefix(text, "41") {
			return fmt.Errorf("socket: closed during connect: %s", text)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Client) writeLoop() {
	for msg := range c.writeCh {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, []byte(msg))
		cancel()
		if err != nil {
			return
		}
	}
}

// silentDisconnectDeadline is 2.5x the Engine.IO default ping interval
// (25s). If no frame — not even a ping — arrives within this window the
// hub has gone away without closing the socket.
const silentDisconnectDeadline = 62500 * time.Millisecond

func (c *Client) readLoop() {
	defer close(c.eventCh)
	defer c.notifyDisconnected()

	for {
		readCtx, cancel := context.WithTimeout(context.Background(), silentDisconnectDeadline)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
		text := string(data)

		if text == "2" {
			c.send("3")
			continue
		}
		if strings.HasPrefix(text, "1") || strings.HasPrefix(text, "41"+c.namespace) {
			return
		}
		if !strings.HasPrefix(text, "4") {
			continue
		}

		pkt, ok := parsePacket(text, c.namespace)
		if !ok {
			continue
		}

		switch pkt.packetType {
		case 3: // ack response
			if pkt.id == nil || pkt.payload == nil {
				continue
			}
			c.mu.Lock()
			waiter, found := c.ackWaiters[*pkt.id]
			delete(c.ackWaiters, *pkt.id)
			c.mu.Unlock()
			if found {
				waiter <- pkt.payload
			}
		case 2: // event
			if pkt.payload == nil {
				continue
			}
			var tuple []json.RawMessage
			if err := json.Unmarshal(pkt.payload, &tuple); err != nil || len(tuple) == 0 {
				continue
			}
			var eventName string
			if err := json.Unmarshal(tuple[0], &eventName); err != nil {
				continue
			}
			var payload json.RawMessage = []byte("null")
			if len(tuple) > 1 {
				payload = tuple[1]
			}
			c.eventCh <- queuedEvent{name: eventName, payload: payload}
		}
	}
}

// dispatchLoop calls onEvent for each queued event, decoupled from the
// reader goroutine by eventCh so a slow or back-pressured handler
// doesn't stall ping/pong processing on the wire.
func (c *Client) dispatchLoop(onEvent EventHandler) {
	for ev := range c.eventCh {
		if onEvent != nil {
			onEvent(ev.name, ev.payload, c)
		}
	}
}

func (c *Client) notifyDisconnected() {
	c.disconnectOnce.Do(func() { close(c.disconnectCh) })
}

// Disconnected returns a channel closed when the read loop exits,
// whether by remote close, error, or an explicit Disconnect.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnectCh
}

func (c *Client) send(msg string) {
	select {
	case c.writeCh <- msg:
	default:
	}
}

// Emit sends a fire-and-forget event with no ack id.
func (c *Client) Emit(event string, data any) (err error) {
	_, span := telemetry.StartSocketSpan(context.Background(), tracer, "emit", event)
	defer telemetry.EndSpan(span, &err)

	payload, err := json.Marshal([]any{event, data})
	if err != nil {
		return fmt.Errorf("socket: marshal event payload: %w", err)
	}
	packet := fmt.Sprintf("42%s,%s", c.namespace, payload)
	select {
	case c.writeCh <- packet:
		return nil
	case <-c.disconnectCh:
		return fmt.Errorf("socket: disconnected")
	}
}

// EmitWithAck sends an event carrying an ack id and blocks until the
// hub responds with the matching ack frame or timeout elapses.
func (c *Client) EmitWithAck(ctx context.Context, event string, data any, timeout time.Duration) (result json.RawMessage, err error) {
	ctx, span := telemetry.StartSocketSpan(ctx, tracer, "emit_with_ack", event)
	defer telemetry.EndSpan(span, &err)

	payload, err := json.Marshal([]any{event, data})
	if err != nil {
		return nil, fmt.Errorf("socket: marshal event payload: %w", err)
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	waiter := make(chan json.RawMessage, 1)
	c.ackWaiters[id] = waiter
	c.mu.Unlock()

	packet := fmt.Sprintf("42%s,%d%s", c.namespace, id, payload)
	select {
	case c.writeCh <- packet:
	case <-c.disconnectCh:
		c.removeWaiter(id)
		return nil, fmt.Errorf("socket: disconnected")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-waiter:
		return result, nil
	case <-timer.C:
		c.removeWaiter(id)
		return nil, fmt.Errorf("socket: ack timed out after %s", timeout)
	case <-ctx.Done():
		c.removeWaiter(id)
		return nil, ctx.Err()
	case <-c.disconnectCh:
		c.removeWaiter(id)
		return nil, fmt.Errorf("socket: disconnected")
	}
}

func (c *Client) removeWaiter(id int64) {
	c.mu.Lock()
	delete(c.ackWaiters, id)
	c.mu.Unlock()
}

// Disconnect sends a Socket.IO disconnect frame and closes the
// underlying connection.
func (c *Client) Disconnect() {
	packet := "41" + c.namespace
	c.send(packet)
	c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

type sioPacket struct {
	packetType int
	id         *int64
	payload    json.RawMessage
}

// parsePacket parses a Socket.IO frame of the form "4<type><ns>,<id><json>"
// where the namespace prefix and numeric ack id are both optional.
func parsePacket(input, namespace string) (sioPacket, bool) {
	rest := input[1:] // strip leading '4'
	if rest == "" {
		return sioPacket{}, false
	}

	typeDigit := rest[0]
	if typeDigit < '0' || typeDigit > '9' {
		return sioPacket{}, false
	}
	pkt := sioPacket{packetType: int(typeDigit - '0')}
	rest = rest[1:]

	if strings.HasPrefix(rest, namespace) {
		rest = rest[len(namespace):]
		rest = strings.TrimPrefix(rest, ",")
	}

	digitLen := 0
	for digitLen < len(rest) && rest[digitLen] >= '0' && rest[digitLen] <= '9' {
		digitLen++
	}
	if digitLen > 0 {
		if id, err := strconv.ParseInt(rest[:digitLen], 10, 64); err == nil {
			pkt.id = &id
		}
		rest = rest[digitLen:]
	}

	if strings.TrimSpace(rest) != "" {
		pkt.payload = json.RawMessage(rest)
	}

	return pkt, true
}
