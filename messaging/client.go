// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcp-foundation/agentcp/lib/clock"
	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/lib/wire"
)

// State is the connection state of a Client.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client defaults.
const (
	DefaultPingInterval     = 20 * time.Second
	DefaultMaxQueueSize     = 128
	DefaultReconnectBase    = 500 * time.Millisecond
	DefaultReconnectMax     = 10 * time.Second
	DefaultBackoffFactor    = 1.5
	DefaultMaxMessageSize   = 8 << 20
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Errors returned by SendAndWaitAck and Send.
var (
	// ErrNotConnected reports that the WebSocket is down and the
	// message could not be queued.
	ErrNotConnected = errors.New("messaging: not connected")
	// ErrQueueFull reports that the offline queue is at capacity.
	ErrQueueFull = errors.New("messaging: send queue full")
	// ErrAckTimeout reports that no matching ack arrived in time.
	ErrAckTimeout = errors.New("messaging: ack timeout")
	// ErrClientClosed reports that the client was shut down while the
	// caller was waiting.
	ErrClientClosed = errors.New("messaging: client closed")
)

// Handler receives inbound envelopes that did not match an ack waiter.
// Called on the read goroutine; must not block.
type Handler func(cmd string, data json.RawMessage)

// BinaryHandler receives decoded binary frames (stream chunks).
type BinaryHandler func(frame wire.Frame)

// ClientConfig configures a Client.
type ClientConfig struct {
	// AID is the connecting agent.
	AID ref.AID

	// ServerURL is the message server base (http/https; converted to
	// ws/wss).
	ServerURL string

	// Signature returns the current session token. Read at each dial
	// so a re-authentication is picked up by the next reconnect.
	Signature func() string

	// OnMessage receives unmatched inbound envelopes.
	OnMessage Handler

	// OnBinary receives decoded binary frames. Optional.
	OnBinary BinaryHandler

	// OnDisconnect is invoked when an established connection drops.
	OnDisconnect func(err error)

	// OnConnect is invoked after every successful (re)connect, after
	// the queue is flushed.
	OnConnect func()

	PingInterval   time.Duration
	MaxQueueSize   int
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	BackoffFactor  float64
	MaxMessageSize int64

	// AutoReconnect enables the reconnect loop. Disabled only in
	// tests that assert on single connections.
	AutoReconnect bool

	// InsecureSkipVerify disables TLS verification for the WebSocket.
	InsecureSkipVerify bool

	// Clock paces reconnect backoff and ack timeouts. Nil means the
	// system clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// ackWaiter is one blocked SendAndWaitAck call. The result channel is
// buffered so the read goroutine never blocks on delivery; the entry
// is removed from the map before the send, so a duplicate ack finds no
// waiter and goes to OnMessage like any other unmatched frame.
type ackWaiter struct {
	expectedCmd string
	result      chan json.RawMessage
}

// Client is the WebSocket message client.
type Client struct {
	aid       ref.AID
	serverURL string
	signature func() string
	config    ClientConfig
	clock     clock.Clock
	logger    *slog.Logger

	state    atomic.Int32
	shutdown atomic.Bool
	closed   chan struct{} // closed exactly once at shutdown

	connMu  sync.Mutex // guards conn and writes to it
	conn    *websocket.Conn
	connGen int // increments per established connection

	queueMu sync.Mutex
	queue   [][]byte

	ackMu   sync.Mutex
	waiters map[string]*ackWaiter

	reconnectRunning  atomic.Bool
	reconnectInterval time.Duration
	reconnectMu       sync.Mutex // guards reconnectInterval
}

// NewClient creates a Client; call Connect to establish the
// connection.
func NewClient(config ClientConfig) (*Client, error) {
	if config.AID.IsZero() {
		return nil, fmt.Errorf("messaging: AID is required")
	}
	if config.ServerURL == "" {
		return nil, fmt.Errorf("messaging: ServerURL is required")
	}
	if config.Signature == nil {
		return nil, fmt.Errorf("messaging: Signature is required")
	}
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.MaxQueueSize == 0 {
		config.MaxQueueSize = DefaultMaxQueueSize
	}
	if config.ReconnectBase == 0 {
		config.ReconnectBase = DefaultReconnectBase
	}
	if config.ReconnectMax == 0 {
		config.ReconnectMax = DefaultReconnectMax
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = DefaultBackoffFactor
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		aid:               config.AID,
		serverURL:         config.ServerURL,
		signature:         config.Signature,
		config:            config,
		clock:             clk,
		logger:            logger,
		closed:            make(chan struct{}),
		waiters:           make(map[string]*ackWaiter),
		reconnectInterval: config.ReconnectBase,
	}, nil
}

// websocketURL converts the configured server URL to the ws(s) session
// endpoint with auth query parameters.
func (c *Client) websocketURL() string {
	base := c.serverURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + base[len("https://"):]
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + base[len("http://"):]
	}
	base = strings.TrimRight(base, "/")
	return base + "/session?agent_id=" + url.QueryEscape(c.aid.String()) +
		"&signature=" + url.QueryEscape(c.signature())
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Connected reports whether the WebSocket is established.
func (c *Client) Connected() bool { return c.State() == StateConnected }

// Connect dials the message server. On failure the reconnect loop is
// started (when enabled) and the dial error is returned.
func (c *Client) Connect() error {
	if c.shutdown.Load() {
		return ErrClientClosed
	}
	if c.Connected() {
		return nil
	}
	c.state.Store(int32(StateConnecting))

	if err := c.dial(); err != nil {
		c.state.Store(int32(StateDisconnected))
		c.startReconnectIfNeeded()
		return fmt.Errorf("messaging: connect: %w", err)
	}
	return nil
}

// dial establishes the connection and launches the read and ping
// goroutines.
func (c *Client) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	if c.config.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- caller opted in
	}
	conn, _, err := dialer.Dial(c.websocketURL(), nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(c.config.MaxMessageSize)

	c.connMu.Lock()
	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.connMu.Unlock()

	c.state.Store(int32(StateConnected))
	c.resetBackoff()
	c.flushQueue(conn)

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)

	c.logger.Info("websocket connected", "agent_id", c.aid)
	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}
	return nil
}

// Disconnect shuts the client down permanently: no reconnects, all
// waiters woken empty. Idempotent.
func (c *Client) Disconnect() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(c.closed)
	c.state.Store(int32(StateDisconnected))

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	// Waiters observe c.closed; clearing the map here keeps late acks
	// from finding stale entries.
	c.ackMu.Lock()
	c.waiters = make(map[string]*ackWaiter)
	c.ackMu.Unlock()

	c.logger.Info("websocket client closed", "agent_id", c.aid)
}

// Send transmits a prebuilt envelope. When disconnected the message is
// queued (bounded) and flushed in order on the next connect.
func (c *Client) Send(message []byte) error {
	if c.shutdown.Load() {
		return ErrClientClosed
	}
	c.connMu.Lock()
	conn := c.conn
	connected := conn != nil && c.Connected()
	if connected {
		err := c.write(conn, message)
		c.connMu.Unlock()
		if err != nil {
			c.logger.Warn("websocket write failed", "error", err)
			return fmt.Errorf("messaging: write: %w", err)
		}
		return nil
	}
	c.connMu.Unlock()

	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) >= c.config.MaxQueueSize {
		return ErrQueueFull
	}
	c.queue = append(c.queue, message)
	return nil
}

// write sends one text frame. Caller holds connMu.
func (c *Client) write(conn *websocket.Conn, message []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// SendBinary transmits a binary frame (stream chunk). Binary frames
// are never queued: a stream is only meaningful on a live connection.
func (c *Client) SendBinary(frame []byte) error {
	if c.shutdown.Load() {
		return ErrClientClosed
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || !c.Connected() {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("messaging: binary write: %w", err)
	}
	return nil
}

// flushQueue drains queued messages in submission order onto a fresh
// connection.
func (c *Client) flushQueue(conn *websocket.Conn) {
	c.queueMu.Lock()
	pending := c.queue
	c.queue = nil
	c.queueMu.Unlock()
	if len(pending) == 0 {
		return
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	for i, message := range pending {
		if err := c.write(conn, message); err != nil {
			// Requeue the remainder; the reconnect path will retry.
			c.queueMu.Lock()
			c.queue = append(pending[i:], c.queue...)
			c.queueMu.Unlock()
			return
		}
	}
	c.logger.Debug("flushed queued messages", "count", len(pending))
}

// SendAndWaitAck sends an envelope and blocks until an inbound frame
// arrives whose cmd equals expectedCmd and whose data.request_id
// equals requestID, or until timeout or shutdown. The matched data is
// delivered exactly once; duplicate acks are not matched again and go
// to OnMessage.
func (c *Client) SendAndWaitAck(message []byte, expectedCmd, requestID string, timeout time.Duration) (json.RawMessage, error) {
	waiter := &ackWaiter{
		expectedCmd: expectedCmd,
		result:      make(chan json.RawMessage, 1),
	}
	c.ackMu.Lock()
	c.waiters[requestID] = waiter
	c.ackMu.Unlock()

	remove := func() {
		c.ackMu.Lock()
		delete(c.waiters, requestID)
		c.ackMu.Unlock()
	}

	if err := c.Send(message); err != nil {
		remove()
		return nil, err
	}

	select {
	case data := <-waiter.result:
		return data, nil
	case <-c.clock.After(timeout):
		remove()
		return nil, ErrAckTimeout
	case <-c.closed:
		remove()
		return nil, ErrClientClosed
	}
}

// readLoop dispatches inbound frames in arrival order. gen identifies
// the connection so a stale loop from a replaced connection cannot
// trigger reconnects.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, gen, err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			c.dispatchText(data)
		case websocket.BinaryMessage:
			c.dispatchBinary(data)
		}
	}
}

func (c *Client) dispatchText(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	// Ack correlation: a frame fulfills a waiter only when both the
	// request id and the expected cmd match. The waiter entry is
	// removed before the wake so duplicates find nothing.
	var probe struct {
		RequestID string `json:"request_id"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &probe)
	}
	if probe.RequestID != "" {
		c.ackMu.Lock()
		waiter, ok := c.waiters[probe.RequestID]
		if ok && waiter.expectedCmd == env.Cmd {
			delete(c.waiters, probe.RequestID)
			c.ackMu.Unlock()
			waiter.result <- env.Data
			return
		}
		c.ackMu.Unlock()
	}

	if c.config.OnMessage != nil {
		c.config.OnMessage(env.Cmd, env.Data)
	}
}

func (c *Client) dispatchBinary(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed binary frame", "error", err)
		return
	}
	if c.config.OnBinary != nil {
		c.config.OnBinary(frame)
	}
}

// pingLoop keeps the connection alive. It exits when the connection is
// replaced or the client shuts down.
func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	for {
		select {
		case <-c.closed:
			return
		case <-c.clock.After(c.config.PingInterval):
		}
		c.connMu.Lock()
		if c.conn != conn || c.connGen != gen {
			c.connMu.Unlock()
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.connMu.Unlock()
		if err != nil {
			return // the read loop observes the broken connection
		}
	}
}

// handleDisconnect transitions to Disconnected and kicks the reconnect
// loop, unless the drop belongs to an already-replaced connection or a
// deliberate shutdown.
func (c *Client) handleDisconnect(conn *websocket.Conn, gen int, cause error) {
	if c.shutdown.Load() {
		return
	}
	c.connMu.Lock()
	if c.connGen != gen {
		c.connMu.Unlock()
		return
	}
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.logger.Warn("websocket disconnected", "agent_id", c.aid, "error", cause)
	if c.config.OnDisconnect != nil {
		c.config.OnDisconnect(cause)
	}
	c.startReconnectIfNeeded()
}

// startReconnectIfNeeded launches the single reconnect goroutine. The
// CAS guarantees at most one loop runs at a time.
func (c *Client) startReconnectIfNeeded() {
	if !c.config.AutoReconnect || c.shutdown.Load() {
		return
	}
	if !c.reconnectRunning.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer c.reconnectRunning.Store(false)
	for {
		if c.shutdown.Load() {
			return
		}
		c.state.Store(int32(StateReconnecting))

		c.reconnectMu.Lock()
		interval := c.reconnectInterval
		c.reconnectMu.Unlock()

		select {
		case <-c.closed:
			return
		case <-c.clock.After(interval):
		}
		if c.shutdown.Load() {
			return
		}

		if err := c.dial(); err == nil {
			return
		}

		// Exponential backoff, capped.
		c.reconnectMu.Lock()
		next := time.Duration(float64(c.reconnectInterval) * c.config.BackoffFactor)
		if next > c.config.ReconnectMax {
			next = c.config.ReconnectMax
		}
		c.reconnectInterval = next
		c.reconnectMu.Unlock()
		c.logger.Debug("reconnect failed, backing off",
			"agent_id", c.aid, "next_interval", next)
	}
}

func (c *Client) resetBackoff() {
	c.reconnectMu.Lock()
	c.reconnectInterval = c.config.ReconnectBase
	c.reconnectMu.Unlock()
}

// QueueLen reports how many messages are waiting for the next
// connection.
func (c *Client) QueueLen() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}
