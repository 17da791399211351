// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcp-foundation/agentcp/lib/clock"
)

// DefaultRequestTimeout bounds a group request when the caller passes
// no explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

// SendFunc routes an outbound group payload to the target AID. The
// agent supplies an implementation that wraps the payload in a raw
// session_message over the message client.
type SendFunc func(targetAID, payload string) error

// pendingRequest is one in-flight group request. The response channel
// is buffered so the receive path never blocks; cancelled is closed by
// Close. The entry is removed from the pending map by whichever side
// settles it first.
type pendingRequest struct {
	requestID string
	response  chan Response
	cancelled chan struct{}
}

// ClientConfig configures a group Client.
type ClientConfig struct {
	// AgentID is this agent's AID string, used as the request id
	// prefix.
	AgentID string

	// Send routes outbound payloads. Required.
	Send SendFunc

	// RequestTimeout overrides DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Clock paces request timeouts. Nil means the system clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Client correlates group requests with responses and routes inbound
// notifications and pushes. It is safe for concurrent use.
type Client struct {
	agentID string
	send    SendFunc
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	seq    atomic.Int64
	closed atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	// handler and cursors are read on every inbound frame and may be
	// swapped concurrently with Close; atomic pointers keep the reads
	// untorn.
	handler atomic.Pointer[handlerBox]
	cursors atomic.Pointer[storeBox]
}

type handlerBox struct{ h EventHandler }
type storeBox struct{ s Store }

// NewClient creates a group Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.AgentID == "" {
		return nil, fmt.Errorf("group: AgentID is required")
	}
	if config.Send == nil {
		return nil, fmt.Errorf("group: Send is required")
	}
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
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
		agentID: config.AgentID,
		send:    config.Send,
		timeout: timeout,
		clock:   clk,
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}, nil
}

// SetEventHandler installs (or with nil, removes) the notification
// handler.
func (c *Client) SetEventHandler(handler EventHandler) {
	if handler == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&handlerBox{h: handler})
}

func (c *Client) eventHandler() EventHandler {
	box := c.handler.Load()
	if box == nil {
		return nil
	}
	return box.h
}

// SetCursorStore installs (or with nil, removes) the cursor store.
func (c *Client) SetCursorStore(store Store) {
	if store == nil {
		c.cursors.Store(nil)
		return
	}
	c.cursors.Store(&storeBox{s: store})
}

// CursorStore returns the installed cursor store, or nil.
func (c *Client) CursorStore() Store {
	box := c.cursors.Load()
	if box == nil {
		return nil
	}
	return box.s
}

// nextRequestID forms "<agent_id>-<unix_ms>-<seq>". Uniqueness is per
// client instance, which is all the correlation layer needs.
func (c *Client) nextRequestID() string {
	return fmt.Sprintf("%s-%d-%d", c.agentID, c.clock.Now().UnixMilli(), c.seq.Add(1))
}

// SendRequest sends one group action and blocks for the response.
// params may be nil. A zero timeout uses the client default. Timeout,
// cancellation (Close), and transport failures are reported as
// distinct errors from protocol-level failures, which are returned as
// the Response for the operations layer to check.
func (c *Client) SendRequest(targetAID, groupID, action string, params json.RawMessage, timeout time.Duration) (Response, error) {
	if c.closed.Load() {
		return Response{}, ErrClientClosed
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	requestID := c.nextRequestID()

	payload, err := json.Marshal(Request{
		Action:    action,
		RequestID: requestID,
		GroupID:   groupID,
		Params:    params,
	})
	if err != nil {
		return Response{}, fmt.Errorf("group: encoding %s request: %w", action, err)
	}

	pending := &pendingRequest{
		requestID: requestID,
		response:  make(chan Response, 1),
		cancelled: make(chan struct{}),
	}
	c.pendingMu.Lock()
	if c.closed.Load() {
		c.pendingMu.Unlock()
		return Response{}, ErrClientClosed
	}
	c.pending[requestID] = pending
	c.pendingMu.Unlock()

	remove := func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}

	if err := c.send(targetAID, string(payload)); err != nil {
		remove()
		return Response{}, fmt.Errorf("group: sending %s: %w", action, err)
	}

	select {
	case response := <-pending.response:
		return response, nil
	case <-pending.cancelled:
		return Response{}, fmt.Errorf("%w: action=%s request_id=%s", ErrRequestCancelled, action, requestID)
	case <-c.clock.After(timeout):
		remove()
		c.logger.Warn("group request timed out",
			"action", action, "group_id", groupID, "request_id", requestID)
		return Response{}, fmt.Errorf("%w: action=%s group_id=%s", ErrRequestTimeout, action, groupID)
	}
}

// incomingProbe is the superset shape of any inbound group payload.
type incomingProbe struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id"`
	Event     string          `json:"event"`
	GroupID   string          `json:"group_id"`
	Code      int             `json:"code"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// HandleIncoming routes one inbound group payload: a response (by
// request id), a notification (by event), or a push (by action).
// Anything else is logged and dropped.
func (c *Client) HandleIncoming(payload string) {
	var probe incomingProbe
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		c.logger.Warn("dropping unparseable group payload", "error", err)
		return
	}

	if probe.RequestID != "" {
		response := Response{
			Action:    probe.Action,
			RequestID: probe.RequestID,
			Code:      probe.Code,
			GroupID:   probe.GroupID,
			Data:      probe.Data,
			Error:     probe.Error,
		}
		c.pendingMu.Lock()
		pending, found := c.pending[probe.RequestID]
		if found {
			// Removed before the wake: a duplicate response finds no
			// entry and falls through to the notification paths.
			delete(c.pending, probe.RequestID)
		}
		c.pendingMu.Unlock()
		if found {
			pending.response <- response
			// Some servers piggyback a notification on the response.
			if probe.Event != "" {
				c.dispatchNotify(probe)
			}
			return
		}
		c.logger.Warn("group response matches no pending request",
			"request_id", probe.RequestID, "action", probe.Action)
	}

	if probe.Event != "" {
		c.dispatchNotify(probe)
		return
	}

	switch probe.Action {
	case ActionMessagePush:
		c.handleMessagePush(probe)
	case ActionMessageBatchPush:
		c.handleBatchPush(probe)
	default:
		c.logger.Warn("dropping unrecognized group payload",
			"action", probe.Action, "group_id", probe.GroupID)
	}
}

func (c *Client) dispatchNotify(probe incomingProbe) {
	handler := c.eventHandler()
	if handler == nil {
		c.logger.Warn("group notification dropped: no event handler",
			"event", probe.Event, "group_id", probe.GroupID)
		return
	}
	DispatchNotify(handler, Notify{
		Action:    "group_notify",
		GroupID:   probe.GroupID,
		Event:     probe.Event,
		Data:      probe.Data,
		Timestamp: probe.Timestamp,
	}, c.logger)
}

func (c *Client) handleMessagePush(probe incomingProbe) {
	handler := c.eventHandler()
	if handler == nil {
		c.logger.Warn("message_push dropped: no event handler", "group_id", probe.GroupID)
		return
	}
	var message GroupMessage
	if err := json.Unmarshal(probe.Data, &message); err != nil {
		c.logger.Warn("message_push parse error", "error", err)
		return
	}
	handler.OnGroupMessage(probe.GroupID, message)
	// Also visible to notification listeners as a group_message event.
	DispatchNotify(handler, Notify{
		Action:    "group_notify",
		GroupID:   probe.GroupID,
		Event:     NotifyGroupMessage,
		Data:      probe.Data,
		Timestamp: message.Timestamp,
	}, c.logger)
}

func (c *Client) handleBatchPush(probe incomingProbe) {
	handler := c.eventHandler()
	if handler == nil {
		c.logger.Warn("message_batch_push dropped: no event handler", "group_id", probe.GroupID)
		return
	}
	var batch GroupMessageBatch
	if err := json.Unmarshal(probe.Data, &batch); err != nil {
		c.logger.Warn("message_batch_push parse error", "error", err)
		return
	}
	handler.OnGroupMessageBatch(probe.GroupID, batch)
}

// Close cancels every pending request, then closes the cursor store.
// Idempotent. Must be called before the message client shuts down:
// pending requests dispatch through the send function, and waking them
// while the transport is already gone races.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.pendingMu.Lock()
	for _, pending := range c.pending {
		close(pending.cancelled)
	}
	c.pending = make(map[string]*pendingRequest)
	c.pendingMu.Unlock()

	// The store close happens outside the pending lock: Flush may
	// block on disk I/O and cancelled waiters are already awake.
	if store := c.CursorStore(); store != nil {
		if err := store.Close(); err != nil {
			c.logger.Warn("cursor store close failed", "error", err)
		}
	}
	c.logger.Info("group client closed", "agent_id", c.agentID)
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool { return c.closed.Load() }
