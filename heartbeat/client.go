// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat keeps an agent registered with its access point's
// heartbeat server over UDP and receives session invites pushed on the
// same socket.
//
// The client owns one UDP socket and two goroutines: a send loop that
// emits a heartbeat whenever the server-directed interval has elapsed,
// and a receive loop that dispatches heartbeat responses and invite
// requests. A heartbeat response with the re-auth sentinel (401)
// triggers a fresh sign-in; the client then adopts the new endpoint
// and sign cookie.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcp-foundation/agentcp/auth"
	"github.com/agentcp-foundation/agentcp/lib/clock"
	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/lib/wire"
)

// Heartbeat pacing. The send loop wakes once a second and emits a
// heartbeat when the interval has elapsed; the server can set the
// interval via the response but never below the floor.
const (
	tickPeriod      = time.Second
	defaultInterval = 5 * time.Second
	minInterval     = 5 * time.Second
)

// InviteHandler receives session invites pushed over UDP. Called from
// the receive goroutine; implementations must not block.
type InviteHandler func(invite wire.InviteReq)

// Config holds the dependencies for a Client.
type Config struct {
	// AID is the agent keeping the heartbeat.
	AID ref.AID

	// Auth is the sign-in client for the heartbeat server. The Client
	// calls SignIn to establish and re-establish the UDP endpoint and
	// sign cookie.
	Auth *auth.Client

	// OnInvite is invoked for each invite request. Optional.
	OnInvite InviteHandler

	// Clock paces the send loop. Nil means the system clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Client is the UDP heartbeat client.
type Client struct {
	aid      ref.AID
	auth     *auth.Client
	onInvite InviteHandler
	clock    clock.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	serverIP   string
	port       int
	signCookie uint64
	interval   time.Duration
	lastSent   time.Time

	floor time.Duration // interval floor; lowered only in tests

	seq     atomic.Uint64
	running atomic.Bool
	conn    *net.UDPConn
	stop    chan struct{}
	done    sync.WaitGroup
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.AID.IsZero() {
		return nil, fmt.Errorf("heartbeat: AID is required")
	}
	if config.Auth == nil {
		return nil, fmt.Errorf("heartbeat: Auth is required")
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
		aid:      config.AID,
		auth:     config.Auth,
		onInvite: config.OnInvite,
		clock:    clk,
		logger:   logger,
		interval: defaultInterval,
		floor:    minInterval,
	}, nil
}

// SignIn authenticates with the heartbeat server and captures the UDP
// endpoint and sign cookie from the sign-in response.
func (c *Client) SignIn(ctx context.Context) error {
	if err := c.auth.SignIn(ctx); err != nil {
		return fmt.Errorf("heartbeat: sign-in: %w", err)
	}
	serverIP, port := c.auth.Endpoint()
	if serverIP == "" || port == 0 {
		return fmt.Errorf("heartbeat: sign-in returned no UDP endpoint")
	}
	c.mu.Lock()
	c.serverIP = serverIP
	c.port = port
	c.signCookie = c.auth.SignCookie()
	c.mu.Unlock()
	return nil
}

// Start binds an ephemeral UDP port and launches the send and receive
// loops. SignIn must have succeeded first.
func (c *Client) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	configured := c.serverIP != "" && c.port != 0
	c.mu.Unlock()
	if !configured {
		c.running.Store(false)
		return fmt.Errorf("heartbeat: no server endpoint; call SignIn first")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("heartbeat: binding UDP socket: %w", err)
	}
	c.conn = conn
	c.stop = make(chan struct{})

	c.done.Add(2)
	go c.sendLoop()
	go c.receiveLoop()
	c.logger.Info("heartbeat started", "agent_id", c.aid, "local", conn.LocalAddr())
	return nil
}

// Stop terminates both loops. Closing the socket unblocks the receive
// loop's pending read immediately. Idempotent.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stop)
	_ = c.conn.Close()
	c.done.Wait()
	c.logger.Info("heartbeat stopped", "agent_id", c.aid)
}

// Running reports whether the loops are active.
func (c *Client) Running() bool { return c.running.Load() }

func (c *Client) sendLoop() {
	defer c.done.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-c.clock.After(tickPeriod):
		}

		now := c.clock.Now()
		c.mu.Lock()
		due := now.Sub(c.lastSent) > c.interval || c.lastSent.IsZero()
		if due {
			c.lastSent = now
		}
		serverIP, port, cookie := c.serverIP, c.port, c.signCookie
		c.mu.Unlock()
		if !due {
			continue
		}

		req := wire.HeartbeatReq{
			Seq:        c.seq.Add(1),
			AgentID:    c.aid.String(),
			SignCookie: cookie,
		}
		c.send(req.Encode(), serverIP, port)
	}
}

func (c *Client) send(data []byte, serverIP string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(serverIP), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(serverIP, fmt.Sprint(port)))
		if err != nil {
			c.logger.Warn("heartbeat endpoint unresolvable", "server", serverIP, "error", err)
			return
		}
		addr = resolved
	}
	if _, err := c.conn.WriteToUDP(data, addr); err != nil {
		c.logger.Debug("heartbeat send failed", "error", err)
	}
}

func (c *Client) receiveLoop() {
	defer c.done.Done()
	buf := make([]byte, 1536)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			// The socket is closed by Stop; anything else while
			// running is unexpected but fatal to the loop either way.
			if c.running.Load() {
				c.logger.Warn("heartbeat receive failed", "error", err)
			}
			return
		}
		datagram := buf[:n]
		header, _, err := wire.ParseUDPHeader(datagram)
		if err != nil {
			c.logger.Debug("dropping malformed datagram", "error", err)
			continue
		}
		switch header.MessageType {
		case wire.MsgTypeHeartbeatResp:
			c.handleHeartbeatResp(datagram)
		case wire.MsgTypeInviteReq:
			c.handleInvite(datagram)
		default:
			// Unknown types are ignored.
		}
	}
}

func (c *Client) handleHeartbeatResp(datagram []byte) {
	resp, err := wire.ParseHeartbeatResp(datagram)
	if err != nil {
		c.logger.Debug("dropping malformed heartbeat response", "error", err)
		return
	}
	if resp.NextBeat == wire.ReauthSentinel {
		c.logger.Info("server requested re-authentication", "agent_id", c.aid)
		if err := c.SignIn(context.Background()); err != nil {
			c.logger.Warn("re-authentication failed", "agent_id", c.aid, "error", err)
		}
		return
	}
	interval := time.Duration(resp.NextBeat) * time.Millisecond
	c.mu.Lock()
	if interval < c.floor {
		interval = c.floor
	}
	c.interval = interval
	c.mu.Unlock()
}

func (c *Client) handleInvite(datagram []byte) {
	invite, err := wire.ParseInviteReq(datagram)
	if err != nil {
		c.logger.Debug("dropping malformed invite", "error", err)
		return
	}
	c.logger.Info("session invite received",
		"agent_id", c.aid,
		"inviter", invite.InviterAgentID,
		"session_id", invite.SessionID,
	)
	if c.onInvite != nil {
		c.onInvite(invite)
	}

	c.mu.Lock()
	serverIP, port, cookie := c.serverIP, c.port, c.signCookie
	c.mu.Unlock()
	resp := wire.InviteResp{
		Seq:            c.seq.Add(1),
		AgentID:        c.aid.String(),
		InviterAgentID: invite.InviterAgentID,
		SessionID:      invite.SessionID,
		SignCookie:     cookie,
	}
	c.send(resp.Encode(), serverIP, port)
}
