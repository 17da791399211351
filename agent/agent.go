// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentcp-foundation/agentcp/auth"
	"github.com/agentcp-foundation/agentcp/group"
	"github.com/agentcp-foundation/agentcp/heartbeat"
	"github.com/agentcp-foundation/agentcp/identity"
	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/lib/wire"
	"github.com/agentcp-foundation/agentcp/messaging"
	"github.com/agentcp-foundation/agentcp/store"
)

// State is the agent lifecycle state.
type State int32

// Lifecycle states. The legal path is Offline → Connecting →
// Authenticating → Online → (Reconnecting | Error) → Offline.
const (
	StateOffline State = iota
	StateConnecting
	StateAuthenticating
	StateOnline
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOnline:
		return "online"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler types. All handlers are invoked from whichever goroutine
// caused the change: the auth path, the heartbeat receive loop, or the
// message dispatch loop. They must be safe to call from any goroutine,
// must return promptly, and must tolerate reentrancy (a handler may
// itself trigger a state change).
type (
	// StateHandler observes lifecycle transitions.
	StateHandler func(oldState, newState State)
	// MessageHandler receives decoded inbound session messages.
	MessageHandler func(message messaging.Message)
	// InviteHandler observes session invites before the auto-join.
	InviteHandler func(sessionID, inviterAgentID string)
)

// Agent is one local endpoint identity and its connections.
type Agent struct {
	aid      ref.AID
	owner    *AgentCP
	identity *identity.Identity
	password string
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	invalidated bool
	signature   string

	authClient      *auth.Client
	heartbeatClient *heartbeat.Client
	messageClient   *messaging.Client
	sessions        *messaging.SessionManager

	groupClient    *group.Client
	groupOps       *group.Operations
	groupTargetAID string
	groupSessionID string

	history *store.DB

	stateHandler   StateHandler
	messageHandler MessageHandler
	inviteHandler  InviteHandler
}

func (a *AgentCP) newAgent(id *identity.Identity, password string) *Agent {
	return &Agent{
		aid:      id.AID,
		owner:    a,
		identity: id,
		password: password,
		logger:   a.logger.With("agent_id", id.AID.String()),
		state:    StateOffline,
	}
}

// AID returns the agent identifier.
func (ag *Agent) AID() ref.AID { return ag.aid }

// State returns the current lifecycle state.
func (ag *Agent) State() State {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.state
}

// Online reports whether the agent is fully online.
func (ag *Agent) Online() bool { return ag.State() == StateOnline }

// Signature returns the current session token, or "".
func (ag *Agent) Signature() string {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.signature
}

// Certificate returns the agent's certificate PEM.
func (ag *Agent) Certificate() string { return ag.identity.CertificatePEM }

// SetStateHandler installs the lifecycle observer.
func (ag *Agent) SetStateHandler(handler StateHandler) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.stateHandler = handler
}

// SetMessageHandler installs the inbound message observer.
func (ag *Agent) SetMessageHandler(handler MessageHandler) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.messageHandler = handler
}

// SetInviteHandler installs the invite observer.
func (ag *Agent) SetInviteHandler(handler InviteHandler) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.inviteHandler = handler
}

// SetHistory attaches a local message history database. Inbound
// session messages are recorded as a side effect of dispatch.
func (ag *Agent) SetHistory(db *store.DB) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.history = db
}

// setState transitions the lifecycle and notifies the handler outside
// the lock (handlers may re-enter the agent).
func (ag *Agent) setState(newState State) {
	ag.mu.Lock()
	oldState := ag.state
	ag.state = newState
	handler := ag.stateHandler
	ag.mu.Unlock()
	if handler != nil && oldState != newState {
		handler(oldState, newState)
	}
}

// GoOnline runs the bring-up sequence: access point sign-in, transport
// discovery, heartbeat sign-in and UDP loops, message server sign-in,
// and the WebSocket. Any failure unwinds the clients already started
// and leaves the agent in StateError.
func (ag *Agent) GoOnline(ctx context.Context) error {
	ag.mu.Lock()
	if ag.invalidated {
		ag.mu.Unlock()
		return fmt.Errorf("agent: %s has been deleted", ag.aid)
	}
	if ag.state == StateOnline || ag.state == StateConnecting ||
		ag.state == StateAuthenticating || ag.state == StateReconnecting {
		ag.mu.Unlock()
		return fmt.Errorf("agent: %s is already %s", ag.aid, ag.state)
	}
	ag.mu.Unlock()

	if !ag.owner.Initialized() {
		return fmt.Errorf("agent: orchestrator not initialized")
	}
	cfg := ag.owner.config
	ag.setState(StateConnecting)

	fail := func(err error) error {
		ag.teardown()
		ag.setState(StateError)
		return err
	}

	httpClient, err := ag.owner.httpClient()
	if err != nil {
		return fail(err)
	}

	// Phase 1: authenticate with the access point and discover the
	// transport endpoints.
	ag.setState(StateAuthenticating)
	apBase := strings.TrimRight(cfg.APBase, "/") + "/api/accesspoint"
	apAuth, err := auth.New(auth.Config{
		AID:        ag.aid,
		ServerBase: apBase,
		Identity:   ag.identity,
		HTTPClient: httpClient,
		Clock:      ag.owner.clock,
		Logger:     ag.logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := apAuth.SignIn(ctx); err != nil {
		return fail(fmt.Errorf("agent: access point sign-in: %w", err))
	}
	ag.mu.Lock()
	ag.authClient = apAuth
	ag.signature = apAuth.Signature()
	ag.mu.Unlock()

	apConfig, err := apAuth.AccesspointConfig(ctx)
	if err != nil {
		ag.logger.Warn("accesspoint config unavailable, falling back to ap_base", "error", err)
	}
	heartbeatServer := apConfig.HeartbeatServer
	if heartbeatServer == "" {
		heartbeatServer = cfg.APBase
	}
	messageServer := apConfig.MessageServer
	if messageServer == "" {
		messageServer = cfg.APBase
	}

	// Phase 2: heartbeat. The heartbeat server authenticates
	// separately; its proof response carries the UDP endpoint.
	heartbeatAuth, err := auth.New(auth.Config{
		AID:        ag.aid,
		ServerBase: strings.TrimRight(heartbeatServer, "/"),
		Identity:   ag.identity,
		HTTPClient: httpClient,
		Clock:      ag.owner.clock,
		Logger:     ag.logger,
	})
	if err != nil {
		return fail(err)
	}
	heartbeatClient, err := heartbeat.New(heartbeat.Config{
		AID:      ag.aid,
		Auth:     heartbeatAuth,
		OnInvite: ag.handleInvite,
		Clock:    ag.owner.clock,
		Logger:   ag.logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := heartbeatClient.SignIn(ctx); err != nil {
		return fail(fmt.Errorf("agent: heartbeat sign-in: %w", err))
	}
	if err := heartbeatClient.Start(); err != nil {
		return fail(fmt.Errorf("agent: starting heartbeat: %w", err))
	}
	ag.mu.Lock()
	ag.heartbeatClient = heartbeatClient
	ag.mu.Unlock()

	// Phase 3: the message server authenticates a third time; its
	// signature goes into the WebSocket URL. When that sign-in fails
	// the access point signature is used as a fallback.
	messageAuth, err := auth.New(auth.Config{
		AID:        ag.aid,
		ServerBase: strings.TrimRight(messageServer, "/"),
		Identity:   ag.identity,
		HTTPClient: httpClient,
		Clock:      ag.owner.clock,
		Logger:     ag.logger,
	})
	if err != nil {
		return fail(err)
	}
	signatureSource := messageAuth
	if err := messageAuth.SignIn(ctx); err != nil {
		ag.logger.Warn("message server sign-in failed, using access point signature", "error", err)
		signatureSource = apAuth
	}

	messageClient, err := messaging.NewClient(messaging.ClientConfig{
		AID:                ag.aid,
		ServerURL:          messageServer,
		Signature:          signatureSource.Signature,
		OnMessage:          ag.handleEnvelope,
		OnBinary:           ag.handleBinary,
		OnDisconnect:       func(error) { ag.setState(StateReconnecting) },
		OnConnect:          func() { ag.setState(StateOnline) },
		AutoReconnect:      true,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		Clock:              ag.owner.clock,
		Logger:             ag.logger,
	})
	if err != nil {
		return fail(err)
	}
	ag.mu.Lock()
	ag.messageClient = messageClient
	ag.sessions = messaging.NewSessionManager(ag.aid, messageClient, ag.owner.clock, ag.logger)
	ag.mu.Unlock()

	if err := messageClient.Connect(); err != nil {
		// Heartbeat is alive and the client auto-reconnects; this is
		// recoverable, not fatal to the online attempt.
		ag.logger.Warn("websocket connect failed, reconnect loop running", "error", err)
	}

	ag.setState(StateOnline)
	ag.logger.Info("agent online")
	return nil
}

// GoOffline tears everything down in dependency order: group client
// first (cancelling in-flight group requests while the transport still
// exists), then the message client, heartbeat, and sign-out; finally
// the signature is cleared.
func (ag *Agent) GoOffline() {
	ag.mu.Lock()
	if ag.state == StateOffline {
		ag.mu.Unlock()
		return
	}
	ag.mu.Unlock()

	ag.teardown()
	ag.setState(StateOffline)
	ag.logger.Info("agent offline")
}

func (ag *Agent) teardown() {
	ag.mu.Lock()
	groupClient := ag.groupClient
	messageClient := ag.messageClient
	heartbeatClient := ag.heartbeatClient
	authClient := ag.authClient
	ag.groupClient = nil
	ag.groupOps = nil
	ag.groupTargetAID = ""
	ag.groupSessionID = ""
	ag.messageClient = nil
	ag.sessions = nil
	ag.heartbeatClient = nil
	ag.authClient = nil
	ag.signature = ""
	ag.mu.Unlock()

	if groupClient != nil {
		groupClient.Close()
	}
	if messageClient != nil {
		messageClient.Disconnect()
	}
	if heartbeatClient != nil {
		heartbeatClient.Stop()
	}
	if authClient != nil {
		authClient.SignOut(context.Background())
	}
}

// invalidate takes the agent offline permanently.
func (ag *Agent) invalidate() {
	ag.GoOffline()
	ag.mu.Lock()
	ag.invalidated = true
	ag.mu.Unlock()
}

// Sessions returns the session manager; nil while offline.
func (ag *Agent) Sessions() *messaging.SessionManager {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.sessions
}

// newMessageID produces a UUID hex message id (no dashes).
func newMessageID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SendMessage sends blocks into a session. The receiver defaults to
// every non-self session member, comma-joined.
func (ag *Agent) SendMessage(sessionID string, blocks []messaging.Block) error {
	return ag.SendMessageTo(sessionID, "", blocks)
}

// SendMessageTo sends blocks to an explicit receiver (comma-separated
// AIDs). An empty receiver falls back to the session membership.
func (ag *Agent) SendMessageTo(sessionID, receiver string, blocks []messaging.Block) error {
	ag.mu.Lock()
	messageClient := ag.messageClient
	sessions := ag.sessions
	ag.mu.Unlock()
	if messageClient == nil || !messageClient.Connected() {
		return messaging.ErrNotConnected
	}
	for _, block := range blocks {
		if err := block.Validate(); err != nil {
			return err
		}
	}

	if receiver == "" && sessions != nil {
		if session, err := sessions.Session(sessionID); err == nil {
			var others []string
			for _, member := range session.Members() {
				if member.AgentID != ag.aid.String() {
					others = append(others, member.AgentID)
				}
			}
			receiver = strings.Join(others, ",")
		}
	}

	now := ag.owner.clock.Now().UnixMilli()
	for i := range blocks {
		if blocks[i].Timestamp == 0 {
			blocks[i].Timestamp = now
		}
		if blocks[i].Status == "" {
			blocks[i].Status = "success"
		}
	}
	message, err := messaging.BuildSessionMessage(
		newMessageID(), sessionID, ag.aid.String(), receiver, blocks, "", nil, now)
	if err != nil {
		return err
	}
	return messageClient.Send(message)
}

// handleEnvelope is the message client's dispatch callback.
func (ag *Agent) handleEnvelope(cmd string, data json.RawMessage) {
	switch cmd {
	case messaging.CmdSessionMessage:
		// Group protocol frames ride session_message envelopes; they
		// are matched on the sender BEFORE any URL decoding, because
		// group payloads are carried raw.
		if ag.routeGroupMessage(data) {
			return
		}
		message, err := messaging.ParseSessionMessage(data)
		if err != nil {
			ag.logger.Warn("dropping malformed session_message", "error", err)
			return
		}
		ag.mu.Lock()
		handler := ag.messageHandler
		history := ag.history
		ag.mu.Unlock()
		if history != nil {
			if err := history.RecordMessage(context.Background(), message); err != nil {
				ag.logger.Warn("history record failed", "error", err)
			}
		}
		if handler != nil {
			handler(message)
		}
	case messaging.CmdSystemMessage:
		// System messages carry no client-visible contract yet.
	default:
		ag.logger.Debug("unhandled envelope", "cmd", cmd)
	}
}

// handleBinary receives decoded stream frames. Stream consumption is
// not part of the v1 surface; frames are logged for diagnosis.
func (ag *Agent) handleBinary(frame wire.Frame) {
	ag.logger.Debug("binary frame received",
		"msg_type", frame.Header.MsgType, "seq", frame.Header.MsgSeq,
		"payload_len", len(frame.Payload))
}

// handleInvite reacts to a UDP invite: notify the handler, then
// auto-join the session over the WebSocket.
func (ag *Agent) handleInvite(invite wire.InviteReq) {
	ag.mu.Lock()
	handler := ag.inviteHandler
	sessions := ag.sessions
	ag.mu.Unlock()
	if handler != nil {
		handler(invite.SessionID, invite.InviterAgentID)
	}
	if sessions != nil {
		if err := sessions.JoinSession(invite.SessionID, invite.InviterAgentID, invite.InviteCode); err != nil {
			ag.logger.Warn("auto-join failed", "session_id", invite.SessionID, "error", err)
		}
	}
}
