// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcp-foundation/agentcp/lib/clock"
	"github.com/agentcp-foundation/agentcp/lib/ref"
)

// createSessionAckTimeout bounds the wait for create_session_ack.
const createSessionAckTimeout = 10 * time.Second

// ErrSessionNotFound is returned for operations on unknown sessions.
var ErrSessionNotFound = fmt.Errorf("messaging: session not found")

// Session is the local mirror of one server-side session. The server
// is authoritative; the mirror is a convenience for the host
// application.
type Session struct {
	mu      sync.Mutex
	id      string
	members []SessionMember
	closed  bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Members returns a copy of the membership list.
func (s *Session) Members() []SessionMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMember, len(s.members))
	copy(out, s.members)
	return out
}

// Closed reports whether the session has been closed locally.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) hasMember(agentID string) bool {
	for _, m := range s.members {
		if m.AgentID == agentID {
			return true
		}
	}
	return false
}

// SessionManager mirrors session membership and wraps the session
// control commands over the message client. Mutating commands other
// than CreateSession are fire-and-forget: the envelope is sent, the
// mirror is updated, and the server remains authoritative.
type SessionManager struct {
	aid    ref.AID
	client *Client
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager bound to a message client.
func NewSessionManager(aid ref.AID, client *Client, clk clock.Clock, logger *slog.Logger) *SessionManager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		aid:      aid,
		client:   client,
		clock:    clk,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// newRequestID produces a UUID hex request id (no dashes).
func newRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CreateSession asks the server for a new session, records the caller
// as owner plus each distinct non-self member, and invites every
// member. When the WebSocket is down, or no create_session_ack with a
// session id arrives within createSessionAckTimeout, the session falls
// back to a locally generated id; that id is not later replaced by a
// server-assigned one.
func (m *SessionManager) CreateSession(members []string) (string, error) {
	requestID := newRequestID()
	now := m.clock.Now().UnixMilli()

	sessionID := ""
	if m.client.Connected() {
		message, err := BuildCreateSessionReq(requestID, "", now)
		if err != nil {
			return "", err
		}
		data, err := m.client.SendAndWaitAck(message, CmdCreateAck, requestID, createSessionAckTimeout)
		if err == nil {
			var ack CreateSessionAck
			if parseErr := parseAck(data, &ack); parseErr == nil && ack.SessionID != "" {
				sessionID = ack.SessionID
			}
		} else {
			m.logger.Warn("create_session_ack not received, falling back to local id",
				"agent_id", m.aid, "error", err)
		}
	}
	if sessionID == "" {
		sessionID = "session-" + newRequestID()
	}

	session := &Session{id: sessionID}
	session.members = append(session.members, SessionMember{
		AgentID:  m.aid.String(),
		Role:     RoleOwner,
		JoinedAt: now,
	})
	for _, member := range dedupe(members, m.aid.String()) {
		session.members = append(session.members, SessionMember{
			AgentID:  member,
			Role:     RoleMember,
			JoinedAt: now,
		})
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	// Invites are independent; a failed invite does not unwind the
	// session.
	for _, member := range dedupe(members, m.aid.String()) {
		if err := m.sendInvite(sessionID, member); err != nil {
			m.logger.Warn("invite failed", "session_id", sessionID,
				"member", member, "error", err)
		}
	}

	m.logger.Info("session created", "session_id", sessionID,
		"members", len(session.members))
	return sessionID, nil
}

// dedupe returns members with empties, duplicates, and self removed,
// preserving first-seen order.
func dedupe(members []string, self string) []string {
	seen := make(map[string]bool, len(members))
	var out []string
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" || member == self || seen[member] {
			continue
		}
		seen[member] = true
		out = append(out, member)
	}
	return out
}

func parseAck(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("messaging: empty ack")
	}
	return json.Unmarshal(data, v)
}

func (m *SessionManager) sendInvite(sessionID, agentID string) error {
	message, err := BuildInviteAgentReq(sessionID, newRequestID(), m.aid.String(), agentID, "")
	if err != nil {
		return err
	}
	return m.client.Send(message)
}

// InviteAgent invites an agent into an existing session and records it
// in the mirror.
func (m *SessionManager) InviteAgent(sessionID, agentID string) error {
	if sessionID == "" || agentID == "" {
		return fmt.Errorf("messaging: session id and agent id are required")
	}
	if err := m.sendInvite(sessionID, agentID); err != nil {
		m.logger.Warn("invite send failed", "session_id", sessionID, "error", err)
	}

	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.hasMember(agentID) {
		return nil
	}
	session.members = append(session.members, SessionMember{
		AgentID:  agentID,
		Role:     RoleMember,
		JoinedAt: m.clock.Now().UnixMilli(),
	})
	return nil
}

// JoinSession joins a session this agent was invited to. The inviter
// and invite code come from the UDP invite; both may be empty.
func (m *SessionManager) JoinSession(sessionID, inviterAgentID, inviteCode string) error {
	if sessionID == "" {
		return fmt.Errorf("messaging: session id is required")
	}
	message, err := BuildJoinSessionReq(sessionID, newRequestID(), inviterAgentID, inviteCode)
	if err != nil {
		return err
	}
	if err := m.client.Send(message); err != nil {
		m.logger.Warn("join send failed", "session_id", sessionID, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; !exists {
		m.sessions[sessionID] = &Session{
			id: sessionID,
			members: []SessionMember{{
				AgentID:  m.aid.String(),
				Role:     RoleMember,
				JoinedAt: m.clock.Now().UnixMilli(),
			}},
		}
	}
	return nil
}

// LeaveSession leaves a session and removes this agent from the
// mirror.
func (m *SessionManager) LeaveSession(sessionID string) error {
	message, err := BuildLeaveSessionReq(sessionID, newRequestID())
	if err != nil {
		return err
	}
	if err := m.client.Send(message); err != nil {
		m.logger.Warn("leave send failed", "session_id", sessionID, "error", err)
	}

	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	self := m.aid.String()
	session.mu.Lock()
	defer session.mu.Unlock()
	filtered := session.members[:0]
	for _, member := range session.members {
		if member.AgentID != self {
			filtered = append(filtered, member)
		}
	}
	session.members = filtered
	return nil
}

// CloseSession closes a session and marks the mirror closed.
func (m *SessionManager) CloseSession(sessionID string) error {
	message, err := BuildCloseSessionReq(sessionID, newRequestID(), "")
	if err != nil {
		return err
	}
	if err := m.client.Send(message); err != nil {
		m.logger.Warn("close send failed", "session_id", sessionID, "error", err)
	}

	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	session.closed = true
	return nil
}

// EjectAgent removes another agent from a session.
func (m *SessionManager) EjectAgent(sessionID, agentID string) error {
	if sessionID == "" || agentID == "" {
		return fmt.Errorf("messaging: session id and agent id are required")
	}
	message, err := BuildEjectAgentReq(sessionID, newRequestID(), agentID, "")
	if err != nil {
		return err
	}
	if err := m.client.Send(message); err != nil {
		m.logger.Warn("eject send failed", "session_id", sessionID, "error", err)
	}

	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	filtered := session.members[:0]
	for _, member := range session.members {
		if member.AgentID != agentID {
			filtered = append(filtered, member)
		}
	}
	session.members = filtered
	return nil
}

// MemberList returns the mirrored membership. A refresh request is
// sent to the server as a side effect; the mirror answers immediately.
func (m *SessionManager) MemberList(sessionID string) ([]SessionMember, error) {
	if message, err := BuildGetMemberListReq(sessionID, newRequestID()); err == nil {
		if err := m.client.Send(message); err != nil {
			m.logger.Debug("member list refresh not sent", "session_id", sessionID, "error", err)
		}
	}
	session, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Members(), nil
}

// Session returns the mirror for a session id.
func (m *SessionManager) Session(sessionID string) (*Session, error) {
	return m.session(sessionID)
}

// ActiveSessions returns the mirrored session ids, sorted.
func (m *SessionManager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *SessionManager) session(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}
