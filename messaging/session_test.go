// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/lib/testutil"
)

func newManager(t *testing.T, server *wsServer) (*SessionManager, *Client) {
	t.Helper()
	client := newTestClient(t, server, ClientConfig{PingInterval: time.Hour})
	aid, err := ref.ParseAID("alice.aid.net")
	if err != nil {
		t.Fatal(err)
	}
	return NewSessionManager(aid, client, nil, nil), client
}

func TestCreateSessionScenario(t *testing.T) {
	server := newWSServer(t)
	manager, client := newManager(t, server)
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)

	type invite struct {
		SessionID  string `json:"session_id"`
		InviterID  string `json:"inviter_id"`
		AcceptorID string `json:"acceptor_id"`
	}
	invites := make(chan invite, 4)
	go func() {
		for {
			_ = serverConn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			env, err := ParseEnvelope(data)
			if err != nil {
				continue
			}
			switch env.Cmd {
			case CmdCreateSession:
				var req struct {
					RequestID string `json:"request_id"`
				}
				_ = json.Unmarshal(env.Data, &req)
				writeEnvelope(t, serverConn, CmdCreateAck, map[string]string{
					"request_id": req.RequestID,
					"session_id": "server-sess-7",
				})
			case CmdInviteAgent:
				var inv invite
				_ = json.Unmarshal(env.Data, &inv)
				invites <- inv
			}
		}
	}()

	sessionID, err := manager.CreateSession([]string{
		"bob.aid.net", "carol.aid.net", "bob.aid.net", "alice.aid.net", "",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != "server-sess-7" {
		t.Errorf("session id = %q, want server-assigned", sessionID)
	}

	members, err := manager.MemberList(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3 (%+v)", len(members), members)
	}
	if members[0].AgentID != "alice.aid.net" || members[0].Role != RoleOwner {
		t.Errorf("owner = %+v", members[0])
	}
	for _, member := range members[1:] {
		if member.Role != RoleMember {
			t.Errorf("member role = %+v", member)
		}
	}

	// Exactly two invites, with alice as the inviter.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		inv := testutil.RequireReceive(t, invites, 5*time.Second, "invite envelope")
		if inv.SessionID != "server-sess-7" || inv.InviterID != "alice.aid.net" {
			t.Errorf("invite = %+v", inv)
		}
		seen[inv.AcceptorID] = true
	}
	if !seen["bob.aid.net"] || !seen["carol.aid.net"] {
		t.Errorf("invited = %v", seen)
	}
	testutil.RequireNoReceive(t, invites, 100*time.Millisecond, "extra invite")
}

func TestCreateSessionFallsBackToLocalID(t *testing.T) {
	server := newWSServer(t)
	manager, _ := newManager(t, server) // never connected

	sessionID, err := manager.CreateSession([]string{"bob.aid.net"})
	if err != nil {
		t.Fatal(err)
	}
	if sessionID == "" {
		t.Fatal("no session id")
	}
	members, err := manager.MemberList(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("members = %d", len(members))
	}
}

func TestMirrorOperations(t *testing.T) {
	server := newWSServer(t)
	manager, _ := newManager(t, server)

	sessionID, err := manager.CreateSession(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := manager.InviteAgent(sessionID, "bob.aid.net"); err != nil {
		t.Fatal(err)
	}
	// Inviting the same agent twice is a no-op in the mirror.
	if err := manager.InviteAgent(sessionID, "bob.aid.net"); err != nil {
		t.Fatal(err)
	}
	members, _ := manager.MemberList(sessionID)
	if len(members) != 2 {
		t.Errorf("members after invite = %d", len(members))
	}

	if err := manager.EjectAgent(sessionID, "bob.aid.net"); err != nil {
		t.Fatal(err)
	}
	members, _ = manager.MemberList(sessionID)
	if len(members) != 1 {
		t.Errorf("members after eject = %d", len(members))
	}

	if err := manager.CloseSession(sessionID); err != nil {
		t.Fatal(err)
	}
	session, err := manager.Session(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !session.Closed() {
		t.Error("session not marked closed")
	}

	if err := manager.LeaveSession("no-such-session"); err == nil {
		t.Error("expected error for unknown session")
	}

	if err := manager.JoinSession("joined-sess", "bob.aid.net", "code"); err != nil {
		t.Fatal(err)
	}
	joined, err := manager.Session("joined-sess")
	if err != nil {
		t.Fatal(err)
	}
	if members := joined.Members(); len(members) != 1 || members[0].Role != RoleMember {
		t.Errorf("joined members = %+v", members)
	}
}
