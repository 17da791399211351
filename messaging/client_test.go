// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/lib/testutil"
)

// wsServer is a loopback message server. Each accepted WebSocket is
// delivered on conns; tests drive the conversation directly.
type wsServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	reject atomic.Bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/session" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("agent_id") == "" || r.URL.Query().Get("signature") == "" {
			t.Error("missing auth query parameters")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	return testutil.RequireReceive(t, s.conns, 5*time.Second, "websocket accept")
}

// readEnvelope reads one text frame from the server side.
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	env, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("server parse: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, cmd string, data any) {
	t.Helper()
	message, err := buildEnvelope(cmd, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		t.Fatal(err)
	}
}

func newTestClient(t *testing.T, server *wsServer, config ClientConfig) *Client {
	t.Helper()
	aid, err := ref.ParseAID("alice.aid.net")
	if err != nil {
		t.Fatal(err)
	}
	config.AID = aid
	config.ServerURL = server.server.URL
	config.Signature = func() string { return "sig-1" }
	client, err := NewClient(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func TestSendAndWaitAck(t *testing.T) {
	server := newWSServer(t)
	unmatched := make(chan string, 8)
	client := newTestClient(t, server, ClientConfig{
		OnMessage: func(cmd string, data json.RawMessage) { unmatched <- cmd },
	})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)

	// The server answers the request with a matching ack, then sends
	// the same ack again. The waiter must receive exactly one result;
	// the duplicate is no longer matched and flows to the message
	// handler like any other unmatched frame.
	go func() {
		env := readEnvelope(t, serverConn)
		var req struct {
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(env.Data, &req)
		ack := map[string]string{"request_id": req.RequestID, "session_id": "sess-1"}
		writeEnvelope(t, serverConn, CmdCreateAck, ack)
		writeEnvelope(t, serverConn, CmdCreateAck, ack)
	}()

	message, err := BuildCreateSessionReq("req-1", "", 1)
	if err != nil {
		t.Fatal(err)
	}
	data, err := client.SendAndWaitAck(message, CmdCreateAck, "req-1", 5*time.Second)
	if err != nil {
		t.Fatalf("SendAndWaitAck: %v", err)
	}
	var ack CreateSessionAck
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.SessionID != "sess-1" {
		t.Errorf("session_id = %q", ack.SessionID)
	}

	// The duplicate arrives as an unmatched frame.
	if cmd := testutil.RequireReceive(t, unmatched, 5*time.Second, "duplicate ack"); cmd != CmdCreateAck {
		t.Errorf("unmatched cmd = %q", cmd)
	}
}

func TestAckRequiresMatchingCmd(t *testing.T) {
	server := newWSServer(t)
	unmatched := make(chan string, 8)
	client := newTestClient(t, server, ClientConfig{
		OnMessage: func(cmd string, data json.RawMessage) { unmatched <- cmd },
	})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)

	go func() {
		env := readEnvelope(t, serverConn)
		var req struct {
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(env.Data, &req)
		// Same request id, wrong cmd: must not fulfill the waiter.
		writeEnvelope(t, serverConn, CmdInviteAgentAck, map[string]string{"request_id": req.RequestID})
	}()

	message, err := BuildCreateSessionReq("req-2", "", 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.SendAndWaitAck(message, CmdCreateAck, "req-2", 200*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("err = %v, want ErrAckTimeout", err)
	}
	if cmd := testutil.RequireReceive(t, unmatched, 5*time.Second, "mismatched cmd frame"); cmd != CmdInviteAgentAck {
		t.Errorf("unmatched cmd = %q", cmd)
	}
}

func TestDisconnectWakesWaiters(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, ClientConfig{})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)
	go func() { readEnvelope(t, serverConn) }() // swallow the request, never ack

	done := make(chan error, 1)
	go func() {
		message, _ := BuildCreateSessionReq("req-3", "", 1)
		_, err := client.SendAndWaitAck(message, CmdCreateAck, "req-3", time.Minute)
		done <- err
	}()

	// Give the waiter a moment to register, then shut down.
	testutil.Eventually(t, 5*time.Second, func() bool {
		client.ackMu.Lock()
		defer client.ackMu.Unlock()
		return len(client.waiters) == 1
	}, "waiter never registered")
	client.Disconnect()

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiter wake on close")
	if !errors.Is(err, ErrClientClosed) {
		t.Errorf("err = %v, want ErrClientClosed", err)
	}
}

func TestQueueFlushedInOrderOnConnect(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, ClientConfig{})

	first, _ := BuildLeaveSessionReq("s1", "r1")
	second, _ := BuildLeaveSessionReq("s2", "r2")
	if err := client.Send(first); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(second); err != nil {
		t.Fatal(err)
	}
	if client.QueueLen() != 2 {
		t.Fatalf("queue len = %d", client.QueueLen())
	}

	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)

	for i, wantSession := range []string{"s1", "s2"} {
		env := readEnvelope(t, serverConn)
		var body struct {
			SessionID string `json:"session_id"`
		}
		_ = json.Unmarshal(env.Data, &body)
		if body.SessionID != wantSession {
			t.Errorf("message %d: session = %q, want %q", i, body.SessionID, wantSession)
		}
	}
	if client.QueueLen() != 0 {
		t.Errorf("queue not drained: %d", client.QueueLen())
	}
}

func TestQueueBounded(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, ClientConfig{MaxQueueSize: 2})
	message, _ := BuildCloseStreamReq()
	if err := client.Send(message); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(message); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(message); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestReconnectBackoff(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, ClientConfig{
		AutoReconnect: true,
		ReconnectBase: 4 * time.Millisecond,
		ReconnectMax:  16 * time.Millisecond,
		BackoffFactor: 2,
		PingInterval:  time.Hour,
	})
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}
	serverConn := server.accept(t)

	// Refuse upgrades, then cut the connection: the client retries
	// with doubling intervals capped at the max.
	server.reject.Store(true)
	_ = serverConn.Close()

	testutil.Eventually(t, 5*time.Second, func() bool {
		return client.State() == StateReconnecting
	}, "client never entered reconnecting state")

	// Let several failed attempts accumulate so the interval saturates.
	testutil.Eventually(t, 5*time.Second, func() bool {
		client.reconnectMu.Lock()
		defer client.reconnectMu.Unlock()
		return client.reconnectInterval == 16*time.Millisecond
	}, "backoff never reached the cap")

	// Accepting again lets the loop succeed and reset the interval.
	server.reject.Store(false)
	testutil.Eventually(t, 5*time.Second, func() bool { return client.Connected() },
		"client never reconnected")
	server.accept(t)

	client.reconnectMu.Lock()
	interval := client.reconnectInterval
	client.reconnectMu.Unlock()
	if interval != 4*time.Millisecond {
		t.Errorf("interval after success = %v, want base", interval)
	}
}

func TestOnlyOneReconnectLoop(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, ClientConfig{
		AutoReconnect: true,
		ReconnectBase: time.Hour, // park the loop
		PingInterval:  time.Hour,
	})
	server.reject.Store(true)
	_ = client.Connect() // fails, starts the loop
	if !client.reconnectRunning.Load() {
		t.Fatal("reconnect loop not running")
	}
	// Repeated triggers must not spawn a second loop.
	client.startReconnectIfNeeded()
	client.startReconnectIfNeeded()
	if !client.reconnectRunning.Load() {
		t.Fatal("reconnect loop vanished")
	}
}
