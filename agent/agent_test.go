// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcp-foundation/agentcp/group"
	"github.com/agentcp-foundation/agentcp/identity"
	"github.com/agentcp-foundation/agentcp/lib/config"
	"github.com/agentcp-foundation/agentcp/lib/testutil"
	"github.com/agentcp-foundation/agentcp/messaging"
)

// fakeCA issues self-signed certificates for any CSR, like the real
// sign_cert endpoint.
func fakeCA(t *testing.T) *httptest.Server {
	t.Helper()
	caKey, err := identity.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/accesspoint/sign_cert" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			ID  string `json:"id"`
			CSR string `json:"csr"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		block, _ := pem.Decode([]byte(req.CSR))
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		template := x509.Certificate{
			SerialNumber: big.NewInt(2),
			Subject:      pkix.Name{CommonName: csr.Subject.CommonName},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, &template, &template,
			csr.PublicKey.(*ecdsa.PublicKey), caKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
		_ = json.NewEncoder(w).Encode(map[string]string{"certificate": string(certPEM)})
	}))
}

func TestCreateLoadListDeleteAID(t *testing.T) {
	ca := fakeCA(t)
	defer ca.Close()

	cfg := config.Default()
	cfg.CABase = ca.URL
	cfg.APBase = "https://ap.aid.net"
	cfg.StoragePath = t.TempDir()
	orchestrator := New(cfg, Options{})

	agent, err := orchestrator.CreateAID(context.Background(), "alice.aid.net", "pw1")
	if err != nil {
		t.Fatal(err)
	}
	if agent.AID().String() != "alice.aid.net" {
		t.Errorf("AID = %s", agent.AID())
	}
	if agent.State() != StateOffline {
		t.Errorf("state = %s", agent.State())
	}
	if agent.Certificate() == "" {
		t.Error("no certificate")
	}
	if orchestrator.Agent("alice.aid.net") != agent {
		t.Error("agent not registered")
	}

	if _, err := orchestrator.CreateAID(context.Background(), "bob.aid.net", "pw2"); err != nil {
		t.Fatal(err)
	}

	aids, err := orchestrator.ListAIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(aids) != 2 || aids[0] != "alice.aid.net" || aids[1] != "bob.aid.net" {
		t.Errorf("aids = %v", aids)
	}

	// A fresh orchestrator over the same storage loads the identity.
	second := New(cfg, Options{})
	loaded, err := second.LoadAID("alice.aid.net", "pw1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Certificate() != agent.Certificate() {
		t.Error("loaded certificate differs")
	}
	if _, err := second.LoadAID("alice.aid.net", "wrong"); !errors.Is(err, identity.ErrWrongPassword) {
		t.Errorf("wrong password: %v", err)
	}

	if err := orchestrator.DeleteAID("alice.aid.net"); err != nil {
		t.Fatal(err)
	}
	aids, err = orchestrator.ListAIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(aids) != 1 || aids[0] != "bob.aid.net" {
		t.Errorf("aids after delete = %v", aids)
	}
	if orchestrator.Agent("alice.aid.net") != nil {
		t.Error("deleted agent still registered")
	}
}

// harness stands up the full server set an agent touches going online:
// a UDP sink for heartbeats, a WebSocket message server that also
// answers its own /sign_in, and an access point serving sign-in and
// transport discovery.
type harness struct {
	orchestrator *AgentCP
	agent        *Agent
	wsConns      chan *websocket.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = udpConn.Close() })
	go func() {
		buf := make([]byte, 1536)
		for {
			if _, _, err := udpConn.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()
	udpPort := udpConn.LocalAddr().(*net.UDPAddr).Port

	signInResponse := func(w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"signature":   "tok",
			"server_ip":   "127.0.0.1",
			"port":        udpPort,
			"sign_cookie": uint64(9),
		})
	}

	h := &harness{wsConns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	messageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sign_in":
			signInResponse(w)
		case "/session":
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			h.wsConns <- conn
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(messageServer.Close)

	heartbeatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sign_in" {
			signInResponse(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(heartbeatServer.Close)

	ca := fakeCA(t)
	t.Cleanup(ca.Close)

	apServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/accesspoint/sign_in":
			signInResponse(w)
		case "/api/accesspoint/get_accesspoint_config":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"config": map[string]string{
					"heartbeat_server": heartbeatServer.URL,
					"message_server":   messageServer.URL,
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(apServer.Close)

	cfg := config.Default()
	cfg.CABase = ca.URL
	cfg.APBase = apServer.URL
	cfg.StoragePath = t.TempDir()
	h.orchestrator = New(cfg, Options{})
	if err := h.orchestrator.Initialize(); err != nil {
		t.Fatal(err)
	}
	h.agent, err = h.orchestrator.CreateAID(context.Background(), "alice.aid.net", "pw")
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestGoOnlineLifecycle(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var transitions []State
	h.agent.SetStateHandler(func(oldState, newState State) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
	})

	if err := h.agent.GoOnline(context.Background()); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}
	if !h.agent.Online() {
		t.Fatal("agent not online")
	}
	if h.agent.Signature() != "tok" {
		t.Errorf("signature = %q", h.agent.Signature())
	}
	serverConn := testutil.RequireReceive(t, h.wsConns, 5*time.Second, "websocket connect")
	defer serverConn.Close()

	// A second GoOnline while online is rejected.
	if err := h.agent.GoOnline(context.Background()); err == nil {
		t.Error("double GoOnline accepted")
	}

	mu.Lock()
	sawConnecting, sawAuthenticating, sawOnline := false, false, false
	for _, s := range transitions {
		switch s {
		case StateConnecting:
			sawConnecting = true
		case StateAuthenticating:
			sawAuthenticating = true
		case StateOnline:
			sawOnline = true
		}
	}
	mu.Unlock()
	if !sawConnecting || !sawAuthenticating || !sawOnline {
		t.Errorf("transitions = %v", transitions)
	}

	h.agent.GoOffline()
	if h.agent.State() != StateOffline {
		t.Errorf("state after offline = %s", h.agent.State())
	}
	// Offline is idempotent.
	h.agent.GoOffline()
}

func TestGoOnlineFailsWithoutInitialize(t *testing.T) {
	ca := fakeCA(t)
	defer ca.Close()
	cfg := config.Default()
	cfg.CABase = ca.URL
	cfg.APBase = "http://127.0.0.1:1" // never reached
	cfg.StoragePath = t.TempDir()
	orchestrator := New(cfg, Options{})

	agent, err := orchestrator.CreateAID(context.Background(), "alice.aid.net", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := agent.GoOnline(context.Background()); err == nil {
		t.Error("GoOnline accepted without Initialize")
	}
}

func TestSendMessageDefaultsReceiver(t *testing.T) {
	h := newHarness(t)
	if err := h.agent.GoOnline(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.agent.GoOffline()
	serverConn := testutil.RequireReceive(t, h.wsConns, 5*time.Second, "websocket connect")

	inbound := make(chan messaging.Envelope, 8)
	go func() {
		for {
			_ = serverConn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			env, err := messaging.ParseEnvelope(data)
			if err != nil {
				continue
			}
			switch env.Cmd {
			case messaging.CmdCreateSession:
				var req struct {
					RequestID string `json:"request_id"`
				}
				_ = json.Unmarshal(env.Data, &req)
				ack, _ := json.Marshal(map[string]any{
					"cmd": messaging.CmdCreateAck,
					"data": map[string]string{
						"request_id": req.RequestID,
						"session_id": "sess-x",
					},
				})
				_ = serverConn.WriteMessage(websocket.TextMessage, ack)
			default:
				inbound <- env
			}
		}
	}()

	sessionID, err := h.agent.Sessions().CreateSession([]string{"bob.aid.net", "carol.aid.net"})
	if err != nil {
		t.Fatal(err)
	}

	// Drain the two invite envelopes.
	for i := 0; i < 2; i++ {
		env := testutil.RequireReceive(t, inbound, 5*time.Second, "invite")
		if env.Cmd != messaging.CmdInviteAgent {
			t.Errorf("cmd = %s", env.Cmd)
		}
	}

	if err := h.agent.SendMessage(sessionID, []messaging.Block{
		messaging.NewContentBlock("hello"),
	}); err != nil {
		t.Fatal(err)
	}
	env := testutil.RequireReceive(t, inbound, 5*time.Second, "session message")
	if env.Cmd != messaging.CmdSessionMessage {
		t.Fatalf("cmd = %s", env.Cmd)
	}
	message, err := messaging.ParseSessionMessage(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if message.Sender != "alice.aid.net" {
		t.Errorf("sender = %q", message.Sender)
	}
	if message.Receiver != "bob.aid.net,carol.aid.net" && message.Receiver != "carol.aid.net,bob.aid.net" {
		t.Errorf("receiver = %q", message.Receiver)
	}
	if len(message.Blocks) != 1 || message.Blocks[0].Content != "hello" {
		t.Errorf("blocks = %+v", message.Blocks)
	}
}

func TestGroupRoutingFilter(t *testing.T) {
	h := newHarness(t)
	if err := h.agent.GoOnline(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.agent.GoOffline()
	serverConn := testutil.RequireReceive(t, h.wsConns, 5*time.Second, "websocket connect")
	defer serverConn.Close()

	if err := h.agent.InitGroupClient("group-sess", ""); err != nil {
		t.Fatal(err)
	}
	// The default target derives from the issuer.
	if got := h.agent.GroupTargetAID(); got != "group.aid.net" {
		t.Fatalf("target = %q", got)
	}

	groupMessages := make(chan group.GroupMessage, 4)
	h.agent.SetGroupEventHandler(&channelGroupHandler{messages: groupMessages})

	sessionMessages := make(chan messaging.Message, 4)
	h.agent.SetMessageHandler(func(message messaging.Message) { sessionMessages <- message })

	sendSessionMessage := func(sender, messageField string) {
		envelope, _ := json.Marshal(map[string]any{
			"cmd": messaging.CmdSessionMessage,
			"data": map[string]any{
				"message_id": "1",
				"session_id": "group-sess",
				"sender":     sender,
				"receiver":   "alice.aid.net",
				"message":    messageField,
				"timestamp":  "1",
			},
		})
		if err := serverConn.WriteMessage(websocket.TextMessage, envelope); err != nil {
			t.Fatal(err)
		}
	}

	// From the group target: raw JSON payload routed to the group
	// client, never URL-decoded.
	sendSessionMessage("group.aid.net",
		`{"action":"message_push","group_id":"g1","data":{"msg_id":3,"sender":"bob.aid.net","content":"in-group","timestamp":1}}`)
	pushed := testutil.RequireReceive(t, groupMessages, 5*time.Second, "group push")
	if pushed.MsgID != 3 || pushed.Content != "in-group" {
		t.Errorf("group message = %+v", pushed)
	}
	// The push is also delivered as a group_message notification.
	testutil.RequireReceive(t, groupMessages, 5*time.Second, "group push notification")

	// From anyone else: ordinary URL-encoded session traffic, NOT fed
	// to the group client.
	sendSessionMessage("bob.aid.net", `%5B%7B%22type%22%3A%22content%22%2C%22content%22%3A%22plain%22%7D%5D`)
	message := testutil.RequireReceive(t, sessionMessages, 5*time.Second, "session message")
	if len(message.Blocks) != 1 || message.Blocks[0].Content != "plain" {
		t.Errorf("session message = %+v", message)
	}
	testutil.RequireNoReceive(t, groupMessages, 100*time.Millisecond,
		"non-target sender reached the group client")

	h.agent.CloseGroupClient()
	h.agent.CloseGroupClient() // idempotent
}

// channelGroupHandler forwards group messages onto a channel.
type channelGroupHandler struct {
	group.NopEventHandler
	messages chan group.GroupMessage
}

func (h *channelGroupHandler) OnGroupMessage(groupID string, message group.GroupMessage) {
	h.messages <- message
}

func TestShutdownTakesAgentsOffline(t *testing.T) {
	h := newHarness(t)
	if err := h.agent.GoOnline(context.Background()); err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, h.wsConns, 5*time.Second, "websocket connect")

	h.orchestrator.Shutdown()
	if h.agent.State() != StateOffline {
		t.Errorf("state = %s", h.agent.State())
	}
	if err := h.agent.GoOnline(context.Background()); err == nil {
		t.Error("invalidated agent went online")
	}
	if h.orchestrator.Agent("alice.aid.net") != nil {
		t.Error("agents map not emptied")
	}
}
