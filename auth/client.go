// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the AgentCP sign-in handshake: a two-round
// challenge/proof exchange that trades the agent's certified keypair
// for a session signature, the heartbeat UDP endpoint, and a sign
// cookie.
//
// A Client is created per server — the access point, the heartbeat
// server, and the message server each authenticate independently with
// the same identity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcp-foundation/agentcp/identity"
	"github.com/agentcp-foundation/agentcp/lib/clock"
	"github.com/agentcp-foundation/agentcp/lib/netutil"
	"github.com/agentcp-foundation/agentcp/lib/ref"
)

// Defaults for the in-call retry budget.
const (
	DefaultMaxRetries = 2
	defaultRetryPause = 6 * time.Second
)

// Config holds the dependencies for a Client.
type Config struct {
	// AID is the authenticating agent.
	AID ref.AID

	// ServerBase is the API base the sign_in/sign_out paths are
	// appended to (e.g. "https://ap.aid.net/api/accesspoint").
	ServerBase string

	// Identity provides the private key and certificate used to
	// answer the challenge.
	Identity *identity.Identity

	// HTTPClient is used for all requests. Required.
	HTTPClient *http.Client

	// MaxRetries is the per-step transport retry budget. Zero means
	// DefaultMaxRetries.
	MaxRetries int

	// Clock is used for retry pauses. Nil means the system clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Client performs sign-in against one server and holds the resulting
// session state.
type Client struct {
	aid        ref.AID
	serverBase string
	identity   *identity.Identity
	httpClient *http.Client
	maxRetries int
	retryPause time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu         sync.Mutex
	signature  string
	serverIP   string
	port       int
	signCookie uint64
	signedIn   bool
}

// New creates a Client. ServerBase has any trailing slash stripped.
func New(config Config) (*Client, error) {
	if config.AID.IsZero() {
		return nil, fmt.Errorf("auth: AID is required")
	}
	if config.ServerBase == "" {
		return nil, fmt.Errorf("auth: ServerBase is required")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("auth: Identity is required")
	}
	if config.HTTPClient == nil {
		return nil, fmt.Errorf("auth: HTTPClient is required")
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
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
		aid:        config.AID,
		serverBase: strings.TrimRight(config.ServerBase, "/"),
		identity:   config.Identity,
		httpClient: config.HTTPClient,
		maxRetries: maxRetries,
		retryPause: defaultRetryPause,
		clock:      clk,
		logger:     logger,
	}, nil
}

// challengeResponse is the server's answer to sign-in step 1. Legacy
// servers return the signature (with the UDP endpoint and cookie)
// directly; current servers return a nonce to be signed.
type challengeResponse struct {
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
	ServerIP   string `json:"server_ip"`
	Port       int    `json:"port"`
	SignCookie uint64 `json:"sign_cookie"`
}

// proofResponse is the server's answer to sign-in step 2.
type proofResponse struct {
	Signature  string `json:"signature"`
	ServerIP   string `json:"server_ip"`
	Port       int    `json:"port"`
	SignCookie uint64 `json:"sign_cookie"`
}

// SignIn runs the challenge/proof handshake. Transport failures are
// retried up to the retry budget with a pause between attempts;
// protocol failures (unparseable responses, missing fields) abort
// immediately.
func (c *Client) SignIn(ctx context.Context) error {
	url := c.serverBase + "/sign_in"
	requestID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("sign-in retrying", "agent_id", c.aid, "attempt", attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("auth: sign-in cancelled: %w", ctx.Err())
			case <-c.clock.After(c.retryPause):
			}
		}

		// Step 1: challenge.
		body, err := netutil.PostJSON(ctx, c.httpClient, url, map[string]string{
			"agent_id":   c.aid.String(),
			"request_id": requestID,
		})
		if err != nil {
			lastErr = err
			continue
		}
		var challenge challengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return fmt.Errorf("auth: parsing challenge response: %w", err)
		}

		if challenge.Nonce == "" {
			// Legacy servers hand back the signature without a nonce
			// round.
			if challenge.Signature == "" {
				return fmt.Errorf("auth: challenge response has neither nonce nor signature")
			}
			c.storeSession(challenge.Signature, challenge.ServerIP, challenge.Port, challenge.SignCookie)
			c.logger.Info("signed in (legacy direct signature)", "agent_id", c.aid)
			return nil
		}

		// Step 2: proof.
		signatureHex, err := c.identity.SignNonce(challenge.Nonce)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		publicKeyPEM, err := c.identity.PublicKeyPEM()
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		body, err = netutil.PostJSON(ctx, c.httpClient, url, map[string]string{
			"agent_id":   c.aid.String(),
			"request_id": requestID,
			"nonce":      challenge.Nonce,
			"public_key": publicKeyPEM,
			"cert":       c.identity.CertificatePEM,
			"signature":  signatureHex,
		})
		if err != nil {
			lastErr = err
			continue
		}
		var proof proofResponse
		if err := json.Unmarshal(body, &proof); err != nil {
			return fmt.Errorf("auth: parsing proof response: %w", err)
		}
		if proof.Signature == "" {
			return fmt.Errorf("auth: proof response missing signature")
		}

		c.storeSession(proof.Signature, proof.ServerIP, proof.Port, proof.SignCookie)
		c.logger.Info("signed in",
			"agent_id", c.aid,
			"server_ip", proof.ServerIP,
			"port", proof.Port,
		)
		return nil
	}
	return fmt.Errorf("auth: sign-in failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) storeSession(signature, serverIP string, port int, signCookie uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signature = signature
	c.serverIP = serverIP
	c.port = port
	c.signCookie = signCookie
	c.signedIn = true
}

// SignOut invalidates the session server-side on a best-effort basis
// and clears the local session state regardless of the outcome.
func (c *Client) SignOut(ctx context.Context) {
	c.mu.Lock()
	signedIn := c.signedIn
	signature := c.signature
	c.signature = ""
	c.signedIn = false
	c.mu.Unlock()
	if !signedIn {
		return
	}

	_, err := netutil.PostJSON(ctx, c.httpClient, c.serverBase+"/sign_out", map[string]string{
		"agent_id":  c.aid.String(),
		"signature": signature,
	})
	if err != nil {
		c.logger.Debug("sign-out failed (ignored)", "agent_id", c.aid, "error", err)
	}
}

// Signature returns the opaque session token, or "" before sign-in.
func (c *Client) Signature() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signature
}

// Endpoint returns the heartbeat UDP endpoint from the sign-in response.
func (c *Client) Endpoint() (serverIP string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverIP, c.port
}

// SignCookie returns the opaque cookie carried in UDP heartbeats.
func (c *Client) SignCookie() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signCookie
}

// SignedIn reports whether a session is currently held.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedIn
}

// APConfig is the transport endpoint configuration served by the
// access point after sign-in.
type APConfig struct {
	HeartbeatServer string `json:"heartbeat_server"`
	MessageServer   string `json:"message_server"`
}

// AccesspointConfig fetches the heartbeat and message server URLs.
// Some deployments double-encode the config field as a JSON string;
// both shapes are handled.
func (c *Client) AccesspointConfig(ctx context.Context) (APConfig, error) {
	c.mu.Lock()
	signature := c.signature
	c.mu.Unlock()

	body, err := netutil.PostJSON(ctx, c.httpClient, c.serverBase+"/get_accesspoint_config",
		map[string]string{
			"agent_id":  c.aid.String(),
			"signature": signature,
		})
	if err != nil {
		return APConfig{}, fmt.Errorf("auth: get_accesspoint_config: %w", err)
	}

	var envelope struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return APConfig{}, fmt.Errorf("auth: parsing accesspoint config: %w", err)
	}
	raw := envelope.Config
	if len(raw) == 0 {
		return APConfig{}, errors.New("auth: accesspoint config missing")
	}
	// The config may itself be a JSON string; unwrap once.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return APConfig{}, fmt.Errorf("auth: unwrapping accesspoint config: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	var config APConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return APConfig{}, fmt.Errorf("auth: parsing accesspoint config body: %w", err)
	}
	return config, nil
}
