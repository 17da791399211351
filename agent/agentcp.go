// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the top of the SDK: the AgentCP orchestrator owns
// the process-wide configuration and the set of local agents, and each
// Agent runs the online lifecycle across its auth, heartbeat, message,
// session, and group clients.
//
// AgentCP is an ordinary constructed object, not a package global.
// Language bindings that need singleton semantics hold the instance
// themselves.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agentcp-foundation/agentcp/identity"
	"github.com/agentcp-foundation/agentcp/lib/clock"
	"github.com/agentcp-foundation/agentcp/lib/config"
	"github.com/agentcp-foundation/agentcp/lib/netutil"
	"github.com/agentcp-foundation/agentcp/lib/ref"
)

// AgentCP is the process-wide orchestrator. Configuration applies to
// every agent it creates.
type AgentCP struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	agents      map[string]*Agent
}

// Options tune a new orchestrator. The zero value is usable.
type Options struct {
	// Clock is injected into every client for testability. Nil means
	// the system clock.
	Clock clock.Clock
	// Logger is the root logger. Nil means slog.Default().
	Logger *slog.Logger
}

// New creates an orchestrator over a configuration.
func New(cfg *config.Config, opts Options) *AgentCP {
	if cfg == nil {
		cfg = config.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentCP{
		config: cfg,
		clock:  clk,
		logger: logger,
		agents: make(map[string]*Agent),
	}
}

// Initialize marks the orchestrator ready. Required before any agent
// goes online.
func (a *AgentCP) Initialize() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("agent: configuration invalid: %w", err)
	}
	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	return nil
}

// Initialized reports whether Initialize has run.
func (a *AgentCP) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Shutdown takes every agent offline and invalidates it, then empties
// the map. Offline tears clients down in dependency order (group
// before message, message before heartbeat) so no in-flight request
// outlives its transport.
func (a *AgentCP) Shutdown() {
	a.mu.Lock()
	agents := make([]*Agent, 0, len(a.agents))
	for _, agent := range a.agents {
		agents = append(agents, agent)
	}
	a.agents = make(map[string]*Agent)
	a.initialized = false
	a.mu.Unlock()

	for _, agent := range agents {
		agent.invalidate()
	}
	a.logger.Info("orchestrator shut down", "agents", len(agents))
}

// httpClient builds an HTTP client honoring the process TLS and proxy
// policy.
func (a *AgentCP) httpClient() (*http.Client, error) {
	return netutil.NewHTTPClient(netutil.Options{
		InsecureSkipVerify: a.config.TLS.InsecureSkipVerify,
		ProxyURL:           a.config.Proxy,
	})
}

// CreateAID generates a fresh identity for aid, has the CA sign it,
// and persists the key material encrypted under password. Returns the
// ready (offline) agent.
func (a *AgentCP) CreateAID(ctx context.Context, aidString, password string) (*Agent, error) {
	aid, err := ref.ParseAID(aidString)
	if err != nil {
		return nil, err
	}
	if a.config.CABase == "" {
		return nil, fmt.Errorf("agent: ca_base not configured")
	}

	key, err := identity.GenerateKey()
	if err != nil {
		return nil, err
	}
	csrPEM, err := identity.BuildCSR(aid, key)
	if err != nil {
		return nil, err
	}
	httpClient, err := a.httpClient()
	if err != nil {
		return nil, err
	}
	certPEM, err := identity.RequestCertificate(ctx, httpClient, a.config.CABase, aid, csrPEM)
	if err != nil {
		return nil, err
	}
	if err := identity.Save(a.config.StoragePath, aid, key, certPEM, csrPEM, password); err != nil {
		return nil, err
	}

	id := &identity.Identity{AID: aid, Key: key, CertificatePEM: certPEM}
	agent := a.newAgent(id, password)
	a.register(agent)
	a.logger.Info("AID created", "agent_id", aid)
	return agent, nil
}

// LoadAID loads an existing identity from storage. A wrong password
// surfaces as identity.ErrWrongPassword.
func (a *AgentCP) LoadAID(aidString, password string) (*Agent, error) {
	aid, err := ref.ParseAID(aidString)
	if err != nil {
		return nil, err
	}
	id, err := identity.Load(a.config.StoragePath, aid, password)
	if err != nil {
		return nil, err
	}
	agent := a.newAgent(id, password)
	a.register(agent)
	return agent, nil
}

// DeleteAID takes the agent offline (if loaded), invalidates it, and
// removes its storage directory.
func (a *AgentCP) DeleteAID(aidString string) error {
	aid, err := ref.ParseAID(aidString)
	if err != nil {
		return err
	}
	a.mu.Lock()
	agent := a.agents[aid.String()]
	delete(a.agents, aid.String())
	a.mu.Unlock()
	if agent != nil {
		agent.invalidate()
	}
	return identity.Delete(a.config.StoragePath, aid)
}

// ListAIDs scans the storage root for directories holding a
// certificate named after themselves.
func (a *AgentCP) ListAIDs() ([]string, error) {
	entries, err := os.ReadDir(a.config.StoragePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: scanning storage: %w", err)
	}
	var aids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		crt := filepath.Join(a.config.StoragePath, name, "private", "certs", name+".crt")
		if _, err := os.Stat(crt); err == nil {
			aids = append(aids, name)
		}
	}
	sort.Strings(aids)
	return aids, nil
}

// Agent returns a loaded agent by AID, or nil.
func (a *AgentCP) Agent(aidString string) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agents[aidString]
}

func (a *AgentCP) register(agent *Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agents[agent.aid.String()] = agent
}
