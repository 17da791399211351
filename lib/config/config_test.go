// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentcp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
ca_base: https://ca.aid.net
ap_base: https://ap.aid.net
storage_path: /var/lib/agentcp
tls:
  insecure_skip_verify: true
log_level: debug
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CABase != "https://ca.aid.net" {
		t.Errorf("CABase = %q", cfg.CABase)
	}
	if cfg.APBase != "https://ap.aid.net" {
		t.Errorf("APBase = %q", cfg.APBase)
	}
	if cfg.StoragePath != "/var/lib/agentcp" {
		t.Errorf("StoragePath = %q", cfg.StoragePath)
	}
	if !cfg.TLS.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not set")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingServers(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty ca_base/ap_base")
	}
	cfg.CABase = "ftp://nope"
	cfg.APBase = "https://ap.aid.net"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestLoadRequiresEnv(t *testing.T) {
	t.Setenv("AGENTCP_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("expected error when AGENTCP_CONFIG is unset")
	}
	path := writeConfig(t, "ca_base: https://ca.aid.net\nap_base: https://ap.aid.net\n")
	t.Setenv("AGENTCP_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoragePath == "" {
		t.Error("StoragePath default not applied")
	}
}
