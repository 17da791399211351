// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcp-foundation/agentcp/lib/netutil"
)

// UploadFile posts a local file to the access point's file endpoint
// and returns the served URL. The upload authenticates with the
// session signature; progress may be nil.
func (ag *Agent) UploadFile(ctx context.Context, path string, progress netutil.Progress) (string, error) {
	ag.mu.Lock()
	signature := ag.signature
	ag.mu.Unlock()
	if signature == "" {
		return "", fmt.Errorf("agent: not signed in")
	}
	httpClient, err := ag.owner.httpClient()
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(ag.owner.config.APBase, "/") + "/api/files/upload"
	body, err := netutil.UploadMultipart(ctx, httpClient, url, map[string]string{
		"agent_id":  ag.aid.String(),
		"signature": signature,
	}, path, progress)
	if err != nil {
		return "", fmt.Errorf("agent: upload: %w", err)
	}
	return netutil.DecodeUploadURL(body)
}

// DownloadFile streams a served file URL to a local path. progress may
// be nil.
func (ag *Agent) DownloadFile(ctx context.Context, url, outPath string, progress netutil.Progress) error {
	httpClient, err := ag.owner.httpClient()
	if err != nil {
		return err
	}
	if err := netutil.DownloadToFile(ctx, httpClient, url, outPath, progress); err != nil {
		return fmt.Errorf("agent: download: %w", err)
	}
	return nil
}
