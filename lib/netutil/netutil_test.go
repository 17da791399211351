// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]string
		if err := DecodeResponse(r.Body, &body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body["agent_id"] != "alice.aid.net" {
			t.Errorf("agent_id = %q", body["agent_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"nonce": "abc"})
	}))
	defer server.Close()

	client, err := NewHTTPClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	body, err := PostJSON(context.Background(), client, server.URL,
		map[string]string{"agent_id": "alice.aid.net"})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !strings.Contains(string(body), "abc") {
		t.Errorf("body = %s", body)
	}
}

func TestPostJSONErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewHTTPClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	body, err := PostJSON(context.Background(), client, server.URL, map[string]string{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", httpErr.StatusCode)
	}
	// The body is returned alongside the error so callers can inspect
	// structured error payloads.
	if !strings.Contains(string(body), "denied") {
		t.Errorf("body = %q", body)
	}
}

func TestResolverOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	_, port, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	resolved := false
	SetResolver(func(host string) ([]string, error) {
		if host == "ap.invalid" {
			resolved = true
			return []string{"127.0.0.1"}, nil
		}
		return nil, errors.New("unknown host")
	})
	defer SetResolver(nil)

	client, err := NewHTTPClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	// "ap.invalid" cannot resolve through OS DNS; only the override
	// can route it to the local test server.
	_, err = PostJSON(context.Background(), client, "http://ap.invalid:"+port+"/", map[string]string{})
	if err != nil {
		t.Fatalf("PostJSON through resolver override: %v", err)
	}
	if !resolved {
		t.Error("resolver override was not consulted")
	}
}
