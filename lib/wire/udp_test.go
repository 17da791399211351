// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"math"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7F, 0x80, 0x81, 300, 16383, 16384,
		1 << 21, 1 << 28, 1 << 35, 1 << 56,
		math.MaxUint64 - 1, math.MaxUint64,
	}
	for _, v := range values {
		encoded := AppendVarint(nil, v)
		decoded, n, err := Varint(encoded)
		if err != nil {
			t.Errorf("Varint(%d): %v", v, err)
			continue
		}
		if decoded != v {
			t.Errorf("Varint round-trip: got %d, want %d", decoded, v)
		}
		if n != len(encoded) {
			t.Errorf("Varint(%d) consumed %d of %d bytes", v, n, len(encoded))
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	if _, _, err := Varint(nil); err == nil {
		t.Error("expected error for empty input")
	}
	if _, _, err := Varint([]byte{0x80, 0x80}); err == nil {
		t.Error("expected error for all-continuation input")
	}
}

func TestHeartbeatReqRoundTrip(t *testing.T) {
	req := HeartbeatReq{Seq: 42, AgentID: "alice.aid.net", SignCookie: 0xDEADBEEFCAFE}
	decoded, err := ParseHeartbeatReq(req.Encode())
	if err != nil {
		t.Fatalf("ParseHeartbeatReq: %v", err)
	}
	if decoded != req {
		t.Errorf("round-trip mismatch: got %+v, want %+v", decoded, req)
	}
}

func TestHeartbeatRespRoundTrip(t *testing.T) {
	resp := HeartbeatResp{Seq: 9, NextBeat: 30000}
	decoded, err := ParseHeartbeatResp(resp.Encode())
	if err != nil {
		t.Fatalf("ParseHeartbeatResp: %v", err)
	}
	if decoded != resp {
		t.Errorf("round-trip mismatch: got %+v, want %+v", decoded, resp)
	}

	reauth := HeartbeatResp{Seq: 10, NextBeat: ReauthSentinel}
	decoded, err = ParseHeartbeatResp(reauth.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.NextBeat != ReauthSentinel {
		t.Errorf("NextBeat = %d, want re-auth sentinel", decoded.NextBeat)
	}
}

func TestInviteRoundTrip(t *testing.T) {
	req := InviteReq{
		Seq:              3,
		InviterAgentID:   "bob.aid.net",
		InviteCode:       "c0de",
		InviteCodeExpire: -1,
		SessionID:        "sess-123",
		MessageServer:    "https://msg.aid.net",
	}
	decodedReq, err := ParseInviteReq(req.Encode())
	if err != nil {
		t.Fatalf("ParseInviteReq: %v", err)
	}
	if decodedReq != req {
		t.Errorf("invite req mismatch: got %+v, want %+v", decodedReq, req)
	}

	resp := InviteResp{
		Seq:            4,
		AgentID:        "alice.aid.net",
		InviterAgentID: "bob.aid.net",
		SessionID:      "sess-123",
		SignCookie:     77,
	}
	decodedResp, err := ParseInviteResp(resp.Encode())
	if err != nil {
		t.Fatalf("ParseInviteResp: %v", err)
	}
	if decodedResp != resp {
		t.Errorf("invite resp mismatch: got %+v, want %+v", decodedResp, resp)
	}
}

func TestParseUDPHeaderTruncated(t *testing.T) {
	full := HeartbeatReq{Seq: 1, AgentID: "a.b"}.Encode()
	for i := 0; i < 5 && i < len(full); i++ {
		if _, _, err := ParseUDPHeader(full[:i]); err == nil {
			t.Errorf("ParseUDPHeader accepted %d-byte prefix", i)
		}
	}
}
