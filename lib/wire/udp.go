// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
)

// UDP datagram message types.
const (
	// MsgTypeHeartbeatReq is sent client → server to keep the agent's
	// online registration alive.
	MsgTypeHeartbeatReq uint16 = 513
	// MsgTypeHeartbeatResp is the server's answer: the next beat
	// interval in milliseconds, or the re-auth sentinel.
	MsgTypeHeartbeatResp uint16 = 258
	// MsgTypeInviteReq is pushed server → client when another agent
	// invites this agent into a session.
	MsgTypeInviteReq uint16 = 259
	// MsgTypeInviteResp acknowledges an invite back to the server.
	MsgTypeInviteResp uint16 = 516
)

// ReauthSentinel is the HeartbeatResp.NextBeat value that instructs the
// client to re-authenticate rather than adjust its interval.
const ReauthSentinel = 401

// maxVarintBytes bounds a varint to the 10 bytes needed for a u64.
const maxVarintBytes = 10

// AppendVarint appends v in protobuf-style varint encoding
// (little-endian 7-bit groups, high bit = continuation).
func AppendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v&0x7F)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Varint decodes a varint from the front of data, returning the value
// and the number of bytes consumed.
func Varint(data []byte) (uint64, int, error) {
	var value uint64
	var shift uint
	for i := 0; i < len(data) && i < maxVarintBytes; i++ {
		value |= uint64(data[i]&0x7F) << shift
		if data[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("wire: truncated varint")
}

func appendVarintString(buf []byte, s string) []byte {
	buf = AppendVarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readVarintString(data []byte, offset int) (string, int, error) {
	length, n, err := Varint(data[offset:])
	if err != nil {
		return "", 0, err
	}
	offset += n
	if uint64(len(data)-offset) < length {
		return "", 0, fmt.Errorf("wire: truncated string: need %d bytes, have %d",
			length, len(data)-offset)
	}
	return string(data[offset : offset+int(length)]), offset + int(length), nil
}

// UDPHeader prefixes every datagram: varint mask, varint sequence,
// big-endian u16 message type, big-endian u16 payload size.
type UDPHeader struct {
	Mask        uint64
	Seq         uint64
	MessageType uint16
	PayloadSize uint16
}

func (h UDPHeader) append(buf []byte) []byte {
	buf = AppendVarint(buf, h.Mask)
	buf = AppendVarint(buf, h.Seq)
	buf = binary.BigEndian.AppendUint16(buf, h.MessageType)
	return binary.BigEndian.AppendUint16(buf, h.PayloadSize)
}

// ParseUDPHeader decodes the datagram header, returning it and the
// offset of the first body byte.
func ParseUDPHeader(data []byte) (UDPHeader, int, error) {
	var h UDPHeader
	offset := 0
	var n int
	var err error
	if h.Mask, n, err = Varint(data); err != nil {
		return UDPHeader{}, 0, fmt.Errorf("wire: datagram mask: %w", err)
	}
	offset += n
	if h.Seq, n, err = Varint(data[offset:]); err != nil {
		return UDPHeader{}, 0, fmt.Errorf("wire: datagram seq: %w", err)
	}
	offset += n
	if len(data)-offset < 4 {
		return UDPHeader{}, 0, fmt.Errorf("wire: datagram header truncated")
	}
	h.MessageType = binary.BigEndian.Uint16(data[offset:])
	h.PayloadSize = binary.BigEndian.Uint16(data[offset+2:])
	return h, offset + 4, nil
}

// HeartbeatReq is the client → server keep-alive (type 513).
type HeartbeatReq struct {
	Seq        uint64
	AgentID    string
	SignCookie uint64
}

// Encode serializes the heartbeat request datagram.
func (r HeartbeatReq) Encode() []byte {
	header := UDPHeader{Seq: r.Seq, MessageType: MsgTypeHeartbeatReq,
		PayloadSize: uint16(len(r.AgentID) + 8)}
	buf := header.append(nil)
	buf = appendVarintString(buf, r.AgentID)
	return binary.BigEndian.AppendUint64(buf, r.SignCookie)
}

// ParseHeartbeatReq decodes a heartbeat request body (server side of
// the exchange; kept for tests).
func ParseHeartbeatReq(data []byte) (HeartbeatReq, error) {
	header, offset, err := ParseUDPHeader(data)
	if err != nil {
		return HeartbeatReq{}, err
	}
	var r HeartbeatReq
	r.Seq = header.Seq
	if r.AgentID, offset, err = readVarintString(data, offset); err != nil {
		return HeartbeatReq{}, fmt.Errorf("wire: heartbeat req agent_id: %w", err)
	}
	if len(data)-offset < 8 {
		return HeartbeatReq{}, fmt.Errorf("wire: heartbeat req missing sign cookie")
	}
	r.SignCookie = binary.BigEndian.Uint64(data[offset:])
	return r, nil
}

// HeartbeatResp is the server → client answer (type 258). NextBeat is
// the new send interval in milliseconds, or ReauthSentinel.
type HeartbeatResp struct {
	Seq      uint64
	NextBeat uint64
}

// Encode serializes the heartbeat response (used by test servers).
func (r HeartbeatResp) Encode() []byte {
	header := UDPHeader{Seq: r.Seq, MessageType: MsgTypeHeartbeatResp, PayloadSize: 8}
	buf := header.append(nil)
	return binary.BigEndian.AppendUint64(buf, r.NextBeat)
}

// ParseHeartbeatResp decodes a heartbeat response body.
func ParseHeartbeatResp(data []byte) (HeartbeatResp, error) {
	header, offset, err := ParseUDPHeader(data)
	if err != nil {
		return HeartbeatResp{}, err
	}
	if len(data)-offset < 8 {
		return HeartbeatResp{}, fmt.Errorf("wire: heartbeat resp missing next_beat")
	}
	return HeartbeatResp{Seq: header.Seq, NextBeat: binary.BigEndian.Uint64(data[offset:])}, nil
}

// InviteReq is pushed by the server when another agent invites this
// one into a session (type 259).
type InviteReq struct {
	Seq              uint64
	InviterAgentID   string
	InviteCode       string
	InviteCodeExpire int64
	SessionID        string
	MessageServer    string
}

// Encode serializes an invite request (used by test servers).
func (r InviteReq) Encode() []byte {
	header := UDPHeader{Seq: r.Seq, MessageType: MsgTypeInviteReq}
	buf := header.append(nil)
	buf = appendVarintString(buf, r.InviterAgentID)
	buf = appendVarintString(buf, r.InviteCode)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.InviteCodeExpire))
	buf = appendVarintString(buf, r.SessionID)
	return appendVarintString(buf, r.MessageServer)
}

// ParseInviteReq decodes an invite request body.
func ParseInviteReq(data []byte) (InviteReq, error) {
	header, offset, err := ParseUDPHeader(data)
	if err != nil {
		return InviteReq{}, err
	}
	var r InviteReq
	r.Seq = header.Seq
	if r.InviterAgentID, offset, err = readVarintString(data, offset); err != nil {
		return InviteReq{}, fmt.Errorf("wire: invite req inviter: %w", err)
	}
	if r.InviteCode, offset, err = readVarintString(data, offset); err != nil {
		return InviteReq{}, fmt.Errorf("wire: invite req code: %w", err)
	}
	if len(data)-offset < 8 {
		return InviteReq{}, fmt.Errorf("wire: invite req missing expiry")
	}
	r.InviteCodeExpire = int64(binary.BigEndian.Uint64(data[offset:]))
	offset += 8
	if r.SessionID, offset, err = readVarintString(data, offset); err != nil {
		return InviteReq{}, fmt.Errorf("wire: invite req session: %w", err)
	}
	if r.MessageServer, _, err = readVarintString(data, offset); err != nil {
		return InviteReq{}, fmt.Errorf("wire: invite req message server: %w", err)
	}
	return r, nil
}

// InviteResp acknowledges an invite back to the server (type 516).
type InviteResp struct {
	Seq            uint64
	AgentID        string
	InviterAgentID string
	SessionID      string
	SignCookie     uint64
}

// Encode serializes the invite response datagram.
func (r InviteResp) Encode() []byte {
	header := UDPHeader{Seq: r.Seq, MessageType: MsgTypeInviteResp}
	buf := header.append(nil)
	buf = appendVarintString(buf, r.AgentID)
	buf = appendVarintString(buf, r.InviterAgentID)
	buf = appendVarintString(buf, r.SessionID)
	return binary.BigEndian.AppendUint64(buf, r.SignCookie)
}

// ParseInviteResp decodes an invite response body (used by test
// servers).
func ParseInviteResp(data []byte) (InviteResp, error) {
	header, offset, err := ParseUDPHeader(data)
	if err != nil {
		return InviteResp{}, err
	}
	var r InviteResp
	r.Seq = header.Seq
	if r.AgentID, offset, err = readVarintString(data, offset); err != nil {
		return InviteResp{}, fmt.Errorf("wire: invite resp agent_id: %w", err)
	}
	if r.InviterAgentID, offset, err = readVarintString(data, offset); err != nil {
		return InviteResp{}, fmt.Errorf("wire: invite resp inviter: %w", err)
	}
	if r.SessionID, offset, err = readVarintString(data, offset); err != nil {
		return InviteResp{}, fmt.Errorf("wire: invite resp session: %w", err)
	}
	if len(data)-offset < 8 {
		return InviteResp{}, fmt.Errorf("wire: invite resp missing sign cookie")
	}
	r.SignCookie = binary.BigEndian.Uint64(data[offset:])
	return r, nil
}
