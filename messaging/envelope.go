// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Session-layer commands.
const (
	CmdSessionMessage  = "session_message"
	CmdCreateSession   = "create_session_req"
	CmdCreateAck       = "create_session_ack"
	CmdJoinSession     = "join_session_req"
	CmdLeaveSession    = "leave_session_req"
	CmdCloseSession    = "close_session_req"
	CmdInviteAgent     = "invite_agent_req"
	CmdInviteAgentAck  = "invite_agent_ack"
	CmdEjectAgent      = "eject_agent_req"
	CmdGetMemberList   = "get_member_list"
	CmdCreateStream    = "session_create_stream_req"
	CmdCreateStreamAck = "session_create_stream_ack"
	CmdPushTextStream  = "push_text_stream_req"
	CmdCloseStream     = "close_stream_req"
	CmdSystemMessage   = "system_message"
)

// Envelope is the shape of every text frame on the session WebSocket.
type Envelope struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope decodes a wire frame. Frames without a cmd are
// malformed.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("messaging: parsing envelope: %w", err)
	}
	if env.Cmd == "" {
		return Envelope{}, fmt.Errorf("messaging: envelope has no cmd")
	}
	return env, nil
}

func buildEnvelope(cmd string, data any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding %s data: %w", cmd, err)
	}
	out, err := json.Marshal(Envelope{Cmd: cmd, Data: encoded})
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding %s envelope: %w", cmd, err)
	}
	return out, nil
}

// sessionMessageData is the wire shape of a session_message body. The
// Message field is the URL-encoded JSON blocks array for ordinary
// traffic, or a raw JSON group payload for group protocol frames.
type sessionMessageData struct {
	MessageID   string       `json:"message_id"`
	SessionID   string       `json:"session_id"`
	Sender      string       `json:"sender"`
	Receiver    string       `json:"receiver"`
	Message     string       `json:"message"`
	RefMsgID    string       `json:"ref_msg_id"`
	Timestamp   string       `json:"timestamp"`
	Instruction *Instruction `json:"instruction"`
}

// BuildSessionMessage serializes blocks into a session_message
// envelope. The blocks array is URL-encoded into the message field,
// matching what session peers expect.
func BuildSessionMessage(messageID, sessionID, sender, receiver string, blocks []Block, refMsgID string, instruction *Instruction, timestampMs int64) ([]byte, error) {
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding blocks: %w", err)
	}
	return buildEnvelope(CmdSessionMessage, sessionMessageData{
		MessageID:   messageID,
		SessionID:   sessionID,
		Sender:      sender,
		Receiver:    receiver,
		Message:     url.QueryEscape(string(blocksJSON)),
		RefMsgID:    refMsgID,
		Timestamp:   strconv.FormatInt(timestampMs, 10),
		Instruction: instruction,
	})
}

// BuildRawSessionMessage serializes a session_message whose message
// field is carried verbatim, with no URL encoding. This is the
// carrier for group protocol payloads; the receiver matches on the
// sender before attempting any decode.
func BuildRawSessionMessage(messageID, sessionID, sender, receiver, payload string, timestampMs int64) ([]byte, error) {
	return buildEnvelope(CmdSessionMessage, sessionMessageData{
		MessageID: messageID,
		SessionID: sessionID,
		Sender:    sender,
		Receiver:  receiver,
		Message:   payload,
		Timestamp: strconv.FormatInt(timestampMs, 10),
	})
}

// InboundSessionMessage is the parsed shape of an inbound
// session_message body before block decoding.
type InboundSessionMessage struct {
	MessageID   string       `json:"message_id"`
	SessionID   string       `json:"session_id"`
	Sender      string       `json:"sender"`
	Receiver    string       `json:"receiver"`
	Message     string       `json:"message"`
	RefMsgID    string       `json:"ref_msg_id"`
	Timestamp   Millis       `json:"timestamp"`
	Instruction *Instruction `json:"instruction"`
}

// ParseSessionMessage decodes a session_message body and reverses the
// URL encoding of the blocks array.
func ParseSessionMessage(data []byte) (Message, error) {
	var inbound InboundSessionMessage
	if err := json.Unmarshal(data, &inbound); err != nil {
		return Message{}, fmt.Errorf("messaging: parsing session_message: %w", err)
	}
	msg := Message{
		MessageID:   inbound.MessageID,
		SessionID:   inbound.SessionID,
		Sender:      inbound.Sender,
		Receiver:    inbound.Receiver,
		RefMsgID:    inbound.RefMsgID,
		Timestamp:   int64(inbound.Timestamp),
		Instruction: inbound.Instruction,
	}
	if inbound.Message == "" {
		return msg, nil
	}
	decoded, err := url.QueryUnescape(inbound.Message)
	if err != nil {
		return Message{}, fmt.Errorf("messaging: URL-decoding message body: %w", err)
	}
	if err := json.Unmarshal([]byte(decoded), &msg.Blocks); err != nil {
		return Message{}, fmt.Errorf("messaging: parsing blocks: %w", err)
	}
	return msg, nil
}

// createSessionData is the body of create_session_req.
type createSessionData struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	GroupName string `json:"group_name"`
	Subject   string `json:"subject"`
	Timestamp string `json:"timestamp"`
}

// BuildCreateSessionReq builds the session creation request.
func BuildCreateSessionReq(requestID, sessionType string, timestampMs int64) ([]byte, error) {
	if sessionType == "" {
		sessionType = "public"
	}
	return buildEnvelope(CmdCreateSession, createSessionData{
		RequestID: requestID,
		Type:      sessionType,
		Timestamp: strconv.FormatInt(timestampMs, 10),
	})
}

// CreateSessionAck is the server's answer to create_session_req.
type CreateSessionAck struct {
	RequestID       string          `json:"request_id"`
	SessionID       string          `json:"session_id"`
	IdentifyingCode string          `json:"identifying_code"`
	StatusCode      json.RawMessage `json:"status_code"`
	Message         string          `json:"message"`
}

// BuildJoinSessionReq builds a join request. inviterAgentID and
// inviteCode come from a UDP invite; both may be empty for direct
// joins.
func BuildJoinSessionReq(sessionID, requestID, inviterAgentID, inviteCode string) ([]byte, error) {
	return buildEnvelope(CmdJoinSession, map[string]string{
		"session_id":       sessionID,
		"request_id":       requestID,
		"inviter_agent_id": inviterAgentID,
		"invite_code":      inviteCode,
		"last_msg_id":      "",
	})
}

// BuildLeaveSessionReq builds a leave request.
func BuildLeaveSessionReq(sessionID, requestID string) ([]byte, error) {
	return buildEnvelope(CmdLeaveSession, map[string]string{
		"session_id": sessionID,
		"request_id": requestID,
	})
}

// BuildCloseSessionReq builds a close request.
func BuildCloseSessionReq(sessionID, requestID, identifyingCode string) ([]byte, error) {
	return buildEnvelope(CmdCloseSession, map[string]string{
		"session_id":       sessionID,
		"request_id":       requestID,
		"identifying_code": identifyingCode,
	})
}

// BuildInviteAgentReq builds an invite for acceptorID into sessionID.
func BuildInviteAgentReq(sessionID, requestID, inviterID, acceptorID, inviteCode string) ([]byte, error) {
	return buildEnvelope(CmdInviteAgent, map[string]string{
		"session_id":  sessionID,
		"request_id":  requestID,
		"inviter_id":  inviterID,
		"acceptor_id": acceptorID,
		"invite_code": inviteCode,
	})
}

// BuildEjectAgentReq builds an ejection request.
func BuildEjectAgentReq(sessionID, requestID, ejectAgentID, identifyingCode string) ([]byte, error) {
	return buildEnvelope(CmdEjectAgent, map[string]string{
		"session_id":       sessionID,
		"request_id":       requestID,
		"eject_agent_id":   ejectAgentID,
		"identifying_code": identifyingCode,
	})
}

// BuildGetMemberListReq builds a membership query.
func BuildGetMemberListReq(sessionID, requestID string) ([]byte, error) {
	return buildEnvelope(CmdGetMemberList, map[string]string{
		"session_id": sessionID,
		"request_id": requestID,
	})
}

// BuildCreateStreamReq builds a stream-open request.
func BuildCreateStreamReq(sessionID, requestID, refMsgID, sender, receiver, contentType string, timestampMs int64) ([]byte, error) {
	return buildEnvelope(CmdCreateStream, map[string]string{
		"session_id":   sessionID,
		"request_id":   requestID,
		"ref_msg_id":   refMsgID,
		"sender":       sender,
		"receiver":     receiver,
		"content_type": contentType,
		"timestamp":    strconv.FormatInt(timestampMs, 10),
	})
}

// CreateStreamAck is the server's answer to session_create_stream_req.
type CreateStreamAck struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	PushURL   string `json:"push_url"`
	PullURL   string `json:"pull_url"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// BuildPushTextStreamReq builds a text stream chunk push. The chunk is
// URL-encoded like ordinary message bodies.
func BuildPushTextStreamReq(chunk string) ([]byte, error) {
	return buildEnvelope(CmdPushTextStream, map[string]string{
		"chunk": url.QueryEscape(chunk),
	})
}

// BuildCloseStreamReq builds the end-of-stream marker.
func BuildCloseStreamReq() ([]byte, error) {
	return buildEnvelope(CmdCloseStream, map[string]string{})
}
