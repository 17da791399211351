// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentcp-foundation/agentcp/messaging"
)

// createStreamAckTimeout bounds the wait for the stream-open ack.
const createStreamAckTimeout = 10 * time.Second

// Stream is a send-only text stream inside a session. The surface is
// deliberately minimal — open, push chunks, close; there is no flow
// control or redelivery at this layer.
type Stream struct {
	agent     *Agent
	messageID string
	sessionID string
	closed    atomic.Bool
}

// CreateStream opens a stream toward receiver in a session. Blocks for
// the server's ack.
func (ag *Agent) CreateStream(sessionID, receiver, contentType string) (*Stream, error) {
	ag.mu.Lock()
	messageClient := ag.messageClient
	ag.mu.Unlock()
	if messageClient == nil || !messageClient.Connected() {
		return nil, messaging.ErrNotConnected
	}

	requestID := newMessageID()
	request, err := messaging.BuildCreateStreamReq(
		sessionID, requestID, "", ag.aid.String(), receiver, contentType,
		ag.owner.clock.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	data, err := messageClient.SendAndWaitAck(request, messaging.CmdCreateStreamAck,
		requestID, createStreamAckTimeout)
	if err != nil {
		return nil, fmt.Errorf("agent: stream open: %w", err)
	}
	var ack messaging.CreateStreamAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("agent: parsing stream ack: %w", err)
	}
	if ack.Error != "" {
		return nil, fmt.Errorf("agent: stream open refused: %s", ack.Message)
	}
	messageID := ack.MessageID
	if messageID == "" {
		messageID = requestID
	}
	return &Stream{agent: ag, messageID: messageID, sessionID: sessionID}, nil
}

// MessageID returns the stream's message id within the session.
func (s *Stream) MessageID() string { return s.messageID }

// PushText sends one chunk. Fails after Close.
func (s *Stream) PushText(chunk string) error {
	if s.closed.Load() {
		return fmt.Errorf("agent: stream closed")
	}
	s.agent.mu.Lock()
	messageClient := s.agent.messageClient
	s.agent.mu.Unlock()
	if messageClient == nil || !messageClient.Connected() {
		return messaging.ErrNotConnected
	}
	message, err := messaging.BuildPushTextStreamReq(chunk)
	if err != nil {
		return err
	}
	return messageClient.Send(message)
}

// Close sends the end-of-stream marker. Idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.agent.mu.Lock()
	messageClient := s.agent.messageClient
	s.agent.mu.Unlock()
	if messageClient == nil {
		return nil
	}
	message, err := messaging.BuildCloseStreamReq()
	if err != nil {
		return err
	}
	return messageClient.Send(message)
}
