// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentcp-foundation/agentcp/group"
	"github.com/agentcp-foundation/agentcp/messaging"
)

// InitGroupClient attaches the group protocol layer. sessionID is the
// session the group AP converses over; targetAID defaults to
// "group.<issuer>" when empty. Inbound session_message frames whose
// sender equals the target AID are routed to the group client instead
// of the ordinary message path.
func (ag *Agent) InitGroupClient(sessionID, targetAID string) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.messageClient == nil {
		return fmt.Errorf("agent: cannot init group client while offline")
	}
	if ag.groupClient != nil {
		return fmt.Errorf("agent: group client already initialized")
	}
	if targetAID == "" {
		targetAID = ag.aid.GroupTarget().String()
	}

	messageClient := ag.messageClient
	groupClient, err := group.NewClient(group.ClientConfig{
		AgentID: ag.aid.String(),
		Send:    ag.groupSendFunc(messageClient, sessionID),
		Clock:   ag.owner.clock,
		Logger:  ag.logger,
	})
	if err != nil {
		return err
	}
	ag.groupClient = groupClient
	ag.groupOps = group.NewOperations(groupClient)
	ag.groupTargetAID = targetAID
	ag.groupSessionID = sessionID
	ag.logger.Info("group client initialized",
		"target_aid", targetAID, "session_id", sessionID)
	return nil
}

// groupSendFunc builds the send function handed to the group client:
// the payload travels as the raw message field of a session_message —
// no URL encoding — addressed to the group AP.
func (ag *Agent) groupSendFunc(messageClient *messaging.Client, sessionID string) group.SendFunc {
	return func(targetAID, payload string) error {
		if !messageClient.Connected() {
			return messaging.ErrNotConnected
		}
		now := ag.owner.clock.Now().UnixMilli()
		message, err := messaging.BuildRawSessionMessage(
			strconv.FormatInt(now, 10), sessionID, ag.aid.String(), targetAID, payload, now)
		if err != nil {
			return err
		}
		return messageClient.Send(message)
	}
}

// CloseGroupClient detaches and closes the group layer. Safe to call
// when no group client is attached.
func (ag *Agent) CloseGroupClient() {
	ag.mu.Lock()
	groupClient := ag.groupClient
	ag.groupClient = nil
	ag.groupOps = nil
	ag.groupTargetAID = ""
	ag.groupSessionID = ""
	ag.mu.Unlock()
	if groupClient != nil {
		groupClient.Close()
	}
}

// GroupOps returns the operations façade; nil before InitGroupClient.
func (ag *Agent) GroupOps() *group.Operations {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.groupOps
}

// GroupTargetAID returns the configured group AP AID, or "".
func (ag *Agent) GroupTargetAID() string {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.groupTargetAID
}

// SetGroupEventHandler forwards to the group client.
func (ag *Agent) SetGroupEventHandler(handler group.EventHandler) {
	ag.mu.Lock()
	groupClient := ag.groupClient
	ag.mu.Unlock()
	if groupClient != nil {
		groupClient.SetEventHandler(handler)
	}
}

// SetGroupCursorStore forwards to the group client.
func (ag *Agent) SetGroupCursorStore(store group.Store) {
	ag.mu.Lock()
	groupClient := ag.groupClient
	ag.mu.Unlock()
	if groupClient != nil {
		groupClient.SetCursorStore(store)
	}
}

// routeGroupMessage feeds a session_message to the group client when
// its sender is the group target AID. The match happens before any
// URL decoding: group payloads are raw JSON, and decoding them as a
// URL-encoded blocks array would corrupt them. Returns true when the
// frame was consumed.
func (ag *Agent) routeGroupMessage(data json.RawMessage) bool {
	ag.mu.Lock()
	groupClient := ag.groupClient
	targetAID := ag.groupTargetAID
	ag.mu.Unlock()
	if groupClient == nil || targetAID == "" {
		return false
	}

	var probe struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	if probe.Sender != targetAID || probe.Message == "" {
		return false
	}
	groupClient.HandleIncoming(probe.Message)
	return true
}
