// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import (
	"encoding/json"
	"log/slog"
)

// EventHandler receives group notifications. Methods are invoked from
// the message client's read goroutine and must return promptly.
//
// NopEventHandler can be embedded to implement only a subset.
type EventHandler interface {
	// OnNewMessage signals unread messages; sync or pull to fetch.
	OnNewMessage(groupID string, latestMsgID int64, sender, preview string)
	// OnNewEvent signals unread events.
	OnNewEvent(groupID string, latestEventID int64, eventType, summary string)
	// OnGroupInvite reports an invitation into a group.
	OnGroupInvite(groupID, groupAddress, invitedBy string)
	// OnJoinApproved reports that this agent's join request passed
	// review.
	OnJoinApproved(groupID, groupAddress string)
	// OnJoinRejected reports a rejected join request.
	OnJoinRejected(groupID, reason string)
	// OnJoinRequestReceived reports someone else's join request to a
	// group this agent administers.
	OnJoinRequestReceived(groupID, agentID, message string)
	// OnGroupMessage delivers a pushed message.
	OnGroupMessage(groupID string, message GroupMessage)
	// OnGroupMessageBatch delivers a pushed message run.
	OnGroupMessageBatch(groupID string, batch GroupMessageBatch)
	// OnGroupEvent delivers a pushed structured event.
	OnGroupEvent(groupID string, event GroupEvent)
}

// NopEventHandler implements EventHandler with no-ops.
type NopEventHandler struct{}

func (NopEventHandler) OnNewMessage(string, int64, string, string)     {}
func (NopEventHandler) OnNewEvent(string, int64, string, string)       {}
func (NopEventHandler) OnGroupInvite(string, string, string)           {}
func (NopEventHandler) OnJoinApproved(string, string)                  {}
func (NopEventHandler) OnJoinRejected(string, string)                  {}
func (NopEventHandler) OnJoinRequestReceived(string, string, string)   {}
func (NopEventHandler) OnGroupMessage(string, GroupMessage)            {}
func (NopEventHandler) OnGroupMessageBatch(string, GroupMessageBatch)  {}
func (NopEventHandler) OnGroupEvent(string, GroupEvent)                {}

var _ EventHandler = NopEventHandler{}

// DispatchNotify normalizes an on-wire notification onto the handler.
// Unknown event names are logged and dropped.
func DispatchNotify(handler EventHandler, notify Notify, logger *slog.Logger) {
	if handler == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch notify.Event {
	case NotifyNewMessage:
		var data struct {
			LatestMsgID int64  `json:"latest_msg_id"`
			Sender      string `json:"sender"`
			Preview     string `json:"preview"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnNewMessage(notify.GroupID, data.LatestMsgID, data.Sender, data.Preview)
	case NotifyNewEvent:
		var data struct {
			LatestEventID int64  `json:"latest_event_id"`
			EventType     string `json:"event_type"`
			Summary       string `json:"summary"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnNewEvent(notify.GroupID, data.LatestEventID, data.EventType, data.Summary)
	case NotifyGroupInvite:
		var data struct {
			GroupAddress string `json:"group_address"`
			InvitedBy    string `json:"invited_by"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnGroupInvite(notify.GroupID, data.GroupAddress, data.InvitedBy)
	case NotifyJoinApproved:
		var data struct {
			GroupAddress string `json:"group_address"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnJoinApproved(notify.GroupID, data.GroupAddress)
	case NotifyJoinRejected:
		var data struct {
			Reason string `json:"reason"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnJoinRejected(notify.GroupID, data.Reason)
	case NotifyJoinRequestReceived:
		var data struct {
			AgentID string `json:"agent_id"`
			Message string `json:"message"`
		}
		unmarshalNotify(notify.Data, &data, logger)
		handler.OnJoinRequestReceived(notify.GroupID, data.AgentID, data.Message)
	case NotifyGroupMessage:
		var message GroupMessage
		unmarshalNotify(notify.Data, &message, logger)
		handler.OnGroupMessage(notify.GroupID, message)
	case NotifyGroupEvent:
		var event GroupEvent
		unmarshalNotify(notify.Data, &event, logger)
		handler.OnGroupEvent(notify.GroupID, event)
	default:
		logger.Warn("unknown group notification", "event", notify.Event, "group_id", notify.GroupID)
	}
}

func unmarshalNotify(data json.RawMessage, v any, logger *slog.Logger) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("group notification data parse error", "error", err)
	}
}

// EventProcessor consumes structured group events by type. Pair with
// ProcessEvent from an EventHandler.OnGroupEvent implementation.
//
// NopEventProcessor can be embedded to implement only a subset.
type EventProcessor interface {
	OnMemberJoined(groupID, agentID, role string)
	OnMemberRemoved(groupID, agentID, reason string)
	OnMemberLeft(groupID, agentID, reason string)
	OnMemberBanned(groupID, agentID, reason string)
	OnMemberUnbanned(groupID, agentID string)
	OnMetaUpdated(groupID, updatedBy string)
	OnRulesUpdated(groupID, updatedBy string)
	OnAnnouncementUpdated(groupID, updatedBy string)
	OnGroupDissolved(groupID, dissolvedBy, reason string)
	OnMasterTransferred(groupID, fromAgent, toAgent, reason string)
	OnGroupSuspended(groupID, suspendedBy, reason string)
	OnGroupResumed(groupID, resumedBy string)
	OnJoinRequirementsUpdated(groupID, updatedBy string)
	OnInviteCodeCreated(groupID, code, createdBy string)
	OnInviteCodeRevoked(groupID, code, revokedBy string)
}

// NopEventProcessor implements EventProcessor with no-ops.
type NopEventProcessor struct{}

func (NopEventProcessor) OnMemberJoined(string, string, string)           {}
func (NopEventProcessor) OnMemberRemoved(string, string, string)          {}
func (NopEventProcessor) OnMemberLeft(string, string, string)             {}
func (NopEventProcessor) OnMemberBanned(string, string, string)           {}
func (NopEventProcessor) OnMemberUnbanned(string, string)                 {}
func (NopEventProcessor) OnMetaUpdated(string, string)                    {}
func (NopEventProcessor) OnRulesUpdated(string, string)                   {}
func (NopEventProcessor) OnAnnouncementUpdated(string, string)            {}
func (NopEventProcessor) OnGroupDissolved(string, string, string)         {}
func (NopEventProcessor) OnMasterTransferred(string, string, string, string) {}
func (NopEventProcessor) OnGroupSuspended(string, string, string)         {}
func (NopEventProcessor) OnGroupResumed(string, string)                   {}
func (NopEventProcessor) OnJoinRequirementsUpdated(string, string)        {}
func (NopEventProcessor) OnInviteCodeCreated(string, string, string)      {}
func (NopEventProcessor) OnInviteCodeRevoked(string, string, string)      {}

var _ EventProcessor = NopEventProcessor{}

// eventDetail is the union of the per-type data payloads.
type eventDetail struct {
	AgentID     string `json:"agent_id"`
	Role        string `json:"role"`
	Reason      string `json:"reason"`
	UpdatedBy   string `json:"updated_by"`
	DissolvedBy string `json:"dissolved_by"`
	FromAgent   string `json:"from_agent"`
	ToAgent     string `json:"to_agent"`
	SuspendedBy string `json:"suspended_by"`
	ResumedBy   string `json:"resumed_by"`
	Code        string `json:"code"`
	CreatedBy   string `json:"created_by"`
	RevokedBy   string `json:"revoked_by"`
}

// ProcessEvent dispatches one structured event to the processor.
// Returns false for unknown event types.
func ProcessEvent(processor EventProcessor, groupID string, event GroupEvent) bool {
	if processor == nil {
		return false
	}
	var detail eventDetail
	if len(event.Data) > 0 {
		_ = json.Unmarshal(event.Data, &detail)
	}
	// The event's target fills a missing agent_id in older servers'
	// data payloads.
	if detail.AgentID == "" {
		detail.AgentID = event.Target
	}

	switch event.EventType {
	case EventMemberJoined:
		processor.OnMemberJoined(groupID, detail.AgentID, detail.Role)
	case EventMemberRemoved:
		processor.OnMemberRemoved(groupID, detail.AgentID, detail.Reason)
	case EventMemberLeft:
		processor.OnMemberLeft(groupID, detail.AgentID, detail.Reason)
	case EventMemberBanned:
		processor.OnMemberBanned(groupID, detail.AgentID, detail.Reason)
	case EventMemberUnbanned:
		processor.OnMemberUnbanned(groupID, detail.AgentID)
	case EventMetaUpdated:
		processor.OnMetaUpdated(groupID, detail.UpdatedBy)
	case EventRulesUpdated:
		processor.OnRulesUpdated(groupID, detail.UpdatedBy)
	case EventAnnouncementUpdated:
		processor.OnAnnouncementUpdated(groupID, detail.UpdatedBy)
	case EventGroupDissolved:
		processor.OnGroupDissolved(groupID, detail.DissolvedBy, detail.Reason)
	case EventMasterTransferred:
		processor.OnMasterTransferred(groupID, detail.FromAgent, detail.ToAgent, detail.Reason)
	case EventGroupSuspended:
		processor.OnGroupSuspended(groupID, detail.SuspendedBy, detail.Reason)
	case EventGroupResumed:
		processor.OnGroupResumed(groupID, detail.ResumedBy)
	case EventJoinRequirementsUpdated:
		processor.OnJoinRequirementsUpdated(groupID, detail.UpdatedBy)
	case EventInviteCodeCreated:
		processor.OnInviteCodeCreated(groupID, detail.Code, detail.CreatedBy)
	case EventInviteCodeRevoked:
		processor.OnInviteCodeRevoked(groupID, detail.Code, detail.RevokedBy)
	default:
		return false
	}
	return true
}
