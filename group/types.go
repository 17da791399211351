// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import "encoding/json"

// Request is the wire shape of an outbound group action.
type Request struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id"`
	GroupID   string          `json:"group_id,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Response is the wire shape of a group action response.
type Response struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id"`
	Code      int             `json:"code"`
	GroupID   string          `json:"group_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Notify is a server push with no correlated request.
type Notify struct {
	Action    string          `json:"action"` // always "group_notify"
	GroupID   string          `json:"group_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Notification event names.
const (
	NotifyNewMessage          = "new_message"
	NotifyNewEvent            = "new_event"
	NotifyGroupInvite         = "group_invite"
	NotifyJoinApproved        = "join_approved"
	NotifyJoinRejected        = "join_rejected"
	NotifyJoinRequestReceived = "join_request_received"
	NotifyGroupMessage        = "group_message"
	NotifyGroupEvent          = "group_event"
)

// Push action names carried without a request id or event.
const (
	ActionMessagePush      = "message_push"
	ActionMessageBatchPush = "message_batch_push"
)

// Group event types carried in GroupEvent.EventType.
const (
	EventMemberJoined            = "member_joined"
	EventMemberRemoved           = "member_removed"
	EventMemberLeft              = "member_left"
	EventMemberBanned            = "member_banned"
	EventMemberUnbanned          = "member_unbanned"
	EventMetaUpdated             = "meta_updated"
	EventRulesUpdated            = "rules_updated"
	EventAnnouncementUpdated     = "announcement_updated"
	EventGroupDissolved          = "group_dissolved"
	EventMasterTransferred       = "master_transferred"
	EventGroupSuspended          = "group_suspended"
	EventGroupResumed            = "group_resumed"
	EventJoinRequirementsUpdated = "join_requirements_updated"
	EventInviteCodeCreated       = "invite_code_created"
	EventInviteCodeRevoked       = "invite_code_revoked"
)

// GroupMessage is one message in a group's message stream. MsgID is
// monotonic per group.
type GroupMessage struct {
	MsgID       int64           `json:"msg_id"`
	Sender      string          `json:"sender"`
	Content     string          `json:"content"`
	ContentType string          `json:"content_type,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// GroupMessageBatch is a server-pushed run of messages.
type GroupMessageBatch struct {
	Messages    []GroupMessage `json:"messages"`
	StartMsgID  int64          `json:"start_msg_id"`
	LatestMsgID int64          `json:"latest_msg_id"`
	Count       int            `json:"count"`
}

// GroupEvent is one entry in a group's event stream. EventID is
// monotonic per group.
type GroupEvent struct {
	EventID   int64           `json:"event_id"`
	EventType string          `json:"event_type"`
	Actor     string          `json:"actor"`
	Timestamp int64           `json:"timestamp"`
	Target    string          `json:"target,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MsgCursor tracks a group's message stream position. The invariant
// start ≤ current ≤ latest holds server-side; current is the client's
// ack watermark.
type MsgCursor struct {
	StartMsgID   int64 `json:"start_msg_id"`
	CurrentMsgID int64 `json:"current_msg_id"`
	LatestMsgID  int64 `json:"latest_msg_id"`
	UnreadCount  int64 `json:"unread_count"`
}

// EventCursor tracks a group's event stream position.
type EventCursor struct {
	StartEventID   int64 `json:"start_event_id"`
	CurrentEventID int64 `json:"current_event_id"`
	LatestEventID  int64 `json:"latest_event_id"`
	UnreadCount    int64 `json:"unread_count"`
}

// CursorState pairs the two stream cursors.
type CursorState struct {
	MsgCursor   MsgCursor   `json:"msg_cursor"`
	EventCursor EventCursor `json:"event_cursor"`
}

// GroupInfo is the full group descriptor visible to members.
type GroupInfo struct {
	GroupID     string   `json:"group_id"`
	Name        string   `json:"name"`
	Creator     string   `json:"creator"`
	Visibility  string   `json:"visibility"`
	MemberCount int64    `json:"member_count"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	Alias       string   `json:"alias"`
	Subject     string   `json:"subject"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags,omitempty"`
	Master      string   `json:"master"`
}

// PublicGroupInfo is the descriptor visible to non-members.
type PublicGroupInfo struct {
	GroupID     string   `json:"group_id"`
	Name        string   `json:"name"`
	Creator     string   `json:"creator"`
	Visibility  string   `json:"visibility"`
	MemberCount int64    `json:"member_count"`
	CreatedAt   int64    `json:"created_at"`
	Alias       string   `json:"alias"`
	Subject     string   `json:"subject"`
	Tags        []string `json:"tags,omitempty"`
	JoinMode    string   `json:"join_mode"`
}

// CreateGroupResult is returned by CreateGroup.
type CreateGroupResult struct {
	GroupID  string `json:"group_id"`
	GroupURL string `json:"group_url"`
}

// SendMessageResult is returned by SendMessage.
type SendMessageResult struct {
	MsgID     int64 `json:"msg_id"`
	Timestamp int64 `json:"timestamp"`
}

// PullMessagesResult is returned by PullMessages.
type PullMessagesResult struct {
	Messages    []GroupMessage `json:"messages"`
	HasMore     bool           `json:"has_more"`
	LatestMsgID int64          `json:"latest_msg_id"`
}

// PullEventsResult is returned by PullEvents.
type PullEventsResult struct {
	Events        []GroupEvent `json:"events"`
	HasMore       bool         `json:"has_more"`
	LatestEventID int64        `json:"latest_event_id"`
}

// JoinResult is returned by RequestJoin and JoinByUrl: status is
// "joined" (invite code path) or "pending" (review path).
type JoinResult struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// BatchReviewResult is returned by BatchReviewJoinRequests.
type BatchReviewResult struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Rules is returned by GetRules.
type Rules struct {
	MaxMembers      int             `json:"max_members"`
	MaxMessageSize  int             `json:"max_message_size"`
	BroadcastPolicy json.RawMessage `json:"broadcast_policy,omitempty"`
}

// Announcement is returned by GetAnnouncement.
type Announcement struct {
	Content   string `json:"content"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt int64  `json:"updated_at"`
}

// JoinRequirements is returned by GetJoinRequirements.
type JoinRequirements struct {
	Mode       string `json:"mode"`
	RequireAll bool   `json:"require_all"`
}

// Master is returned by GetMaster.
type Master struct {
	Master              string `json:"master"`
	MasterTransferredAt int64  `json:"master_transferred_at"`
	TransferReason      string `json:"transfer_reason"`
}

// InviteCode is returned by CreateInviteCode.
type InviteCode struct {
	Code      string `json:"code"`
	GroupID   string `json:"group_id"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
	Label     string `json:"label,omitempty"`
	MaxUses   int    `json:"max_uses,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// BroadcastLock is returned by AcquireBroadcastLock.
type BroadcastLock struct {
	Acquired  bool   `json:"acquired"`
	ExpiresAt int64  `json:"expires_at"`
	Holder    string `json:"holder"`
}

// BroadcastPermission is returned by CheckBroadcastPermission.
type BroadcastPermission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// DutyConfig configures duty rotation for a group.
type DutyConfig struct {
	Mode                 string   `json:"mode"` // "none", "fixed", "rotation"
	RotationStrategy     string   `json:"rotation_strategy,omitempty"`
	ShiftDurationMs      int64    `json:"shift_duration_ms,omitempty"`
	MaxMessagesPerShift  int      `json:"max_messages_per_shift,omitempty"`
	DutyPriorityWindowMs int64    `json:"duty_priority_window_ms,omitempty"`
	EnableRulePrelude    bool     `json:"enable_rule_prelude,omitempty"`
	Agents               []string `json:"agents,omitempty"`
}

// DutyState is the live duty assignment.
type DutyState struct {
	CurrentDutyAgent string `json:"current_duty_agent"`
	ShiftStartTime   int64  `json:"shift_start_time"`
	MessagesInShift  int    `json:"messages_in_shift"`
}

// DutyStatus pairs duty configuration and state.
type DutyStatus struct {
	Config DutyConfig `json:"config"`
	State  DutyState  `json:"state"`
}

// SyncStatus is returned by GetSyncStatus.
type SyncStatus struct {
	MsgCursor      MsgCursor   `json:"msg_cursor"`
	EventCursor    EventCursor `json:"event_cursor"`
	SyncPercentage float64     `json:"sync_percentage"`
}

// Checksum is returned by GetChecksum and GetMessageChecksum.
type Checksum struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
}

// Digest is returned by GenerateDigest and GetDigest.
type Digest struct {
	Date            string          `json:"date"`
	Period          string          `json:"period"`
	MessageCount    int64           `json:"message_count"`
	UniqueSenders   int64           `json:"unique_senders"`
	DataSize        int64           `json:"data_size"`
	GeneratedAt     int64           `json:"generated_at"`
	TopContributors json.RawMessage `json:"top_contributors,omitempty"`
}

// Membership is one entry in the home AP's membership index.
type Membership struct {
	GroupID     string `json:"group_id"`
	GroupURL    string `json:"group_url"`
	GroupServer string `json:"group_server"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	Status      int    `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// MembershipList is returned by ListMyGroups.
type MembershipList struct {
	Groups []Membership `json:"groups"`
	Total  int          `json:"total"`
}

// SearchResult is returned by SearchGroups.
type SearchResult struct {
	Groups []PublicGroupInfo `json:"groups"`
	Total  int               `json:"total"`
}

// FileChunk is returned by GetFile.
type FileChunk struct {
	Data      string `json:"data"`
	TotalSize int64  `json:"total_size"`
	Offset    int64  `json:"offset"`
}

// Summary is returned by GetSummary.
type Summary struct {
	Date         string   `json:"date"`
	MessageCount int64    `json:"message_count"`
	Senders      []string `json:"senders,omitempty"`
	DataSize     int64    `json:"data_size"`
}

// Metrics is returned by GetMetrics: the group AP's runtime health.
type Metrics struct {
	Goroutines int     `json:"goroutines"`
	AllocMB    float64 `json:"alloc_mb"`
	SysMB      float64 `json:"sys_mb"`
	GCCycles   int     `json:"gc_cycles"`
}
