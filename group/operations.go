// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// syncBatchSize is the pull window used by SyncGroup.
const syncBatchSize = 50

// SyncHandler receives the messages and events drained by SyncGroup,
// in stream order, each batch at most once per successful sync.
type SyncHandler interface {
	OnMessages(groupID string, messages []GroupMessage)
	OnEvents(groupID string, events []GroupEvent)
}

// Operations is the strongly-typed façade over the group client: it
// serializes parameters, checks response codes, and decodes data
// payloads for every group action.
type Operations struct {
	client *Client
}

// NewOperations wraps a Client.
func NewOperations(client *Client) *Operations {
	return &Operations{client: client}
}

// call sends one action and converts a non-zero code into *Error.
func (o *Operations) call(targetAID, groupID, action string, params any) (Response, error) {
	var encoded json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Response{}, fmt.Errorf("group: encoding %s params: %w", action, err)
		}
		// A typed-nil map marshals to "null"; actions with no
		// parameters omit the field entirely.
		if string(data) != "null" {
			encoded = data
		}
	}
	response, err := o.client.SendRequest(targetAID, groupID, action, encoded, 0)
	if err != nil {
		return Response{}, err
	}
	if response.Code != CodeSuccess {
		return Response{}, &Error{
			Action:  action,
			Code:    response.Code,
			Message: response.Error,
			GroupID: response.GroupID,
		}
	}
	return response, nil
}

// decode unmarshals a response's data payload into out; an empty
// payload leaves out untouched.
func decode(response Response, out any) error {
	if len(response.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Data, out); err != nil {
		return fmt.Errorf("group: decoding %s data: %w", response.Action, err)
	}
	return nil
}

// ParsedGroupURL is the result of ParseGroupURL.
type ParsedGroupURL struct {
	TargetAID string
	GroupID   string
}

// ParseGroupURL splits a group URL into its target AID (the host) and
// group id (the single path segment). Query strings, fragments, and
// trailing slashes are stripped. The parser is hand-rolled: group ids
// are opaque and must not be subjected to URL normalization.
func ParseGroupURL(groupURL string) (ParsedGroupURL, error) {
	schemeEnd := strings.Index(groupURL, "://")
	if schemeEnd < 0 {
		return ParsedGroupURL{}, fmt.Errorf("group: URL %q has no scheme", groupURL)
	}
	rest := groupURL[schemeEnd+3:]

	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return ParsedGroupURL{}, fmt.Errorf("group: URL %q has no path", groupURL)
	}
	host := rest[:slash]
	path := rest[slash+1:]

	if query := strings.IndexByte(path, '?'); query >= 0 {
		path = path[:query]
	}
	if fragment := strings.IndexByte(path, '#'); fragment >= 0 {
		path = path[:fragment]
	}
	path = strings.TrimRight(path, "/")

	if host == "" || path == "" {
		return ParsedGroupURL{}, fmt.Errorf("group: URL %q missing target AID or group id", groupURL)
	}
	return ParsedGroupURL{TargetAID: host, GroupID: path}, nil
}

// JoinByURL joins a group from its URL. With an invite code the join
// is immediate (status "joined"); without one a join request is
// submitted for review (status "pending" plus a request id).
func (o *Operations) JoinByURL(groupURL, inviteCode, message string) (JoinResult, error) {
	parsed, err := ParseGroupURL(groupURL)
	if err != nil {
		return JoinResult{}, err
	}
	if inviteCode != "" {
		if err := o.UseInviteCode(parsed.TargetAID, parsed.GroupID, inviteCode); err != nil {
			return JoinResult{}, err
		}
		return JoinResult{Status: "joined"}, nil
	}
	return o.RequestJoin(parsed.TargetAID, parsed.GroupID, message)
}

// ---- Phase 0: lifecycle ----

// RegisterOnline tells the group AP this client can receive pushes.
// Call once on connect and after every reconnect.
func (o *Operations) RegisterOnline(targetAID string) error {
	_, err := o.call(targetAID, "", "register_online", nil)
	return err
}

// UnregisterOnline gracefully leaves the online list.
func (o *Operations) UnregisterOnline(targetAID string) error {
	_, err := o.call(targetAID, "", "unregister_online", nil)
	return err
}

// Heartbeat keeps the online registration alive. The registration
// times out after five minutes; send every two to four.
func (o *Operations) Heartbeat(targetAID string) error {
	_, err := o.call(targetAID, "", "heartbeat", nil)
	return err
}

// ---- Phase 1: basic operations ----

// CreateGroupParams are the optional attributes of a new group.
type CreateGroupParams struct {
	Alias       string
	Subject     string
	Visibility  string
	Description string
	Tags        []string
}

// CreateGroup creates a group and returns its id and URL.
func (o *Operations) CreateGroup(targetAID, name string, params CreateGroupParams) (CreateGroupResult, error) {
	body := map[string]any{"name": name}
	if params.Alias != "" {
		body["alias"] = params.Alias
	}
	if params.Subject != "" {
		body["subject"] = params.Subject
	}
	if params.Visibility != "" {
		body["visibility"] = params.Visibility
	}
	if params.Description != "" {
		body["description"] = params.Description
	}
	if len(params.Tags) > 0 {
		body["tags"] = params.Tags
	}
	response, err := o.call(targetAID, "", "create_group", body)
	if err != nil {
		return CreateGroupResult{}, err
	}
	var result CreateGroupResult
	return result, decode(response, &result)
}

// AddMember adds an agent directly (admin path; no review).
func (o *Operations) AddMember(targetAID, groupID, agentID, role string) error {
	body := map[string]any{"agent_id": agentID}
	if role != "" {
		body["role"] = role
	}
	_, err := o.call(targetAID, groupID, "add_member", body)
	return err
}

// SendMessage posts a message to the group stream.
func (o *Operations) SendMessage(targetAID, groupID, content, contentType string, metadata json.RawMessage) (SendMessageResult, error) {
	body := map[string]any{"content": content}
	if contentType != "" {
		body["content_type"] = contentType
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	response, err := o.call(targetAID, groupID, "send_message", body)
	if err != nil {
		return SendMessageResult{}, err
	}
	var result SendMessageResult
	return result, decode(response, &result)
}

// PullMessages fetches messages after a position. afterMsgID > 0 pulls
// from an explicit position; afterMsgID == 0 is auto-cursor mode, where
// the server computes the position from its view of current_msg_id.
func (o *Operations) PullMessages(targetAID, groupID string, afterMsgID int64, limit int) (PullMessagesResult, error) {
	var body map[string]any
	if afterMsgID > 0 || limit > 0 {
		body = make(map[string]any)
		if afterMsgID > 0 {
			body["after_msg_id"] = afterMsgID
		}
		if limit > 0 {
			body["limit"] = limit
		}
	}
	response, err := o.call(targetAID, groupID, "pull_messages", body)
	if err != nil {
		return PullMessagesResult{}, err
	}
	var result PullMessagesResult
	return result, decode(response, &result)
}

// AckMessages acknowledges messages up to msgID. On success the local
// cursor store advances (monotonically) to the same position.
func (o *Operations) AckMessages(targetAID, groupID string, msgID int64) error {
	if _, err := o.call(targetAID, groupID, "ack_messages", map[string]any{"msg_id": msgID}); err != nil {
		return err
	}
	if store := o.client.CursorStore(); store != nil {
		if err := store.SaveMsgCursor(groupID, msgID); err != nil {
			return fmt.Errorf("group: persisting msg cursor: %w", err)
		}
	}
	return nil
}

// PullEvents fetches events after a position.
func (o *Operations) PullEvents(targetAID, groupID string, afterEventID int64, limit int) (PullEventsResult, error) {
	body := map[string]any{"after_event_id": afterEventID}
	if limit > 0 {
		body["limit"] = limit
	}
	response, err := o.call(targetAID, groupID, "pull_events", body)
	if err != nil {
		return PullEventsResult{}, err
	}
	var result PullEventsResult
	return result, decode(response, &result)
}

// AckEvents acknowledges events up to eventID and advances the local
// cursor.
func (o *Operations) AckEvents(targetAID, groupID string, eventID int64) error {
	if _, err := o.call(targetAID, groupID, "ack_events", map[string]any{"event_id": eventID}); err != nil {
		return err
	}
	if store := o.client.CursorStore(); store != nil {
		if err := store.SaveEventCursor(groupID, eventID); err != nil {
			return fmt.Errorf("group: persisting event cursor: %w", err)
		}
	}
	return nil
}

// GetCursor fetches the server's view of both stream cursors.
func (o *Operations) GetCursor(targetAID, groupID string) (CursorState, error) {
	response, err := o.call(targetAID, groupID, "get_cursor", nil)
	if err != nil {
		return CursorState{}, err
	}
	var state CursorState
	return state, decode(response, &state)
}

// SyncGroup drains both streams incrementally: the starting position
// is the maximum of the server cursor and the locally persisted one,
// then messages and events are pulled in batches, handed to the
// handler, and acked. Cursor state is persisted only after a
// successful ack, so a failed sync is safe to retry from the last
// watermark.
func (o *Operations) SyncGroup(targetAID, groupID string, handler SyncHandler) error {
	state, err := o.GetCursor(targetAID, groupID)
	if err != nil {
		return err
	}
	if store := o.client.CursorStore(); store != nil {
		localMsg, localEvent, err := store.LoadCursor(groupID)
		if err != nil {
			return fmt.Errorf("group: loading local cursor: %w", err)
		}
		if localMsg > state.MsgCursor.CurrentMsgID {
			state.MsgCursor.CurrentMsgID = localMsg
		}
		if localEvent > state.EventCursor.CurrentEventID {
			state.EventCursor.CurrentEventID = localEvent
		}
	}
	if err := o.syncMessages(targetAID, groupID, state.MsgCursor.CurrentMsgID, handler); err != nil {
		return err
	}
	return o.syncEvents(targetAID, groupID, state.EventCursor.CurrentEventID, handler)
}

func (o *Operations) syncMessages(targetAID, groupID string, after int64, handler SyncHandler) error {
	for {
		result, err := o.PullMessages(targetAID, groupID, after, syncBatchSize)
		if err != nil {
			return err
		}
		if len(result.Messages) > 0 {
			handler.OnMessages(groupID, result.Messages)
			last := result.Messages[len(result.Messages)-1].MsgID
			if err := o.AckMessages(targetAID, groupID, last); err != nil {
				return err
			}
			after = last
		}
		if !result.HasMore {
			return nil
		}
	}
}

func (o *Operations) syncEvents(targetAID, groupID string, after int64, handler SyncHandler) error {
	for {
		result, err := o.PullEvents(targetAID, groupID, after, syncBatchSize)
		if err != nil {
			return err
		}
		if len(result.Events) > 0 {
			handler.OnEvents(groupID, result.Events)
			last := result.Events[len(result.Events)-1].EventID
			if err := o.AckEvents(targetAID, groupID, last); err != nil {
				return err
			}
			after = last
		}
		if !result.HasMore {
			return nil
		}
	}
}

// ---- Phase 2: management ----

// RemoveMember removes an agent from the group.
func (o *Operations) RemoveMember(targetAID, groupID, agentID string) error {
	_, err := o.call(targetAID, groupID, "remove_member", map[string]any{"agent_id": agentID})
	return err
}

// LeaveGroup removes this agent from the group.
func (o *Operations) LeaveGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "leave_group", nil)
	return err
}

// DissolveGroup permanently dissolves the group (creator only).
func (o *Operations) DissolveGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "dissolve_group", nil)
	return err
}

// BanAgent bans an agent; expiresAt of zero means indefinite.
func (o *Operations) BanAgent(targetAID, groupID, agentID, reason string, expiresAt int64) error {
	body := map[string]any{"agent_id": agentID}
	if reason != "" {
		body["reason"] = reason
	}
	if expiresAt > 0 {
		body["expires_at"] = expiresAt
	}
	_, err := o.call(targetAID, groupID, "ban_agent", body)
	return err
}

// UnbanAgent lifts a ban.
func (o *Operations) UnbanAgent(targetAID, groupID, agentID string) error {
	_, err := o.call(targetAID, groupID, "unban_agent", map[string]any{"agent_id": agentID})
	return err
}

// GetBanlist returns the banned entries as raw JSON.
func (o *Operations) GetBanlist(targetAID, groupID string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "get_banlist", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Banned json.RawMessage `json:"banned"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Banned, nil
}

// RequestJoin submits a join request for review.
func (o *Operations) RequestJoin(targetAID, groupID, message string) (JoinResult, error) {
	var body map[string]any
	if message != "" {
		body = map[string]any{"message": message}
	}
	response, err := o.call(targetAID, groupID, "request_join", body)
	if err != nil {
		return JoinResult{}, err
	}
	result := JoinResult{Status: "pending"}
	return result, decode(response, &result)
}

// ReviewJoinRequest approves or rejects one join request; action is
// "approve" or "reject".
func (o *Operations) ReviewJoinRequest(targetAID, groupID, agentID, action, reason string) error {
	body := map[string]any{"agent_id": agentID, "action": action}
	if reason != "" {
		body["reason"] = reason
	}
	_, err := o.call(targetAID, groupID, "review_join_request", body)
	return err
}

// BatchReviewJoinRequests reviews several requests at once.
func (o *Operations) BatchReviewJoinRequests(targetAID, groupID string, agentIDs []string, action, reason string) (BatchReviewResult, error) {
	body := map[string]any{"agent_ids": agentIDs, "action": action}
	if reason != "" {
		body["reason"] = reason
	}
	response, err := o.call(targetAID, groupID, "batch_review_join_requests", body)
	if err != nil {
		return BatchReviewResult{}, err
	}
	var result BatchReviewResult
	return result, decode(response, &result)
}

// GetPendingRequests returns pending join requests as raw JSON.
func (o *Operations) GetPendingRequests(targetAID, groupID string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "get_pending_requests", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Requests json.RawMessage `json:"requests"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Requests, nil
}

// ---- Phase 3: full features ----

// GetGroupInfo fetches the member-visible group descriptor.
func (o *Operations) GetGroupInfo(targetAID, groupID string) (GroupInfo, error) {
	response, err := o.call(targetAID, groupID, "get_group_info", nil)
	if err != nil {
		return GroupInfo{}, err
	}
	var info GroupInfo
	return info, decode(response, &info)
}

// UpdateGroupMeta patches group metadata; params carries the fields to
// change.
func (o *Operations) UpdateGroupMeta(targetAID, groupID string, params json.RawMessage) error {
	response, err := o.client.SendRequest(targetAID, groupID, "update_group_meta", params, 0)
	if err != nil {
		return err
	}
	if response.Code != CodeSuccess {
		return &Error{Action: "update_group_meta", Code: response.Code, Message: response.Error, GroupID: response.GroupID}
	}
	return nil
}

// GetMembers returns the membership list as raw JSON.
func (o *Operations) GetMembers(targetAID, groupID string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "get_members", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Members json.RawMessage `json:"members"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Members, nil
}

// GetAdmins returns the admin list as raw JSON.
func (o *Operations) GetAdmins(targetAID, groupID string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "get_admins", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Admins json.RawMessage `json:"admins"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Admins, nil
}

// GetRules fetches the group's rules.
func (o *Operations) GetRules(targetAID, groupID string) (Rules, error) {
	response, err := o.call(targetAID, groupID, "get_rules", nil)
	if err != nil {
		return Rules{}, err
	}
	var rules Rules
	return rules, decode(response, &rules)
}

// UpdateRules patches the group's rules.
func (o *Operations) UpdateRules(targetAID, groupID string, params json.RawMessage) error {
	response, err := o.client.SendRequest(targetAID, groupID, "update_rules", params, 0)
	if err != nil {
		return err
	}
	if response.Code != CodeSuccess {
		return &Error{Action: "update_rules", Code: response.Code, Message: response.Error, GroupID: response.GroupID}
	}
	return nil
}

// GetAnnouncement fetches the group announcement.
func (o *Operations) GetAnnouncement(targetAID, groupID string) (Announcement, error) {
	response, err := o.call(targetAID, groupID, "get_announcement", nil)
	if err != nil {
		return Announcement{}, err
	}
	var announcement Announcement
	return announcement, decode(response, &announcement)
}

// UpdateAnnouncement replaces the group announcement.
func (o *Operations) UpdateAnnouncement(targetAID, groupID, content string) error {
	_, err := o.call(targetAID, groupID, "update_announcement", map[string]any{"content": content})
	return err
}

// GetJoinRequirements fetches the join policy.
func (o *Operations) GetJoinRequirements(targetAID, groupID string) (JoinRequirements, error) {
	response, err := o.call(targetAID, groupID, "get_join_requirements", nil)
	if err != nil {
		return JoinRequirements{}, err
	}
	var requirements JoinRequirements
	return requirements, decode(response, &requirements)
}

// UpdateJoinRequirements patches the join policy.
func (o *Operations) UpdateJoinRequirements(targetAID, groupID string, params json.RawMessage) error {
	response, err := o.client.SendRequest(targetAID, groupID, "update_join_requirements", params, 0)
	if err != nil {
		return err
	}
	if response.Code != CodeSuccess {
		return &Error{Action: "update_join_requirements", Code: response.Code, Message: response.Error, GroupID: response.GroupID}
	}
	return nil
}

// SuspendGroup pauses the group.
func (o *Operations) SuspendGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "suspend_group", nil)
	return err
}

// ResumeGroup resumes a suspended group.
func (o *Operations) ResumeGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "resume_group", nil)
	return err
}

// TransferMaster hands group ownership to another member.
func (o *Operations) TransferMaster(targetAID, groupID, newMasterAID, reason string) error {
	body := map[string]any{"new_master_aid": newMasterAID}
	if reason != "" {
		body["reason"] = reason
	}
	_, err := o.call(targetAID, groupID, "transfer_master", body)
	return err
}

// GetMaster fetches the current master.
func (o *Operations) GetMaster(targetAID, groupID string) (Master, error) {
	response, err := o.call(targetAID, groupID, "get_master", nil)
	if err != nil {
		return Master{}, err
	}
	var master Master
	return master, decode(response, &master)
}

// InviteCodeParams are the optional attributes of a new invite code.
type InviteCodeParams struct {
	Label     string
	MaxUses   int
	ExpiresAt int64
}

// CreateInviteCode mints an invite code for the group.
func (o *Operations) CreateInviteCode(targetAID, groupID string, params InviteCodeParams) (InviteCode, error) {
	var body map[string]any
	if params.Label != "" || params.MaxUses > 0 || params.ExpiresAt > 0 {
		body = make(map[string]any)
		if params.Label != "" {
			body["label"] = params.Label
		}
		if params.MaxUses > 0 {
			body["max_uses"] = params.MaxUses
		}
		if params.ExpiresAt > 0 {
			body["expires_at"] = params.ExpiresAt
		}
	}
	response, err := o.call(targetAID, groupID, "create_invite_code", body)
	if err != nil {
		return InviteCode{}, err
	}
	var code InviteCode
	return code, decode(response, &code)
}

// UseInviteCode joins the group with a code, bypassing review.
func (o *Operations) UseInviteCode(targetAID, groupID, code string) error {
	_, err := o.call(targetAID, groupID, "use_invite_code", map[string]any{"code": code})
	return err
}

// ListInviteCodes returns the group's codes as raw JSON.
func (o *Operations) ListInviteCodes(targetAID, groupID string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "list_invite_codes", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Codes json.RawMessage `json:"codes"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Codes, nil
}

// RevokeInviteCode invalidates a code.
func (o *Operations) RevokeInviteCode(targetAID, groupID, code string) error {
	_, err := o.call(targetAID, groupID, "revoke_invite_code", map[string]any{"code": code})
	return err
}

// AcquireBroadcastLock takes the group's broadcast mutex.
func (o *Operations) AcquireBroadcastLock(targetAID, groupID string) (BroadcastLock, error) {
	response, err := o.call(targetAID, groupID, "acquire_broadcast_lock", nil)
	if err != nil {
		return BroadcastLock{}, err
	}
	var lock BroadcastLock
	return lock, decode(response, &lock)
}

// ReleaseBroadcastLock releases the broadcast mutex.
func (o *Operations) ReleaseBroadcastLock(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "release_broadcast_lock", nil)
	return err
}

// CheckBroadcastPermission asks whether this agent may broadcast now.
func (o *Operations) CheckBroadcastPermission(targetAID, groupID string) (BroadcastPermission, error) {
	response, err := o.call(targetAID, groupID, "check_broadcast_permission", nil)
	if err != nil {
		return BroadcastPermission{}, err
	}
	var permission BroadcastPermission
	return permission, decode(response, &permission)
}

// UpdateDutyConfig replaces the duty configuration (creator or admin).
func (o *Operations) UpdateDutyConfig(targetAID, groupID string, config DutyConfig) error {
	_, err := o.call(targetAID, groupID, "update_duty_config", map[string]any{"duty_config": config})
	return err
}

// SetFixedAgents sets a fixed duty roster (switches mode to "fixed").
func (o *Operations) SetFixedAgents(targetAID, groupID string, agents []string) error {
	_, err := o.call(targetAID, groupID, "set_fixed_agents", map[string]any{"agents": agents})
	return err
}

// GetDutyStatus fetches duty configuration and live state.
func (o *Operations) GetDutyStatus(targetAID, groupID string) (DutyStatus, error) {
	response, err := o.call(targetAID, groupID, "get_duty_status", nil)
	if err != nil {
		return DutyStatus{}, err
	}
	var status DutyStatus
	return status, decode(response, &status)
}

// RefreshMemberTypes re-fetches member agent.md files server-side.
func (o *Operations) RefreshMemberTypes(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "refresh_member_types", nil)
	return err
}

// ---- Phase 4: SDK convenience ----

// GetSyncStatus reports both cursors plus a completion percentage.
func (o *Operations) GetSyncStatus(targetAID, groupID string) (SyncStatus, error) {
	response, err := o.call(targetAID, groupID, "get_sync_status", nil)
	if err != nil {
		return SyncStatus{}, err
	}
	var status SyncStatus
	return status, decode(response, &status)
}

// GetSyncLog returns sync log entries since startDate as raw JSON.
func (o *Operations) GetSyncLog(targetAID, groupID, startDate string) (json.RawMessage, error) {
	response, err := o.call(targetAID, groupID, "get_sync_log", map[string]any{"start_date": startDate})
	if err != nil {
		return nil, err
	}
	var data struct {
		Entries json.RawMessage `json:"entries"`
	}
	if err := decode(response, &data); err != nil {
		return nil, err
	}
	return data.Entries, nil
}

// GetChecksum fetches the checksum of a stored group file.
func (o *Operations) GetChecksum(targetAID, groupID, file string) (Checksum, error) {
	response, err := o.call(targetAID, groupID, "get_checksum", map[string]any{"file": file})
	if err != nil {
		return Checksum{}, err
	}
	var checksum Checksum
	return checksum, decode(response, &checksum)
}

// GetMessageChecksum fetches the checksum of one day's message log.
func (o *Operations) GetMessageChecksum(targetAID, groupID, date string) (Checksum, error) {
	response, err := o.call(targetAID, groupID, "get_message_checksum", map[string]any{"date": date})
	if err != nil {
		return Checksum{}, err
	}
	var checksum Checksum
	return checksum, decode(response, &checksum)
}

// GetPublicInfo fetches the descriptor visible without membership.
func (o *Operations) GetPublicInfo(targetAID, groupID string) (PublicGroupInfo, error) {
	response, err := o.call(targetAID, groupID, "get_public_info", nil)
	if err != nil {
		return PublicGroupInfo{}, err
	}
	var info PublicGroupInfo
	return info, decode(response, &info)
}

// SearchGroups searches public groups by keyword and tags.
func (o *Operations) SearchGroups(targetAID, keyword string, tags []string, limit, offset int) (SearchResult, error) {
	body := map[string]any{"keyword": keyword}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	if limit > 0 {
		body["limit"] = limit
	}
	if offset > 0 {
		body["offset"] = offset
	}
	response, err := o.call(targetAID, "", "search_groups", body)
	if err != nil {
		return SearchResult{}, err
	}
	var result SearchResult
	return result, decode(response, &result)
}

// GenerateDigest asks the AP to compute a digest for a date/period.
func (o *Operations) GenerateDigest(targetAID, groupID, date, period string) (Digest, error) {
	response, err := o.call(targetAID, groupID, "generate_digest", map[string]any{"date": date, "period": period})
	if err != nil {
		return Digest{}, err
	}
	var digest Digest
	return digest, decode(response, &digest)
}

// GetDigest fetches a previously generated digest.
func (o *Operations) GetDigest(targetAID, groupID, date, period string) (Digest, error) {
	response, err := o.call(targetAID, groupID, "get_digest", map[string]any{"date": date, "period": period})
	if err != nil {
		return Digest{}, err
	}
	var digest Digest
	return digest, decode(response, &digest)
}

// ---- Phase 5: home AP membership index ----

// ListMyGroups lists this agent's memberships from the home AP.
// status of zero lists all.
func (o *Operations) ListMyGroups(targetAID string, status int) (MembershipList, error) {
	var body map[string]any
	if status != 0 {
		body = map[string]any{"status": status}
	}
	response, err := o.call(targetAID, "", "list_my_groups", body)
	if err != nil {
		return MembershipList{}, err
	}
	var list MembershipList
	return list, decode(response, &list)
}

// UnregisterMembership drops a membership from the home AP index.
func (o *Operations) UnregisterMembership(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "unregister_membership", nil)
	return err
}

// ChangeMemberRole changes another member's role.
func (o *Operations) ChangeMemberRole(targetAID, groupID, agentID, newRole string) error {
	_, err := o.call(targetAID, groupID, "change_member_role", map[string]any{
		"agent_id": agentID,
		"new_role": newRole,
	})
	return err
}

// GetFile reads a range of a stored group file starting at offset.
func (o *Operations) GetFile(targetAID, groupID, file string, offset int64) (FileChunk, error) {
	body := map[string]any{"file": file}
	if offset > 0 {
		body["offset"] = offset
	}
	response, err := o.call(targetAID, groupID, "get_file", body)
	if err != nil {
		return FileChunk{}, err
	}
	var chunk FileChunk
	return chunk, decode(response, &chunk)
}

// GetSummary fetches one day's activity summary.
func (o *Operations) GetSummary(targetAID, groupID, date string) (Summary, error) {
	response, err := o.call(targetAID, groupID, "get_summary", map[string]any{"date": date})
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	return summary, decode(response, &summary)
}

// GetMetrics fetches the group AP's runtime metrics.
func (o *Operations) GetMetrics(targetAID string) (Metrics, error) {
	response, err := o.call(targetAID, "", "get_metrics", nil)
	if err != nil {
		return Metrics{}, err
	}
	var metrics Metrics
	return metrics, decode(response, &metrics)
}

// RequestTimeout exposes the client's default timeout, mainly so
// hosts can align their own deadlines with the protocol's.
func (o *Operations) RequestTimeout() time.Duration {
	return o.client.timeout
}
