// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import (
	"errors"
	"fmt"
)

// Protocol error codes. The set is closed: servers return nothing
// outside it, and 0 is success.
const (
	CodeSuccess           = 0
	CodeGroupNotFound     = 1001
	CodeNoPermission      = 1002
	CodeGroupDissolved    = 1003
	CodeGroupSuspended    = 1004
	CodeAlreadyMember     = 1005
	CodeNotMember         = 1006
	CodeBanned            = 1007
	CodeMemberFull        = 1008
	CodeInvalidParams     = 1009
	CodeRateLimited       = 1010
	CodeInviteCodeInvalid = 1011
	CodeRequestExists     = 1012
	CodeBroadcastConflict = 1013
	CodeDutyNotEnabled    = 1020
	CodeNotDutyAgent      = 1021
	CodeAgentMDNotFound   = 1024
	CodeAgentMDInvalid    = 1025
	CodeActionNotImpl     = 1099
)

var codeMessages = map[int]string{
	CodeSuccess:           "success",
	CodeGroupNotFound:     "group not found",
	CodeNoPermission:      "no permission",
	CodeGroupDissolved:    "group dissolved",
	CodeGroupSuspended:    "group suspended",
	CodeAlreadyMember:     "already a member",
	CodeNotMember:         "not a member",
	CodeBanned:            "banned from group",
	CodeMemberFull:        "group member limit reached",
	CodeInvalidParams:     "invalid parameters",
	CodeRateLimited:       "rate limited",
	CodeInviteCodeInvalid: "invite code invalid",
	CodeRequestExists:     "request already exists",
	CodeBroadcastConflict: "broadcast lock held elsewhere",
	CodeDutyNotEnabled:    "duty mode not enabled",
	CodeNotDutyAgent:      "not the duty agent",
	CodeAgentMDNotFound:   "agent.md not found",
	CodeAgentMDInvalid:    "agent.md invalid",
	CodeActionNotImpl:     "action not implemented",
}

// CodeMessage returns the canonical description for a protocol code.
func CodeMessage(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown code %d", code)
}

// Error is a non-zero protocol response. Callers use errors.As to
// branch on the code.
type Error struct {
	Action  string
	Code    int
	Message string
	GroupID string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = CodeMessage(e.Code)
	}
	if e.GroupID != "" {
		return fmt.Sprintf("group: %s failed for %s: %s (code %d)", e.Action, e.GroupID, msg, e.Code)
	}
	return fmt.Sprintf("group: %s failed: %s (code %d)", e.Action, msg, e.Code)
}

// IsCode reports whether err is a protocol *Error with the given code.
func IsCode(err error, code int) bool {
	var groupErr *Error
	if errors.As(err, &groupErr) {
		return groupErr.Code == code
	}
	return false
}

// Request lifecycle errors — distinct kinds from protocol errors so
// callers can retry or back off separately.
var (
	// ErrRequestTimeout reports that no response arrived in time.
	ErrRequestTimeout = errors.New("group: request timeout")
	// ErrRequestCancelled reports that Close cancelled the wait.
	ErrRequestCancelled = errors.New("group: request cancelled")
	// ErrClientClosed reports an operation on a closed client.
	ErrClientClosed = errors.New("group: client closed")
)
