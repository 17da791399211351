// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package group implements the group protocol: a request/response and
// notification layer tunneled through session_message envelopes to a
// dedicated group access point.
//
// The package is organized around the protocol flow:
//
//   - client.go: request correlation (pending map, timeouts,
//     cancellation) and inbound payload routing
//   - operations.go: strongly-typed wrappers for every group action,
//     including cursor-driven incremental sync
//   - events.go: notification and structured event dispatch
//   - cursor.go: persisted per-group message/event cursors
//   - errors.go: the closed protocol error code set
//
// The group client never owns a transport. It is handed a send
// function that routes payloads through the message client, and it is
// fed inbound payloads by the agent after the sender has been matched
// against the group target AID. Close the group client BEFORE the
// message client: pending requests hold the send function and must be
// cancelled while the transport is still alive.
package group
