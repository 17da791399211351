// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the session layer of the AgentCP
// protocol: the WebSocket connection to the message server, the
// `{"cmd", "data"}` envelope vocabulary, and the local mirror of
// session membership.
//
// The package is organized around the message flow:
//
//   - types.go: messages, blocks, session members
//   - envelope.go: wire envelope building and parsing
//   - client.go: the WebSocket client (reconnect, queueing, ack
//     correlation)
//   - session.go: the session manager (create/invite/join/leave/
//     close/eject and the membership mirror)
//
// All inbound traffic is dispatched in arrival order from a single
// read goroutine; handlers must return promptly and must be safe to
// call from that goroutine.
package messaging
