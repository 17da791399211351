// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the two binary encodings of the AgentCP
// protocol:
//
//   - frame.go: the framed binary message format carried over the
//     session WebSocket (28-byte header, CRC-32 checked, optionally
//     zlib-compressed payload). Used for JSON control frames and file
//     stream chunks.
//   - udp.go: the varint + big-endian datagram format used by the
//     heartbeat server (heartbeat request/response, invite
//     request/response).
//
// Everything else on the wire is plain JSON text; these are the only
// non-JSON encodings in the protocol.
package wire
