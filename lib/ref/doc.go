// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides the validated agent identifier type (AID) for
// the AgentCP protocol. Session and group identifiers are plain
// strings elsewhere in the SDK.
//
// AIDs are constructed through ParseAID, which validates shape at the
// boundary, so code deeper in the SDK can assume a well-formed value.
// The zero value is invalid and reports IsZero() == true.
package ref
