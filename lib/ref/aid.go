// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// AID is an agent identifier: a globally unique, DNS-shaped name such
// as "alice.aid.net". The part after the first dot is the issuer — the
// access point domain that certified the agent.
type AID struct {
	value string
}

// ParseAID validates a DNS-shaped agent identifier. An AID must be
// lowercase, contain at least two dot-separated labels, and each label
// must be a DNS-style label (letters, digits, hyphens, underscores; no
// leading or trailing hyphen; at most 63 bytes).
func ParseAID(s string) (AID, error) {
	if s == "" {
		return AID{}, fmt.Errorf("ref: empty AID")
	}
	if len(s) > 253 {
		return AID{}, fmt.Errorf("ref: AID %q exceeds 253 bytes", s)
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return AID{}, fmt.Errorf("ref: AID %q must have at least two labels", s)
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return AID{}, fmt.Errorf("ref: AID %q: %w", s, err)
		}
	}
	return AID{value: s}, nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q exceeds 63 bytes", label)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q has leading or trailing hyphen", label)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		case c == '_':
			// Underscores appear in machine-generated agent names.
		default:
			return fmt.Errorf("label %q contains invalid byte %q", label, c)
		}
	}
	return nil
}

// String returns the AID in its wire form.
func (a AID) String() string { return a.value }

// IsZero reports whether the AID is the invalid zero value.
func (a AID) IsZero() bool { return a.value == "" }

// Issuer returns the access point domain that certified this AID:
// everything after the first label ("alice.aid.net" → "aid.net").
func (a AID) Issuer() string {
	if i := strings.IndexByte(a.value, '.'); i >= 0 {
		return a.value[i+1:]
	}
	return a.value
}

// GroupTarget returns the default group access point AID for this
// agent's issuer: "group." + issuer.
func (a AID) GroupTarget() AID {
	return AID{value: "group." + a.Issuer()}
}

// MarshalText implements encoding.TextMarshaler.
func (a AID) MarshalText() ([]byte, error) { return []byte(a.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AID) UnmarshalText(data []byte) error {
	parsed, err := ParseAID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal AID: %w", err)
	}
	*a = parsed
	return nil
}
