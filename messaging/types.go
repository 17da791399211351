// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BlockType discriminates the variants of a message Block.
type BlockType string

// Block variants.
const (
	BlockContent     BlockType = "content"
	BlockFile        BlockType = "file"
	BlockImage       BlockType = "image"
	BlockAudio       BlockType = "audio"
	BlockVideo       BlockType = "video"
	BlockForm        BlockType = "form"
	BlockFormResult  BlockType = "form_result"
	BlockInstruction BlockType = "instruction"
)

// Block is one element of a message body. Type selects the variant;
// the remaining fields are variant-specific (Content for text blocks,
// the URL/Name/Size/MIME/MD5 group for media blocks). Use the
// constructors and Validate to keep variant and fields consistent.
type Block struct {
	Type      BlockType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Status    string    `json:"status,omitempty"`

	// Media fields, set for file/image/audio/video blocks.
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
	MIME string `json:"mime,omitempty"`
	MD5  string `json:"md5,omitempty"`
}

// NewContentBlock creates a plain text block.
func NewContentBlock(text string) Block {
	return Block{Type: BlockContent, Content: text}
}

// NewFileBlock creates a file reference block.
func NewFileBlock(url, name string, size int64, mime, md5 string) Block {
	return Block{Type: BlockFile, URL: url, Name: name, Size: size, MIME: mime, MD5: md5}
}

// Validate checks variant/field consistency.
func (b Block) Validate() error {
	switch b.Type {
	case BlockContent, BlockForm, BlockFormResult, BlockInstruction:
		if b.URL != "" || b.MD5 != "" {
			return fmt.Errorf("messaging: %s block carries media fields", b.Type)
		}
		return nil
	case BlockFile, BlockImage, BlockAudio, BlockVideo:
		if b.URL == "" {
			return fmt.Errorf("messaging: %s block requires a URL", b.Type)
		}
		return nil
	default:
		return fmt.Errorf("messaging: unknown block type %q", b.Type)
	}
}

// Instruction is an optional machine-readable directive attached to a
// message.
type Instruction struct {
	Cmd         string            `json:"cmd"`
	Description string            `json:"description,omitempty"`
	Model       string            `json:"model,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// Message is a decoded session message.
type Message struct {
	MessageID   string       `json:"message_id"`
	SessionID   string       `json:"session_id"`
	Sender      string       `json:"sender"`
	Receiver    string       `json:"receiver"`
	RefMsgID    string       `json:"ref_msg_id,omitempty"`
	Timestamp   int64        `json:"timestamp"`
	Blocks      []Block      `json:"blocks"`
	Instruction *Instruction `json:"instruction,omitempty"`
}

// Role of a session member.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// SessionMember is one participant in a session.
type SessionMember struct {
	AgentID  string `json:"agent_id"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

// Millis is a millisecond timestamp that tolerates both string and
// number encodings — servers emit either.
type Millis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("messaging: timestamp %q: %w", s, err)
		}
		*m = Millis(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Millis(v)
	return nil
}
