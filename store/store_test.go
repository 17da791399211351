// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agentcp-foundation/agentcp/group"
	"github.com/agentcp-foundation/agentcp/messaging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndQueryMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three"} {
		message := messaging.Message{
			MessageID: string(rune('a' + i)),
			SessionID: "sess-1",
			Sender:    "alice.aid.net",
			Receiver:  "bob.aid.net",
			Timestamp: int64(100 + i),
			Blocks:    []messaging.Block{messaging.NewContentBlock(text)},
		}
		if err := db.RecordMessage(ctx, message); err != nil {
			t.Fatal(err)
		}
	}

	// Duplicate delivery is a no-op.
	dup := messaging.Message{MessageID: "a", SessionID: "sess-1", Sender: "x.y",
		Receiver: "y.z", Timestamp: 999}
	if err := db.RecordMessage(ctx, dup); err != nil {
		t.Fatal(err)
	}

	messages, err := db.Messages(ctx, "sess-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	if messages[0].Blocks[0].Content != "one" || messages[0].Timestamp != 100 {
		t.Errorf("first message = %+v", messages[0])
	}

	// Pagination by timestamp.
	tail, err := db.Messages(ctx, "sess-1", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Blocks[0].Content != "two" {
		t.Errorf("tail = %+v", tail)
	}

	// Other sessions are not visible.
	other, err := db.Messages(ctx, "sess-2", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("foreign session returned %d messages", len(other))
	}
}

func TestRecordAndQueryGroupMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		message := group.GroupMessage{
			MsgID:     i,
			Sender:    "bob.aid.net",
			Content:   "m",
			Timestamp: i * 10,
			Metadata:  json.RawMessage(`{"k":"v"}`),
		}
		if err := db.RecordGroupMessage(ctx, "g1", message); err != nil {
			t.Fatal(err)
		}
		// Redelivery (same msg_id) must not duplicate.
		if err := db.RecordGroupMessage(ctx, "g1", message); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := db.GroupMessages(ctx, "g1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	if messages[0].MsgID != 3 || messages[2].MsgID != 5 {
		t.Errorf("range = %d..%d", messages[0].MsgID, messages[2].MsgID)
	}
	if string(messages[0].Metadata) != `{"k":"v"}` {
		t.Errorf("metadata = %s", messages[0].Metadata)
	}

	limited, err := db.GroupMessages(ctx, "g1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d", len(limited))
	}
}
