// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists received session and group messages in a
// local SQLite database so host applications can render history
// without holding everything in memory. Attachment is optional: an
// agent without a store simply does not record history.
//
// Writes are idempotent (INSERT OR IGNORE on the message key), so
// re-delivery after a reconnect or a re-run sync never duplicates
// rows.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/agentcp-foundation/agentcp/group"
	"github.com/agentcp-foundation/agentcp/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	blocks     TEXT NOT NULL,
	PRIMARY KEY (session_id, message_id)
);
CREATE INDEX IF NOT EXISTS messages_by_ts ON messages (session_id, ts);

CREATE TABLE IF NOT EXISTS group_messages (
	group_id     TEXT NOT NULL,
	msg_id       INTEGER NOT NULL,
	sender       TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	ts           INTEGER NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (group_id, msg_id)
);
`

// DB is a local message history database. Safe for concurrent use.
type DB struct {
	pool *sqlitex.Pool
}

// Open creates (or opens) the history database at path. Use
// ":memory:" in tests.
func Open(path string) (*DB, error) {
	poolSize := 4
	if path == ":memory:" {
		// In-memory databases are per-connection; a pool of one keeps
		// every caller on the same database.
		poolSize = 1
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("store: closing pool: %w", err)
	}
	return nil
}

// RecordMessage stores one session message. Duplicate
// (session_id, message_id) pairs are ignored.
func (db *DB) RecordMessage(ctx context.Context, message messaging.Message) error {
	blocks, err := json.Marshal(message.Blocks)
	if err != nil {
		return fmt.Errorf("store: encoding blocks: %w", err)
	}
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer db.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO messages (session_id, message_id, sender, receiver, ts, blocks)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			message.SessionID, message.MessageID, message.Sender,
			message.Receiver, message.Timestamp, string(blocks),
		}})
	if err != nil {
		return fmt.Errorf("store: inserting message: %w", err)
	}
	return nil
}

// Messages returns up to limit messages for a session in timestamp
// order, starting after the given timestamp. limit <= 0 means 100.
func (db *DB) Messages(ctx context.Context, sessionID string, afterTs int64, limit int) ([]messaging.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer db.pool.Put(conn)

	var out []messaging.Message
	err = sqlitex.Execute(conn,
		`SELECT session_id, message_id, sender, receiver, ts, blocks
		 FROM messages WHERE session_id = ? AND ts > ?
		 ORDER BY ts ASC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, afterTs, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message := messaging.Message{
					SessionID: stmt.ColumnText(0),
					MessageID: stmt.ColumnText(1),
					Sender:    stmt.ColumnText(2),
					Receiver:  stmt.ColumnText(3),
					Timestamp: stmt.ColumnInt64(4),
				}
				if blocks := stmt.ColumnText(5); blocks != "" {
					if err := json.Unmarshal([]byte(blocks), &message.Blocks); err != nil {
						return fmt.Errorf("store: decoding blocks: %w", err)
					}
				}
				out = append(out, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: querying messages: %w", err)
	}
	return out, nil
}

// RecordGroupMessage stores one group message. Duplicate
// (group_id, msg_id) pairs are ignored.
func (db *DB) RecordGroupMessage(ctx context.Context, groupID string, message group.GroupMessage) error {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer db.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO group_messages (group_id, msg_id, sender, content, content_type, ts, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			groupID, message.MsgID, message.Sender, message.Content,
			message.ContentType, message.Timestamp, string(message.Metadata),
		}})
	if err != nil {
		return fmt.Errorf("store: inserting group message: %w", err)
	}
	return nil
}

// GroupMessages returns up to limit messages for a group with msg_id
// greater than afterMsgID, in id order. limit <= 0 means 100.
func (db *DB) GroupMessages(ctx context.Context, groupID string, afterMsgID int64, limit int) ([]group.GroupMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer db.pool.Put(conn)

	var out []group.GroupMessage
	err = sqlitex.Execute(conn,
		`SELECT msg_id, sender, content, content_type, ts, metadata
		 FROM group_messages WHERE group_id = ? AND msg_id > ?
		 ORDER BY msg_id ASC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{groupID, afterMsgID, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message := group.GroupMessage{
					MsgID:       stmt.ColumnInt64(0),
					Sender:      stmt.ColumnText(1),
					Content:     stmt.ColumnText(2),
					ContentType: stmt.ColumnText(3),
					Timestamp:   stmt.ColumnInt64(4),
				}
				if metadata := stmt.ColumnText(5); metadata != "" {
					message.Metadata = json.RawMessage(metadata)
				}
				out = append(out, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: querying group messages: %w", err)
	}
	return out, nil
}
