// Package storage keeps relay message history for chat_history replies.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cloudzz-dev/relaychat/internal/protocol"
	_ "github.com/lib/pq"
)

// Store persists one-to-one messages. History returns at most limit messages
// between a and b, oldest first.
type Store interface {
	SaveMessage(ctx context.Context, m protocol.Message) error
	History(ctx context.Context, a, b string, limit int) ([]protocol.Message, error)
	Close() error
}

// Memory Store

type Memory struct {
	mu       sync.RWMutex
	messages []protocol.Message
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) SaveMessage(_ context.Context, m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *Memory) History(_ context.Context, a, b string, limit int) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := []protocol.Message{}
	for i := len(s.messages) - 1; i >= 0 && len(msgs) < limit; i-- {
		if s.messages[i].Between(a, b) {
			msgs = append(msgs, s.messages[i])
		}
	}

	// Reverse to get oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Memory) Close() error { return nil }

// Postgres Store

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, seq);
`

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) SaveMessage(ctx context.Context, m protocol.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, sender_name, receiver_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.SenderID, m.SenderName, m.ReceiverID, m.Content, m.Timestamp)
	return err
}

func (s *Postgres) History(ctx context.Context, a, b string, limit int) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, receiver_id, content, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY seq DESC
		LIMIT $3
	`, a, b, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []protocol.Message{}
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
