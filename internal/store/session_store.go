package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soyeahso/meshgate/internal/domain"
)

// SQLiteSessionStore records per-conversation metadata in SQLite.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Get returns the metadata stored under key, or ErrNotFound.
func (s *SQLiteSessionStore) Get(ctx context.Context, key string) (domain.SessionMeta, error) {
	var m domain.SessionMeta
	var chatType, updatedAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT session_key, agent_id, channel, account_id, chat_type, peer_id, last_to, last_channel_index, updated_at
		 FROM session_meta WHERE session_key = ?`, key,
	).Scan(&m.SessionKey, &m.AgentID, &m.Channel, &m.AccountID, &chatType, &m.PeerID,
		&m.LastTo, &m.LastChannelIndex, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionMeta{}, ErrNotFound
	}
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("reading session %s: %w", key, err)
	}
	m.ChatType = domain.ChatType(chatType)
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

// Record upserts metadata for m.SessionKey. The last write wins.
func (s *SQLiteSessionStore) Record(ctx context.Context, m domain.SessionMeta) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO session_meta (session_key, agent_id, channel, account_id, chat_type, peer_id, last_to, last_channel_index, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET
			agent_id = excluded.agent_id,
			channel = excluded.channel,
			account_id = excluded.account_id,
			chat_type = excluded.chat_type,
			peer_id = excluded.peer_id,
			last_to = excluded.last_to,
			last_channel_index = excluded.last_channel_index,
			updated_at = excluded.updated_at`,
		m.SessionKey, m.AgentID, m.Channel, m.AccountID, string(m.ChatType), m.PeerID,
		m.LastTo, m.LastChannelIndex, formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", m.SessionKey, err)
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]domain.SessionMeta, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT session_key, agent_id, channel, account_id, chat_type, peer_id, last_to, last_channel_index, updated_at
		 FROM session_meta ORDER BY updated_at DESC, session_key`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionMeta
	for rows.Next() {
		var m domain.SessionMeta
		var chatType, updatedAt string
		if err := rows.Scan(&m.SessionKey, &m.AgentID, &m.Channel, &m.AccountID, &chatType, &m.PeerID,
			&m.LastTo, &m.LastChannelIndex, &updatedAt); err != nil {
			return nil, err
		}
		m.ChatType = domain.ChatType(chatType)
		m.UpdatedAt = parseTime(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
