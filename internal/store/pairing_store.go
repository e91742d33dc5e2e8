package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLitePairingStore keeps pairing requests and approved senders in SQLite.
// It is safe for concurrent use by several account workers.
type SQLitePairingStore struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLitePairingStore creates a pairing store on db. A ttl of 0 disables
// expiry of pending requests.
func NewSQLitePairingStore(db *DB, ttl time.Duration) *SQLitePairingStore {
	return &SQLitePairingStore{db: db, ttl: ttl, now: time.Now}
}

// CreateIfAbsent records a pending request for req.Channel/req.SenderID
// unless an unexpired one exists. created is true only for the caller whose
// insert won; everyone else gets the existing record with LastSeenAt and
// Name refreshed.
func (s *SQLitePairingStore) CreateIfAbsent(ctx context.Context, req PairingRequest) (PairingRequest, bool, error) {
	now := s.now()
	nowStr := formatTime(now)

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return PairingRequest{}, false, fmt.Errorf("begin pairing tx: %w", err)
	}
	defer tx.Rollback()

	if s.ttl > 0 {
		cutoff := formatTime(now.Add(-s.ttl))
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pairing_requests WHERE channel = ? AND sender_id = ? AND created_at <= ?`,
			req.Channel, req.SenderID, cutoff,
		); err != nil {
			return PairingRequest{}, false, fmt.Errorf("expiring pairing request: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO pairing_requests (channel, sender_id, code, name, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, sender_id) DO NOTHING`,
		req.Channel, req.SenderID, req.Code, req.Name, nowStr, nowStr,
	)
	if err != nil {
		return PairingRequest{}, false, fmt.Errorf("inserting pairing request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return PairingRequest{}, false, err
	}
	created := n == 1

	if !created {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pairing_requests SET last_seen_at = ?, name = CASE WHEN ? <> '' THEN ? ELSE name END
			 WHERE channel = ? AND sender_id = ?`,
			nowStr, req.Name, req.Name, req.Channel, req.SenderID,
		); err != nil {
			return PairingRequest{}, false, fmt.Errorf("refreshing pairing request: %w", err)
		}
	}

	out, err := scanPairing(tx.QueryRowContext(ctx,
		`SELECT channel, sender_id, code, name, created_at, last_seen_at
		 FROM pairing_requests WHERE channel = ? AND sender_id = ?`,
		req.Channel, req.SenderID,
	))
	if err != nil {
		return PairingRequest{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return PairingRequest{}, false, fmt.Errorf("commit pairing tx: %w", err)
	}
	return out, created, nil
}

// ListPending returns unexpired requests for channel, oldest first.
func (s *SQLitePairingStore) ListPending(ctx context.Context, channel string) ([]PairingRequest, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT channel, sender_id, code, name, created_at, last_seen_at
		 FROM pairing_requests WHERE channel = ? AND created_at > ?
		 ORDER BY created_at, sender_id`,
		channel, s.cutoff(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing pairing requests: %w", err)
	}
	defer rows.Close()

	var out []PairingRequest
	for rows.Next() {
		r, err := scanPairing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Approve moves the sender holding code onto the allow list and removes the
// request. Codes are matched case-insensitively.
func (s *SQLitePairingStore) Approve(ctx context.Context, channel, code string) (PairingRequest, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return PairingRequest{}, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback()

	req, err := scanPairing(tx.QueryRowContext(ctx,
		`SELECT channel, sender_id, code, name, created_at, last_seen_at
		 FROM pairing_requests WHERE channel = ? AND code = ? AND created_at > ?`,
		channel, strings.ToUpper(strings.TrimSpace(code)), s.cutoff(),
	))
	if err != nil {
		return PairingRequest{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO allow_from (channel, entry, added_at) VALUES (?, ?, ?)
		 ON CONFLICT (channel, entry) DO NOTHING`,
		channel, req.SenderID, formatTime(s.now()),
	); err != nil {
		return PairingRequest{}, fmt.Errorf("adding allow entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE channel = ? AND sender_id = ?`,
		channel, req.SenderID,
	); err != nil {
		return PairingRequest{}, fmt.Errorf("removing pairing request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PairingRequest{}, fmt.Errorf("commit approve tx: %w", err)
	}
	return req, nil
}

// AllowFrom returns the approved entries for channel.
func (s *SQLitePairingStore) AllowFrom(ctx context.Context, channel string) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT entry FROM allow_from WHERE channel = ? ORDER BY added_at, entry`, channel)
	if err != nil {
		return nil, fmt.Errorf("reading allow list: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddAllowFrom approves entry directly, without a pairing request.
func (s *SQLitePairingStore) AddAllowFrom(ctx context.Context, channel, entry string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO allow_from (channel, entry, added_at) VALUES (?, ?, ?)
		 ON CONFLICT (channel, entry) DO NOTHING`,
		channel, entry, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("adding allow entry: %w", err)
	}
	return nil
}

// Revoke removes entry from the allow list. It reports whether a row was removed.
func (s *SQLitePairingStore) Revoke(ctx context.Context, channel, entry string) (bool, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM allow_from WHERE channel = ? AND entry = ?`, channel, entry)
	if err != nil {
		return false, fmt.Errorf("revoking allow entry: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLitePairingStore) cutoff() string {
	if s.ttl <= 0 {
		return ""
	}
	return formatTime(s.now().Add(-s.ttl))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPairing(row rowScanner) (PairingRequest, error) {
	var r PairingRequest
	var createdAt, lastSeen string
	err := row.Scan(&r.Channel, &r.SenderID, &r.Code, &r.Name, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return PairingRequest{}, ErrNotFound
	}
	if err != nil {
		return PairingRequest{}, fmt.Errorf("scanning pairing request: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.LastSeenAt = parseTime(lastSeen)
	return r, nil
}
