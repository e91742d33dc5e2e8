package store

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
)

// ErrNotFound is returned when a pairing code or record does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultPairingTTL is how long a pending pairing request stays valid.
const DefaultPairingTTL = time.Hour

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// PairingRequest is a pending approval for one sender on one channel.
type PairingRequest struct {
	Channel    string    `json:"channel"`
	SenderID   string    `json:"senderId"`
	Code       string    `json:"code"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Expired reports whether the request is older than ttl at now.
func (r PairingRequest) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(r.CreatedAt) >= ttl
}

// PairingStore is implemented by every pairing backend. CreateIfAbsent must
// be atomic per (channel, sender).
type PairingStore interface {
	CreateIfAbsent(ctx context.Context, req PairingRequest) (PairingRequest, bool, error)
	ListPending(ctx context.Context, channel string) ([]PairingRequest, error)
	Approve(ctx context.Context, channel, code string) (PairingRequest, error)
	AllowFrom(ctx context.Context, channel string) ([]string, error)
	AddAllowFrom(ctx context.Context, channel, entry string) error
	Revoke(ctx context.Context, channel, entry string) (bool, error)
}

// SessionStore keeps per-conversation metadata, last write wins.
type SessionStore interface {
	Get(ctx context.Context, key string) (domain.SessionMeta, error)
	Record(ctx context.Context, meta domain.SessionMeta) error
	List(ctx context.Context) ([]domain.SessionMeta, error)
}

var (
	_ PairingStore = (*SQLitePairingStore)(nil)
	_ PairingStore = (*MemoryPairingStore)(nil)
	_ SessionStore = (*SQLiteSessionStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)
