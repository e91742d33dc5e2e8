package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
)

type pairingKey struct {
	channel, sender string
}

// MemoryPairingStore is an in-process pairing store with the same semantics
// as SQLitePairingStore. State is lost on restart.
type MemoryPairingStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	requests map[pairingKey]PairingRequest
	allow    map[string][]string
}

// NewMemoryPairingStore creates an empty in-memory pairing store.
func NewMemoryPairingStore(ttl time.Duration) *MemoryPairingStore {
	return &MemoryPairingStore{
		ttl:      ttl,
		now:      time.Now,
		requests: make(map[pairingKey]PairingRequest),
		allow:    make(map[string][]string),
	}
}

func (m *MemoryPairingStore) CreateIfAbsent(_ context.Context, req PairingRequest) (PairingRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := pairingKey{req.Channel, req.SenderID}
	if cur, ok := m.requests[k]; ok && !cur.Expired(now, m.ttl) {
		cur.LastSeenAt = now
		if req.Name != "" {
			cur.Name = req.Name
		}
		m.requests[k] = cur
		return cur, false, nil
	}

	req.CreatedAt = now
	req.LastSeenAt = now
	m.requests[k] = req
	return req, true, nil
}

func (m *MemoryPairingStore) ListPending(_ context.Context, channel string) ([]PairingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []PairingRequest
	for k, r := range m.requests {
		if k.channel == channel && !r.Expired(now, m.ttl) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SenderID < out[j].SenderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryPairingStore) Approve(_ context.Context, channel, code string) (PairingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	now := m.now()
	for k, r := range m.requests {
		if k.channel != channel || r.Code != code || r.Expired(now, m.ttl) {
			continue
		}
		delete(m.requests, k)
		m.addLocked(channel, r.SenderID)
		return r, nil
	}
	return PairingRequest{}, ErrNotFound
}

func (m *MemoryPairingStore) AllowFrom(_ context.Context, channel string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.allow[channel]...), nil
}

func (m *MemoryPairingStore) AddAllowFrom(_ context.Context, channel, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(channel, entry)
	return nil
}

func (m *MemoryPairingStore) Revoke(_ context.Context, channel, entry string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.allow[channel]
	for i, e := range list {
		if e == entry {
			m.allow[channel] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryPairingStore) addLocked(channel, entry string) {
	for _, e := range m.allow[channel] {
		if e == entry {
			return
		}
	}
	m.allow[channel] = append(m.allow[channel], entry)
}

// MemorySessionStore keeps session metadata in a map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionMeta
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domain.SessionMeta)}
}

func (m *MemorySessionStore) Get(_ context.Context, key string) (domain.SessionMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return domain.SessionMeta{}, ErrNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) Record(_ context.Context, meta domain.SessionMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[meta.SessionKey] = meta
	return nil
}

func (m *MemorySessionStore) List(_ context.Context) ([]domain.SessionMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SessionMeta, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
