// Package redisstore keeps pairing requests and allow lists in Redis so
// several meshgate processes can share one approval state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/meshgate/internal/store"
)

const keyPrefix = "meshgate:"

// PairingStore implements the pairing store contract on Redis. Pending
// requests expire through key TTLs.
type PairingStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ store.PairingStore = (*PairingStore)(nil)

// Open connects to the Redis server at url (redis://...) and verifies it.
func Open(ctx context.Context, url string, ttl time.Duration) (*PairingStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(rdb, ttl), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl time.Duration) *PairingStore {
	return &PairingStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// Close releases the underlying client.
func (s *PairingStore) Close() error { return s.rdb.Close() }

func requestKey(channel, sender string) string {
	return keyPrefix + "pairing:" + channel + ":" + sender
}

func codeKey(channel, code string) string {
	return keyPrefix + "pairing-code:" + channel + ":" + code
}

func allowKey(channel string) string {
	return keyPrefix + "allow:" + channel
}

// createRequest writes the request and its code index in one atomic script.
// KEYS: request, code index. ARGV: request JSON, sender, ttl in ms (0 = none).
var createRequest = redis.NewScript(`
local ttl = tonumber(ARGV[3])
local ok
if ttl > 0 then
	ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ttl)
else
	ok = redis.call("SET", KEYS[1], ARGV[1], "NX")
end
if not ok then
	return 0
end
if ttl > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ttl)
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// CreateIfAbsent runs createRequest so exactly one concurrent caller creates
// the request, and a created request always has its code index.
func (s *PairingStore) CreateIfAbsent(ctx context.Context, req store.PairingRequest) (store.PairingRequest, bool, error) {
	now := s.now().UTC()
	req.CreatedAt = now
	req.LastSeenAt = now

	data, err := json.Marshal(req)
	if err != nil {
		return store.PairingRequest{}, false, err
	}

	key := requestKey(req.Channel, req.SenderID)
	keys := []string{key, codeKey(req.Channel, req.Code)}
	created, err := createRequest.Run(ctx, s.rdb, keys, data, req.SenderID, s.ttl.Milliseconds()).Int()
	if err != nil {
		return store.PairingRequest{}, false, fmt.Errorf("creating pairing request: %w", err)
	}
	if created == 1 {
		return req, true, nil
	}

	cur, err := s.get(ctx, key)
	if err != nil {
		return store.PairingRequest{}, false, err
	}
	cur.LastSeenAt = now
	if req.Name != "" {
		cur.Name = req.Name
	}
	data, err = json.Marshal(cur)
	if err != nil {
		return store.PairingRequest{}, false, err
	}
	if err := s.rdb.Set(ctx, key, data, redis.KeepTTL).Err(); err != nil {
		return store.PairingRequest{}, false, fmt.Errorf("refreshing pairing request: %w", err)
	}
	return cur, false, nil
}

// ListPending scans the channel's request keys.
func (s *PairingStore) ListPending(ctx context.Context, channel string) ([]store.PairingRequest, error) {
	var out []store.PairingRequest
	iter := s.rdb.Scan(ctx, 0, requestKey(channel, "*"), 100).Iterator()
	for iter.Next(ctx) {
		r, err := s.get(ctx, iter.Val())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing pairing requests: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Approve resolves code to its sender, allow-lists it and drops the request.
func (s *PairingStore) Approve(ctx context.Context, channel, code string) (store.PairingRequest, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	sender, err := s.rdb.Get(ctx, codeKey(channel, code)).Result()
	if errors.Is(err, redis.Nil) {
		return store.PairingRequest{}, store.ErrNotFound
	}
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("resolving pairing code: %w", err)
	}

	req, err := s.get(ctx, requestKey(channel, sender))
	if err != nil {
		return store.PairingRequest{}, err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, allowKey(channel), sender)
		pipe.Del(ctx, requestKey(channel, sender), codeKey(channel, code))
		return nil
	})
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("approving %s: %w", sender, err)
	}
	return req, nil
}

func (s *PairingStore) AllowFrom(ctx context.Context, channel string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, allowKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading allow list: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *PairingStore) AddAllowFrom(ctx context.Context, channel, entry string) error {
	return s.rdb.SAdd(ctx, allowKey(channel), entry).Err()
}

func (s *PairingStore) Revoke(ctx context.Context, channel, entry string) (bool, error) {
	n, err := s.rdb.SRem(ctx, allowKey(channel), entry).Result()
	if err != nil {
		return false, fmt.Errorf("revoking allow entry: %w", err)
	}
	return n > 0, nil
}

func (s *PairingStore) get(ctx context.Context, key string) (store.PairingRequest, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.PairingRequest{}, store.ErrNotFound
	}
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("reading pairing request: %w", err)
	}
	var r store.PairingRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return store.PairingRequest{}, fmt.Errorf("decoding pairing request: %w", err)
	}
	return r, nil
}
