package meshtastic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/commands"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/routing"
	"github.com/soyeahso/meshgate/internal/store"
)

// timeline records sends and sleeps in the order they happened.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (tl *timeline) add(format string, args ...any) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, fmt.Sprintf(format, args...))
}

func (tl *timeline) list() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSleeper returns immediately, advancing the clock by the requested time.
type fakeSleeper struct {
	clock *fakeClock
	tl    *timeline

	mu    sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
	if s.tl != nil {
		s.tl.add("sleep %s", d)
	}
	return nil
}

func (s *fakeSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func (s *fakeSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range s.durations() {
		sum += d
	}
	return sum
}

type sentPayload struct {
	Target domain.Target
	Text   string
	At     time.Time
}

// fakeSender records transmissions. failOn lists 1-based send attempts that
// fail.
type fakeSender struct {
	clock  *fakeClock
	tl     *timeline
	failOn map[int]bool

	mu       sync.Mutex
	attempts int
	sent     []sentPayload
}

func (s *fakeSender) Send(_ context.Context, target domain.Target, text string) error {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	fail := s.failOn[n]
	if !fail {
		p := sentPayload{Target: target, Text: text}
		if s.clock != nil {
			p.At = s.clock.Now()
		}
		s.sent = append(s.sent, p)
	}
	s.mu.Unlock()

	if s.tl != nil {
		s.tl.add("send %d", n)
	}
	if fail {
		return errors.New("radio busy")
	}
	return nil
}

func (s *fakeSender) payloads() []sentPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentPayload(nil), s.sent...)
}

func (s *fakeSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// scriptedStream plays one frame list per connection, then ends that
// connection with the matching error. Once the script runs out it blocks
// until cancelled. With hold set the last connection stays open.
type scriptedStream struct {
	mu       sync.Mutex
	sessions [][]bridge.Frame
	errs     []error
	hold     bool
	calls    int
}

func (s *scriptedStream) Stream(ctx context.Context, out chan<- bridge.Frame) error {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i >= len(s.sessions) {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, f := range s.sessions[i] {
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.hold && i == len(s.sessions)-1 {
		<-ctx.Done()
		return ctx.Err()
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return s.errs[i]
	}
	return bridge.ErrStreamClosed
}

func (s *scriptedStream) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeTransport struct {
	*scriptedStream
	*fakeSender
}

type fakeReplier struct {
	// finalKey, when set, replaces the requested session key in replies.
	finalKey string
	text     func(req domain.AgentRequest) string
	err      error

	mu       sync.Mutex
	requests []domain.AgentRequest
}

func (r *fakeReplier) Reply(_ context.Context, req domain.AgentRequest) (domain.AgentReply, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.err != nil {
		return domain.AgentReply{}, r.err
	}
	text := "ack: " + req.Body
	if r.text != nil {
		text = r.text(req)
	}
	key := req.SessionKey
	if r.finalKey != "" {
		key = r.finalKey
	}
	return domain.AgentReply{Text: text, SessionKey: key}, nil
}

func (r *fakeReplier) received() []domain.AgentRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AgentRequest(nil), r.requests...)
}

// countingPairing wraps a pairing store and counts allow-list reads.
type countingPairing struct {
	PairingStore
	mu    sync.Mutex
	reads int
}

func (c *countingPairing) AllowFrom(ctx context.Context, channel string) ([]string, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.PairingStore.AllowFrom(ctx, channel)
}

func (c *countingPairing) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type fixture struct {
	clock    *fakeClock
	tl       *timeline
	sleeper  *fakeSleeper
	pairing  *store.MemoryPairingStore
	sessions *store.MemorySessionStore
	replier  *fakeReplier
	rt       Runtime
}

func newFixture() *fixture {
	clock := newFakeClock()
	tl := &timeline{}
	f := &fixture{
		clock:    clock,
		tl:       tl,
		sleeper:  &fakeSleeper{clock: clock, tl: tl},
		pairing:  store.NewMemoryPairingStore(store.DefaultPairingTTL),
		sessions: store.NewMemorySessionStore(),
		replier:  &fakeReplier{},
	}
	f.rt = Runtime{
		Pairing:  f.pairing,
		Router:   routing.NewResolver(config.AgentsConfig{DefaultID: "main"}),
		Sessions: f.sessions,
		Commands: commands.NewChecker(config.Defaults().Commands.Names),
		Replier:  f.replier,
		Sleeper:  f.sleeper,
		Clock:    clock,
		Log:      logging.New(nil, "silent"),
	}
	return f
}

func (f *fixture) runtime() Runtime {
	rt, err := f.rt.withDefaults()
	if err != nil {
		panic(err)
	}
	return rt
}

func (f *fixture) sender(failOn ...int) *fakeSender {
	s := &fakeSender{clock: f.clock, tl: f.tl, failOn: map[int]bool{}}
	for _, n := range failOn {
		s.failOn[n] = true
	}
	return s
}

func testAccount(policy string, allow ...string) config.Account {
	return config.Account{
		ID:         config.DefaultAccountID,
		Enabled:    true,
		BridgeURL:  "http://bridge.test",
		DMPolicy:   policy,
		AllowFrom:  allow,
		ChunkBytes: MaxChunkBytes,
		ChunkDelay: DefaultChunkDelay,
		Reconnect:  config.ReconnectConfig{Enabled: false},
	}
}

func textFrame(from, name, text string, channel int, direct bool) bridge.Frame {
	return bridge.Frame{Event: bridge.Event{
		From:      from,
		FromName:  name,
		To:        "!deadbeef",
		Text:      text,
		Timestamp: 1767225600,
		Channel:   channel,
		IsDirect:  direct,
	}}
}

func directMsg(from, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "m-" + body,
		AccountID: config.DefaultAccountID,
		Type:      domain.EventTypeText,
		From:      domain.NormalizeNodeID(from),
		Body:      body,
		Direct:    true,
	}
}

func newShortTTLStore(t *testing.T) *store.MemoryPairingStore {
	t.Helper()
	return store.NewMemoryPairingStore(20 * time.Millisecond)
}
