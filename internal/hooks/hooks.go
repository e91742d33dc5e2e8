// Package hooks lets operators observe relay lifecycle events without
// touching the message pipeline.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/meshgate/internal/logging"
)

const (
	EventMessageReceived  = "message_received"
	EventMessageDropped   = "message_dropped"
	EventPairingRequested = "pairing_requested"
	EventAgentReply       = "agent_reply"
	EventMessageSending   = "message_sending"
	EventMessageSent      = "message_sent"
	EventChannelStart     = "channel_start"
	EventChannelStop      = "channel_stop"
)

// AllEvents lists every event the relay emits, in pipeline order.
var AllEvents = []string{
	EventChannelStart,
	EventMessageReceived,
	EventMessageDropped,
	EventPairingRequested,
	EventAgentReply,
	EventMessageSending,
	EventMessageSent,
	EventChannelStop,
}

// Payload is what a handler receives. Data holds event-specific fields such
// as "from", "reason" or "chunks".
type Payload struct {
	Event     string         `json:"event"`
	AccountID string         `json:"accountId,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler observes one event. Errors and panics are logged, never propagated.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	name  string
	fn    Handler
	async bool
}

// Manager fans events out to subscribed handlers. The zero value is not
// usable; call NewManager.
type Manager struct {
	log *logging.Logger
	now func() time.Time

	mu   sync.RWMutex
	subs map[string][]subscription

	inflight sync.WaitGroup
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		log:  log.Sub("hooks"),
		now:  time.Now,
		subs: make(map[string][]subscription),
	}
}

// On subscribes fn to event. It runs inline with the pipeline, so it must
// be quick.
func (m *Manager) On(event, name string, fn Handler) {
	m.subscribe(event, subscription{name: name, fn: fn})
}

// OnAsync subscribes fn to run on its own goroutine. The pipeline does not
// wait for it; Drain does.
func (m *Manager) OnAsync(event, name string, fn Handler) {
	m.subscribe(event, subscription{name: name, fn: fn, async: true})
}

func (m *Manager) subscribe(event string, s subscription) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], s)
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", s.name).Bool("async", s.async).Msg("hook registered")
}

// Remove drops every subscription called name and returns how many went.
func (m *Manager) Remove(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for event, subs := range m.subs {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.name == name {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(m.subs, event)
		} else {
			m.subs[event] = kept
		}
	}
	return removed
}

// Subscribed reports the handler count per event.
func (m *Manager) Subscribed() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.subs))
	for event, subs := range m.subs {
		out[event] = len(subs)
	}
	return out
}

// Emit delivers one event. Inline handlers run in subscription order before
// Emit returns; a failing one does not stop the rest.
func (m *Manager) Emit(ctx context.Context, event, accountID string, data map[string]any) {
	m.mu.RLock()
	subs := append([]subscription(nil), m.subs[event]...)
	m.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	p := Payload{Event: event, AccountID: accountID, At: m.now(), Data: data}
	for _, s := range subs {
		if !s.async {
			m.call(ctx, s, p)
			continue
		}
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.call(context.WithoutCancel(ctx), s, p)
		}()
	}
}

// Drain waits for async handlers still running, or until ctx ends.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) call(ctx context.Context, s subscription, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("event", p.Event).Str("handler", s.name).Str("panic", fmt.Sprint(r)).Msg("hook panicked")
		}
	}()
	if err := s.fn(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook failed")
	}
}

// LogHandler writes each payload to log at debug level.
func LogHandler(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event)
		if p.AccountID != "" {
			ev = ev.Str("account", p.AccountID)
		}
		ev.Fields(p.Data).Msg("hook")
		return nil
	}
}
