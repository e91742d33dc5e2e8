// Package meshtastic relays messages between a Meshtastic radio bridge and
// the agent gateway. One Channel runs per configured account: it consumes the
// bridge event stream, applies the DM policy and pairing flow, resolves a
// session route, asks the agent for a reply and paces the reply back onto the
// mesh in radio-sized chunks.
package meshtastic

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/routing"
	"github.com/soyeahso/meshgate/internal/store"
)

// PairingStore persists pending pairing requests and approved senders.
// Implementations must make CreateIfAbsent atomic per (channel, sender).
type PairingStore interface {
	CreateIfAbsent(ctx context.Context, req store.PairingRequest) (store.PairingRequest, bool, error)
	AllowFrom(ctx context.Context, channel string) ([]string, error)
}

// SessionStore reads and records per-conversation metadata.
type SessionStore interface {
	Get(ctx context.Context, key string) (domain.SessionMeta, error)
	Record(ctx context.Context, meta domain.SessionMeta) error
}

// Router maps a conversation to an agent and session key.
type Router interface {
	Resolve(in routing.Input) domain.Route
}

// CommandChecker recognizes control commands in a message body.
type CommandChecker interface {
	IsControlCommand(body string) bool
}

// Replier produces the agent's reply for one inbound message.
type Replier interface {
	Reply(ctx context.Context, req domain.AgentRequest) (domain.AgentReply, error)
}

// Sender transmits one payload to the radio bridge.
type Sender interface {
	Send(ctx context.Context, target domain.Target, text string) error
}

// Hooks receives lifecycle events.
type Hooks interface {
	Emit(ctx context.Context, event, accountID string, data map[string]any)
}

// Sleeper waits between chunk transmissions and reconnect attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Runtime bundles the services a Channel depends on. It is built once by the
// caller and handed to every Channel; nothing in this package keeps global
// state.
type Runtime struct {
	Pairing  PairingStore
	Router   Router
	Sessions SessionStore
	Commands CommandChecker
	Replier  Replier
	Hooks    Hooks
	Sleeper  Sleeper
	Clock    Clock
	Log      *logging.Logger
}

// ErrIncompleteRuntime is returned when a required service is missing.
var ErrIncompleteRuntime = errors.New("meshtastic: incomplete runtime")

// withDefaults checks the required services and fills in the optional ones.
func (rt Runtime) withDefaults() (Runtime, error) {
	switch {
	case rt.Pairing == nil:
		return rt, errors.Join(ErrIncompleteRuntime, errors.New("pairing store is required"))
	case rt.Router == nil:
		return rt, errors.Join(ErrIncompleteRuntime, errors.New("router is required"))
	case rt.Replier == nil:
		return rt, errors.Join(ErrIncompleteRuntime, errors.New("replier is required"))
	}
	if rt.Sessions == nil {
		rt.Sessions = store.NewMemorySessionStore()
	}
	if rt.Commands == nil {
		rt.Commands = noCommands{}
	}
	if rt.Hooks == nil {
		rt.Hooks = noHooks{}
	}
	if rt.Sleeper == nil {
		rt.Sleeper = TimerSleeper{}
	}
	if rt.Clock == nil {
		rt.Clock = SystemClock{}
	}
	if rt.Log == nil {
		rt.Log = logging.New(nil, "silent")
	}
	return rt, nil
}

// TimerSleeper sleeps on a real timer and returns early on cancellation.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type noCommands struct{}

func (noCommands) IsControlCommand(string) bool { return false }

type noHooks struct{}

func (noHooks) Emit(context.Context, string, string, map[string]any) {}
