package meshtastic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
)

// StreamSource opens the bridge event stream. bridge.Client implements it.
type StreamSource interface {
	Stream(ctx context.Context, out chan<- bridge.Frame) error
}

// Ingester keeps one account's bridge stream open and turns its events into
// InboundMessages. It is the producer half of a Channel.
type Ingester struct {
	accountID string
	src       StreamSource
	policy    config.ReconnectConfig
	status    *Status
	sleeper   Sleeper
	clock     Clock
	log       *logging.Logger
	newID     func() string
}

// NewIngester creates an Ingester for one account.
func NewIngester(accountID string, src StreamSource, policy config.ReconnectConfig, status *Status, rt Runtime) *Ingester {
	return &Ingester{
		accountID: accountID,
		src:       src,
		policy:    policy,
		status:    status,
		sleeper:   rt.Sleeper,
		clock:     rt.Clock,
		log:       rt.Log.Sub("ingest"),
		newID:     uuid.NewString,
	}
}

// Run reads the stream until ctx is cancelled, writing each accepted message
// to out. Dropped connections are retried per the reconnect policy; with
// reconnects disabled the first drop ends Run with the stream error.
// Cancellation returns nil. Run never closes out.
func (in *Ingester) Run(ctx context.Context, out chan<- domain.InboundMessage) error {
	b := in.newBackOff()
	failures := 0

	for {
		accepted, err := in.session(ctx, out)
		in.status.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		in.status.setError(err)

		if !in.policy.Enabled {
			in.log.Warn().Err(err).Msg("bridge stream ended, reconnect disabled")
			return err
		}
		// Only a session that carried real traffic counts as recovered; the
		// bridge's "connected" hello alone does not.
		if accepted {
			b.Reset()
			failures = 0
		}
		failures++
		if in.policy.MaxAttempts > 0 && failures > in.policy.MaxAttempts {
			return fmt.Errorf("bridge stream: giving up after %d attempts: %w", in.policy.MaxAttempts, err)
		}

		wait := b.NextBackOff()
		in.log.Warn().
			Err(err).
			Int("attempt", failures).
			Dur("retryIn", wait).
			Msg("bridge stream dropped")
		if err := in.sleeper.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (in *Ingester) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if in.policy.InitialMs > 0 {
		b.InitialInterval = time.Duration(in.policy.InitialMs) * time.Millisecond
	}
	if in.policy.MaxMs > 0 {
		b.MaxInterval = time.Duration(in.policy.MaxMs) * time.Millisecond
	}
	if in.policy.Multiplier >= 1 {
		b.Multiplier = in.policy.Multiplier
	}
	b.Reset()
	return b
}

// session runs one stream connection. It reports whether any message was
// accepted; control frames mark the account connected but do not count.
func (in *Ingester) session(ctx context.Context, out chan<- domain.InboundMessage) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unbuffered, so nothing is left in flight once Stream returns.
	frames := make(chan bridge.Frame)
	errc := make(chan error, 1)
	go func() { errc <- in.src.Stream(sctx, frames) }()

	connected, accepted := false, false
	for {
		select {
		case f := <-frames:
			if !connected {
				connected = true
				in.status.setConnected(true)
				in.status.setError(nil)
				in.log.Info().Msg("bridge stream connected")
			}
			msg, ok := in.decode(f)
			if !ok {
				continue
			}
			accepted = true
			in.status.markInbound(in.clock.Now())
			select {
			case out <- msg:
			case <-ctx.Done():
				return accepted, ctx.Err()
			}
		case err := <-errc:
			return accepted, err
		case <-ctx.Done():
			return accepted, ctx.Err()
		}
	}
}

// decode validates one frame. Control events, malformed payloads and events
// without a sender or body are logged and dropped.
func (in *Ingester) decode(f bridge.Frame) (domain.InboundMessage, bool) {
	if f.Err != nil {
		in.log.Warn().Err(f.Err).Str("raw", truncate(f.Raw, 200)).Msg("dropping malformed event")
		return domain.InboundMessage{}, false
	}

	ev := f.Event
	if ev.Type != "" && ev.Type != domain.EventTypeText {
		in.log.Debug().Str("type", ev.Type).Msg("skipping control event")
		return domain.InboundMessage{}, false
	}

	from := domain.NormalizeNodeID(ev.From)
	body := strings.TrimSpace(ev.Text)
	if from == "" || body == "" {
		in.log.Debug().Str("from", ev.From).Msg("dropping event without sender or text")
		return domain.InboundMessage{}, false
	}
	if ev.Channel < 0 || ev.Channel > domain.MaxChannelIndex {
		in.log.Warn().Int("channel", ev.Channel).Str("from", from).Msg("dropping event with invalid channel index")
		return domain.InboundMessage{}, false
	}

	ts := in.clock.Now()
	if ev.Timestamp > 0 {
		ts = time.Unix(ev.Timestamp, 0)
	}

	return domain.InboundMessage{
		ID:           in.newID(),
		AccountID:    in.accountID,
		Type:         domain.EventTypeText,
		From:         from,
		FromName:     strings.TrimSpace(ev.FromName),
		To:           domain.NormalizeNodeID(ev.To),
		Body:         body,
		Timestamp:    ts,
		ChannelIndex: ev.Channel,
		Direct:       ev.IsDirect,
	}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
