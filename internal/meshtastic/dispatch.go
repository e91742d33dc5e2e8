package meshtastic

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/hooks"
	"github.com/soyeahso/meshgate/internal/logging"
)

const (
	// MaxChunkBytes is the largest text payload the radio carries.
	MaxChunkBytes = 230
	// DefaultChunkDelay separates consecutive transmissions.
	DefaultChunkDelay = 3 * time.Second
)

// SplitChunks cuts body into pieces of at most limit bytes without splitting
// a UTF-8 sequence. A cut prefers the last newline, then the last space, in
// the second half of the window; the separator stays at the end of its chunk
// so the chunks concatenate back to body exactly. An empty body yields no
// chunks.
func SplitChunks(body string, limit int) []string {
	if body == "" {
		return nil
	}
	if limit <= 0 || limit > MaxChunkBytes {
		limit = MaxChunkBytes
	}

	var chunks []string
	for len(body) > limit {
		cut := cutPoint(body, limit)
		chunks = append(chunks, body[:cut])
		body = body[cut:]
	}
	return append(chunks, body)
}

// cutPoint returns where to end the first chunk of s; len(s) > limit.
func cutPoint(s string, limit int) int {
	end := limit
	for i := 0; i < utf8.UTFMax-1 && end > 0 && !utf8.RuneStart(s[end]); i++ {
		end--
	}
	if end == 0 {
		// limit is smaller than the first rune.
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	if !utf8.RuneStart(s[end]) {
		// Not valid UTF-8 here; cut on the byte limit.
		return limit
	}

	window := s[:end]
	for _, sep := range []string{"\n", " "} {
		if i := strings.LastIndex(window, sep); i >= 0 && i+1 > end/2 {
			return i + 1
		}
	}
	return end
}

// DeliveryReport summarizes one reply delivery.
type DeliveryReport struct {
	Chunks int
	Sent   int
	Failed int
}

// Pacer transmits replies chunk by chunk with a fixed delay between sends.
type Pacer struct {
	accountID string
	sender    Sender
	limit     int
	delay     time.Duration
	sleeper   Sleeper
	clock     Clock
	status    *Status
	hooks     Hooks
	log       *logging.Logger
}

// NewPacer creates a Pacer. A zero limit or delay uses the radio defaults.
func NewPacer(accountID string, sender Sender, limit int, delay time.Duration, status *Status, rt Runtime) *Pacer {
	if limit <= 0 || limit > MaxChunkBytes {
		limit = MaxChunkBytes
	}
	if delay <= 0 {
		delay = DefaultChunkDelay
	}
	return &Pacer{
		accountID: accountID,
		sender:    sender,
		limit:     limit,
		delay:     delay,
		sleeper:   rt.Sleeper,
		clock:     rt.Clock,
		status:    status,
		hooks:     rt.Hooks,
		log:       rt.Log.Sub("dispatch"),
	}
}

// NewAccountPacer builds a standalone pacer for account, for one-off sends
// outside a running Channel.
func NewAccountPacer(account config.Account, sender Sender, log *logging.Logger) *Pacer {
	rt := Runtime{Hooks: noHooks{}, Sleeper: TimerSleeper{}, Clock: SystemClock{}, Log: log}
	return NewPacer(account.ID, sender, account.ChunkBytes, account.ChunkDelay, newStatus(account.ID), rt)
}

// Deliver sends body to target. Chunks go out strictly in order with the
// pacing delay before every chunk but the first. A failed chunk is logged
// and the next one is still attempted; failed chunks are not retried.
func (p *Pacer) Deliver(ctx context.Context, target domain.Target, body string) DeliveryReport {
	chunks := SplitChunks(body, p.limit)
	report := DeliveryReport{Chunks: len(chunks)}

	for i, chunk := range chunks {
		if i > 0 {
			if err := p.sleeper.Sleep(ctx, p.delay); err != nil {
				report.Failed += len(chunks) - i
				p.log.Warn().Err(err).Int("remaining", len(chunks)-i).Msg("delivery interrupted")
				break
			}
		}

		data := map[string]any{
			"to":           target.To,
			"channelIndex": target.ChannelIndex,
			"chunk":        i + 1,
			"chunks":       len(chunks),
			"bytes":        len(chunk),
		}
		p.hooks.Emit(ctx, hooks.EventMessageSending, p.accountID, data)

		if err := p.sender.Send(ctx, target, chunk); err != nil {
			report.Failed++
			p.log.Error().
				Err(err).
				Str("to", target.String()).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Msg("chunk send failed")
			continue
		}

		report.Sent++
		p.status.markOutbound(p.clock.Now())
		p.hooks.Emit(ctx, hooks.EventMessageSent, p.accountID, data)
	}

	if report.Chunks > 0 {
		p.log.Debug().
			Str("to", target.String()).
			Int("sent", report.Sent).
			Int("failed", report.Failed).
			Msg("reply delivered")
	}
	return report
}
