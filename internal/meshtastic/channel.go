package meshtastic

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/hooks"
	"github.com/soyeahso/meshgate/internal/logging"
)

// Transport is the bridge surface a Channel needs.
type Transport interface {
	StreamSource
	Sender
}

// Channel runs one Meshtastic account. It implements domain.Channel.
type Channel struct {
	account config.Account
	rt      Runtime
	log     *logging.Logger
	status  *Status

	ingester *Ingester
	gate     *Gate
	pairing  *Pairing
	adapter  *Adapter
	pacer    *Pacer

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewChannel wires the pipeline for account over transport.
func NewChannel(account config.Account, transport Transport, rt Runtime) (*Channel, error) {
	rt, err := rt.withDefaults()
	if err != nil {
		return nil, err
	}
	policy, err := domain.ParseDMPolicy(account.DMPolicy)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", account.ID, err)
	}

	rt.Log = rt.Log.Sub("meshtastic").With("account", account.ID)
	status := newStatus(account.ID)

	return &Channel{
		account:  account,
		rt:       rt,
		log:      rt.Log,
		status:   status,
		ingester: NewIngester(account.ID, transport, account.Reconnect, status, rt),
		gate:     NewGate(account.ID, policy, account.AllowFrom, rt),
		pairing:  NewPairing(account.ID, transport, rt),
		adapter:  NewAdapter(account.ID, rt),
		pacer:    NewPacer(account.ID, transport, account.ChunkBytes, account.ChunkDelay, status, rt),
	}, nil
}

func (c *Channel) ID() string        { return domain.ChannelMeshtastic }
func (c *Channel) AccountID() string { return c.account.ID }

// Status reports the account's runtime state. Safe for concurrent use.
func (c *Channel) Status() domain.ChannelStatus { return c.status.Snapshot() }

// Start consumes the bridge stream until ctx is cancelled, Stop is called,
// or the ingester gives up. Each message is handled on its own goroutine;
// Start waits for those to finish before returning.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("meshtastic account %q already started", c.account.ID)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.inflight.Wait()
		c.status.setRunning(false)
		c.rt.Hooks.Emit(context.WithoutCancel(ctx), hooks.EventChannelStop, c.account.ID, nil)
		c.log.Info().Msg("channel stopped")
		close(done)
	}()

	c.status.setRunning(true)
	c.log.Info().
		Str("policy", string(c.gate.Policy())).
		Int("allowFrom", len(c.account.AllowFrom)).
		Msg("channel starting")
	c.rt.Hooks.Emit(ctx, hooks.EventChannelStart, c.account.ID, map[string]any{
		"policy": string(c.gate.Policy()),
	})

	events := make(chan domain.InboundMessage)
	ingestErr := make(chan error, 1)
	go func() { ingestErr <- c.ingester.Run(ctx, events) }()

	// In-flight handlers outlive cancellation so a started reply finishes.
	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case msg := <-events:
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				c.handle(handlerCtx, msg)
			}()
		case err := <-ingestErr:
			if err != nil {
				c.status.setError(err)
				c.log.Error().Err(err).Msg("bridge stream stopped")
			}
			return err
		}
	}
}

// Stop cancels the stream and waits for in-flight replies, or for ctx.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send transmits msg through the pacer. Delivery is attempted for every
// chunk; an error is returned when any chunk failed.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.Target.To == "" {
		return fmt.Errorf("meshtastic: %w: empty target", domain.ErrInvalidTarget)
	}
	report := c.pacer.Deliver(ctx, msg.Target, msg.Body)
	if report.Failed > 0 {
		return fmt.Errorf("meshtastic: %d of %d chunks failed", report.Failed, report.Chunks)
	}
	return nil
}

// handle runs one message through gate, routing, agent and delivery.
func (c *Channel) handle(ctx context.Context, msg domain.InboundMessage) {
	log := c.log.With("msg", msg.ID)
	c.rt.Hooks.Emit(ctx, hooks.EventMessageReceived, c.account.ID, map[string]any{
		"id":           msg.ID,
		"from":         msg.From,
		"fromName":     msg.FromName,
		"chatType":     string(msg.ChatType()),
		"channelIndex": msg.ChannelIndex,
	})

	decision := c.gate.Check(ctx, msg)
	switch decision.Verdict {
	case VerdictDrop:
		c.dropped(ctx, msg, decision.Reason)
		return
	case VerdictPair:
		if _, err := c.pairing.Challenge(ctx, msg); err != nil {
			log.Error().Err(err).Str("from", msg.From).Msg("pairing failed")
		}
		c.dropped(ctx, msg, decision.Reason)
		return
	}

	route := c.adapter.Resolve(msg)
	log.Debug().
		Str("agent", route.AgentID).
		Str("session", route.SessionKey).
		Str("from", msg.From).
		Msg("routing message")

	reply, err := c.rt.Replier.Reply(ctx, domain.AgentRequest{
		MessageID:         msg.ID,
		AgentID:           route.AgentID,
		SessionKey:        route.SessionKey,
		Channel:           route.Channel,
		AccountID:         route.AccountID,
		ChatType:          route.ChatType,
		PeerID:            route.PeerID,
		From:              msg.From,
		FromName:          msg.FromName,
		To:                msg.To,
		ChannelIndex:      msg.ChannelIndex,
		Body:              msg.Body,
		Timestamp:         msg.Timestamp,
		PreviousUpdatedAt: c.adapter.PreviousUpdatedAt(ctx, route.SessionKey),
		CommandAuthorized: decision.CommandAuthorized,
	})
	if err != nil {
		c.status.setError(err)
		log.Error().Err(err).Str("session", route.SessionKey).Msg("agent reply failed")
		return
	}
	c.rt.Hooks.Emit(ctx, hooks.EventAgentReply, c.account.ID, map[string]any{
		"id":         msg.ID,
		"sessionKey": reply.SessionKey,
		"bytes":      len(reply.Text),
	})

	report := c.pacer.Deliver(ctx, route.Target, reply.Text)
	if report.Failed > 0 {
		log.Warn().Int("sent", report.Sent).Int("failed", report.Failed).Msg("reply partially delivered")
	}

	if err := c.adapter.Record(ctx, route, reply.SessionKey, c.rt.Clock.Now()); err != nil {
		log.Warn().Err(err).Str("session", reply.SessionKey).Msg("recording session failed")
	}
}

func (c *Channel) dropped(ctx context.Context, msg domain.InboundMessage, reason string) {
	c.rt.Hooks.Emit(ctx, hooks.EventMessageDropped, c.account.ID, map[string]any{
		"id":     msg.ID,
		"from":   msg.From,
		"reason": reason,
	})
}
