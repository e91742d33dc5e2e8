package meshtastic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/routing"
	"github.com/soyeahso/meshgate/internal/store"
)

// GroupPeerID is the peer key for broadcast traffic on a channel index.
func GroupPeerID(channelIndex int) string {
	return fmt.Sprintf("channel-%d", channelIndex)
}

// ConversationRoute is a resolved route plus where replies go.
type ConversationRoute struct {
	domain.Route
	Target domain.Target
}

// ReplyTarget returns where a reply to msg is transmitted: the sender for a
// direct message, the broadcast address for channel traffic. Both stay on
// the channel index the message arrived on.
func ReplyTarget(msg domain.InboundMessage) domain.Target {
	if msg.Direct {
		return domain.Target{ChannelIndex: msg.ChannelIndex, To: msg.From}
	}
	return domain.BroadcastOn(msg.ChannelIndex)
}

// Adapter maps inbound messages to sessions. It keeps no state of its own.
type Adapter struct {
	accountID string
	router    Router
	sessions  SessionStore
	log       *logging.Logger
}

// NewAdapter creates the route and session adapter for one account.
func NewAdapter(accountID string, rt Runtime) *Adapter {
	return &Adapter{
		accountID: accountID,
		router:    rt.Router,
		sessions:  rt.Sessions,
		log:       rt.Log.Sub("route"),
	}
}

// Resolve computes the route for msg.
func (a *Adapter) Resolve(msg domain.InboundMessage) ConversationRoute {
	peer := msg.From
	if !msg.Direct {
		peer = GroupPeerID(msg.ChannelIndex)
	}
	route := a.router.Resolve(routing.Input{
		Channel:   domain.ChannelMeshtastic,
		AccountID: a.accountID,
		ChatType:  msg.ChatType(),
		PeerID:    peer,
	})
	return ConversationRoute{Route: route, Target: ReplyTarget(msg)}
}

// PreviousUpdatedAt returns when the session was last recorded, or nil for
// a new session. Lookup failures are logged and treated as a new session.
func (a *Adapter) PreviousUpdatedAt(ctx context.Context, sessionKey string) *time.Time {
	meta, err := a.sessions.Get(ctx, sessionKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn().Err(err).Str("session", sessionKey).Msg("reading session failed")
		}
		return nil
	}
	t := meta.UpdatedAt
	return &t
}

// Record stores session metadata under sessionKey, which is the key the
// agent finalized and may differ from route.SessionKey.
func (a *Adapter) Record(ctx context.Context, route ConversationRoute, sessionKey string, at time.Time) error {
	if sessionKey == "" {
		sessionKey = route.SessionKey
	}
	return a.sessions.Record(ctx, domain.SessionMeta{
		SessionKey:       sessionKey,
		AgentID:          route.AgentID,
		Channel:          route.Channel,
		AccountID:        route.AccountID,
		ChatType:         route.ChatType,
		PeerID:           route.PeerID,
		LastTo:           route.Target.To,
		LastChannelIndex: route.Target.ChannelIndex,
		UpdatedAt:        at,
	})
}
