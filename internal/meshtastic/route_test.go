package meshtastic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/routing"
)

func groupMsg(from string, channel int) domain.InboundMessage {
	return domain.InboundMessage{From: from, Body: "hi all", ChannelIndex: channel}
}

func TestAdapter_GroupChannelsGetDistinctSessions(t *testing.T) {
	f := newFixture()
	a := NewAdapter("default", f.runtime())

	r0 := a.Resolve(groupMsg("!aaaa", 0))
	r3 := a.Resolve(groupMsg("!aaaa", 3))

	assert.Equal(t, domain.ChatTypeGroup, r0.ChatType)
	assert.Equal(t, "channel-0", r0.PeerID)
	assert.Equal(t, "channel-3", r3.PeerID)
	assert.NotEqual(t, r0.SessionKey, r3.SessionKey)
	assert.Equal(t, "agent:main:meshtastic:group:channel-3", r3.SessionKey)
	assert.Equal(t, domain.BroadcastOn(3), r3.Target)

	// Different senders on one channel share the channel's session.
	assert.Equal(t, r3.SessionKey, a.Resolve(groupMsg("!bbbb", 3)).SessionKey)
}

func TestAdapter_DirectSessionIgnoresNameAndCase(t *testing.T) {
	f := newFixture()
	a := NewAdapter("default", f.runtime())

	m1 := directMsg("!433E1678", "hello")
	m1.FromName = "Brian"
	m2 := directMsg("mesh:!433e1678", "again")
	m2.FromName = "BRIAN"

	r1, r2 := a.Resolve(m1), a.Resolve(m2)
	assert.Equal(t, "!433e1678", r1.PeerID)
	assert.Equal(t, r1.PeerID, r2.PeerID)
	assert.Equal(t, r1.SessionKey, r2.SessionKey)
	assert.Equal(t, "agent:main:meshtastic:direct:!433e1678", r1.SessionKey)
	assert.Equal(t, domain.Target{To: "!433e1678"}, r1.Target)
}

func TestAdapter_AccountInSessionKey(t *testing.T) {
	f := newFixture()
	f.rt.Router = routing.NewResolver(config.AgentsConfig{
		DefaultID: "main",
		Bindings:  []config.BindingConfig{{AgentID: "ops", AccountID: "field"}},
	})
	a := NewAdapter("field", f.runtime())

	r := a.Resolve(directMsg("!abc", "hi"))
	assert.Equal(t, "ops", r.AgentID)
	assert.Equal(t, "agent:ops:meshtastic:field:direct:!abc", r.SessionKey)
}

func TestAdapter_RecordUsesFinalizedKey(t *testing.T) {
	f := newFixture()
	a := NewAdapter("default", f.runtime())
	ctx := context.Background()

	route := a.Resolve(directMsg("!abc", "hi"))
	assert.Nil(t, a.PreviousUpdatedAt(ctx, route.SessionKey))

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, a.Record(ctx, route, "agent:main:custom", at))

	_, err := f.sessions.Get(ctx, route.SessionKey)
	assert.Error(t, err, "initial key is not written when the agent moved the session")

	meta, err := f.sessions.Get(ctx, "agent:main:custom")
	require.NoError(t, err)
	assert.Equal(t, "!abc", meta.PeerID)
	assert.Equal(t, "!abc", meta.LastTo)
	assert.True(t, meta.UpdatedAt.Equal(at))

	prev := a.PreviousUpdatedAt(ctx, "agent:main:custom")
	require.NotNil(t, prev)
	assert.True(t, prev.Equal(at))

	// Empty finalized key falls back to the resolved one.
	require.NoError(t, a.Record(ctx, route, "", at.Add(time.Minute)))
	_, err = f.sessions.Get(ctx, route.SessionKey)
	assert.NoError(t, err)
}

func TestReplyTarget(t *testing.T) {
	dm := domain.InboundMessage{From: "!abc", Direct: true, ChannelIndex: 2}
	assert.Equal(t, domain.Target{ChannelIndex: 2, To: "!abc"}, ReplyTarget(dm))

	group := domain.InboundMessage{From: "!abc", ChannelIndex: 5}
	assert.Equal(t, domain.Target{ChannelIndex: 5, To: domain.BroadcastTarget}, ReplyTarget(group))
}
