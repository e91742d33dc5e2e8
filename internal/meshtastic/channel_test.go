package meshtastic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/hooks"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/store"
)

type recordedHooks struct {
	mu     sync.Mutex
	events []hooks.Payload
}

func (h *recordedHooks) Emit(_ context.Context, event, accountID string, data map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hooks.Payload{Event: event, AccountID: accountID, Data: data})
}

func (h *recordedHooks) named(event string) []hooks.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hooks.Payload
	for _, p := range h.events {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

func pairingRequest(sender string) store.PairingRequest {
	return store.PairingRequest{Channel: domain.ChannelMeshtastic, SenderID: sender, Code: "FRNDCODE"}
}

type runningChannel struct {
	ch        *Channel
	transport *fakeTransport
	cancel    context.CancelFunc
	done      chan error
}

func startChannel(t *testing.T, f *fixture, account config.Account, frames ...bridge.Frame) *runningChannel {
	t.Helper()
	transport := &fakeTransport{
		scriptedStream: &scriptedStream{sessions: [][]bridge.Frame{frames}, hold: true},
		fakeSender:     f.sender(),
	}
	ch, err := NewChannel(account, transport, f.rt)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningChannel{ch: ch, transport: transport, cancel: cancel, done: make(chan error, 1)}
	go func() { rc.done <- ch.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-rc.done
	})
	return rc
}

// settle stops the channel and waits for in-flight handlers.
func (rc *runningChannel) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rc.ch.Stop(ctx))
}

func TestChannel_EndToEndAllowlisted(t *testing.T) {
	f := newFixture()
	long := strings.Repeat("The mesh is up and the gateway is listening. ", 12)
	f.replier.text = func(domain.AgentRequest) string { return long }

	rc := startChannel(t, f, testAccount("allowlist", "!433e1678"),
		textFrame("!433e1678", "Brian", "hello", 0, true))

	require.Eventually(t, func() bool {
		return len(rc.transport.payloads()) == len(SplitChunks(long, MaxChunkBytes))
	}, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	reqs := f.replier.received()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "main", req.AgentID)
	assert.Equal(t, "agent:main:meshtastic:direct:!433e1678", req.SessionKey)
	assert.Equal(t, domain.ChatTypeDirect, req.ChatType)
	assert.Equal(t, "!433e1678", req.PeerID)
	assert.Equal(t, "Brian", req.FromName)
	assert.Equal(t, "hello", req.Body)
	assert.Nil(t, req.PreviousUpdatedAt)

	sent := rc.transport.payloads()
	var rebuilt strings.Builder
	for i, p := range sent {
		assert.Equal(t, domain.Target{To: "!433e1678"}, p.Target)
		assert.LessOrEqual(t, len(p.Text), MaxChunkBytes)
		if i > 0 {
			assert.GreaterOrEqual(t, p.At.Sub(sent[i-1].At), 3*time.Second)
		}
		rebuilt.WriteString(p.Text)
	}
	assert.Equal(t, long, rebuilt.String())

	meta, err := f.sessions.Get(context.Background(), req.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "!433e1678", meta.LastTo)

	st := rc.ch.Status()
	assert.Equal(t, domain.ChannelMeshtastic, st.ChannelID)
	assert.NotNil(t, st.LastInboundAt)
	assert.NotNil(t, st.LastOutboundAt)
}

func TestChannel_PairingChallengesOnce(t *testing.T) {
	f := newFixture()
	h := &recordedHooks{}
	f.rt.Hooks = h

	rc := startChannel(t, f, testAccount("pairing"),
		textFrame("!stranger", "Eve", "hello", 0, true),
		textFrame("!STRANGER", "Eve", "hello?", 0, true))

	require.Eventually(t, func() bool {
		return len(h.named(hooks.EventMessageDropped)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	sent := rc.transport.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "!stranger", sent[0].Target.To)
	assert.Contains(t, sent[0].Text, "Pairing code")
	assert.Empty(t, f.replier.received())
	assert.Len(t, h.named(hooks.EventPairingRequested), 1)

	pending, err := f.pairing.ListPending(context.Background(), domain.ChannelMeshtastic)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestChannel_ApprovedSenderProceeds(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req, created, err := f.pairing.CreateIfAbsent(ctx, pairingRequest("!friend"))
	require.NoError(t, err)
	require.True(t, created)
	_, err = f.pairing.Approve(ctx, domain.ChannelMeshtastic, req.Code)
	require.NoError(t, err)

	rc := startChannel(t, f, testAccount("pairing"), textFrame("!friend", "", "hi", 0, true))
	require.Eventually(t, func() bool { return len(rc.transport.payloads()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	assert.Equal(t, "ack: hi", rc.transport.payloads()[0].Text)
}

func TestChannel_DisabledNeverReplies(t *testing.T) {
	f := newFixture()
	h := &recordedHooks{}
	f.rt.Hooks = h

	rc := startChannel(t, f, testAccount("disabled", "*"),
		textFrame("!a", "", "hello", 0, true),
		textFrame("!b", "", "/new", 1, false))

	require.Eventually(t, func() bool {
		return len(h.named(hooks.EventMessageDropped)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	assert.Empty(t, rc.transport.payloads())
	assert.Empty(t, f.replier.received())
	pending, err := f.pairing.ListPending(context.Background(), domain.ChannelMeshtastic)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestChannel_AllowlistDropsSilently(t *testing.T) {
	f := newFixture()
	h := &recordedHooks{}
	f.rt.Hooks = h

	rc := startChannel(t, f, testAccount("allowlist", "!friend"), textFrame("!stranger", "", "hello", 0, true))
	require.Eventually(t, func() bool {
		return len(h.named(hooks.EventMessageDropped)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	assert.Empty(t, rc.transport.payloads())
	pending, err := f.pairing.ListPending(context.Background(), domain.ChannelMeshtastic)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, ReasonNotAllowed, h.named(hooks.EventMessageDropped)[0].Data["reason"])
}

func TestChannel_OpenGroupsOnSeparateSessions(t *testing.T) {
	f := newFixture()
	rc := startChannel(t, f, testAccount("open"),
		textFrame("!a", "", "on zero", 0, false),
		textFrame("!b", "", "on four", 4, false))

	require.Eventually(t, func() bool { return len(rc.transport.payloads()) == 2 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	keys := map[string]domain.Target{}
	for _, r := range f.replier.received() {
		keys[r.SessionKey] = domain.BroadcastOn(r.ChannelIndex)
	}
	assert.Equal(t, map[string]domain.Target{
		"agent:main:meshtastic:group:channel-0": domain.BroadcastOn(0),
		"agent:main:meshtastic:group:channel-4": domain.BroadcastOn(4),
	}, keys)

	targets := map[domain.Target]bool{}
	for _, p := range rc.transport.payloads() {
		targets[p.Target] = true
	}
	assert.True(t, targets[domain.BroadcastOn(0)])
	assert.True(t, targets[domain.BroadcastOn(4)])
}

func TestChannel_RecordsFinalizedSessionKey(t *testing.T) {
	f := newFixture()
	f.replier.finalKey = "agent:main:meshtastic:direct:!abc:thread-2"

	rc := startChannel(t, f, testAccount("open"), textFrame("!abc", "", "hi", 0, true))
	require.Eventually(t, func() bool { return len(rc.transport.payloads()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	_, err := f.sessions.Get(context.Background(), f.replier.finalKey)
	assert.NoError(t, err)
	_, err = f.sessions.Get(context.Background(), "agent:main:meshtastic:direct:!abc")
	assert.Error(t, err)
}

func TestChannel_AgentFailureSendsNothing(t *testing.T) {
	f := newFixture()
	f.replier.err = errors.New("gateway down")

	rc := startChannel(t, f, testAccount("open"), textFrame("!abc", "", "hi", 0, true))
	require.Eventually(t, func() bool { return len(f.replier.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	assert.Empty(t, rc.transport.payloads())
	assert.Equal(t, "gateway down", rc.ch.Status().LastError)
}

func TestChannel_EmptyReplySendsNothing(t *testing.T) {
	f := newFixture()
	f.replier.text = func(domain.AgentRequest) string { return "" }

	rc := startChannel(t, f, testAccount("open"), textFrame("!abc", "", "hi", 0, true))
	require.Eventually(t, func() bool { return len(f.replier.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	assert.Zero(t, rc.transport.attemptCount())
}

func TestChannel_UnauthorizedCommandDropped(t *testing.T) {
	f := newFixture()
	rc := startChannel(t, f, testAccount("open", "!admin"),
		textFrame("!user", "", "/reset", 0, true),
		textFrame("!admin", "", "/reset", 0, true))

	require.Eventually(t, func() bool { return len(f.replier.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rc.settle(t)

	req := f.replier.received()[0]
	assert.Equal(t, "!admin", req.From)
	assert.True(t, req.CommandAuthorized)
}

func TestChannel_StartStopLifecycle(t *testing.T) {
	f := newFixture()
	rc := startChannel(t, f, testAccount("open"))

	require.Eventually(t, func() bool { return rc.ch.Status().Running }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "default", rc.ch.AccountID())
	assert.Equal(t, domain.ChannelMeshtastic, rc.ch.ID())

	rc.settle(t)
	select {
	case err := <-rc.done:
		assert.NoError(t, err)
		rc.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, rc.ch.Status().Running)
	assert.Error(t, rc.ch.Start(context.Background()), "a stopped channel cannot be restarted")
}

func TestChannel_StreamDropWithoutReconnectEndsStart(t *testing.T) {
	f := newFixture()
	transport := &fakeTransport{
		scriptedStream: &scriptedStream{sessions: [][]bridge.Frame{{}}, errs: []error{errors.New("bridge gone")}},
		fakeSender:     f.sender(),
	}
	ch, err := NewChannel(testAccount("open"), transport, f.rt)
	require.NoError(t, err)

	err = ch.Start(context.Background())
	assert.EqualError(t, err, "bridge gone")
	assert.Equal(t, "bridge gone", ch.Status().LastError)
	assert.False(t, ch.Status().Running)
}

func TestChannel_Send(t *testing.T) {
	f := newFixture()
	transport := &fakeTransport{scriptedStream: &scriptedStream{}, fakeSender: f.sender(2)}
	ch, err := NewChannel(testAccount("open"), transport, f.rt)
	require.NoError(t, err)

	err = ch.Send(context.Background(), domain.OutboundMessage{Target: domain.BroadcastOn(1), Body: "short"})
	require.NoError(t, err)

	err = ch.Send(context.Background(), domain.OutboundMessage{Target: domain.BroadcastOn(1), Body: strings.Repeat("x", 300)})
	assert.EqualError(t, err, "meshtastic: 1 of 2 chunks failed")

	err = ch.Send(context.Background(), domain.OutboundMessage{Body: "nowhere"})
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestNewChannel_Validation(t *testing.T) {
	f := newFixture()
	transport := &fakeTransport{scriptedStream: &scriptedStream{}, fakeSender: f.sender()}

	_, err := NewChannel(testAccount("sometimes"), transport, f.rt)
	assert.Error(t, err)

	_, err = NewChannel(testAccount("open"), transport, Runtime{Log: logging.New(nil, "silent")})
	assert.ErrorIs(t, err, ErrIncompleteRuntime)
}
