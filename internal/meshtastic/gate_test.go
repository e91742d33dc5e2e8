package meshtastic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/meshgate/internal/domain"
)

func newTestGate(t *testing.T, f *fixture, policy domain.DMPolicy, static ...string) (*Gate, *countingPairing) {
	t.Helper()
	counting := &countingPairing{PairingStore: f.pairing}
	f.rt.Pairing = counting
	return NewGate("default", policy, static, f.runtime()), counting
}

func TestAllowSet(t *testing.T) {
	set := NewAllowSet([]string{"MESH:!AbC1", " meshtastic:!0000BEEF "}, []string{"", "!cafe"})

	assert.True(t, set.Contains("!abc1"))
	assert.True(t, set.Contains("mesh:!ABC1"))
	assert.True(t, set.Contains("!0000beef"))
	assert.True(t, set.Contains("!CAFE"))
	assert.False(t, set.Contains("!abc2"))
	assert.Equal(t, 3, set.Len())

	wild := NewAllowSet([]string{"*"})
	assert.True(t, wild.Contains("!anyone"))
}

func TestGate_Disabled(t *testing.T) {
	f := newFixture()
	g, counting := newTestGate(t, f, domain.DMPolicyDisabled, "*")

	for _, body := range []string{"hello", "/new"} {
		d := g.Check(context.Background(), directMsg("!433e1678", body))
		assert.Equal(t, VerdictDrop, d.Verdict)
		assert.Equal(t, ReasonDisabled, d.Reason)
	}
	assert.Zero(t, counting.readCount())
}

func TestGate_OpenSkipsAllowListRead(t *testing.T) {
	f := newFixture()
	g, counting := newTestGate(t, f, domain.DMPolicyOpen)

	d := g.Check(context.Background(), directMsg("!stranger", "hello"))
	assert.Equal(t, VerdictProceed, d.Verdict)
	assert.False(t, d.IsCommand)
	assert.Zero(t, counting.readCount())
}

func TestGate_OpenCommandNeedsAuthorization(t *testing.T) {
	f := newFixture()
	g, counting := newTestGate(t, f, domain.DMPolicyOpen, "!admin")

	d := g.Check(context.Background(), directMsg("!stranger", "/reset"))
	assert.Equal(t, VerdictDrop, d.Verdict)
	assert.Equal(t, ReasonUnauthorizedCommand, d.Reason)
	assert.Equal(t, 1, counting.readCount())

	d = g.Check(context.Background(), directMsg("!ADMIN", "/reset now"))
	assert.Equal(t, VerdictProceed, d.Verdict)
	assert.True(t, d.CommandAuthorized)
	assert.Equal(t, 2, counting.readCount(), "allow set is read once per message")
}

func TestGate_Allowlist(t *testing.T) {
	f := newFixture()
	g, counting := newTestGate(t, f, domain.DMPolicyAllowlist, "mesh:!433E1678")

	d := g.Check(context.Background(), directMsg("!433e1678", "hello"))
	assert.Equal(t, VerdictProceed, d.Verdict)

	d = g.Check(context.Background(), directMsg("!99999999", "hello"))
	assert.Equal(t, VerdictDrop, d.Verdict)
	assert.Equal(t, ReasonNotAllowed, d.Reason)
	assert.Equal(t, 2, counting.readCount())
}

func TestGate_AllowlistIncludesApprovedSenders(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.pairing.AddAllowFrom(context.Background(), domain.ChannelMeshtastic, "!approved"))
	g, _ := newTestGate(t, f, domain.DMPolicyAllowlist)

	d := g.Check(context.Background(), directMsg("MESHTASTIC:!Approved", "hi"))
	assert.Equal(t, VerdictProceed, d.Verdict)
}

func TestGate_Wildcard(t *testing.T) {
	f := newFixture()
	g, _ := newTestGate(t, f, domain.DMPolicyPairing, "*")

	d := g.Check(context.Background(), directMsg("!whoever", "/status"))
	assert.Equal(t, VerdictProceed, d.Verdict)
	assert.True(t, d.CommandAuthorized)
}

func TestGate_PairingUnknownSender(t *testing.T) {
	f := newFixture()
	g, _ := newTestGate(t, f, domain.DMPolicyPairing, "!friend")

	d := g.Check(context.Background(), directMsg("!stranger", "hello"))
	assert.Equal(t, VerdictPair, d.Verdict)

	d = g.Check(context.Background(), directMsg("!friend", "hello"))
	assert.Equal(t, VerdictProceed, d.Verdict)
	assert.False(t, d.CommandAuthorized)
}

type failingAllowStore struct{ PairingStore }

func (failingAllowStore) AllowFrom(context.Context, string) ([]string, error) {
	return nil, errors.New("store offline")
}

func TestGate_StoreFailureFallsBackToConfig(t *testing.T) {
	f := newFixture()
	f.rt.Pairing = failingAllowStore{f.pairing}
	g := NewGate("default", domain.DMPolicyAllowlist, []string{"!friend"}, f.runtime())

	assert.Equal(t, VerdictProceed, g.Check(context.Background(), directMsg("!friend", "hi")).Verdict)
	assert.Equal(t, VerdictDrop, g.Check(context.Background(), directMsg("!other", "hi")).Verdict)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "proceed", VerdictProceed.String())
	assert.Equal(t, "drop", VerdictDrop.String())
	assert.Equal(t, "pair", VerdictPair.String())
	assert.Equal(t, "unknown", Verdict(42).String())
}
