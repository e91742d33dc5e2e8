package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	account string
	sendErr error

	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (f *fakeChannel) ID() string                      { return domain.ChannelMeshtastic }
func (f *fakeChannel) AccountID() string               { return f.account }
func (f *fakeChannel) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeChannel) Stop(context.Context) error      { return nil }
func (f *fakeChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}
func (f *fakeChannel) Status() domain.ChannelStatus {
	return domain.ChannelStatus{ChannelID: domain.ChannelMeshtastic, AccountID: f.account, Running: true, Connected: true}
}

type fakeChannels map[string]*fakeChannel

func (fc fakeChannels) Status() []domain.ChannelStatus {
	var out []domain.ChannelStatus
	for _, id := range []string{"default", "roof"} {
		if ch, ok := fc[id]; ok {
			out = append(out, ch.Status())
		}
	}
	return out
}

func (fc fakeChannels) Get(id string) (domain.Channel, bool) {
	ch, ok := fc[id]
	if !ok {
		return nil, false
	}
	return ch, true
}

type routeFixture struct {
	channels fakeChannels
	pairing  *store.MemoryPairingStore
	sessions *store.MemorySessionStore
	ts       *httptest.Server
}

func newRouteFixture(t *testing.T, token string) *routeFixture {
	t.Helper()
	f := &routeFixture{
		channels: fakeChannels{"default": {account: "default"}},
		pairing:  store.NewMemoryPairingStore(time.Hour),
		sessions: store.NewMemorySessionStore(),
	}
	srv := New(config.GatewayConfig{Token: token}, logging.New(nil, "silent"),
		WithChannels(f.channels),
		WithPairing(f.pairing),
		WithSessions(f.sessions),
	)
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *routeFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouteFixture(t, "")
	resp := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	health := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
}

func TestStatusEndpoint(t *testing.T) {
	f := newRouteFixture(t, "")
	f.channels["roof"] = &fakeChannel{account: "roof"}

	resp := f.do(t, "GET", "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decodeBody[StatusResponse](t, resp)
	assert.NotEmpty(t, status.Version)
	require.Len(t, status.Channels, 2)
	assert.Equal(t, "default", status.Channels[0].AccountID)
	assert.Equal(t, "roof", status.Channels[1].AccountID)
	assert.True(t, status.Channels[0].Connected)
}

func TestStatusEndpoint_NoChannels(t *testing.T) {
	srv := New(config.GatewayConfig{}, logging.New(nil, "silent"))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"channels":[]`)
}

func TestSessionsEndpoint(t *testing.T) {
	f := newRouteFixture(t, "")
	require.NoError(t, f.sessions.Record(context.Background(), domain.SessionMeta{
		SessionKey: "agent:main:meshtastic:default:direct:!433e1678",
		AgentID:    "main",
		Channel:    domain.ChannelMeshtastic,
		AccountID:  "default",
		ChatType:   domain.ChatTypeDirect,
		PeerID:     "!433e1678",
		LastTo:     "!433e1678",
		UpdatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))

	resp := f.do(t, "GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Sessions []domain.SessionMeta `json:"sessions"`
	}](t, resp)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "!433e1678", body.Sessions[0].PeerID)
}

func TestSessionsEndpointDerivesFieldsFromKey(t *testing.T) {
	f := newRouteFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.sessions.Record(ctx, domain.SessionMeta{
		SessionKey: "agent:ops:meshtastic:roof:group:channel-2",
		LastTo:     "ch2:",
		UpdatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, f.sessions.Record(ctx, domain.SessionMeta{
		SessionKey: "agent:main:meshtastic:direct:!433e1678",
		UpdatedAt:  time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}))

	resp := f.do(t, "GET", "/sessions?agent=ops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Sessions []domain.SessionMeta `json:"sessions"`
	}](t, resp)
	require.Len(t, body.Sessions, 1)
	got := body.Sessions[0]
	assert.Equal(t, "ops", got.AgentID)
	assert.Equal(t, domain.ChannelMeshtastic, got.Channel)
	assert.Equal(t, "roof", got.AccountID)
	assert.Equal(t, domain.ChatTypeGroup, got.ChatType)
	assert.Equal(t, "channel-2", got.PeerID)

	resp = f.do(t, "GET", "/sessions?chatType=direct", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody[struct {
		Sessions []domain.SessionMeta `json:"sessions"`
	}](t, resp)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "default", body.Sessions[0].AccountID)
	assert.Equal(t, "!433e1678", body.Sessions[0].PeerID)
}

func TestPairingFlow(t *testing.T) {
	f := newRouteFixture(t, "")
	ctx := context.Background()
	_, created, err := f.pairing.CreateIfAbsent(ctx, store.PairingRequest{
		Channel:  domain.ChannelMeshtastic,
		SenderID: "!433e1678",
		Code:     "ABCD2345",
		Name:     "Hiker",
	})
	require.NoError(t, err)
	require.True(t, created)

	resp := f.do(t, "GET", "/pairing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[PairingResponse](t, resp)
	require.Len(t, list.Pending, 1)
	assert.Equal(t, "ABCD2345", list.Pending[0].Code)
	assert.Empty(t, list.AllowFrom)

	resp = f.do(t, "POST", "/pairing/approve", map[string]string{"code": "abcd2345"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	allow, err := f.pairing.AllowFrom(ctx, domain.ChannelMeshtastic)
	require.NoError(t, err)
	assert.Equal(t, []string{"!433e1678"}, allow)

	resp = f.do(t, "POST", "/pairing/approve", map[string]string{"code": "abcd2345"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, "POST", "/pairing/revoke", map[string]string{"id": "!433e1678"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revoked := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, revoked["removed"])

	allow, err = f.pairing.AllowFrom(ctx, domain.ChannelMeshtastic)
	require.NoError(t, err)
	assert.Empty(t, allow)
}

func TestPairingApprove_BadRequests(t *testing.T) {
	f := newRouteFixture(t, "")

	resp := f.do(t, "POST", "/pairing/approve", map[string]string{"code": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "POST", "/pairing/approve", map[string]string{"nope": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "POST", "/pairing/revoke", map[string]string{"id": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendEndpoint(t *testing.T) {
	f := newRouteFixture(t, "")

	resp := f.do(t, "POST", "/send", SendRequest{Target: "ch2:!433e1678", Text: "hello mesh"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ch := f.channels["default"]
	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.sent, 1)
	assert.Equal(t, domain.Target{ChannelIndex: 2, To: "!433e1678"}, ch.sent[0].Target)
	assert.Equal(t, "hello mesh", ch.sent[0].Body)
	assert.Equal(t, "default", ch.sent[0].AccountID)
}

func TestSendEndpoint_Errors(t *testing.T) {
	f := newRouteFixture(t, "")

	tests := []struct {
		name string
		req  SendRequest
		code int
	}{
		{"bad index", SendRequest{Target: "ch9:!433e1678", Text: "hi"}, http.StatusBadRequest},
		{"empty target", SendRequest{Target: "", Text: "hi"}, http.StatusBadRequest},
		{"empty text", SendRequest{Target: "!433e1678", Text: " "}, http.StatusBadRequest},
		{"unknown account", SendRequest{Account: "roof", Target: "!433e1678", Text: "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, "POST", "/send", tt.req)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestSendEndpoint_TransportFailure(t *testing.T) {
	f := newRouteFixture(t, "")
	f.channels["default"].sendErr = errors.New("radio offline")

	resp := f.do(t, "POST", "/send", SendRequest{Target: "!433e1678", Text: "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "radio offline", body["error"])
}

func TestNotFound(t *testing.T) {
	f := newRouteFixture(t, "")
	resp := f.do(t, "GET", "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "/nope", body["path"])
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newRouteFixture(t, "secret")

	resp := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, "GET", "/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest("GET", f.ts.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
	assert.NotEmpty(t, authed.Header.Get("X-Request-ID"))
}
