package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway speaks the server half of the handshake and answers chat.send.
type fakeGateway struct {
	t        *testing.T
	token    string
	reply    func(p chatSendParams) (chatSendResult, *ErrorShape)
	connects atomic.Int32
	// closeAfter closes the socket after this many chat.send calls (0 = never).
	closeAfter int32
	calls      atomic.Int32
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	require.NoError(g.t, ws.WriteJSON(Frame{Type: FrameTypeEvent, Event: "connect.challenge", Payload: json.RawMessage(`{"nonce":"n"}`)}))

	var connect Frame
	if err := ws.ReadJSON(&connect); err != nil {
		return
	}
	var params ConnectParams
	require.NoError(g.t, json.Unmarshal(connect.Params, &params))
	assert.Equal(g.t, "meshgate", params.Client.ID)

	if g.token != "" && (params.Auth == nil || params.Auth.Token != g.token) {
		no := false
		ws.WriteJSON(Frame{Type: FrameTypeResponse, ID: connect.ID, OK: &no, Error: &ErrorShape{Code: "unauthorized", Message: "bad token"}})
		return
	}
	g.connects.Add(1)
	yes := true
	require.NoError(g.t, ws.WriteJSON(Frame{Type: FrameTypeResponse, ID: connect.ID, OK: &yes, Payload: json.RawMessage(`{"protocol":1}`)}))

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		if f.Method != "chat.send" {
			continue
		}
		var p chatSendParams
		require.NoError(g.t, json.Unmarshal(f.Params, &p))

		ws.WriteJSON(Frame{Type: FrameTypeEvent, Event: "chat.delta", Seq: 1, Payload: json.RawMessage(`{}`)})

		res, errShape := g.reply(p)
		if errShape != nil {
			no := false
			ws.WriteJSON(Frame{Type: FrameTypeResponse, ID: f.ID, OK: &no, Error: errShape})
		} else {
			raw, _ := json.Marshal(res)
			ws.WriteJSON(Frame{Type: FrameTypeResponse, ID: f.ID, OK: &yes, Payload: raw})
		}

		if n := g.calls.Add(1); g.closeAfter > 0 && n >= g.closeAfter {
			return
		}
	}
}

func startGateway(t *testing.T, g *fakeGateway) string {
	g.t = t
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testRequest() domain.AgentRequest {
	return domain.AgentRequest{
		AgentID:    "main",
		SessionKey: "agent:main:meshtastic:direct:!433e1678",
		Channel:    "meshtastic",
		AccountID:  "default",
		ChatType:   domain.ChatTypeDirect,
		PeerID:     "!433e1678",
		From:       "!433e1678",
		FromName:   "Brian",
		Body:       "hello",
	}
}

func TestReply(t *testing.T) {
	g := &fakeGateway{token: "tok", reply: func(p chatSendParams) (chatSendResult, *ErrorShape) {
		assert.Equal(t, "hello", p.Message)
		assert.Equal(t, "agent:main:meshtastic:direct:!433e1678", p.SessionID)
		assert.Equal(t, "meshtastic", p.ChannelID)
		assert.Equal(t, "!433e1678", p.SenderID)
		return chatSendResult{Response: "hi Brian", SessionID: "agent:main:meshtastic:direct:!433e1678:v2"}, nil
	}}
	url := startGateway(t, g)

	c := New(Config{URL: url, Token: "tok", Timeout: 5 * time.Second}, logging.New(nil, "silent"))
	defer c.Close()

	reply, err := c.Reply(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi Brian", reply.Text)
	assert.Equal(t, "agent:main:meshtastic:direct:!433e1678:v2", reply.SessionKey)

	_, err = c.Reply(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.connects.Load(), "connection is reused")
}

func TestReplyKeepsRequestedKey(t *testing.T) {
	g := &fakeGateway{reply: func(p chatSendParams) (chatSendResult, *ErrorShape) {
		return chatSendResult{Response: "ok"}, nil
	}}
	c := New(Config{URL: startGateway(t, g)}, logging.New(nil, "silent"))
	defer c.Close()

	reply, err := c.Reply(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, testRequest().SessionKey, reply.SessionKey)
}

func TestReplyAuthRejected(t *testing.T) {
	g := &fakeGateway{token: "right", reply: func(chatSendParams) (chatSendResult, *ErrorShape) {
		return chatSendResult{}, nil
	}}
	c := New(Config{URL: startGateway(t, g), Token: "wrong"}, logging.New(nil, "silent"))
	defer c.Close()

	_, err := c.Reply(context.Background(), testRequest())
	require.Error(t, err)
	var es *ErrorShape
	require.ErrorAs(t, err, &es)
	assert.Equal(t, "unauthorized", es.Code)
}

func TestReplyAgentError(t *testing.T) {
	g := &fakeGateway{reply: func(chatSendParams) (chatSendResult, *ErrorShape) {
		return chatSendResult{}, &ErrorShape{Code: "agent_error", Message: "model unavailable"}
	}}
	c := New(Config{URL: startGateway(t, g)}, logging.New(nil, "silent"))
	defer c.Close()

	_, err := c.Reply(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestReplyRedialsAfterDrop(t *testing.T) {
	g := &fakeGateway{closeAfter: 1, reply: func(chatSendParams) (chatSendResult, *ErrorShape) {
		return chatSendResult{Response: "ok"}, nil
	}}
	c := New(Config{URL: startGateway(t, g)}, logging.New(nil, "silent"))
	defer c.Close()

	_, err := c.Reply(context.Background(), testRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.Reply(context.Background(), testRequest())
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, g.connects.Load(), int32(2))
}

func TestReplyTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := &fakeGateway{reply: func(chatSendParams) (chatSendResult, *ErrorShape) {
		<-block
		return chatSendResult{}, nil
	}}
	c := New(Config{URL: startGateway(t, g), Timeout: 100 * time.Millisecond}, logging.New(nil, "silent"))
	defer c.Close()

	_, err := c.Reply(context.Background(), testRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplyDialFailure(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws"}, logging.New(nil, "silent"))
	_, err := c.Reply(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestReplyAfterClose(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws"}, logging.New(nil, "silent"))
	require.NoError(t, c.Close())
	_, err := c.Reply(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrClosed)
}
