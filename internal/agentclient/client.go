// Package agentclient asks an upstream agent gateway for replies over its
// WebSocket RPC protocol.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/version"
)

var (
	ErrNotConnected = errors.New("agentclient: connection lost")
	ErrClosed       = errors.New("agentclient: client closed")
)

const handshakeTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration // per reply; 0 means no limit beyond ctx
}

// Client is a multiplexed gateway connection. It dials lazily and redials
// on the next call after the connection drops. Safe for concurrent use.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logging.Logger

	mu     sync.Mutex
	conn   *conn
	closed bool
}

// conn is one live socket and the requests waiting on it.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	err     error
	done    chan struct{}
}

// New creates a Client. Nothing is dialed until the first Reply.
func New(cfg Config, log *logging.Logger) *Client {
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:    log.Sub("agentclient"),
	}
}

// Reply sends req to the gateway as a chat.send call and waits for the answer.
func (c *Client) Reply(ctx context.Context, req domain.AgentRequest) (domain.AgentReply, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	cn, err := c.connection(ctx)
	if err != nil {
		return domain.AgentReply{}, err
	}

	frame, err := newRequest(uuid.NewString(), "chat.send", chatSendParams{
		Message:    req.Body,
		SessionID:  req.SessionKey,
		ChannelID:  req.Channel,
		ChatID:     req.PeerID,
		AgentID:    req.AgentID,
		AccountID:  req.AccountID,
		ChatType:   string(req.ChatType),
		SenderID:   req.From,
		SenderName: req.FromName,
		Command:    req.CommandAuthorized,
	})
	if err != nil {
		return domain.AgentReply{}, err
	}

	res, err := cn.call(ctx, frame)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.drop(cn)
		}
		return domain.AgentReply{}, err
	}

	var out chatSendResult
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return domain.AgentReply{}, fmt.Errorf("decoding chat.send result: %w", err)
	}

	key := out.SessionID
	if key == "" {
		key = req.SessionKey
	}
	c.log.Debug().
		Str("sessionKey", key).
		Str("model", out.Model).
		Int64("durationMs", out.DurationMs).
		Msg("agent replied")
	return domain.AgentReply{Text: out.Response, SessionKey: key}, nil
}

// Close shuts the connection and fails in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.ws.Close()
	c.conn = nil
	return err
}

func (c *Client) connection(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = cn
	return cn, nil
}

func (c *Client) drop(cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == cn {
		c.conn = nil
	}
}

// dial opens the socket and runs the challenge/connect handshake.
func (c *Client) dial(ctx context.Context) (*conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing agent gateway: %w", err)
	}

	if err := c.handshake(ws); err != nil {
		ws.Close()
		return nil, err
	}

	cn := &conn{
		ws:      ws,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	go cn.readLoop(c.log)

	c.log.Info().Str("url", c.cfg.URL).Msg("connected to agent gateway")
	return cn, nil
}

func (c *Client) handshake(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var challenge Frame
	if err := ws.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != "connect.challenge" {
		return fmt.Errorf("expected connect.challenge, got type=%s event=%s", challenge.Type, challenge.Event)
	}

	params := ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client: ClientInfo{
			ID:          "meshgate",
			DisplayName: "meshgate",
			Version:     version.Current().Version,
			Platform:    runtime.GOOS,
			Mode:        "node",
			InstanceID:  uuid.NewString(),
		},
		UserAgent: version.UserAgent(),
	}
	if c.cfg.Token != "" {
		params.Auth = &ConnectAuth{Token: c.cfg.Token}
	}

	req, err := newRequest(uuid.NewString(), "connect", params)
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(req); err != nil {
		return fmt.Errorf("sending connect: %w", err)
	}

	var res Frame
	if err := ws.ReadJSON(&res); err != nil {
		return fmt.Errorf("reading connect response: %w", err)
	}
	if res.Type != FrameTypeResponse || res.ID != req.ID {
		return fmt.Errorf("unexpected connect response type=%s id=%s", res.Type, res.ID)
	}
	if res.OK == nil || !*res.OK {
		if res.Error != nil {
			return fmt.Errorf("agent gateway rejected connect: %w", res.Error)
		}
		return errors.New("agent gateway rejected connect")
	}
	return nil
}

func (cn *conn) call(ctx context.Context, req Frame) (Frame, error) {
	ch := make(chan Frame, 1)

	cn.mu.Lock()
	if cn.err != nil {
		cn.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	cn.pending[req.ID] = ch
	cn.mu.Unlock()

	defer func() {
		cn.mu.Lock()
		delete(cn.pending, req.ID)
		cn.mu.Unlock()
	}()

	cn.writeMu.Lock()
	err := cn.ws.WriteJSON(req)
	cn.writeMu.Unlock()
	if err != nil {
		cn.ws.Close()
		return Frame{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	select {
	case res := <-ch:
		if res.OK == nil || !*res.OK {
			if res.Error != nil {
				return Frame{}, fmt.Errorf("%s failed: %w", req.Method, res.Error)
			}
			return Frame{}, fmt.Errorf("%s failed", req.Method)
		}
		return res, nil
	case <-cn.done:
		return Frame{}, ErrNotConnected
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (cn *conn) readLoop(log *logging.Logger) {
	for {
		var f Frame
		if err := cn.ws.ReadJSON(&f); err != nil {
			cn.mu.Lock()
			cn.err = err
			cn.mu.Unlock()
			close(cn.done)
			log.Warn().Err(err).Msg("agent gateway connection closed")
			return
		}

		switch f.Type {
		case FrameTypeResponse:
			cn.mu.Lock()
			ch, ok := cn.pending[f.ID]
			cn.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameTypeEvent:
			log.Trace().Str("event", f.Event).Int64("seq", f.Seq).Msg("gateway event")
		}
	}
}
