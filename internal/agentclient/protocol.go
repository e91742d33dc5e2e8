package agentclient

import "encoding/json"

// Frame types on the gateway WebSocket.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// ProtocolVersion is the gateway protocol spoken by this client.
const ProtocolVersion = 1

// Frame is the envelope for every gateway message.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *ErrorShape) Error() string {
	return e.Code + ": " + e.Message
}

// ConnectParams is sent in the handshake "connect" request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
}

// ClientInfo identifies this process to the gateway.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId,omitempty"`
}

// ConnectAuth carries the gateway token.
type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// chatSendParams is the "chat.send" request body.
type chatSendParams struct {
	Message    string `json:"message"`
	SessionID  string `json:"sessionId,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	AccountID  string `json:"accountId,omitempty"`
	ChatType   string `json:"chatType,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Command    bool   `json:"commandAuthorized,omitempty"`
}

// chatSendResult is the "chat.send" response payload.
type chatSendResult struct {
	Response   string `json:"response"`
	SessionID  string `json:"sessionId"`
	Model      string `json:"model,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func newRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}
