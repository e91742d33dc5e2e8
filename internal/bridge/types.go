package bridge

// Event is one JSON payload from the bridge's /messages stream.
type Event struct {
	Type      string `json:"type,omitempty"`
	From      string `json:"from"`
	FromName  string `json:"fromName,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Channel   int    `json:"channel"`
	IsDirect  bool   `json:"isDirect"`
}

// Frame is one item on the stream channel: a decoded Event, or the raw
// payload and decode error for a malformed one.
type Frame struct {
	Event Event
	Raw   string
	Err   error
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	To           string `json:"to"`
	Text         string `json:"text"`
	ChannelIndex int    `json:"channelIndex"`
}

// NodeInfo is the bridge's /info payload.
type NodeInfo struct {
	MyNodeNum int64  `json:"myNodeId"`
	Firmware  string `json:"firmware"`
	Device    string `json:"device"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// Position is a node's last reported location.
type Position struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
}

// Node is one entry of the bridge's /nodes list.
type Node struct {
	ID        string    `json:"id"`
	Num       int64     `json:"num"`
	LongName  string    `json:"longName,omitempty"`
	ShortName string    `json:"shortName,omitempty"`
	HWModel   string    `json:"hwModel,omitempty"`
	Position  *Position `json:"position,omitempty"`
	LastHeard int64     `json:"lastHeard,omitempty"`
}
