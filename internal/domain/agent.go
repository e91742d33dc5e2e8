package domain

import "time"

// AgentRequest is the assembled inbound context handed to the agent for
// reply generation.
type AgentRequest struct {
	MessageID         string     `json:"messageId"`
	AgentID           string     `json:"agentId"`
	SessionKey        string     `json:"sessionKey"`
	Channel           string     `json:"channel"`
	AccountID         string     `json:"accountId"`
	ChatType          ChatType   `json:"chatType"`
	PeerID            string     `json:"peerId"`
	From              string     `json:"from"`
	FromName          string     `json:"fromName,omitempty"`
	To                string     `json:"to,omitempty"`
	ChannelIndex      int        `json:"channelIndex"`
	Body              string     `json:"body"`
	Timestamp         time.Time  `json:"timestamp"`
	PreviousUpdatedAt *time.Time `json:"previousUpdatedAt,omitempty"`
	CommandAuthorized bool       `json:"commandAuthorized"`
}

// AgentReply is the generated answer. SessionKey is the key the agent
// finalized the conversation under; it may differ from the requested one.
type AgentReply struct {
	Text       string `json:"text"`
	SessionKey string `json:"sessionKey"`
}
