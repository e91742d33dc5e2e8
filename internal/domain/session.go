package domain

import "time"

// Route is the resolved conversation for one inbound message.
type Route struct {
	Channel    string   `json:"channel"`
	AccountID  string   `json:"accountId"`
	ChatType   ChatType `json:"chatType"`
	PeerID     string   `json:"peerId"`
	AgentID    string   `json:"agentId"`
	SessionKey string   `json:"sessionKey"`
}

// SessionMeta is what gets recorded about a conversation after a reply.
type SessionMeta struct {
	SessionKey       string    `json:"sessionKey"`
	AgentID          string    `json:"agentId"`
	Channel          string    `json:"channel"`
	AccountID        string    `json:"accountId"`
	ChatType         ChatType  `json:"chatType"`
	PeerID           string    `json:"peerId"`
	LastTo           string    `json:"lastTo"`
	LastChannelIndex int       `json:"lastChannelIndex"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
