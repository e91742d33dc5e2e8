package domain

import "time"

// ChannelMeshtastic is the channel name used for routing, pairing and
// session keys.
const ChannelMeshtastic = "meshtastic"

// ChatType classifies the conversation context.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// EventTypeText marks a user text message on the bridge stream. Any other
// non-empty type is connection metadata.
const EventTypeText = "text"

// InboundMessage is one message event received from the bridge.
type InboundMessage struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId,omitempty"`
	Type         string    `json:"type,omitempty"`
	From         string    `json:"from"`
	FromName     string    `json:"fromName,omitempty"`
	To           string    `json:"to,omitempty"`
	Body         string    `json:"body"`
	Timestamp    time.Time `json:"timestamp"`
	ChannelIndex int       `json:"channelIndex"`
	Direct       bool      `json:"isDirect"`
}

// ChatType reports direct for DMs and group for channel broadcasts.
func (m InboundMessage) ChatType() ChatType {
	if m.Direct {
		return ChatTypeDirect
	}
	return ChatTypeGroup
}

// OutboundMessage is a reply or notice to transmit on one account.
type OutboundMessage struct {
	AccountID string `json:"accountId,omitempty"`
	Target    Target `json:"target"`
	Body      string `json:"body"`
}
