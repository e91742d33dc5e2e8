package domain

import (
	"context"
	"time"
)

// ChannelStatus reports the runtime state of one account.
type ChannelStatus struct {
	ChannelID      string     `json:"channelId"`
	AccountID      string     `json:"accountId,omitempty"`
	Connected      bool       `json:"connected"`
	Running        bool       `json:"running"`
	LastInboundAt  *time.Time `json:"lastInboundAt,omitempty"`
	LastOutboundAt *time.Time `json:"lastOutboundAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Channel is a running transport account.
type Channel interface {
	// ID returns the channel name.
	ID() string

	// AccountID distinguishes several radios on the same channel.
	AccountID() string

	// Start connects and begins processing inbound messages.
	Start(ctx context.Context) error

	// Stop disconnects and waits for in-flight work to wind down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg OutboundMessage) error

	// Status reports the current runtime state.
	Status() ChannelStatus
}
