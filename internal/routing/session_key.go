package routing

import (
	"fmt"
	"strings"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
)

// BuildSessionKey returns the canonical session key for a conversation:
//
//	agent:<agentId>:<channel>:<direct|group>:<peer>
//
// Accounts other than the default are inserted before the chat type so two
// radios never share a conversation.
func BuildSessionKey(agentID, channel, accountID string, chatType domain.ChatType, peerID string) string {
	parts := []string{"agent", agentID, channel}
	if accountID != "" && accountID != config.DefaultAccountID {
		parts = append(parts, accountID)
	}
	parts = append(parts, string(chatType), peerID)
	return strings.Join(parts, ":")
}

// SessionKeyParts is a parsed session key.
type SessionKeyParts struct {
	AgentID   string
	Channel   string
	AccountID string
	ChatType  domain.ChatType
	PeerID    string
}

// ParseSessionKey splits a key built by BuildSessionKey. The peer may itself
// contain colons.
func ParseSessionKey(key string) (SessionKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 5 || parts[0] != "agent" {
		return SessionKeyParts{}, fmt.Errorf("malformed session key %q", key)
	}

	out := SessionKeyParts{AgentID: parts[1], Channel: parts[2], AccountID: config.DefaultAccountID}
	rest := parts[3:]
	if !isChatType(rest[0]) {
		out.AccountID = rest[0]
		rest = rest[1:]
	}
	if len(rest) < 2 || !isChatType(rest[0]) {
		return SessionKeyParts{}, fmt.Errorf("malformed session key %q", key)
	}
	out.ChatType = domain.ChatType(rest[0])
	out.PeerID = strings.Join(rest[1:], ":")
	return out, nil
}

func isChatType(s string) bool {
	return s == string(domain.ChatTypeDirect) || s == string(domain.ChatTypeGroup)
}
