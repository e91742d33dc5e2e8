// Package routing maps a conversation to the agent that owns it.
package routing

import (
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
)

// Input identifies a conversation to route.
type Input struct {
	Channel   string
	AccountID string
	ChatType  domain.ChatType
	PeerID    string
}

// Resolver picks an agent for a conversation from configured bindings.
// Resolution is a pure function of its Input.
type Resolver struct {
	defaultAgent string
	bindings     []config.BindingConfig
}

// NewResolver creates a Resolver from the agents config section.
func NewResolver(cfg config.AgentsConfig) *Resolver {
	def := cfg.DefaultID
	if def == "" {
		def = "main"
	}
	bindings := make([]config.BindingConfig, len(cfg.Bindings))
	for i, b := range cfg.Bindings {
		if b.Peer != "" && b.Peer != domain.WildcardAllow {
			b.Peer = domain.NormalizeNodeID(b.Peer)
		}
		bindings[i] = b
	}
	return &Resolver{defaultAgent: def, bindings: bindings}
}

// Resolve returns the route for in. The most specific matching binding wins:
// peer, then account+chat type, then account or chat type alone, then the
// default agent. Ties go to the binding listed first.
func (r *Resolver) Resolve(in Input) domain.Route {
	agentID := r.defaultAgent
	best := -1
	for _, b := range r.bindings {
		score, ok := match(b, in)
		if ok && score > best {
			best = score
			agentID = b.AgentID
		}
	}

	return domain.Route{
		Channel:    in.Channel,
		AccountID:  in.AccountID,
		ChatType:   in.ChatType,
		PeerID:     in.PeerID,
		AgentID:    agentID,
		SessionKey: BuildSessionKey(agentID, in.Channel, in.AccountID, in.ChatType, in.PeerID),
	}
}

func match(b config.BindingConfig, in Input) (int, bool) {
	score := 0
	if b.Peer != "" {
		if b.Peer != in.PeerID {
			return 0, false
		}
		score += 4
	}
	if b.AccountID != "" {
		if b.AccountID != in.AccountID {
			return 0, false
		}
		score += 2
	}
	if b.ChatType != "" {
		if b.ChatType != string(in.ChatType) {
			return 0, false
		}
		score++
	}
	return score, true
}
