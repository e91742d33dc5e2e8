package meshtastic

import (
	"context"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
)

// Verdict is the gate's decision for one message.
type Verdict int

const (
	// VerdictProceed continues to routing and agent dispatch.
	VerdictProceed Verdict = iota
	// VerdictDrop discards the message without any reply.
	VerdictDrop
	// VerdictPair starts the pairing flow and then discards the message.
	VerdictPair
)

func (v Verdict) String() string {
	switch v {
	case VerdictProceed:
		return "proceed"
	case VerdictDrop:
		return "drop"
	case VerdictPair:
		return "pair"
	default:
		return "unknown"
	}
}

// Drop reasons reported in logs and hook payloads.
const (
	ReasonDisabled            = "disabled"
	ReasonNotAllowed          = "not_allowed"
	ReasonUnauthorizedCommand = "unauthorized_command"
	ReasonPairingPending      = "pairing"
)

// Decision is the outcome of Gate.Check.
type Decision struct {
	Verdict           Verdict
	Reason            string
	IsCommand         bool
	CommandAuthorized bool
}

// AllowSet is the union of configured and approved senders.
type AllowSet struct {
	entries  map[string]struct{}
	wildcard bool
}

// NewAllowSet builds an AllowSet from raw entries. Entries are normalized;
// "*" matches every sender.
func NewAllowSet(lists ...[]string) AllowSet {
	set := AllowSet{entries: make(map[string]struct{})}
	for _, list := range lists {
		for _, raw := range list {
			id := domain.NormalizeNodeID(raw)
			switch id {
			case "":
			case domain.WildcardAllow:
				set.wildcard = true
			default:
				set.entries[id] = struct{}{}
			}
		}
	}
	return set
}

// Contains reports whether sender is allowed.
func (s AllowSet) Contains(sender string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.entries[domain.NormalizeNodeID(sender)]
	return ok
}

// Len returns the number of explicit entries.
func (s AllowSet) Len() int { return len(s.entries) }

// Gate applies an account's DM policy to inbound messages.
type Gate struct {
	accountID string
	policy    domain.DMPolicy
	static    []string
	pairing   PairingStore
	commands  CommandChecker
	log       *logging.Logger
}

// NewGate creates a Gate. static holds the configured allow list.
func NewGate(accountID string, policy domain.DMPolicy, static []string, rt Runtime) *Gate {
	return &Gate{
		accountID: accountID,
		policy:    policy,
		static:    static,
		pairing:   rt.Pairing,
		commands:  rt.Commands,
		log:       rt.Log.Sub("gate"),
	}
}

// Policy returns the gate's DM policy.
func (g *Gate) Policy() domain.DMPolicy { return g.policy }

// Check decides what to do with msg. The approved-sender list is read from
// the pairing store at most once, and only when the policy is not open or
// the message is a control command.
func (g *Gate) Check(ctx context.Context, msg domain.InboundMessage) Decision {
	if g.policy == domain.DMPolicyDisabled {
		g.log.Info().Str("from", msg.From).Msg("dm policy disabled, dropping message")
		return Decision{Verdict: VerdictDrop, Reason: ReasonDisabled}
	}

	isCommand := g.commands.IsControlCommand(msg.Body)

	allowed := false
	if g.policy != domain.DMPolicyOpen || isCommand {
		allowed = g.allowSet(ctx).Contains(msg.From)
	}

	if g.policy == domain.DMPolicyOpen || allowed {
		if isCommand && !allowed {
			g.log.Info().Str("from", msg.From).Msg("dropping unauthorized control command")
			return Decision{Verdict: VerdictDrop, Reason: ReasonUnauthorizedCommand, IsCommand: true}
		}
		return Decision{Verdict: VerdictProceed, IsCommand: isCommand, CommandAuthorized: isCommand && allowed}
	}

	if g.policy == domain.DMPolicyPairing {
		return Decision{Verdict: VerdictPair, Reason: ReasonPairingPending, IsCommand: isCommand}
	}

	g.log.Info().
		Str("from", msg.From).
		Str("policy", string(g.policy)).
		Msg("sender not in allow list, dropping message")
	return Decision{Verdict: VerdictDrop, Reason: ReasonNotAllowed, IsCommand: isCommand}
}

// allowSet merges the configured list with approved senders. A store read
// failure falls back to the configured list alone.
func (g *Gate) allowSet(ctx context.Context) AllowSet {
	approved, err := g.pairing.AllowFrom(ctx, domain.ChannelMeshtastic)
	if err != nil {
		g.log.Warn().Err(err).Msg("reading approved senders failed, using configured allow list only")
	}
	return NewAllowSet(g.static, approved)
}
