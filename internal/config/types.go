package config

import (
	"sort"
	"strings"
	"time"
)

// Config is the root configuration for meshgate.
type Config struct {
	Meshtastic MeshtasticConfig `yaml:"meshtastic,omitempty"`
	Agents     AgentsConfig     `yaml:"agents,omitempty"`
	Agent      AgentConfig      `yaml:"agent,omitempty"`
	Commands   CommandsConfig   `yaml:"commands,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Hooks      HooksConfig      `yaml:"hooks,omitempty"`
}

// MeshtasticConfig configures the radio side. Top-level fields apply to every
// account unless an account overrides them.
type MeshtasticConfig struct {
	Enabled      bool                     `yaml:"enabled"`
	Name         string                   `yaml:"name,omitempty"`
	BridgeURL    string                   `yaml:"bridgeUrl,omitempty"`
	DMPolicy     string                   `yaml:"dmPolicy,omitempty"` // "open" | "allowlist" | "pairing" | "disabled"
	AllowFrom    []string                 `yaml:"allowFrom,omitempty"`
	ChunkBytes   int                      `yaml:"chunkBytes,omitempty"`
	ChunkDelayMs int                      `yaml:"chunkDelayMs,omitempty"`
	Reconnect    ReconnectConfig          `yaml:"reconnect,omitempty"`
	Accounts     map[string]AccountConfig `yaml:"accounts,omitempty"`
}

// AccountConfig holds per-account overrides. Zero values inherit.
type AccountConfig struct {
	Enabled   *bool    `yaml:"enabled,omitempty"`
	Name      string   `yaml:"name,omitempty"`
	BridgeURL string   `yaml:"bridgeUrl,omitempty"`
	DMPolicy  string   `yaml:"dmPolicy,omitempty"`
	AllowFrom []string `yaml:"allowFrom,omitempty"`
}

// ReconnectConfig controls stream reconnection after the bridge drops.
type ReconnectConfig struct {
	Enabled     bool    `yaml:"enabled"`
	InitialMs   int     `yaml:"initialMs,omitempty"`
	MaxMs       int     `yaml:"maxMs,omitempty"`
	Multiplier  float64 `yaml:"multiplier,omitempty"`
	MaxAttempts int     `yaml:"maxAttempts,omitempty"` // 0 = unlimited
}

// AgentsConfig maps conversations to agent ids.
type AgentsConfig struct {
	DefaultID string          `yaml:"defaultId,omitempty"`
	Bindings  []BindingConfig `yaml:"bindings,omitempty"`
}

// BindingConfig routes matching conversations to an agent. Empty fields match anything.
type BindingConfig struct {
	AgentID   string `yaml:"agentId"`
	AccountID string `yaml:"accountId,omitempty"`
	ChatType  string `yaml:"chatType,omitempty"` // "direct" | "group"
	Peer      string `yaml:"peer,omitempty"`
}

// AgentConfig points at the upstream agent gateway that generates replies.
type AgentConfig struct {
	URL        string `yaml:"url,omitempty"`
	Token      string `yaml:"token,omitempty"`
	TimeoutSec int    `yaml:"timeoutSec,omitempty"`
}

// CommandsConfig lists the slash commands treated as control commands.
type CommandsConfig struct {
	Names []string `yaml:"names,omitempty"`
}

// StoreConfig selects the pairing and session metadata backend.
type StoreConfig struct {
	Driver   string `yaml:"driver,omitempty"` // "sqlite" | "redis" | "memory"
	RedisURL string `yaml:"redisUrl,omitempty"`
}

// GatewayConfig controls the local HTTP control server.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Bind    string `yaml:"bind,omitempty"` // "loopback" | "lan"
	Token   string `yaml:"token,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}

// HooksConfig wires lifecycle events to external observers. Every event is
// also logged at debug level.
type HooksConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig posts events as JSON to URL. An empty Events list means all.
type WebhookConfig struct {
	URL        string   `yaml:"url"`
	Token      string   `yaml:"token,omitempty"`
	Events     []string `yaml:"events,omitempty"`
	TimeoutSec int      `yaml:"timeoutSec,omitempty"`
}

// DefaultAccountID names the implicit account used when no accounts are listed.
const DefaultAccountID = "default"

// Account is a fully resolved account: top-level settings merged with overrides.
type Account struct {
	ID         string
	Name       string
	Enabled    bool
	BridgeURL  string
	DMPolicy   string
	AllowFrom  []string
	ChunkBytes int
	ChunkDelay time.Duration
	Reconnect  ReconnectConfig
}

// ResolveAccounts returns the accounts sorted by id. With no accounts
// configured it returns the implicit default account.
func (m MeshtasticConfig) ResolveAccounts() []Account {
	base := Account{
		ID:         DefaultAccountID,
		Name:       m.Name,
		Enabled:    m.Enabled,
		BridgeURL:  strings.TrimRight(m.BridgeURL, "/"),
		DMPolicy:   m.DMPolicy,
		AllowFrom:  m.AllowFrom,
		ChunkBytes: m.ChunkBytes,
		ChunkDelay: time.Duration(m.ChunkDelayMs) * time.Millisecond,
		Reconnect:  m.Reconnect,
	}
	if len(m.Accounts) == 0 {
		return []Account{base}
	}

	ids := make([]string, 0, len(m.Accounts))
	for id := range m.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		ac := m.Accounts[id]
		acct := base
		acct.ID = id
		if ac.Enabled != nil {
			acct.Enabled = m.Enabled && *ac.Enabled
		}
		if ac.Name != "" {
			acct.Name = ac.Name
		}
		if ac.BridgeURL != "" {
			acct.BridgeURL = strings.TrimRight(ac.BridgeURL, "/")
		}
		if ac.DMPolicy != "" {
			acct.DMPolicy = ac.DMPolicy
		}
		if len(ac.AllowFrom) > 0 {
			acct.AllowFrom = ac.AllowFrom
		}
		out = append(out, acct)
	}
	return out
}
