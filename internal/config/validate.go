package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validDMPolicies = []string{"open", "allowlist", "pairing", "disabled"}
	validChatTypes  = []string{"direct", "group"}
	validDrivers    = []string{"sqlite", "redis", "memory"}
	validBinds      = []string{"loopback", "lan"}
	validLogLevels  = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validLogStyles  = []string{"pretty", "json"}
)

// maxChunkBytes is the largest text payload the bridge accepts per packet.
const maxChunkBytes = 230

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	m := cfg.Meshtastic
	if m.DMPolicy != "" && !slices.Contains(validDMPolicies, m.DMPolicy) {
		add("meshtastic.dmPolicy", "must be one of %v, got %q", validDMPolicies, m.DMPolicy)
	}
	if m.BridgeURL != "" && !isHTTPURL(m.BridgeURL) {
		add("meshtastic.bridgeUrl", "must be an http(s) URL, got %q", m.BridgeURL)
	}
	if m.ChunkBytes < 0 || m.ChunkBytes > maxChunkBytes {
		add("meshtastic.chunkBytes", "must be 1-%d, got %d", maxChunkBytes, m.ChunkBytes)
	}
	if m.ChunkDelayMs < 0 {
		add("meshtastic.chunkDelayMs", "must not be negative, got %d", m.ChunkDelayMs)
	}

	r := m.Reconnect
	if r.InitialMs < 0 || r.MaxMs < 0 {
		add("meshtastic.reconnect", "intervals must not be negative")
	}
	if r.MaxMs > 0 && r.InitialMs > r.MaxMs {
		add("meshtastic.reconnect.initialMs", "must not exceed maxMs (%d > %d)", r.InitialMs, r.MaxMs)
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		add("meshtastic.reconnect.multiplier", "must be >= 1, got %g", r.Multiplier)
	}
	if r.MaxAttempts < 0 {
		add("meshtastic.reconnect.maxAttempts", "must not be negative, got %d", r.MaxAttempts)
	}

	for id, acct := range m.Accounts {
		if id == "" {
			add("meshtastic.accounts", "account id must not be empty")
		}
		if acct.DMPolicy != "" && !slices.Contains(validDMPolicies, acct.DMPolicy) {
			add("meshtastic.accounts."+id+".dmPolicy", "must be one of %v, got %q", validDMPolicies, acct.DMPolicy)
		}
		if acct.BridgeURL != "" && !isHTTPURL(acct.BridgeURL) {
			add("meshtastic.accounts."+id+".bridgeUrl", "must be an http(s) URL, got %q", acct.BridgeURL)
		}
	}

	for i, b := range cfg.Agents.Bindings {
		path := fmt.Sprintf("agents.bindings.%d", i)
		if b.AgentID == "" {
			add(path+".agentId", "agentId is required")
		}
		if b.ChatType != "" && !slices.Contains(validChatTypes, b.ChatType) {
			add(path+".chatType", "must be one of %v, got %q", validChatTypes, b.ChatType)
		}
	}

	if cfg.Agent.URL != "" {
		u, err := url.Parse(cfg.Agent.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("agent.url", "must be a ws(s) URL, got %q", cfg.Agent.URL)
		}
	}
	if cfg.Agent.TimeoutSec < 0 {
		add("agent.timeoutSec", "must not be negative, got %d", cfg.Agent.TimeoutSec)
	}

	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.Driver == "redis" && cfg.Store.RedisURL == "" {
		add("store.redisUrl", "required when store.driver is redis")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}

	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	if cfg.Logging.Style != "" && !slices.Contains(validLogStyles, cfg.Logging.Style) {
		add("logging.style", "must be one of %v, got %q", validLogStyles, cfg.Logging.Style)
	}

	for i, wh := range cfg.Hooks.Webhooks {
		path := fmt.Sprintf("hooks.webhooks.%d", i)
		if !isHTTPURL(wh.URL) {
			add(path+".url", "must be an http(s) URL, got %q", wh.URL)
		}
		if wh.TimeoutSec < 0 {
			add(path+".timeoutSec", "must not be negative, got %d", wh.TimeoutSec)
		}
	}

	return issues
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
