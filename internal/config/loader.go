package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential and
// endpoint fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Agent.Token = expandEnvVars(cfg.Agent.Token)
	cfg.Agent.URL = expandEnvVars(cfg.Agent.URL)
	cfg.Gateway.Token = expandEnvVars(cfg.Gateway.Token)
	cfg.Store.RedisURL = expandEnvVars(cfg.Store.RedisURL)
	cfg.Meshtastic.BridgeURL = expandEnvVars(cfg.Meshtastic.BridgeURL)
	for id, acct := range cfg.Meshtastic.Accounts {
		acct.BridgeURL = expandEnvVars(acct.BridgeURL)
		cfg.Meshtastic.Accounts[id] = acct
	}
	for i := range cfg.Hooks.Webhooks {
		cfg.Hooks.Webhooks[i].URL = expandEnvVars(cfg.Hooks.Webhooks[i].URL)
		cfg.Hooks.Webhooks[i].Token = expandEnvVars(cfg.Hooks.Webhooks[i].Token)
	}
}

// readSource returns YAML-compatible bytes for path. JSON and JSONC files
// have their comments and trailing commas stripped; JSON is valid YAML.
func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return jsonc.ToJSON(data), nil
	}
	return data, nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := readSource(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Path: path, Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := readSource(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Path: path, Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields a partial file may have cleared.
func applyDefaults(cfg *Config) {
	d := Defaults()
	m := &cfg.Meshtastic
	if m.BridgeURL == "" {
		m.BridgeURL = d.Meshtastic.BridgeURL
	}
	if m.DMPolicy == "" {
		m.DMPolicy = d.Meshtastic.DMPolicy
	}
	if m.ChunkBytes == 0 {
		m.ChunkBytes = d.Meshtastic.ChunkBytes
	}
	if m.ChunkDelayMs == 0 {
		m.ChunkDelayMs = d.Meshtastic.ChunkDelayMs
	}
	if m.Reconnect.InitialMs == 0 {
		m.Reconnect.InitialMs = d.Meshtastic.Reconnect.InitialMs
	}
	if m.Reconnect.MaxMs == 0 {
		m.Reconnect.MaxMs = d.Meshtastic.Reconnect.MaxMs
	}
	if m.Reconnect.Multiplier == 0 {
		m.Reconnect.Multiplier = d.Meshtastic.Reconnect.Multiplier
	}
	if cfg.Agents.DefaultID == "" {
		cfg.Agents.DefaultID = d.Agents.DefaultID
	}
	if cfg.Agent.URL == "" {
		cfg.Agent.URL = d.Agent.URL
	}
	if cfg.Agent.TimeoutSec == 0 {
		cfg.Agent.TimeoutSec = d.Agent.TimeoutSec
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = d.Logging.Style
	}
}

// applyEnvOverrides reads MESHGATE_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHGATE_BRIDGE_URL"); v != "" {
		cfg.Meshtastic.BridgeURL = v
	}
	if v := os.Getenv("MESHGATE_DM_POLICY"); v != "" {
		cfg.Meshtastic.DMPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("MESHGATE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("MESHGATE_AGENT_URL"); v != "" {
		cfg.Agent.URL = v
	}
	if v := os.Getenv("MESHGATE_AGENT_TOKEN"); v != "" {
		cfg.Agent.Token = v
	}
	if v := os.Getenv("MESHGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
