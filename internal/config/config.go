package config

import "fmt"

// ConfigError reports a problem with the config file, a key path or the
// state directories. Path is empty when the problem is not tied to one.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// Defaults returns a Config with defaults applied.
func Defaults() Config {
	return Config{
		Meshtastic: MeshtasticConfig{
			Enabled:      true,
			BridgeURL:    "http://127.0.0.1:5000",
			DMPolicy:     "pairing",
			ChunkBytes:   230,
			ChunkDelayMs: 3000,
			Reconnect: ReconnectConfig{
				Enabled:    true,
				InitialMs:  1000,
				MaxMs:      60000,
				Multiplier: 2,
			},
		},
		Agents: AgentsConfig{
			DefaultID: "main",
		},
		Agent: AgentConfig{
			URL:        "ws://127.0.0.1:18789/ws",
			TimeoutSec: 120,
		},
		Commands: CommandsConfig{
			Names: []string{"new", "reset", "status", "stop", "help"},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Port:    18790,
			Bind:    "loopback",
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
	}
}
