package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/version"
	"github.com/spf13/cobra"
)

const probeTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and bridge health",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s\n\n", version.Info())

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Printf("Agent:   url=%s default=%s bindings=%d\n",
				cfg.Agent.URL, cfg.Agents.DefaultID, len(cfg.Agents.Bindings))
			if n := len(cfg.Hooks.Webhooks); n > 0 {
				fmt.Printf("Hooks:   webhooks=%d\n", n)
			}

			storeLine := "Store:   driver=" + cfg.Store.Driver
			if cfg.Store.Driver == "redis" {
				storeLine += " url=" + cfg.Store.RedisURL
			}
			fmt.Println(storeLine)

			if cfg.Gateway.Enabled {
				fmt.Printf("Gateway: port=%d bind=%s auth=%v\n",
					cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Token != "")
			} else {
				fmt.Println("Gateway: disabled")
			}
			if len(cfg.Commands.Names) > 0 {
				fmt.Printf("Commands: /%s\n", strings.Join(cfg.Commands.Names, ", /"))
			}
			fmt.Println()

			for _, acct := range cfg.Meshtastic.ResolveAccounts() {
				state := "enabled"
				if !acct.Enabled {
					state = "disabled"
				}
				fmt.Printf("Account %s (%s): bridge=%s policy=%s allowFrom=%d\n",
					acct.ID, state, acct.BridgeURL, acct.DMPolicy, len(acct.AllowFrom))
				if !acct.Enabled || offline {
					continue
				}
				fmt.Printf("  bridge:  %s\n", bridgeHealth(cmd.Context(), acct.BridgeURL))
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip contacting the bridges")
	return cmd
}

// bridgeHealth returns a one-line health summary for the bridge at url.
func bridgeHealth(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := bridge.NewClient(url).Health(ctx); err != nil {
		return "unreachable (" + err.Error() + ")"
	}
	return "ok"
}
