package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/meshtastic"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "send <target> <text...>",
		Short: "Send text to a node or channel through the bridge",
		Long: "Send text through an account's bridge, split into radio-sized chunks.\n" +
			"Target is a node id (!433e1678), ^all for broadcast, optionally\n" +
			"prefixed with a channel index: ch2:^all",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParseTarget(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")

			acct, err := loadAccount(account)
			if err != nil {
				return err
			}

			pacer := meshtastic.NewAccountPacer(acct, bridge.NewClient(acct.BridgeURL), log)
			report := pacer.Deliver(cmd.Context(), target, text)
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d chunks failed", report.Failed, report.Chunks)
			}
			fmt.Printf("Sent %d chunk(s) to %s\n", report.Sent, target)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (default: the default account)")
	return cmd
}

// loadAccount resolves the named account from the config file. An empty id
// picks the default account, or the only configured one.
func loadAccount(id string) (config.Account, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return config.Account{}, err
	}
	accounts := cfg.Meshtastic.ResolveAccounts()
	if id == "" {
		if len(accounts) == 1 {
			return accounts[0], nil
		}
		id = config.DefaultAccountID
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return config.Account{}, fmt.Errorf("unknown account %q", id)
}
