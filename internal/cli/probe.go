package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var (
		account string
		nodes   bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check an account's radio bridge and print node info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := loadAccount(account)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			client := bridge.NewClient(acct.BridgeURL)

			health, err := client.Health(ctx)
			if err != nil {
				return fmt.Errorf("bridge %s: %w", acct.BridgeURL, err)
			}
			fmt.Printf("Bridge:   %s\n", acct.BridgeURL)
			fmt.Printf("Health:   %s\n", string(health))

			info, err := client.Info(ctx)
			if err != nil {
				return fmt.Errorf("bridge info: %w", err)
			}
			fmt.Printf("Node:     !%08x %s (%s)\n", uint32(info.MyNodeNum), info.LongName, info.ShortName)
			fmt.Printf("Device:   %s firmware %s\n", info.Device, info.Firmware)

			if !nodes {
				return nil
			}

			list, err := client.Nodes(ctx)
			if err != nil {
				return fmt.Errorf("bridge nodes: %w", err)
			}
			fmt.Printf("\nNodes (%d):\n", len(list))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSHORT\tHW\tLAST HEARD")
			for _, n := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.LongName, n.ShortName, n.HWModel, lastHeard(n.LastHeard))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (default: the default account)")
	cmd.Flags().BoolVar(&nodes, "nodes", false, "also list the nodes the radio has heard")
	return cmd
}

func lastHeard(unix int64) string {
	if unix <= 0 {
		return "-"
	}
	return time.Since(time.Unix(unix, 0)).Truncate(time.Second).String() + " ago"
}
