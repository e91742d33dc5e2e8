package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/store"
	"github.com/spf13/cobra"
)

func newPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "List, approve and revoke mesh senders",
	}

	cmd.AddCommand(newPairingListCmd())
	cmd.AddCommand(newPairingApproveCmd())
	cmd.AddCommand(newPairingRevokeCmd())
	cmd.AddCommand(newPairingAllowCmd())

	return cmd
}

// withPairingStore opens the configured pairing store for the duration of fn.
func withPairingStore(cmd *cobra.Command, fn func(ps store.PairingStore) error) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "memory" {
		return errors.New("store driver is memory: pairing state lives in the running process, use the control server instead")
	}
	be, err := openBackends(cmd.Context(), cfg, paths, log)
	if err != nil {
		return err
	}
	defer be.Close()
	return fn(be.pairing)
}

func newPairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show pending pairing requests and approved senders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPairingStore(cmd, func(ps store.PairingStore) error {
				return printPairing(cmd, ps)
			})
		},
	}
}

func printPairing(cmd *cobra.Command, ps store.PairingStore) error {
	pending, err := ps.ListPending(cmd.Context(), domain.ChannelMeshtastic)
	if err != nil {
		return err
	}
	allow, err := ps.AllowFrom(cmd.Context(), domain.ChannelMeshtastic)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Println("No pending requests.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tSENDER\tNAME\tREQUESTED")
		for _, r := range pending {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Code, r.SenderID, r.Name, r.CreatedAt.Local().Format(time.DateTime))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Println()
	if len(allow) == 0 {
		fmt.Println("No approved senders.")
		return nil
	}
	fmt.Println("Approved senders:")
	for _, id := range allow {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func newPairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing request by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPairingStore(cmd, func(ps store.PairingStore) error {
				req, err := ps.Approve(cmd.Context(), domain.ChannelMeshtastic, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no pending request with code %q", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Printf("Approved %s", req.SenderID)
				if req.Name != "" {
					fmt.Printf(" (%s)", req.Name)
				}
				fmt.Println()
				return nil
			})
		},
	}
}

func newPairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <node-id>",
		Short: "Remove a sender from the approved list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.NormalizeNodeID(args[0])
			if id == "" {
				return fmt.Errorf("invalid node id %q", args[0])
			}
			return withPairingStore(cmd, func(ps store.PairingStore) error {
				removed, err := ps.Revoke(cmd.Context(), domain.ChannelMeshtastic, id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s is not an approved sender", id)
				}
				fmt.Printf("Revoked %s\n", id)
				return nil
			})
		},
	}
}

func newPairingAllowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allow <node-id>",
		Short: "Approve a sender directly without a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.NormalizeNodeID(args[0])
			if id == "" {
				return fmt.Errorf("invalid node id %q", args[0])
			}
			return withPairingStore(cmd, func(ps store.PairingStore) error {
				if err := ps.AddAllowFrom(cmd.Context(), domain.ChannelMeshtastic, id); err != nil {
					return err
				}
				fmt.Printf("Allowed %s\n", id)
				return nil
			})
		},
	}
}
