package cli

import (
	"os"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/spf13/cobra"
)

// Resolved by the root command before any subcommand runs.
var (
	paths config.Paths
	log   *logging.Logger
)

type rootFlags struct {
	config   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "meshgate",
		Short: "Relay Meshtastic mesh messages to an AI agent",
		Long: `meshgate connects Meshtastic radios, through their HTTP bridge, to an agent
gateway. Inbound text is gated by the DM policy, routed to a session and
answered with paced, radio-sized chunks.

State lives in ~/.meshgate unless MESHGATE_HOME says otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.apply()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "config file (default $MESHGATE_HOME/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "CLI log level: trace, debug, info, warn, error, silent")

	cmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newProbeCmd(),
		newSendCmd(),
		newPairingCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// apply resolves state paths and the CLI logger. run replaces the logger
// with one built from the config file.
func (f rootFlags) apply() error {
	p, err := config.ResolvePaths()
	if err != nil {
		return err
	}
	if f.config != "" {
		p.Config = f.config
	}
	paths = p

	level := f.logLevel
	if level == "" {
		level = os.Getenv("MESHGATE_LOG_LEVEL")
	}
	log = logging.New(nil, level)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
