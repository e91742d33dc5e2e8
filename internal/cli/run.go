package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/meshgate/internal/agentclient"
	"github.com/soyeahso/meshgate/internal/bridge"
	"github.com/soyeahso/meshgate/internal/channel"
	"github.com/soyeahso/meshgate/internal/commands"
	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/gateway"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/meshtastic"
	"github.com/soyeahso/meshgate/internal/routing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// runOverrides are the run flags that take precedence over the config file.
type runOverrides struct {
	port      int
	bind      string
	noGateway bool
}

func (o runOverrides) apply(cmd *cobra.Command, cfg *config.Config) error {
	if o.port != 0 {
		cfg.Gateway.Port = o.port
	}
	if o.bind != "" {
		cfg.Gateway.Bind = o.bind
	}
	if o.noGateway {
		cfg.Gateway.Enabled = false
	}
	if cmd.Flags().Changed("log-level") {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return fmt.Errorf("reading --log-level: %w", err)
		}
		cfg.Logging.Level = level
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		port      int
		bind      string
		noGateway bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every enabled account and the control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			overrides := runOverrides{port: port, bind: bind, noGateway: noGateway}
			if err := overrides.apply(cmd, &cfg); err != nil {
				return err
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			runLog, closeLog, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.Style,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("opening log: %w", err)
			}
			defer closeLog()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			be, err := openBackends(ctx, cfg, paths, runLog)
			if err != nil {
				return err
			}
			defer be.Close()

			hookMgr, err := buildHooks(cfg.Hooks, runLog)
			if err != nil {
				return err
			}

			agent := agentclient.New(agentclient.Config{
				URL:     cfg.Agent.URL,
				Token:   cfg.Agent.Token,
				Timeout: time.Duration(cfg.Agent.TimeoutSec) * time.Second,
			}, runLog)
			defer agent.Close()

			rt := meshtastic.Runtime{
				Pairing:  be.pairing,
				Router:   routing.NewResolver(cfg.Agents),
				Sessions: be.sessions,
				Commands: commands.NewChecker(cfg.Commands.Names),
				Replier:  agent,
				Hooks:    hookMgr,
				Log:      runLog,
			}

			registry := channel.NewRegistry(runLog)
			for _, acct := range cfg.Meshtastic.ResolveAccounts() {
				if !acct.Enabled {
					runLog.Info().Str("account", acct.ID).Msg("account disabled, skipping")
					continue
				}
				ch, err := meshtastic.NewChannel(acct, bridge.NewClient(acct.BridgeURL), rt)
				if err != nil {
					return err
				}
				if err := registry.Register(ch); err != nil {
					return err
				}
			}

			if registry.Count() == 0 && !cfg.Gateway.Enabled {
				return fmt.Errorf("nothing to run: no enabled accounts and the control server is disabled")
			}
			if registry.Count() == 0 {
				runLog.Warn().Msg("no enabled accounts; only the control server will run")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := registry.Run(gctx)
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				registry.StopAll(stopCtx)
				if derr := hookMgr.Drain(stopCtx); derr != nil {
					runLog.Warn().Err(derr).Msg("hook handlers still running at shutdown")
				}
				return err
			})

			if cfg.Gateway.Enabled {
				srv := gateway.New(cfg.Gateway, runLog,
					gateway.WithChannels(registry),
					gateway.WithPairing(be.pairing),
					gateway.WithSessions(be.sessions),
				)
				g.Go(func() error { return srv.Start(gctx) })
			}

			runLog.Info().
				Int("accounts", registry.Count()).
				Str("store", be.driver).
				Bool("gateway", cfg.Gateway.Enabled).
				Msg("meshgate running")

			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override control server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override control server bind mode (loopback, lan)")
	cmd.Flags().BoolVar(&noGateway, "no-gateway", false, "do not start the control server")

	return cmd
}
