package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/labmodular/daemon"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		flags configFlags
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until interrupted",
		Long: `Run registers every configured module, starts the remote service and admin
API when configured, activates the start modules and waits for SIGINT or
SIGTERM. Modules are deactivated in reverse dependency order on the way out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := daemon.NewLogger(cmd.ErrOrStderr(), cfg.Global.LogLevel, cfg.Global.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := append(proxyWrappers(), daemon.WithLogger(logger))
			if watch {
				opts = append(opts, daemon.WithConfigPath(flags.path, flags.overrides()...))
			}
			d, err := daemon.New(ctx, cfg, catalog(), opts...)
			if err != nil {
				return err
			}
			return d.Run(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&watch, "watch", true, "apply configuration file changes while running")
	return cmd
}
