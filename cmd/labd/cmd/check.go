package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/daemon"
	"github.com/GoCodeAlone/labmodular/statusstore"
)

// ErrCheckFailed is returned when the configured modules cannot all be
// activated.
var ErrCheckFailed = errors.New("configuration check failed")

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration and print the activation order",
		Long: `Check loads the configuration, registers every module and resolves their
connectors without activating anything. It prints the activation order, or
every resolution error found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			// Checking never touches persisted status.
			cfg.Global.Status = statusstore.Config{Engine: "memory"}

			d, err := daemon.New(cmd.Context(), cfg, catalog(),
				append(proxyWrappers(), daemon.WithLogger(labmodular.NopLogger{}))...)
			if err != nil {
				return err
			}
			order, resolveErr := d.Registry().Order()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Activation order: %s\n", strings.Join(order, " -> "))
			if resolveErr == nil {
				fmt.Fprintln(out, "OK")
				return nil
			}
			fmt.Fprintln(out, "Errors:")
			for _, line := range strings.Split(resolveErr.Error(), "\n") {
				fmt.Fprintf(out, "  - %s\n", line)
			}
			return ErrCheckFailed
		},
	}
	flags.register(cmd)
	return cmd
}
