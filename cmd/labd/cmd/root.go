// Package cmd implements the labd command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/daemon"
	"github.com/GoCodeAlone/labmodular/feeders"
	"github.com/GoCodeAlone/labmodular/instruments/dummy"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for labd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labd",
		Short: "labd - laboratory module daemon",
		Long: `labd loads a suite configuration, activates the configured instrument
modules in dependency order and shares them with other labd processes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewModulesCommand())
	return cmd
}

// configFlags are shared by the commands that read a suite configuration.
type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "labd.yaml", "suite configuration file (.yaml, .toml or .json)")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "dotenv file with LABMOD_ overrides")
}

// overrides returns the feeders applied after the configuration file.
func (f *configFlags) overrides() []feeders.Feeder {
	out := []feeders.Feeder{}
	if f.envFile != "" {
		out = append(out, feeders.NewDotEnvFeeder(f.envFile))
	}
	return append(out, feeders.NewEnvFeeder())
}

func (f *configFlags) load() (*feeders.SuiteConfig, error) {
	return feeders.LoadFile(f.path, f.overrides()...)
}

// catalog is the class catalog compiled into labd.
func catalog() *labmodular.Catalog { return dummy.Catalog() }

func proxyWrappers() []daemon.Option {
	var opts []daemon.Option
	for capability, wrap := range dummy.ProxyWrappers() {
		opts = append(opts, daemon.WithProxyWrapper(capability, wrap))
	}
	return opts
}
