package main

import (
	"io"

	"github.com/mattjoyce/familiar/internal/config"
	"github.com/spf13/cobra"
)

// globalOptions are persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "familiar",
		Short: "Familiar - a file-based job runner for markdown vaults",
		Long: `Familiar watches <vault>/Jobs for markdown task files. Each file is claimed
into Processing, sent to a text-generation worker, and moved to Done or
Failed with the worker's reply appended as a report.

Getting started:
  familiar init --vault-path ~/Obsidian/Familiar
  familiar run

Configuration is read from --config, $FAMILIAR_CONFIG, or
~/.config/familiar/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("familiar version {{.Version}}\n")
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $FAMILIAR_CONFIG or ~/.config/familiar/config.yaml)")

	cmd.AddCommand(
		newRunCmd(g),
		newInitCmd(g),
		newConfigCmd(g),
		newJobCmd(g),
		newMonitorCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// overrideFlags binds the command-line values that win over the config file.
type overrideFlags struct {
	name      string
	vaultPath string
	vaultRoot string
	timeout   int
	all       bool
}

func (f *overrideFlags) register(cmd *cobra.Command, all bool) {
	f.all = all
	cmd.Flags().StringVar(&f.vaultPath, "vault-path", "", "directory holding Jobs/, Processing/, Done/ and Failed/")
	if !all {
		return
	}
	cmd.Flags().StringVar(&f.name, "name", "", "display name used in reports")
	cmd.Flags().StringVar(&f.vaultRoot, "vault-root", "", "worker working directory")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "worker timeout in seconds")
}

// overrides returns only the flags the user actually set.
func (f *overrideFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if cmd.Flags().Changed("vault-path") {
		o.VaultPath = &f.vaultPath
	}
	if !f.all {
		return o
	}
	if cmd.Flags().Changed("name") {
		o.Name = &f.name
	}
	if cmd.Flags().Changed("vault-root") {
		o.VaultRoot = &f.vaultRoot
	}
	if cmd.Flags().Changed("timeout") {
		o.Timeout = &f.timeout
	}
	return o
}

func loadConfig(g *globalOptions, o config.Overrides) (*config.Config, error) {
	return config.Load(config.ResolvePath(g.configPath), o)
}
