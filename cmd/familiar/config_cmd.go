package main

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/familiar/internal/config"
	"github.com/mattjoyce/familiar/internal/doctor"
	"github.com/spf13/cobra"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(g), newConfigShowCmd(g))
	return cmd
}

func newConfigCheckCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOut bool
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and the vault it points at",
		Long: `Load the config file and check it against the local environment:
vault layout, worker command, allowed paths, filesystem type and API key.

Exit status is 1 when errors are found, or when warnings are found and
--strict is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var result *doctor.Result
			cfg, err := loadConfig(g, config.Overrides{})
			if err != nil {
				result = &doctor.Result{
					Valid:  false,
					Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
				}
			} else {
				result = doctor.New(cfg).Validate()
			}

			if jsonOut {
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			} else {
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			if !result.Valid || (strict && len(result.Warnings) > 0) {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, config.Overrides{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			redacted := cfg.Redacted()

			if jsonOut {
				data, err := json.MarshalIndent(redacted, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal config: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			data, err := config.Encode(redacted)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# source: %s\n", cfg.SourcePath)
			if digest, err := config.ComputeBlake3Hash(cfg.SourcePath); err == nil {
				fmt.Fprintf(out, "# blake3: %s\n", digest)
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
