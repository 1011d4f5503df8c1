package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mattjoyce/familiar/internal/config"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/spf13/cobra"
)

func newInitCmd(g *globalOptions) *cobra.Command {
	var (
		flags overrideFlags
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the vault layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(g.configPath)

			cfg := config.Defaults()
			o := flags.overrides(cmd)
			if o.Name != nil {
				cfg.Name = *o.Name
			}
			// Relative paths are pinned now; the config may be loaded from
			// any working directory later.
			if o.VaultPath != nil {
				abs, err := filepath.Abs(config.ExpandHome(*o.VaultPath))
				if err != nil {
					return err
				}
				cfg.VaultPath = abs
			}
			if o.VaultRoot != nil {
				abs, err := filepath.Abs(config.ExpandHome(*o.VaultRoot))
				if err != nil {
					return err
				}
				cfg.VaultRoot = abs
			}
			if o.Timeout != nil {
				cfg.Timeout = *o.Timeout
			}
			if err := config.WriteFile(path, cfg, force); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return err
				}
				return fmt.Errorf("init: %w", err)
			}

			loaded, err := config.Load(path, config.Overrides{})
			if err != nil {
				return fmt.Errorf("written config does not load: %w", err)
			}
			store, err := jobstore.New(loaded.VaultPath, loaded.Watch.Patterns...)
			if err != nil {
				return err
			}
			if err := store.EnsureLayout(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", path)
			fmt.Fprintf(out, "Vault ready at %s\n", loaded.VaultPath)
			fmt.Fprintf(out, "Drop a markdown file into %s and run 'familiar run'.\n", store.Dir(jobstore.StatePending))
			return nil
		},
	}
	flags.register(cmd, true)
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
