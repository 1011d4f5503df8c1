package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/familiar/internal/tui"
	"github.com/spf13/cobra"
)

func newMonitorCmd(g *globalOptions) *cobra.Command {
	var flags overrideFlags
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal view of the vault's jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, flags.overrides(cmd))
			if err != nil {
				return err
			}
			store, err := openStore(cmd, g, &flags)
			if err != nil {
				return err
			}
			p := tea.NewProgram(tui.NewMonitor(store, cfg.Name), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}
