package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattjoyce/familiar/internal/inspect"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/spf13/cobra"
)

func newJobCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect, list and submit job files",
	}
	cmd.AddCommand(newJobInspectCmd(g), newJobListCmd(g), newJobSubmitCmd(g))
	return cmd
}

func openStore(cmd *cobra.Command, g *globalOptions, flags *overrideFlags) (*jobstore.Store, error) {
	cfg, err := loadConfig(g, flags.overrides(cmd))
	if err != nil {
		return nil, err
	}
	return jobstore.New(cfg.VaultPath, cfg.Watch.Patterns...)
}

func newJobInspectCmd(g *globalOptions) *cobra.Command {
	var (
		flags   overrideFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show a job's metadata, reports and digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, g, &flags)
			if err != nil {
				return err
			}
			var out string
			if jsonOut {
				out, err = inspect.BuildJSONReport(store, args[0])
			} else {
				out, err = inspect.BuildReport(store, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			if jsonOut {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	flags.register(cmd, false)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newJobListCmd(g *globalOptions) *cobra.Command {
	var (
		flags   overrideFlags
		state   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job files by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, g, &flags)
			if err != nil {
				return err
			}
			states := jobstore.AllStates()
			if state != "" {
				s, err := jobstore.ParseState(state)
				if err != nil {
					return err
				}
				states = []jobstore.State{s}
			}

			entries := make([]jobstore.Entry, 0)
			for _, s := range states {
				list, err := store.List(s)
				if err != nil {
					return err
				}
				entries = append(entries, list...)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No jobs.")
				return nil
			}

			now := time.Now()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STATE\tNAME\tSIZE\tMODIFIED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.State, e.Name,
					humanize.Bytes(uint64(e.Size)),
					humanize.RelTime(e.ModTime, now, "ago", "from now"),
				)
			}
			return tw.Flush()
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringVar(&state, "state", "", "pending, processing, done or failed (default all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newJobSubmitCmd(g *globalOptions) *cobra.Command {
	var (
		flags overrideFlags
		name  string
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Copy a markdown file into Jobs",
		Long: `Copy a file into Jobs under its base name (or --name). The copy appears
in Jobs fully written; an existing pending job with the same name is never
replaced, a numbered suffix is used instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, g, &flags)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read job: %w", err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			if !store.Matches(name) {
				return fmt.Errorf("%s does not match the watched patterns", name)
			}
			if err := store.EnsureLayout(); err != nil {
				return err
			}
			dest, err := store.Submit(name, string(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s\n", dest)
			return nil
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringVar(&name, "name", "", "job file name in Jobs (default: the file's base name)")
	return cmd
}
