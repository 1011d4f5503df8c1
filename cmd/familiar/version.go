package main

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "familiar %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output version metadata as JSON")
	return cmd
}

// currentVersionInfo prefers ldflags values and falls back to the VCS
// stamps the Go toolchain embeds.
func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(gitCommit),
		BuildTime: strings.TrimSpace(buildDate),
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}
	if info.Commit == "" || info.Commit == "unknown" {
		info.Commit = readBuildSetting("vcs.revision", "unknown")
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	if info.BuildTime == "" || info.BuildTime == "unknown" {
		info.BuildTime = readBuildSetting("vcs.time", "unknown")
	}
	return info
}

func readBuildSetting(key, fallback string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	for _, s := range bi.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value
		}
	}
	return fallback
}
