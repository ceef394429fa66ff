package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags.
var (
	version   = "0.1.0-dev"
	gitCommit = ""
	buildDate = ""
)

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show tds2pdb build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		payload := versionPayload{
			Tool:      "tds2pdb",
			Version:   version,
			GitCommit: strings.TrimSpace(gitCommit),
			BuildDate: strings.TrimSpace(buildDate),
		}
		switch strings.ToLower(versionFormat) {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		case "pretty":
			v := newColor(cmd, os.Stdout, color.FgYellow, color.Bold)
			fmt.Fprintf(out, "tds2pdb %s\n", v.Sprint(payload.Version))
			if payload.GitCommit != "" {
				fmt.Fprintf(out, "commit: %s\n", payload.GitCommit)
			}
			if payload.BuildDate != "" {
				fmt.Fprintf(out, "built:  %s\n", payload.BuildDate)
			}
			return nil
		}
		return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
	},
}
