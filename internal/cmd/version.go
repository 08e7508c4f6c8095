package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionJSON bool

// buildInfo is the version payload, shared by the text and JSON output.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:   resolvedVersion(),
		Commit:    Commit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentBuild()
		out := cmd.OutOrStdout()
		if versionJSON {
			return printJSON(out, info)
		}
		fmt.Fprintf(out, "dcpguard %s (%s)\n", info.Version, info.Platform)
		fmt.Fprintf(out, "Commit: %s\n", info.Commit)
		fmt.Fprintf(out, "Built:  %s\n", info.BuildDate)
		fmt.Fprintf(out, "Go:     %s\n", info.Go)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print JSON")
	rootCmd.AddCommand(versionCmd)
}
