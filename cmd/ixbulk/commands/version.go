package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show ixbulk version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if useJSON(cmd) {
			return printJSON(cmd, info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		return nil
	},
}
