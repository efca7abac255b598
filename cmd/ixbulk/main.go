package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/cmd/ixbulk/commands"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/logger"
)

var rootCmd = &cobra.Command{
	Use:   "ixbulk",
	Short: "Bulk content ingestion into a document repository",
	Long: `ixbulk imports large trees of content (directories, git trees, remote
archives) into a transactional document repository.

Two engines are available:
  import    - recursive-fork importer: workers hand sub-trees to idle workers
  pipeline  - one producer, N consumers, failed batches replayed node by node

Available commands:
  import    - Import with the recursive-fork importer
  pipeline  - Import with the consumer pipeline
  run       - Run an import described by a TOML manifest
  jobs      - Inspect recorded import jobs
  db        - Schema migrations and document counts
  am        - Manage configuration ("I am")
  version   - Show version information

Examples:
  ixbulk import ./export --target /imports
  ixbulk pipeline ./export --consumers 4 --json
  ixbulk jobs ls`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(am.GetBool("log.json"), verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.PipelineCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	pterm.Error.Println(err)
	if hint := errors.FlattenHints(err); hint != "" {
		pterm.Info.Println(hint)
	}

	code := commands.ExitFailure
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	logger.Cleanup()
	os.Exit(code)
}
