package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/manifest"
)

// RunCmd imports what a manifest describes
var RunCmd = &cobra.Command{
	Use:   "run <manifest.toml>",
	Short: "Run an import described by a manifest",
	Long: `Run an import described by a TOML manifest.

The [job] table names the source, target and engine; [options] overrides
configuration for this run only. A relative source is resolved against the
manifest's directory.

  [job]
  name = "nightly"
  source = "./export"
  target = "/imports/nightly"
  mode = "pipeline"          # or "fork" (default)
  git_revision = ""          # read source as a git repository at this revision

  [options]
  batch_size = 200
  consumers = 4
  policy = "never"
  failure_threshold = 0.01

Examples:
  ixbulk run nightly.toml
  ixbulk run nightly.toml --dry-run --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}

		loaded, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		cfg := *loaded
		if err := m.Apply(&cfg); err != nil {
			return errors.Wrapf(err, "apply manifest %s", args[0])
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runJob(cmd, &cfg, jobSpec{
			Name:        m.Job.Name,
			Source:      m.Job.Source,
			Target:      m.Job.Target,
			Mode:        m.Mode(),
			GitRevision: m.Job.GitRevision,
			DryRun:      dryRun || m.Options.DryRun,
		})
	},
}

func init() {
	RunCmd.Flags().Bool("dry-run", false, "Import into memory and discard the result")
}
