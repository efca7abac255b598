package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/jobs"
)

// ImportCmd runs the recursive-fork importer
var ImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import a tree with the recursive-fork importer",
	Long: `Import a directory, git tree or remote archive into the document repository.

Every container becomes a container document and every file a leaf document.
Sub-trees are handed to idle pool workers while the threading policy allows it;
when the pending queue is full the finding worker imports them itself.

The source may be a local path, a git URL or any go-getter address
(https archives, s3::, gcs::). With --git-rev the source is read as a git
repository at that revision instead of as a working tree.

Examples:
  ixbulk import ./export                          # Import under the repository root
  ixbulk import ./export --target /imports/2024   # Import under /imports/2024
  ixbulk import . --git-rev v1.2.0                # Import the tree of a tag
  ixbulk import ./export --threads 16 --dry-run   # Rehearse without writing
  ixbulk import ./export --watch-config           # Follow policy edits in ~/.ixbulk/am.toml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImportCommand(cmd, args[0], jobs.ModeFork)
	},
}

// PipelineCmd runs the producer/consumer pipeline
var PipelineCmd = &cobra.Command{
	Use:   "pipeline <source>",
	Short: "Import a tree with the consumer pipeline",
	Long: `Import a tree with one producer walking the source and N consumers writing it.

Nodes are routed to consumers by their top-level sub-tree, so a container
and its descendants always land on the same consumer in order. A node that
cannot be mapped is replayed on its own and skipped; the rest of its batch
is kept.

Examples:
  ixbulk pipeline ./export --consumers 4
  ixbulk pipeline git::https://example.com/docs.git --target /docs`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImportCommand(cmd, args[0], jobs.ModePipeline)
	},
}

func init() {
	for _, c := range []*cobra.Command{ImportCmd, PipelineCmd} {
		addJobFlags(c.Flags())
	}

	ImportCmd.Flags().Int("threads", 0, "Pool size (default from import.thread_count)")
	ImportCmd.Flags().Int("pending", 0, "Pending-task queue capacity; 0 keeps every sub-tree in its worker")
	ImportCmd.Flags().String("policy", "", "Fork policy: default, always, never")
	ImportCmd.Flags().Bool("watch-config", false, "Reload the fork policy when ~/.ixbulk/am.toml changes")

	PipelineCmd.Flags().Int("consumers", 0, "Number of consumers (default from import.consumers)")
	PipelineCmd.Flags().Int("queue-capacity", 0, "Per-consumer queue bound")
}

func addJobFlags(flags *pflag.FlagSet) {
	flags.String("target", "/", "Repository path to import under")
	flags.String("name", "", "Job name shown in ixbulk jobs ls")
	flags.String("git-rev", "", "Read the source as a git repository at this revision")
	flags.Int("batch-size", 0, "Writes per commit (default from import.batch_size)")
	flags.Float64("max-docs-per-second", 0, "Throttle document writes; 0 = unlimited")
	flags.Float64("failure-threshold", 0, "Exit non-zero when failures/processed exceeds this ratio")
	flags.Bool("dry-run", false, "Import into memory and discard the result")
}

func runImportCommand(cmd *cobra.Command, source string, mode jobs.Mode) error {
	loaded, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	cfg := *loaded
	if err := applyFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return err
	}

	flags := cmd.Flags()
	spec := jobSpec{Source: source, Mode: mode}
	spec.Target, _ = flags.GetString("target")
	spec.Name, _ = flags.GetString("name")
	spec.GitRevision, _ = flags.GetString("git-rev")
	spec.DryRun, _ = flags.GetBool("dry-run")
	spec.WatchConfig, _ = flags.GetBool("watch-config")

	return runJob(cmd, &cfg, spec)
}

// applyFlagOverrides copies explicitly set flags onto cfg and revalidates it
func applyFlagOverrides(flags *pflag.FlagSet, cfg *am.Config) error {
	intFlags := []struct {
		name string
		dst  *int
	}{
		{"threads", &cfg.Import.ThreadCount},
		{"pending", &cfg.Import.PendingQueueCapacity},
		{"batch-size", &cfg.Import.BatchSize},
		{"consumers", &cfg.Import.Consumers},
		{"queue-capacity", &cfg.Import.QueueCapacity},
	}
	for _, f := range intFlags {
		if flags.Changed(f.name) {
			v, err := flags.GetInt(f.name)
			if err != nil {
				return err
			}
			*f.dst = v
		}
	}

	floatFlags := []struct {
		name string
		dst  *float64
	}{
		{"max-docs-per-second", &cfg.Import.MaxDocsPerSecond},
		{"failure-threshold", &cfg.Import.FailureThreshold},
	}
	for _, f := range floatFlags {
		if flags.Changed(f.name) {
			v, err := flags.GetFloat64(f.name)
			if err != nil {
				return err
			}
			*f.dst = v
		}
	}

	if flags.Changed("policy") {
		cfg.Policy.Mode, _ = flags.GetString("policy")
	}

	if err := cfg.Validate(); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid flags"), errors.ErrInvalidRequest)
	}
	return nil
}
