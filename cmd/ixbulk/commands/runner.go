package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/db"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/ix/factory"
	"github.com/teranos/ixbulk/ix/fork"
	"github.com/teranos/ixbulk/ix/pipeline"
	"github.com/teranos/ixbulk/ix/progress"
	"github.com/teranos/ixbulk/ix/source/fsnode"
	"github.com/teranos/ixbulk/ix/source/gitnode"
	"github.com/teranos/ixbulk/ix/source/resolve"
	"github.com/teranos/ixbulk/jobs"
	"github.com/teranos/ixbulk/logger"
	"github.com/teranos/ixbulk/repository/memstore"
	"github.com/teranos/ixbulk/repository/sqlstore"
)

// Process exit codes
const (
	ExitFailure     = 1
	ExitFatal       = 2
	ExitThreshold   = 3
	ExitInterrupted = 130
)

// ExitError carries the process exit code for a failed import
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// jobSpec is everything one import needs besides configuration
type jobSpec struct {
	Name        string
	Source      string
	Target      string
	Mode        jobs.Mode
	GitRevision string
	DryRun      bool
	WatchConfig bool
}

// runJob resolves the source, runs the engine and records the job
func runJob(cmd *cobra.Command, cfg *am.Config, spec jobSpec) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.ComponentLogger("ixbulk")
	emitter := newEmitter(cmd)

	emitter.EmitStage("resolve", spec.Source)
	src, err := resolve.Resolve(ctx, spec.Source, log)
	if err != nil {
		emitter.EmitError("resolve", err)
		return err
	}
	defer src.Cleanup()

	root, err := openSource(src.LocalPath, spec.GitRevision)
	if err != nil {
		emitter.EmitError("source", err)
		return err
	}

	repo, database, err := openRepository(cfg, spec.DryRun, log)
	if err != nil {
		emitter.EmitError("database", err)
		return err
	}
	if database != nil {
		defer database.Close()
	}

	job, err := jobs.NewJob("", spec.Name, spec.Mode, spec.Source, spec.Target)
	if err != nil {
		return err
	}

	sink := progress.NewSink(emitter, cfg.Import.GetProgressLogInterval())
	sinks := ix.ProgressSinks{sink}
	listeners := []ix.Listener{sink}

	var rec *jobs.Recorder
	if database != nil {
		rec = jobs.NewRecorder(jobs.NewStore(database), job, cfg.Import.GetProgressLogInterval(), log)
		if err := rec.Start(ctx); err != nil {
			return errors.Wrap(err, "record job")
		}
		sinks = append(sinks, rec)
		listeners = append(listeners, rec)
	} else {
		emitter.EmitInfo("Dry run: documents are written to memory and discarded")
	}

	emitter.EmitStage(string(spec.Mode), fmt.Sprintf("%s → %s (job %s)", src.LocalPath, spec.Target, job.ID))
	report, err := execute(ctx, cfg, spec, job.ID, repo, root, sinks, listeners, log)

	// the job row is written even when the import was interrupted
	done := context.WithoutCancel(ctx)
	if err != nil {
		emitter.EmitError(string(spec.Mode), err)
		if rec != nil {
			if ferr := rec.Fail(done, err); ferr != nil {
				log.Warnw("Failed to record job failure", logger.FieldError, ferr)
			}
		}
		return err
	}
	if rec != nil {
		if ferr := rec.Finish(done, report); ferr != nil {
			log.Warnw("Failed to record job result", logger.FieldError, ferr)
		}
	}

	emitter.EmitComplete(report.Summary())
	return exitStatus(report, cfg.Import.FailureThreshold)
}

func execute(ctx context.Context, cfg *am.Config, spec jobSpec, jobID string, repo ix.Repository, root ix.Node, sinks ix.ProgressSinks, listeners []ix.Listener, log *zap.SugaredLogger) (*ix.Report, error) {
	f := factory.New(factory.Options{}, log.Named("factory"))

	if spec.Mode == jobs.ModePipeline {
		opts := pipeline.OptionsFromConfig(cfg)
		opts.JobID = jobID
		opts.Target = spec.Target
		// an idle consumer keeps the SQLite write lock until its poll times out
		if limit := cfg.GetBusyTimeout() / 2; !spec.DryRun && opts.PollTimeout > limit {
			opts.PollTimeout = limit
		}

		p := pipeline.NewPipeline(repo, f, opts, logger.Logger)
		for _, l := range listeners {
			p.AddListener(l)
		}
		p.SetProgressSink(sinks)
		return p.Run(ctx, root)
	}

	policy := fork.PolicyFromConfig(cfg.Policy)
	if spec.WatchConfig {
		reloadable, stopWatch := watchPolicy(policy, log)
		defer stopWatch()
		policy = reloadable
	}

	opts := fork.OptionsFromConfig(cfg)
	opts.JobID = jobID
	opts.Target = spec.Target

	imp := fork.NewImporter(repo, f, policy, opts, logger.Logger)
	for _, l := range listeners {
		imp.AddListener(l)
	}
	imp.SetProgressSink(sinks)
	return imp.Run(ctx, root)
}

// watchPolicy swaps in the policy section of the user config whenever the file changes
func watchPolicy(policy fork.ThreadingPolicy, log *zap.SugaredLogger) (fork.ThreadingPolicy, func()) {
	reloadable := fork.NewReloadablePolicy(policy)
	path := am.UserConfigPath()
	if path == "" {
		return reloadable, func() {}
	}

	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		log.Warnw("Config watch unavailable, policy is fixed for this run", logger.FieldError, err)
		return reloadable, func() {}
	}
	watcher.OnReload(reloadable.OnReload())
	watcher.Start()
	log.Infow("Watching config for policy changes", logger.FieldPath, path)

	return reloadable, func() {
		if err := watcher.Stop(); err != nil {
			log.Debugw("Config watcher stop failed", logger.FieldError, err)
		}
	}
}

// openSource opens a git tree when a revision is given, the filesystem otherwise
func openSource(path, revision string) (ix.Node, error) {
	if revision != "" {
		node, err := gitnode.Open(path, revision)
		if err != nil {
			return nil, err
		}
		return node, nil
	}
	node, err := fsnode.Open(path)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// openRepository returns the SQLite repository, or an in-memory one for dry runs
func openRepository(cfg *am.Config, dryRun bool, log *zap.SugaredLogger) (ix.Repository, *sql.DB, error) {
	if dryRun {
		return memstore.New(), nil, nil
	}

	path := cfg.GetDatabasePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return nil, nil, errors.Wrapf(err, "create database directory %s", dir)
		}
	}

	database, err := db.OpenWithOptions(path, db.Options{BusyTimeout: cfg.GetBusyTimeout()}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database, log); err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "migrate database")
	}
	return sqlstore.New(database, log.Named("sqlstore")), database, nil
}

// exitStatus turns the report into the process outcome
func exitStatus(report *ix.Report, threshold float64) error {
	switch {
	case report.Err != nil:
		return &ExitError{Code: ExitFatal, Err: errors.Wrap(report.Err, "import stopped on a fatal worker error")}
	case report.Aborted:
		return &ExitError{Code: ExitInterrupted, Err: errors.New("import interrupted")}
	case report.ExceedsThreshold(threshold):
		return &ExitError{Code: ExitThreshold, Err: errors.WithHint(
			errors.Newf("failure rate %.2f%% exceeds threshold %.2f%%", report.FailureRate()*100, threshold*100),
			"inspect the failures with: ixbulk jobs show "+report.JobID)}
	}
	return nil
}
