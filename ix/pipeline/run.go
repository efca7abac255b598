package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// Options configure one pipeline import
type Options struct {
	JobID               string
	Target              string
	Consumers           int
	QueueCapacity       int
	BatchSize           int
	PollTimeout         time.Duration
	CommitCheckInterval time.Duration
	UnitOfWorkTimeout   time.Duration
	StatusPollInterval  time.Duration
	ProgressLogInterval time.Duration
	MaxDocsPerSecond    float64
}

// OptionsFromConfig maps the import section of the configuration
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		Consumers:           cfg.Import.Consumers,
		QueueCapacity:       cfg.Import.QueueCapacity,
		BatchSize:           cfg.Import.BatchSize,
		PollTimeout:         cfg.Import.GetPollTimeout(),
		CommitCheckInterval: cfg.Import.GetCommitCheckInterval(),
		UnitOfWorkTimeout:   cfg.Import.GetUnitOfWorkTimeout(),
		StatusPollInterval:  cfg.Import.GetStatusPollInterval(),
		ProgressLogInterval: cfg.Import.GetProgressLogInterval(),
		MaxDocsPerSecond:    cfg.Import.MaxDocsPerSecond,
	}
}

func (o Options) withDefaults() Options {
	if o.JobID == "" {
		o.JobID = uuid.NewString()
	}
	if o.Consumers < 1 {
		o.Consumers = am.DefaultConsumers
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = am.DefaultQueueCapacity
	}
	if o.StatusPollInterval <= 0 {
		o.StatusPollInterval = am.DefaultStatusPollIntervalMS * time.Millisecond
	}
	if o.ProgressLogInterval <= 0 {
		o.ProgressLogInterval = am.DefaultProgressLogIntervalSecs * time.Second
	}
	if o.UnitOfWorkTimeout <= 0 {
		o.UnitOfWorkTimeout = am.DefaultUnitOfWorkTimeoutSeconds * time.Second
	}
	return o
}

// Pipeline imports a source tree through a QueueManager and a fixed set of consumers
type Pipeline struct {
	repo      ix.Repository
	factory   ix.Factory
	opts      Options
	logger    *zap.SugaredLogger
	listeners []ix.Listener
	sink      ix.ProgressSink
}

func NewPipeline(repo ix.Repository, factory ix.Factory, opts Options, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{
		repo:    repo,
		factory: factory,
		opts:    opts.withDefaults(),
		logger:  log.Named("pipeline"),
	}
}

// AddListener registers l for every failure of subsequent runs
func (p *Pipeline) AddListener(l ix.Listener) {
	p.listeners = append(p.listeners, l)
}

// SetProgressSink receives progress at every status poll
func (p *Pipeline) SetProgressSink(s ix.ProgressSink) {
	p.sink = s
}

// Run imports source with default wiring and no listeners
func Run(ctx context.Context, repo ix.Repository, factory ix.Factory, source ix.Node, opts Options, log *zap.SugaredLogger) (*ix.Report, error) {
	return NewPipeline(repo, factory, opts, log).Run(ctx, source)
}

// Run imports source under the configured target and returns once every consumer stopped.
// Cancelling ctx drains: consumers commit or replay what they hold, queued nodes are
// reported as aborted.
func (p *Pipeline) Run(ctx context.Context, source ix.Node) (*ix.Report, error) {
	opts := p.opts
	jc := ix.NewJobContext(opts.JobID, p.listeners...)
	log := p.logger.With(logger.FieldJobID, opts.JobID)

	setupCtx := ix.WithWorkerID(ctx, "pipeline")
	target, err := ix.ResolveTarget(setupCtx, p.repo, opts.Target, opts.UnitOfWorkTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve target %q", opts.Target)
	}

	// Consumers route by sub-tree, so the root container is written before any of them starts
	skipRoot := source.IsContainer()
	if skipRoot {
		if _, err := ix.ResolveTarget(setupCtx, p.repo, ix.JoinPath(target.Path, source.Name()), opts.UnitOfWorkTimeout); err != nil {
			return nil, errors.Wrapf(err, "create root container %s", source.Name())
		}
	}

	log.Infow("Starting pipeline",
		logger.FieldSource, ix.NodePath(source),
		logger.FieldTarget, target.Path,
		"consumers", opts.Consumers,
		logger.FieldBatchSize, opts.BatchSize,
		"queue_capacity", opts.QueueCapacity)

	qm := NewQueueManager(opts.Consumers, opts.QueueCapacity, log)
	mapper := ix.PathMapper{Factory: p.factory, Root: target}
	cfg := ConsumerConfig{
		BatchSize:           opts.BatchSize,
		PollTimeout:         opts.PollTimeout,
		CommitCheckInterval: opts.CommitCheckInterval,
		UnitOfWorkTimeout:   opts.UnitOfWorkTimeout,
		Throttle:            ix.NewThrottle(opts.MaxDocsPerSecond),
	}

	var (
		wg       sync.WaitGroup
		running  atomic.Int32
		fatalMu  sync.Mutex
		fatalErr error
	)
	for i := 0; i < qm.Len(); i++ {
		c := NewConsumer(i, qm.Queue(i), qm.CanStop, mapper, p.repo, jc, cfg, log)
		wg.Add(1)
		running.Add(1)
		go func(i int) {
			defer wg.Done()
			defer running.Add(-1)
			if err := c.Run(ctx); err != nil {
				qm.MarkDead(i)
				fatalMu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				fatalMu.Unlock()
			}
		}(i)
	}

	producer := &TreeProducer{
		Root:     source,
		SkipRoot: skipRoot,
		Report: func(kind ix.ErrorKind, path string, err error) {
			jc.RecordFailure(ix.ImportError{Worker: "producer", Path: path, Err: err, Kind: kind})
		},
	}
	qm.AddProducer(ctx, producer)

	producersDone := make(chan error, 1)
	go func() {
		producersDone <- qm.Wait()
	}()

	consumersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(consumersDone)
	}()

	p.waitForConsumers(ctx, jc, qm, &running, consumersDone, log)

	produceErr := <-producersDone
	if left := qm.Drain(func(_ int, node ix.Node) {
		jc.RecordFailure(ix.ImportError{
			Worker: "producer",
			Path:   ix.NodePath(node),
			Err:    errors.ErrAborted,
			Kind:   ix.ErrorKindAborted,
		})
	}); left > 0 {
		log.Warnw("Nodes left in queues", logger.FieldCount, left)
	}

	report := ix.NewReport(jc, jc.Elapsed())
	report.Tasks = opts.Consumers
	report.Err = fatalErr
	log.Infow("Pipeline finished",
		logger.FieldDocs, report.DocumentsCreated,
		logger.FieldDocsPerSec, report.Throughput,
		logger.FieldElapsed, report.Elapsed.String(),
		"dispatched", producer.Dispatched(),
		"failures", report.FailureCount,
		"stats", report.Stats.String())

	if produceErr != nil && !errors.Is(produceErr, context.Canceled) && !errors.Is(produceErr, context.DeadlineExceeded) {
		return report, errors.Wrap(produceErr, "produce")
	}
	return report, nil
}

func (p *Pipeline) waitForConsumers(ctx context.Context, jc *ix.JobContext, qm *QueueManager, running *atomic.Int32, consumersDone <-chan struct{}, log *zap.SugaredLogger) {
	ticker := time.NewTicker(p.opts.StatusPollInterval)
	defer ticker.Stop()

	progressLog := rate.Sometimes{Interval: p.opts.ProgressLogInterval}
	done := ctx.Done()

	for {
		select {
		case <-consumersDone:
			return
		case <-done:
			log.Infow("Pipeline interrupted, consumers draining")
			jc.Abort()
			done = nil
			continue
		case <-ticker.C:
		}

		elapsed := jc.Elapsed()
		docs := jc.DocumentsCreated()
		progress := ix.Progress{
			JobID:         jc.ID(),
			Documents:     docs,
			Processed:     jc.Stats().Get(ix.StatNodesProcessed),
			ActiveWorkers: int(running.Load()),
			QueuedTasks:   qm.Depth(),
			Elapsed:       elapsed,
			DocsPerSecond: ix.Rate(docs, elapsed),
		}
		if p.sink != nil {
			p.sink.OnProgress(progress)
		}
		progressLog.Do(func() {
			log.Infow("Pipeline progress",
				logger.FieldDocs, progress.Documents,
				logger.FieldDocsPerSec, progress.DocsPerSecond,
				logger.FieldActive, progress.ActiveWorkers,
				logger.FieldQueued, progress.QueuedTasks)
		})
	}
}
