package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// ConsumerConfig tunes one consumer loop
type ConsumerConfig struct {
	BatchSize           int
	PollTimeout         time.Duration
	CommitCheckInterval time.Duration
	UnitOfWorkTimeout   time.Duration
	Throttle            *ix.Throttle
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize < 1 {
		c.BatchSize = am.DefaultBatchSize
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = am.DefaultPollTimeoutSeconds * time.Second
	}
	if c.CommitCheckInterval <= 0 {
		c.CommitCheckInterval = am.DefaultCommitCheckIntervalMS * time.Millisecond
	}
	if c.UnitOfWorkTimeout <= 0 {
		c.UnitOfWorkTimeout = am.DefaultUnitOfWorkTimeoutSeconds * time.Second
	}
	return c
}

// Consumer pulls nodes from one queue and writes them through its own unit-of-work.
// A mapping failure never stops it; a commit failure does.
type Consumer struct {
	index   int
	id      string
	queue   <-chan ix.Node
	canStop func() bool
	mapper  ix.Mapper
	repo    ix.Repository
	jc      *ix.JobContext
	cfg     ConsumerConfig
	log     *zap.SugaredLogger

	// owned by the Run goroutine
	batch     *ix.Batch
	uow       ix.UnitOfWork
	stats     *ix.ImportStat
	processed int64
	documents int64
	current   string

	mu         sync.Mutex
	throughput *ix.Throughput
}

// NewConsumer creates consumer index reading queue. canStop reports that no producer
// will dispatch again; nil means never.
func NewConsumer(index int, queue <-chan ix.Node, canStop func() bool, mapper ix.Mapper, repo ix.Repository, jc *ix.JobContext, cfg ConsumerConfig, log *zap.SugaredLogger) *Consumer {
	if canStop == nil {
		canStop = func() bool { return false }
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()
	id := fmt.Sprintf("C%d", index)
	return &Consumer{
		index:      index,
		id:         id,
		queue:      queue,
		canStop:    canStop,
		mapper:     mapper,
		repo:       repo,
		jc:         jc,
		cfg:        cfg,
		log:        log.With(logger.FieldConsumer, id),
		batch:      ix.NewBatch(cfg.BatchSize),
		stats:      ix.NewImportStat(),
		throughput: ix.NewThroughput(cfg.CommitCheckInterval),
	}
}

// ID returns the consumer id ("C0", "C1", ...)
func (c *Consumer) ID() string {
	return c.id
}

// Stats returns the consumer's counters. Only valid after Run returned.
func (c *Consumer) Stats() *ix.ImportStat {
	return c.stats.Clone()
}

// Throughput returns the immediate and lifetime documents/sec
func (c *Consumer) Throughput() (immediate, average float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throughput.Immediate(), c.throughput.Average(c.documents)
}

// Run polls until the queue is closed, the poll times out after producers finished,
// ctx is cancelled or the job is aborted. The partial batch is always committed or
// replayed before returning. The returned error is the consumer's fatal commit error.
func (c *Consumer) Run(ctx context.Context) (err error) {
	// Writes are never interrupted mid-node; cancellation is observed between polls.
	opCtx := ix.WithWorkerID(context.WithoutCancel(ctx), c.id)

	c.log.Debugw("Consumer started", logger.FieldBatchSize, c.cfg.BatchSize)
	defer func() {
		if err != nil {
			c.discard()
			c.stats.Increase(ix.StatCommitErrors, 1)
			c.report(ix.ErrorKindCommit, c.current, err)
			c.log.Errorw("Consumer stopped on commit failure", logger.FieldError, err)
		}
		c.jc.MergeStats(c.stats)
		_, avg := c.Throughput()
		c.log.Infow("Consumer stopped",
			"processed", c.processed,
			logger.FieldDocs, c.documents,
			logger.FieldDocsPerSec, avg)
	}()

	timer := time.NewTimer(c.cfg.PollTimeout)
	defer timer.Stop()

	for {
		if c.jc.Aborted() {
			return c.drain(opCtx, "aborted")
		}

		select {
		case <-ctx.Done():
			return c.drain(opCtx, "interrupted")

		case node, ok := <-c.queue:
			if !ok {
				return c.drain(opCtx, "queue closed")
			}
			if err := c.process(ctx, opCtx, node); err != nil {
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.cfg.PollTimeout)

		case <-timer.C:
			if c.canStop() {
				return c.drain(opCtx, "poll timeout")
			}
			// an idle consumer must not keep its write transaction open
			if c.batch.Len() > 0 {
				if err := c.commit(); err != nil {
					return err
				}
			}
			c.log.Debugw("Poll timed out, producers still running")
			timer.Reset(c.cfg.PollTimeout)
		}
	}
}

// process maps one node into the current unit-of-work, then commits or replays
func (c *Consumer) process(ctx, opCtx context.Context, node ix.Node) error {
	if err := c.cfg.Throttle.Wait(ctx); err != nil {
		c.log.Debugw("Throttle wait interrupted", logger.FieldError, err)
	}

	c.processed++
	c.current = ix.NodePath(node)
	c.stats.Increase(ix.StatNodesProcessed, 1)

	if err := c.ensureUnitOfWork(opCtx); err != nil {
		return err
	}
	c.batch.Add(node)

	if _, err := c.mapper.Map(opCtx, c.uow, node); err != nil {
		c.stats.Increase(ix.StatMappingErrors, 1)
		c.uow.SetRollbackOnly()
		c.log.Debugw("Mapping failed, batch will be replayed",
			logger.FieldPath, ix.NodePath(node),
			logger.FieldError, err)
	}

	if c.uow.IsRollbackOnly() {
		return c.replay(opCtx)
	}
	if c.batch.IsFull() {
		return c.commit()
	}
	return nil
}

func (c *Consumer) ensureUnitOfWork(ctx context.Context) error {
	if c.uow != nil {
		return nil
	}
	uow, err := c.repo.Begin(ctx, c.cfg.UnitOfWorkTimeout)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "begin unit of work"), errors.ErrCommit)
	}
	c.uow = uow
	return nil
}

// commit makes the batch durable and clears it
func (c *Consumer) commit() error {
	if c.uow == nil {
		c.batch.Clear()
		return nil
	}

	nodes := c.batch.Nodes()
	uow := c.uow
	c.uow = nil
	if err := uow.Commit(); err != nil {
		return errors.Mark(errors.Wrapf(err, "commit batch of %d", len(nodes)), errors.ErrCommit)
	}

	c.stats.Increase(ix.StatCommits, 1)
	c.created(nodes...)
	c.batch.Clear()

	c.mu.Lock()
	sampled := c.throughput.Sample(c.documents)
	immediate := c.throughput.Immediate()
	c.mu.Unlock()
	if sampled {
		c.log.Debugw("Batch committed",
			logger.FieldCount, len(nodes),
			logger.FieldDocs, c.documents,
			logger.FieldDocsPerSec, immediate)
	}
	return nil
}

// replay rolls back the shared unit-of-work and writes every batched node in its own
// unit-of-work, so one poisoned node costs only itself
func (c *Consumer) replay(ctx context.Context) error {
	nodes := c.batch.Nodes()
	c.discard()
	c.stats.Increase(ix.StatReplays, 1)
	c.stats.Increase(ix.StatReplayedNodes, int64(len(nodes)))
	c.log.Infow("Replaying batch node by node", logger.FieldCount, len(nodes))

	for _, node := range nodes {
		if err := c.replayOne(ctx, node); err != nil {
			c.batch.Clear()
			return err
		}
	}
	c.batch.Clear()
	return nil
}

func (c *Consumer) replayOne(ctx context.Context, node ix.Node) error {
	uow, err := c.repo.Begin(ctx, c.cfg.UnitOfWorkTimeout)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "begin replay of %s", ix.NodePath(node)), errors.ErrCommit)
	}

	if _, err := c.mapper.Map(ctx, uow, node); err != nil {
		uow.SetRollbackOnly()
		uow.Rollback()
		c.stats.Increase(ix.StatReplayFailures, 1)
		c.stats.Increase(ix.StatRollbacks, 1)
		c.report(ix.ErrorKindMapping, ix.NodePath(node), err)
		c.log.Warnw("Node failed in isolation", logger.FieldPath, ix.NodePath(node), logger.FieldError, err)
		return nil
	}

	if err := uow.Commit(); err != nil {
		c.stats.Increase(ix.StatReplayFailures, 1)
		c.report(ix.ErrorKindReplay, ix.NodePath(node), errors.Wrap(err, "commit replayed node"))
		c.log.Warnw("Replayed node did not commit", logger.FieldPath, ix.NodePath(node), logger.FieldError, err)
		return nil
	}
	c.stats.Increase(ix.StatCommits, 1)
	c.created(node)
	return nil
}

// created counts committed nodes. Only leaves are documents.
func (c *Consumer) created(nodes ...ix.Node) {
	var leaves int64
	for _, n := range nodes {
		if n.IsContainer() {
			c.stats.Increase(ix.StatContainersCreated, 1)
			continue
		}
		leaves++
	}
	if leaves == 0 {
		return
	}
	c.stats.Increase(ix.StatLeavesCreated, leaves)
	c.stats.Increase(ix.StatDocumentsCreated, leaves)
	c.mu.Lock()
	c.documents += leaves
	c.mu.Unlock()
	c.jc.RecordProgress(c.index, c.id, leaves)
}

// discard rolls back the current unit-of-work, if any
func (c *Consumer) discard() {
	if c.uow == nil {
		return
	}
	c.uow.SetRollbackOnly()
	if err := c.uow.Rollback(); err != nil {
		c.log.Warnw("Rollback failed", logger.FieldError, err)
	}
	c.uow = nil
	c.stats.Increase(ix.StatRollbacks, 1)
}

// drain performs the final commit-or-replay of the partial batch
func (c *Consumer) drain(ctx context.Context, reason string) error {
	c.log.Debugw("Consumer draining", "reason", reason, logger.FieldCount, c.batch.Len())
	if c.batch.Len() == 0 {
		c.discard()
		return nil
	}
	if c.uow != nil && c.uow.IsRollbackOnly() {
		return c.replay(ctx)
	}
	return c.commit()
}

func (c *Consumer) report(kind ix.ErrorKind, path string, err error) {
	c.jc.RecordFailure(ix.ImportError{
		Worker: c.id,
		Path:   path,
		Err:    err,
		Kind:   kind,
	})
}
