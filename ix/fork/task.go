package fork

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// env is what every task of one import shares
type env struct {
	jc         *ix.JobContext
	repo       ix.Repository
	factory    ix.Factory
	policy     ThreadingPolicy
	pool       *Pool
	throttle   *ix.Throttle
	batchSize  int
	uowTimeout time.Duration
	logger     *zap.SugaredLogger
}

// Task imports one sub-tree. It runs once on a pool worker.
type Task struct {
	env    *env
	node   ix.Node
	target ix.DocRef
	// skipContainerCreation is set on forked tasks: target already is node's container
	// and children were listed by the parent task.
	skipContainerCreation bool
	children              []ix.Node
	// isRoot suppresses the first fork decision of the bootstrap task
	isRoot bool

	id string
}

func newTask(e *env, node ix.Node, target ix.DocRef) *Task {
	return &Task{env: e, node: node, target: target}
}

func newForkedTask(e *env, node ix.Node, container ix.DocRef, children []ix.Node) *Task {
	return &Task{env: e, node: node, target: container, skipContainerCreation: true, children: children}
}

// ID returns the task id, assigned when the task starts running
func (t *Task) ID() string {
	return t.id
}

// taskRun is the mutable state of one running task, owned by its worker goroutine
type taskRun struct {
	task   *Task
	worker int
	stats  *ix.ImportStat
	log    *zap.SugaredLogger

	uow ix.UnitOfWork
	// pending holds the writes of the open unit-of-work in order
	pending           []pendingWrite
	pendingLeaves     int64
	pendingContainers int64
	processed         int64
	rootDecisionTaken bool
	current           string
	// rewritten maps paths rewritten by rewritePending to their new references
	rewritten map[string]ix.DocRef
}

type pendingWrite struct {
	parent ix.DocRef
	node   ix.Node
}

// Run imports the task's sub-tree. Failures are reported through the job context;
// the worker is always released.
func (t *Task) Run(ctx context.Context, worker int) {
	e := t.env
	t.id = e.jc.NextTaskID()
	ctx = ix.WithWorkerID(ctx, t.id)

	r := &taskRun{
		task:   t,
		worker: worker,
		stats:  ix.NewImportStat(),
		log: e.logger.With(
			logger.FieldTaskID, t.id,
			logger.FieldWorkerID, worker,
			logger.FieldPath, ix.NodePath(t.node)),
	}
	r.stats.Increase(ix.StatTasks, 1)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.stats.Increase(ix.StatPanics, 1)
			r.discard()
			r.report(ix.ErrorKindPanic, r.current, errors.Newf("panic: %v", rec))
			r.log.Errorw("Task panicked", "panic", rec)
		}
		e.jc.MergeStats(r.stats)
		r.log.Debugw("Task finished",
			logger.FieldDocs, r.stats.Get(ix.StatDocumentsCreated),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}()

	if e.jc.Aborted() {
		r.stats.Increase(ix.StatAborted, 1)
		r.report(ix.ErrorKindAborted, ix.NodePath(t.node), errors.ErrAborted)
		return
	}

	r.log.Debugw("Task started", "forked", t.skipContainerCreation)

	var err error
	if t.skipContainerCreation {
		err = r.walkChildren(ctx, t.target, t.children)
	} else {
		err = r.process(ctx, t.target, t.node)
	}
	r.finish(err)
}

// process writes node under parent, then its sub-tree. A node that cannot be
// mapped is reported and skipped with its sub-tree; the walk goes on.
func (r *taskRun) process(ctx context.Context, parent ix.DocRef, node ix.Node) error {
	if err := r.checkAbort(ctx); err != nil {
		return err
	}
	if err := r.task.env.throttle.Wait(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "throttle"), errors.ErrAborted)
	}
	if err := r.ensureUnitOfWork(ctx); err != nil {
		return err
	}

	parent = r.resolve(parent)
	r.current = ix.NodePath(node)
	ref, err := ix.Create(ctx, r.task.env.factory, r.uow, parent, node)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Mark(err, errors.ErrAborted)
		}
		if errors.IsAny(err, errors.ErrTimeout, errors.ErrUnitOfWorkClosed) {
			return errors.Mark(err, errors.ErrCommit)
		}
		return r.skip(ctx, err)
	}
	r.processed++
	r.stats.Increase(ix.StatNodesProcessed, 1)
	r.pending = append(r.pending, pendingWrite{parent: parent, node: node})
	r.log.Debugw("Node written", logger.FieldDocPath, ref.Path)

	if !node.IsContainer() {
		r.pendingLeaves++
		if r.pendingLeaves >= int64(r.task.env.batchSize) {
			return r.commit()
		}
		return nil
	}
	r.pendingContainers++

	children, err := ix.CollectChildren(ctx, node)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Mark(errors.Wrap(err, "list children"), errors.ErrAborted)
		}
		return r.skip(ctx, ix.NewMappingError(ix.NodePath(node), errors.Wrap(err, "list children")))
	}
	if len(children) == 0 {
		return nil
	}

	forked, err := r.maybeFork(ctx, ref, node, children)
	if err != nil || forked {
		return err
	}
	return r.walkChildren(ctx, ref, children)
}

// skip reports a mapping failure. When the failed write left the unit-of-work
// rollback-only, the writes before it are carried into a fresh one.
func (r *taskRun) skip(ctx context.Context, err error) error {
	path := r.current
	var me *ix.MappingError
	if errors.As(err, &me) {
		path = me.Path
	}
	r.stats.Increase(ix.StatMappingErrors, 1)
	r.report(ix.ErrorKindMapping, path, err)
	r.log.Warnw("Mapping failed, skipping sub-tree", logger.FieldDocPath, path, logger.FieldError, err)

	if r.uow != nil && r.uow.IsRollbackOnly() {
		return r.rewritePending(ctx)
	}
	return nil
}

// rewritePending rolls back a poisoned unit-of-work and rewrites its earlier writes into a new one
func (r *taskRun) rewritePending(ctx context.Context) error {
	writes := r.pending
	r.discard()
	if len(writes) == 0 {
		return nil
	}
	if err := r.ensureUnitOfWork(ctx); err != nil {
		return err
	}

	r.stats.Increase(ix.StatReplays, 1)
	for _, w := range writes {
		ref, err := ix.Create(ctx, r.task.env.factory, r.uow, r.resolve(w.parent), w.node)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Mark(err, errors.ErrAborted)
			}
			return errors.Mark(errors.Wrapf(err, "rewrite %s", ix.NodePath(w.node)), errors.ErrCommit)
		}
		if r.rewritten == nil {
			r.rewritten = make(map[string]ix.DocRef)
		}
		r.rewritten[ref.Path] = ref
		r.pending = append(r.pending, pendingWrite{parent: r.resolve(w.parent), node: w.node})
		if w.node.IsContainer() {
			r.pendingContainers++
		} else {
			r.pendingLeaves++
		}
	}
	r.stats.Increase(ix.StatReplayedNodes, int64(len(writes)))
	r.log.Debugw("Rewrote writes of rolled back unit of work", logger.FieldCount, len(writes))
	return nil
}

// resolve returns the current reference for a document rewritePending rewrote
func (r *taskRun) resolve(ref ix.DocRef) ix.DocRef {
	if current, ok := r.rewritten[ref.Path]; ok {
		return current
	}
	return ref
}

func (r *taskRun) walkChildren(ctx context.Context, container ix.DocRef, children []ix.Node) error {
	for _, child := range children {
		if err := r.process(ctx, container, child); err != nil {
			return err
		}
	}
	return nil
}

// maybeFork asks the policy whether node's children go to a new task.
// On acceptance pending work is committed first so the new task sees the container.
func (r *taskRun) maybeFork(ctx context.Context, container ix.DocRef, node ix.Node, children []ix.Node) (bool, error) {
	e := r.task.env
	container = r.resolve(container)

	if r.task.isRoot && !r.rootDecisionTaken {
		r.rootDecisionTaken = true
		r.log.Debugw("Root task keeps its first container in-thread", logger.FieldDocPath, container.Path)
		return false, nil
	}

	req := ForkRequest{
		Parent:         container,
		Child:          node,
		ChildCount:     len(children),
		ProcessedSoFar: r.processed,
		BatchSize:      e.batchSize,
		QueueDepth:     e.pool.QueueDepth(),
		QueueCapacity:  e.pool.QueueCapacity(),
		ActiveWorkers:  e.pool.ActiveCount(),
		Workers:        e.pool.Workers(),
	}
	if !e.policy.ShouldFork(req) {
		return false, nil
	}

	if err := r.commit(); err != nil {
		return false, err
	}

	child := newForkedTask(e, node, container, children)
	if err := e.pool.TrySubmit(child); err != nil {
		r.stats.Increase(ix.StatForksRejected, 1)
		r.log.Debugw("Fork rejected, continuing in-thread",
			logger.FieldDocPath, container.Path,
			logger.FieldQueued, req.QueueDepth)
		return false, nil
	}

	r.stats.Increase(ix.StatForks, 1)
	r.log.Debugw("Forked sub-tree",
		logger.FieldDocPath, container.Path,
		logger.FieldCount, len(children),
		logger.FieldQueued, e.pool.QueueDepth())
	return true, nil
}

func (r *taskRun) checkAbort(ctx context.Context) error {
	if r.task.env.jc.Aborted() {
		return errors.ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return errors.Mark(errors.Wrap(err, "import interrupted"), errors.ErrAborted)
	}
	return nil
}

func (r *taskRun) ensureUnitOfWork(ctx context.Context) error {
	if r.uow != nil {
		return nil
	}
	uow, err := r.task.env.repo.Begin(ctx, r.task.env.uowTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Mark(errors.Wrap(err, "begin unit of work"), errors.ErrAborted)
		}
		return errors.Mark(errors.Wrap(err, "begin unit of work"), errors.ErrCommit)
	}
	r.uow = uow
	return nil
}

// commit makes pending writes durable and publishes their counts.
// A unit-of-work without writes is released without a commit.
func (r *taskRun) commit() error {
	if r.uow == nil {
		return nil
	}
	if r.pendingLeaves == 0 && r.pendingContainers == 0 {
		r.uow.Rollback()
		r.uow = nil
		r.pending = r.pending[:0]
		return nil
	}

	uow := r.uow
	r.uow = nil
	r.pending = r.pending[:0]
	leaves, containers := r.pendingLeaves, r.pendingContainers
	r.pendingLeaves, r.pendingContainers = 0, 0

	if err := uow.Commit(); err != nil {
		r.stats.Increase(ix.StatCommitErrors, 1)
		return errors.Mark(errors.Wrapf(err, "commit %d writes", leaves+containers), errors.ErrCommit)
	}

	r.stats.Increase(ix.StatCommits, 1)
	r.stats.Increase(ix.StatDocumentsCreated, leaves)
	r.stats.Increase(ix.StatLeavesCreated, leaves)
	r.stats.Increase(ix.StatContainersCreated, containers)
	r.task.env.jc.RecordProgress(r.worker, r.task.id, leaves)
	return nil
}

// discard rolls back uncommitted writes
func (r *taskRun) discard() {
	if r.uow == nil {
		return
	}
	r.uow.SetRollbackOnly()
	if err := r.uow.Rollback(); err != nil {
		r.log.Warnw("Rollback failed", logger.FieldError, err)
	}
	r.uow = nil
	r.pending = nil
	r.pendingLeaves, r.pendingContainers = 0, 0
	r.stats.Increase(ix.StatRollbacks, 1)
}

// finish performs the final save: commit on success or interruption, rollback on a
// commit or unit-of-work failure
func (r *taskRun) finish(err error) {
	switch {
	case err == nil:
		if cerr := r.commit(); cerr != nil {
			r.report(ix.ErrorKindCommit, r.current, cerr)
		}

	case errors.Is(err, errors.ErrAborted):
		if cerr := r.commit(); cerr != nil {
			r.report(ix.ErrorKindCommit, r.current, cerr)
		}
		r.stats.Increase(ix.StatAborted, 1)
		r.report(ix.ErrorKindAborted, r.current, err)
		r.log.Infow("Task stopped early", "reason", err.Error())

	default:
		r.discard()
		r.report(ix.ErrorKindCommit, r.current, err)
		r.log.Errorw("Task failed", logger.FieldError, err)
	}
}

func (r *taskRun) report(kind ix.ErrorKind, path string, err error) {
	if path == "" {
		path = ix.NodePath(r.task.node)
	}
	r.task.env.jc.RecordFailure(ix.ImportError{
		Worker: r.task.id,
		Path:   path,
		Err:    err,
		Kind:   kind,
	})
}

func (t *Task) String() string {
	return fmt.Sprintf("Task{%s %s forked=%v}", t.id, ix.NodePath(t.node), t.skipContainerCreation)
}
