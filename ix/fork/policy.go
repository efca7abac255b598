package fork

import (
	"sync/atomic"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/ix"
)

// ForkRequest is everything a policy may look at when a task reaches a container with children
type ForkRequest struct {
	// Parent is the container document already written for Child
	Parent     ix.DocRef
	Child      ix.Node
	ChildCount int
	// ProcessedSoFar counts nodes the asking task has written
	ProcessedSoFar int64
	BatchSize      int
	QueueDepth     int
	QueueCapacity  int
	ActiveWorkers  int
	Workers        int
}

// ThreadingPolicy decides whether a sub-tree is handed to a new task.
// Implementations must be pure: they run on every container and must not block.
type ThreadingPolicy interface {
	ShouldFork(req ForkRequest) bool
}

// PolicyFunc adapts a function to ThreadingPolicy
type PolicyFunc func(req ForkRequest) bool

func (f PolicyFunc) ShouldFork(req ForkRequest) bool {
	return f(req)
}

// AlwaysFork forks at every opportunity; the pool's bounded queue degrades it to in-thread work
var AlwaysFork ThreadingPolicy = PolicyFunc(func(ForkRequest) bool { return true })

// NeverFork keeps every sub-tree in the task that found it
var NeverFork ThreadingPolicy = PolicyFunc(func(ForkRequest) bool { return false })

// DefaultPolicy forks non-trivial sub-trees while the pending queue has room and
// either a worker is idle or the asking task has already done real work.
type DefaultPolicy struct {
	// MinDocsBeforeFork is the work a busy pool expects before a fork; 0 = batch size
	MinDocsBeforeFork int
	// MaxQueueFill is the pending-queue fraction above which forks stop; 0 = 0.8
	MaxQueueFill float64
}

func (p DefaultPolicy) ShouldFork(req ForkRequest) bool {
	if req.Child == nil || !req.Child.IsContainer() || req.ChildCount == 0 {
		return false
	}
	if req.QueueCapacity <= 0 {
		return false
	}

	fill := p.MaxQueueFill
	if fill <= 0 {
		fill = am.DefaultMaxQueueFill
	}
	if float64(req.QueueDepth) >= fill*float64(req.QueueCapacity) {
		return false
	}

	if req.ActiveWorkers < req.Workers {
		return true
	}

	minDocs := int64(p.MinDocsBeforeFork)
	if minDocs <= 0 {
		minDocs = int64(req.BatchSize)
	}
	return req.ProcessedSoFar >= minDocs
}

// PolicyFromConfig builds the policy named by cfg.Mode
func PolicyFromConfig(cfg am.PolicyConfig) ThreadingPolicy {
	switch cfg.Mode {
	case am.PolicyModeAlways:
		return AlwaysFork
	case am.PolicyModeNever:
		return NeverFork
	default:
		return DefaultPolicy{MinDocsBeforeFork: cfg.MinDocsBeforeFork, MaxQueueFill: cfg.MaxQueueFill}
	}
}

type policyBox struct {
	policy ThreadingPolicy
}

// ReloadablePolicy delegates to a policy that can be swapped while an import runs
type ReloadablePolicy struct {
	current atomic.Pointer[policyBox]
}

func NewReloadablePolicy(initial ThreadingPolicy) *ReloadablePolicy {
	r := &ReloadablePolicy{}
	r.Store(initial)
	return r
}

// Store replaces the delegate
func (r *ReloadablePolicy) Store(p ThreadingPolicy) {
	r.current.Store(&policyBox{policy: p})
}

// Load returns the current delegate
func (r *ReloadablePolicy) Load() ThreadingPolicy {
	return r.current.Load().policy
}

func (r *ReloadablePolicy) ShouldFork(req ForkRequest) bool {
	return r.Load().ShouldFork(req)
}

// OnReload returns a config watcher callback that swaps in the reloaded policy section
func (r *ReloadablePolicy) OnReload() am.ReloadCallback {
	return func(cfg *am.Config) error {
		r.Store(PolicyFromConfig(cfg.Policy))
		return nil
	}
}
