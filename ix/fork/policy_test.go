package fork

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/ix/source/memnode"
)

func TestDefaultPolicy(t *testing.T) {
	dir := memnode.Dir("A", memnode.Text("a.txt", "a"))
	leaf := memnode.Text("b.txt", "b")

	base := ForkRequest{
		Child:          dir,
		ChildCount:     1,
		ProcessedSoFar: 0,
		BatchSize:      10,
		QueueDepth:     0,
		QueueCapacity:  10,
		ActiveWorkers:  4,
		Workers:        4,
	}

	tests := []struct {
		name   string
		policy DefaultPolicy
		modify func(r *ForkRequest)
		want   bool
	}{
		{"busy pool, no work done yet", DefaultPolicy{}, func(r *ForkRequest) {}, false},
		{"busy pool, batch of work done", DefaultPolicy{}, func(r *ForkRequest) { r.ProcessedSoFar = 10 }, true},
		{"idle worker", DefaultPolicy{}, func(r *ForkRequest) { r.ActiveWorkers = 2 }, true},
		{"queue at fill limit", DefaultPolicy{}, func(r *ForkRequest) { r.ActiveWorkers = 1; r.QueueDepth = 8 }, false},
		{"custom fill limit", DefaultPolicy{MaxQueueFill: 0.5}, func(r *ForkRequest) { r.ActiveWorkers = 1; r.QueueDepth = 5 }, false},
		{"zero capacity", DefaultPolicy{}, func(r *ForkRequest) { r.ActiveWorkers = 1; r.QueueCapacity = 0 }, false},
		{"custom min docs", DefaultPolicy{MinDocsBeforeFork: 3}, func(r *ForkRequest) { r.ProcessedSoFar = 3 }, true},
		{"leaf child", DefaultPolicy{}, func(r *ForkRequest) { r.Child = leaf; r.ActiveWorkers = 1 }, false},
		{"empty container", DefaultPolicy{}, func(r *ForkRequest) { r.ChildCount = 0; r.ActiveWorkers = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.modify(&req)
			assert.Equal(t, tt.want, tt.policy.ShouldFork(req))
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	req := ForkRequest{Child: memnode.Dir("A"), ChildCount: 1, QueueCapacity: 0}

	assert.True(t, PolicyFromConfig(am.PolicyConfig{Mode: am.PolicyModeAlways}).ShouldFork(req))
	assert.False(t, PolicyFromConfig(am.PolicyConfig{Mode: am.PolicyModeNever}).ShouldFork(req))

	p, ok := PolicyFromConfig(am.PolicyConfig{Mode: am.PolicyModeDefault, MinDocsBeforeFork: 7, MaxQueueFill: 0.5}).(DefaultPolicy)
	assert.True(t, ok)
	assert.Equal(t, 7, p.MinDocsBeforeFork)
	assert.Equal(t, 0.5, p.MaxQueueFill)
}

func TestReloadablePolicy(t *testing.T) {
	req := ForkRequest{Child: memnode.Dir("A"), ChildCount: 1}
	r := NewReloadablePolicy(NeverFork)
	assert.False(t, r.ShouldFork(req))

	r.Store(AlwaysFork)
	assert.True(t, r.ShouldFork(req))

	cb := r.OnReload()
	assert.NoError(t, cb(&am.Config{Policy: am.PolicyConfig{Mode: am.PolicyModeNever}}))
	assert.False(t, r.ShouldFork(req))
}
