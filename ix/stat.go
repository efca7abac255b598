package ix

import (
	"fmt"
	"sort"
	"strings"
)

// Stat keys shared by both engines
const (
	StatDocumentsCreated  = "documentsCreated"
	StatContainersCreated = "containersCreated"
	StatLeavesCreated     = "leavesCreated"
	StatNodesProcessed    = "nodesProcessed"
	StatCommits           = "commits"
	StatRollbacks         = "rollbacks"
	StatReplays           = "replays"
	StatReplayedNodes     = "replayedNodes"
	StatMappingErrors     = "mappingErrors"
	StatReplayFailures    = "replayFailures"
	StatCommitErrors      = "commitErrors"
	StatForks             = "forks"
	StatForksRejected     = "forksRejected"
	StatTasks             = "tasks"
	StatPanics            = "panics"
	StatAborted           = "aborted"
)

// ImportStat is a set of named counters that merge by addition.
// It is not synchronized: each worker owns one and hands it to JobContext.MergeStats when done.
type ImportStat struct {
	counters map[string]int64
}

func NewImportStat() *ImportStat {
	return &ImportStat{counters: make(map[string]int64)}
}

// Increase adds delta to key, starting from 0
func (s *ImportStat) Increase(key string, delta int64) {
	s.counters[key] += delta
}

// Get returns the counter for key, 0 if absent or s is nil
func (s *ImportStat) Get(key string) int64 {
	if s == nil {
		return 0
	}
	return s.counters[key]
}

// Merge adds every counter of other into s and returns s
func (s *ImportStat) Merge(other *ImportStat) *ImportStat {
	if other == nil {
		return s
	}
	for k, v := range other.counters {
		s.counters[k] += v
	}
	return s
}

func (s *ImportStat) Clone() *ImportStat {
	return NewImportStat().Merge(s)
}

// Snapshot returns a copy of the counters
func (s *ImportStat) Snapshot() map[string]int64 {
	if s == nil {
		return map[string]int64{}
	}
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Keys returns the counter names in sorted order
func (s *ImportStat) Keys() []string {
	keys := make([]string, 0, len(s.counters))
	for k := range s.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *ImportStat) String() string {
	parts := make([]string, 0, len(s.counters))
	for _, k := range s.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.counters[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
