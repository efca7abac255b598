package ix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stat(kv map[string]int64) *ImportStat {
	s := NewImportStat()
	for k, v := range kv {
		s.Increase(k, v)
	}
	return s
}

func TestIncrease(t *testing.T) {
	s := NewImportStat()
	s.Increase(StatCommits, 1)
	s.Increase(StatCommits, 2)
	s.Increase(StatRollbacks, -1)

	assert.Equal(t, int64(3), s.Get(StatCommits))
	assert.Equal(t, int64(-1), s.Get(StatRollbacks))
	assert.Equal(t, int64(0), s.Get("missing"))
}

func TestMergeIsAssociativeAndCommutative(t *testing.T) {
	a := map[string]int64{StatDocumentsCreated: 3, StatCommits: 1}
	b := map[string]int64{StatDocumentsCreated: 5, StatReplays: 2}
	c := map[string]int64{StatReplays: 1, StatForks: 7, StatCommits: 4}

	left := stat(a).Merge(stat(b)).Merge(stat(c))
	right := stat(a).Merge(stat(b).Merge(stat(c)))
	swapped := stat(c).Merge(stat(a)).Merge(stat(b))

	assert.Equal(t, left.Snapshot(), right.Snapshot())
	assert.Equal(t, left.Snapshot(), swapped.Snapshot())
	assert.Equal(t, map[string]int64{
		StatDocumentsCreated: 8,
		StatCommits:          5,
		StatReplays:          3,
		StatForks:            7,
	}, left.Snapshot())
}

func TestMergeCopiesMissingKeysAndIgnoresNil(t *testing.T) {
	s := stat(map[string]int64{StatCommits: 1})
	s.Merge(nil)
	s.Merge(stat(map[string]int64{StatPanics: 2}))

	assert.Equal(t, []string{StatCommits, StatPanics}, s.Keys())
}

func TestCloneIsIndependent(t *testing.T) {
	s := stat(map[string]int64{StatCommits: 1})
	c := s.Clone()
	c.Increase(StatCommits, 10)

	assert.Equal(t, int64(1), s.Get(StatCommits))
	assert.Equal(t, int64(11), c.Get(StatCommits))
	assert.Equal(t, "{commits=11}", c.String())
}
