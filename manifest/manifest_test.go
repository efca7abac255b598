package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/internal/util"
	"github.com/teranos/ixbulk/jobs"
)

const fullManifest = `
[job]
name = "nightly"
source = "https://example.com/export.tar.gz"
target = "/imports/nightly"
mode = "pipeline"

[options]
batch_size = 200
threads = 8
pending_queue_capacity = 0
consumers = 4
queue_capacity = 500
max_docs_per_second = 150.5
failure_threshold = 0.05
policy = "never"
dry_run = true
`

func TestParseFullManifest(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	assert.Equal(t, "nightly", m.Job.Name)
	assert.Equal(t, "https://example.com/export.tar.gz", m.Job.Source)
	assert.Equal(t, "/imports/nightly", m.Job.Target)
	assert.Equal(t, jobs.ModePipeline, m.Mode())
	require.NotNil(t, m.Options.PendingQueueCapacity)
	assert.Equal(t, 0, *m.Options.PendingQueueCapacity)
	assert.True(t, m.Options.DryRun)
}

func TestParseMinimalManifest(t *testing.T) {
	m, err := Parse([]byte("[job]\nsource = \"/data\"\n"))
	require.NoError(t, err)
	assert.Equal(t, jobs.ModeFork, m.Mode())
	assert.Nil(t, m.Options.BatchSize)
	assert.Empty(t, m.Job.GitRevision)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"not toml", "[job\nsource=", "decode manifest"},
		{"missing source", "[job]\nname = \"x\"\n", "no job.source"},
		{"unknown key", "[job]\nsource = \"/d\"\nthreds = 3\n", "job.threds"},
		{"unknown mode", "[job]\nsource = \"/d\"\nmode = \"parallel\"\n", "unknown import mode"},
		{"bad policy", "[job]\nsource = \"/d\"\n[options]\npolicy = \"sometimes\"\n", "options.policy"},
		{"zero batch", "[job]\nsource = \"/d\"\n[options]\nbatch_size = 0\n", "options.batch_size"},
		{"negative pending", "[job]\nsource = \"/d\"\n[options]\npending_queue_capacity = -1\n", "pending_queue_capacity"},
		{"threshold above one", "[job]\nsource = \"/d\"\n[options]\nfailure_threshold = 2.0\n", "failure_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func validConfig() *am.Config {
	return &am.Config{
		Import: am.ImportConfig{
			BatchSize:            50,
			ThreadCount:          5,
			PendingQueueCapacity: 100,
			Consumers:            2,
			QueueCapacity:        1000,
		},
		Policy: am.PolicyConfig{Mode: am.PolicyModeDefault, MaxQueueFill: 0.8},
	}
}

func TestApplyOverrides(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	cfg := validConfig()
	require.NoError(t, m.Apply(cfg))
	assert.Equal(t, 200, cfg.Import.BatchSize)
	assert.Equal(t, 8, cfg.Import.ThreadCount)
	assert.Equal(t, 0, cfg.Import.PendingQueueCapacity)
	assert.Equal(t, 4, cfg.Import.Consumers)
	assert.Equal(t, 500, cfg.Import.QueueCapacity)
	assert.Equal(t, 150.5, cfg.Import.MaxDocsPerSecond)
	assert.Equal(t, 0.05, cfg.Import.FailureThreshold)
	assert.Equal(t, am.PolicyModeNever, cfg.Policy.Mode)
}

func TestApplyKeepsUnsetValues(t *testing.T) {
	m, err := Parse([]byte("[job]\nsource = \"/d\"\n[options]\nthreads = 2\n"))
	require.NoError(t, err)

	cfg := validConfig()
	require.NoError(t, m.Apply(cfg))
	assert.Equal(t, 2, cfg.Import.ThreadCount)
	assert.Equal(t, 50, cfg.Import.BatchSize)
	assert.Equal(t, 100, cfg.Import.PendingQueueCapacity)
	assert.Equal(t, am.PolicyModeDefault, cfg.Policy.Mode)
}

func TestValidateBuiltManifest(t *testing.T) {
	m := &Manifest{
		Job: Job{Source: "/srv/export"},
		Options: Options{
			BatchSize:        util.Ptr(25),
			QueueCapacity:    util.Ptr(0),
			FailureThreshold: util.Ptr(0.1),
		},
	}
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	m.Options.QueueCapacity = util.Ptr(10)
	require.NoError(t, m.Validate())

	cfg := validConfig()
	require.NoError(t, m.Apply(cfg))
	assert.Equal(t, 25, cfg.Import.BatchSize)
	assert.Equal(t, 10, cfg.Import.QueueCapacity)
	assert.Equal(t, jobs.ModeFork, m.Mode())
}

func TestLoadResolvesRelativeSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "export"), 0o755))
	path := filepath.Join(dir, "job.toml")
	require.NoError(t, os.WriteFile(path, []byte("[job]\nsource = \"export\"\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "export"), m.Job.Source)
}

func TestLoadKeepsRemoteSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.toml")
	require.NoError(t, os.WriteFile(path, []byte("[job]\nsource = \"git::https://example.com/repo.git\"\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "git::https://example.com/repo.git", m.Job.Source)
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.True(t, errors.IsNotFoundError(err))
}
