// Package manifest reads TOML import manifests: one job description plus
// configuration overrides, so a recurring import can be checked in and rerun.
//
//	[job]
//	name = "nightly-docs"
//	source = "./export"
//	target = "/imports/nightly"
//	mode = "pipeline"
//
//	[options]
//	batch_size = 200
//	consumers = 4
//	policy = "never"
package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/jobs"
)

// Manifest is one decoded manifest file
type Manifest struct {
	Job     Job     `toml:"job"`
	Options Options `toml:"options"`
}

// Job describes what to import and where
type Job struct {
	Name        string `toml:"name"`
	Source      string `toml:"source"`
	Target      string `toml:"target"`
	Mode        string `toml:"mode"`
	GitRevision string `toml:"git_revision"`
}

// Options override the loaded configuration. Unset fields keep the configured value.
type Options struct {
	BatchSize            *int     `toml:"batch_size"`
	Threads              *int     `toml:"threads"`
	PendingQueueCapacity *int     `toml:"pending_queue_capacity"`
	Consumers            *int     `toml:"consumers"`
	QueueCapacity        *int     `toml:"queue_capacity"`
	MaxDocsPerSecond     *float64 `toml:"max_docs_per_second"`
	FailureThreshold     *float64 `toml:"failure_threshold"`
	Policy               string   `toml:"policy"`
	DryRun               bool     `toml:"dry_run"`
}

// Load decodes and validates the manifest at path. A relative local source is
// resolved against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("manifest %s not found", path)
		}
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}

	if src := m.Job.Source; src != "" && !filepath.IsAbs(src) && !strings.Contains(src, "::") && !strings.Contains(src, "://") {
		candidate := filepath.Join(filepath.Dir(path), src)
		if _, err := os.Stat(candidate); err == nil {
			m.Job.Source = candidate
		}
	}
	return m, nil
}

// Parse decodes and validates manifest text
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, errors.WithHint(
			errors.Mark(errors.Wrap(err, "decode manifest"), errors.ErrInvalidRequest),
			"manifests are TOML with a [job] and an optional [options] table")
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, errors.NewInvalidRequestError("unknown manifest keys: %s", strings.Join(keys, ", "))
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest on its own, before it is applied to a configuration
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Job.Source) == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("manifest has no job.source"),
			"set source to a directory, git repository or go-getter URL")
	}
	if _, err := jobs.ParseMode(m.Job.Mode); err != nil {
		return err
	}

	switch m.Options.Policy {
	case "", am.PolicyModeDefault, am.PolicyModeAlways, am.PolicyModeNever:
	default:
		return errors.NewInvalidRequestError("options.policy must be default, always or never, got %q", m.Options.Policy)
	}

	if v := m.Options.BatchSize; v != nil && *v < 1 {
		return errors.NewInvalidRequestError("options.batch_size must be at least 1, got %d", *v)
	}
	if v := m.Options.Threads; v != nil && *v < 1 {
		return errors.NewInvalidRequestError("options.threads must be at least 1, got %d", *v)
	}
	if v := m.Options.Consumers; v != nil && *v < 1 {
		return errors.NewInvalidRequestError("options.consumers must be at least 1, got %d", *v)
	}
	if v := m.Options.PendingQueueCapacity; v != nil && *v < 0 {
		return errors.NewInvalidRequestError("options.pending_queue_capacity cannot be negative, got %d", *v)
	}
	if v := m.Options.QueueCapacity; v != nil && *v < 1 {
		return errors.NewInvalidRequestError("options.queue_capacity must be at least 1, got %d", *v)
	}
	if v := m.Options.MaxDocsPerSecond; v != nil && *v < 0 {
		return errors.NewInvalidRequestError("options.max_docs_per_second cannot be negative, got %v", *v)
	}
	if v := m.Options.FailureThreshold; v != nil && (*v < 0 || *v > 1) {
		return errors.NewInvalidRequestError("options.failure_threshold must be within [0, 1], got %v", *v)
	}
	return nil
}

// Mode returns the job's engine
func (m *Manifest) Mode() jobs.Mode {
	mode, _ := jobs.ParseMode(m.Job.Mode)
	return mode
}

// Apply copies the overrides onto cfg and revalidates it
func (m *Manifest) Apply(cfg *am.Config) error {
	o := m.Options
	if o.BatchSize != nil {
		cfg.Import.BatchSize = *o.BatchSize
	}
	if o.Threads != nil {
		cfg.Import.ThreadCount = *o.Threads
	}
	if o.PendingQueueCapacity != nil {
		cfg.Import.PendingQueueCapacity = *o.PendingQueueCapacity
	}
	if o.Consumers != nil {
		cfg.Import.Consumers = *o.Consumers
	}
	if o.QueueCapacity != nil {
		cfg.Import.QueueCapacity = *o.QueueCapacity
	}
	if o.MaxDocsPerSecond != nil {
		cfg.Import.MaxDocsPerSecond = *o.MaxDocsPerSecond
	}
	if o.FailureThreshold != nil {
		cfg.Import.FailureThreshold = *o.FailureThreshold
	}
	if o.Policy != "" {
		cfg.Policy.Mode = o.Policy
	}
	return cfg.Validate()
}
