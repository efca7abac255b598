package am

import "github.com/teranos/ixbulk/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.BusyTimeoutMS < 0 {
		return errors.Newf("database.busy_timeout_ms must be >= 0, got %d", c.Database.BusyTimeoutMS)
	}

	// Batch size and pool size: a worker that never commits or a pool without workers is invalid
	if c.Import.BatchSize < 1 {
		return errors.WithHint(
			errors.Newf("import.batch_size must be >= 1, got %d", c.Import.BatchSize),
			"a batch size of 1 commits every write")
	}
	if c.Import.ThreadCount < 1 {
		return errors.Newf("import.thread_count must be >= 1, got %d", c.Import.ThreadCount)
	}

	// Pending capacity: 0 = every fork runs in-thread (valid), negative = invalid
	if c.Import.PendingQueueCapacity < 0 {
		return errors.Newf("import.pending_queue_capacity must be >= 0, got %d", c.Import.PendingQueueCapacity)
	}
	if c.Import.UnitOfWorkTimeoutSeconds < 0 {
		return errors.Newf("import.unit_of_work_timeout_seconds must be >= 0, got %d", c.Import.UnitOfWorkTimeoutSeconds)
	}
	if c.Import.StatusPollIntervalMS < 0 {
		return errors.Newf("import.status_poll_interval_ms must be >= 0, got %d", c.Import.StatusPollIntervalMS)
	}
	if c.Import.ProgressLogIntervalSecs < 0 {
		return errors.Newf("import.progress_log_interval_seconds must be >= 0, got %d", c.Import.ProgressLogIntervalSecs)
	}

	if c.Import.Consumers < 1 {
		return errors.Newf("import.consumers must be >= 1, got %d", c.Import.Consumers)
	}
	if c.Import.QueueCapacity < 0 {
		return errors.Newf("import.queue_capacity must be >= 0, got %d", c.Import.QueueCapacity)
	}
	if c.Import.PollTimeoutSeconds < 0 {
		return errors.Newf("import.poll_timeout_seconds must be >= 0, got %d", c.Import.PollTimeoutSeconds)
	}
	if c.Import.CommitCheckIntervalMS < 0 {
		return errors.Newf("import.commit_check_interval_ms must be >= 0, got %d", c.Import.CommitCheckIntervalMS)
	}

	// Throttle and threshold: 0 = disabled, negative = invalid
	if c.Import.MaxDocsPerSecond < 0 {
		return errors.Newf("import.max_docs_per_second must be >= 0, got %f", c.Import.MaxDocsPerSecond)
	}
	if c.Import.FailureThreshold < 0 || c.Import.FailureThreshold > 1 {
		return errors.Newf("import.failure_threshold must be within [0, 1], got %f", c.Import.FailureThreshold)
	}

	switch c.Policy.Mode {
	case "", PolicyModeDefault, PolicyModeAlways, PolicyModeNever:
	default:
		return errors.WithHintf(
			errors.Newf("policy.mode %q is not recognised", c.Policy.Mode),
			"use one of %s, %s, %s", PolicyModeDefault, PolicyModeAlways, PolicyModeNever)
	}
	if c.Policy.MinDocsBeforeFork < 0 {
		return errors.Newf("policy.min_docs_before_fork must be >= 0, got %d", c.Policy.MinDocsBeforeFork)
	}
	if c.Policy.MaxQueueFill < 0 || c.Policy.MaxQueueFill > 1 {
		return errors.Newf("policy.max_queue_fill must be within [0, 1], got %f", c.Policy.MaxQueueFill)
	}

	return nil
}
