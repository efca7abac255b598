package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values shared by SetDefaults and the zero-value getters below
const (
	DefaultDatabasePath             = "ixbulk.db"
	DefaultBusyTimeoutMS            = 5000
	DefaultBatchSize                = 50
	DefaultThreadCount              = 5
	DefaultPendingQueueCapacity     = 100
	DefaultUnitOfWorkTimeoutSeconds = 600
	DefaultStatusPollIntervalMS     = 500
	DefaultProgressLogIntervalSecs  = 5
	DefaultConsumers                = 2
	DefaultQueueCapacity            = 1000
	DefaultPollTimeoutSeconds       = 30
	DefaultCommitCheckIntervalMS    = 2000
	DefaultMaxQueueFill             = 0.8
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.busy_timeout_ms", DefaultBusyTimeoutMS)

	// Recursive-fork importer
	v.SetDefault("import.batch_size", DefaultBatchSize)
	v.SetDefault("import.thread_count", DefaultThreadCount)
	v.SetDefault("import.pending_queue_capacity", DefaultPendingQueueCapacity)
	v.SetDefault("import.unit_of_work_timeout_seconds", DefaultUnitOfWorkTimeoutSeconds)
	v.SetDefault("import.status_poll_interval_ms", DefaultStatusPollIntervalMS)
	v.SetDefault("import.progress_log_interval_seconds", DefaultProgressLogIntervalSecs)

	// Consumer pipeline
	v.SetDefault("import.consumers", DefaultConsumers)
	v.SetDefault("import.queue_capacity", DefaultQueueCapacity)
	v.SetDefault("import.poll_timeout_seconds", DefaultPollTimeoutSeconds)
	v.SetDefault("import.commit_check_interval_ms", DefaultCommitCheckIntervalMS)

	v.SetDefault("import.max_docs_per_second", 0.0) // Unlimited
	v.SetDefault("import.failure_threshold", 0.0)   // Node failures never fail the process

	// Fork policy
	v.SetDefault("policy.mode", PolicyModeDefault)
	v.SetDefault("policy.min_docs_before_fork", 0) // Follows batch size
	v.SetDefault("policy.max_queue_fill", DefaultMaxQueueFill)

	v.SetDefault("log.json", false)
}

// BindEnvVars explicitly binds configuration that is commonly overridden per run
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "IXBULK_DATABASE_PATH")
	v.BindEnv("import.thread_count", "IXBULK_THREADS")
	v.BindEnv("import.batch_size", "IXBULK_BATCH_SIZE")
	v.BindEnv("log.json", "IXBULK_LOG_JSON")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetBusyTimeout returns the SQLite busy timeout
func (c *Config) GetBusyTimeout() time.Duration {
	if c.Database.BusyTimeoutMS <= 0 {
		return DefaultBusyTimeoutMS * time.Millisecond
	}
	return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
}

// GetUnitOfWorkTimeout returns the wall-clock bound for one unit-of-work
func (c *ImportConfig) GetUnitOfWorkTimeout() time.Duration {
	if c.UnitOfWorkTimeoutSeconds <= 0 {
		return DefaultUnitOfWorkTimeoutSeconds * time.Second
	}
	return time.Duration(c.UnitOfWorkTimeoutSeconds) * time.Second
}

// GetPollTimeout returns the consumer poll timeout
func (c *ImportConfig) GetPollTimeout() time.Duration {
	if c.PollTimeoutSeconds <= 0 {
		return DefaultPollTimeoutSeconds * time.Second
	}
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// GetCommitCheckInterval returns the throughput sampling window
func (c *ImportConfig) GetCommitCheckInterval() time.Duration {
	if c.CommitCheckIntervalMS <= 0 {
		return DefaultCommitCheckIntervalMS * time.Millisecond
	}
	return time.Duration(c.CommitCheckIntervalMS) * time.Millisecond
}

// GetStatusPollInterval returns how often the importer checks the pool
func (c *ImportConfig) GetStatusPollInterval() time.Duration {
	if c.StatusPollIntervalMS <= 0 {
		return DefaultStatusPollIntervalMS * time.Millisecond
	}
	return time.Duration(c.StatusPollIntervalMS) * time.Millisecond
}

// GetProgressLogInterval returns the aggregate progress log cadence
func (c *ImportConfig) GetProgressLogInterval() time.Duration {
	if c.ProgressLogIntervalSecs <= 0 {
		return DefaultProgressLogIntervalSecs * time.Second
	}
	return time.Duration(c.ProgressLogIntervalSecs) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Import: {BatchSize: %d, Threads: %d, Pending: %d}, Policy: %s}",
		c.Database.Path, c.Import.BatchSize, c.Import.ThreadCount, c.Import.PendingQueueCapacity, c.Policy.Mode)
}
