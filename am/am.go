package am

// Config represents the ixbulk configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Import   ImportConfig   `mapstructure:"import"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite repository
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"` // How long a writer waits on a locked database (default: 5000)
}

// ImportConfig configures both import engines
type ImportConfig struct {
	// Recursive-fork importer
	BatchSize                int `mapstructure:"batch_size"`                   // Writes per commit (default: 50)
	ThreadCount              int `mapstructure:"thread_count"`                 // Fixed pool size (default: 5)
	PendingQueueCapacity     int `mapstructure:"pending_queue_capacity"`       // Bounded pending-task queue; 0 = always run in-thread (default: 100)
	UnitOfWorkTimeoutSeconds int `mapstructure:"unit_of_work_timeout_seconds"` // Wall-clock bound on one unit-of-work (default: 600)
	StatusPollIntervalMS     int `mapstructure:"status_poll_interval_ms"`      // Importer completion polling (default: 500)
	ProgressLogIntervalSecs  int `mapstructure:"progress_log_interval_seconds"` // Aggregate progress log cadence (default: 5)

	// Consumer pipeline
	Consumers             int `mapstructure:"consumers"`                // One queue per consumer (default: 2)
	QueueCapacity         int `mapstructure:"queue_capacity"`           // Per-consumer queue bound (default: 1000)
	PollTimeoutSeconds    int `mapstructure:"poll_timeout_seconds"`     // Idle detection latency (default: 30)
	CommitCheckIntervalMS int `mapstructure:"commit_check_interval_ms"` // Throughput sampling window (default: 2000)

	// Shared
	MaxDocsPerSecond float64 `mapstructure:"max_docs_per_second"` // Write throttle; 0 = unlimited
	FailureThreshold float64 `mapstructure:"failure_threshold"`   // failures/processed ratio that fails the CLI; 0 = never
}

// PolicyConfig configures the fork decision of the recursive importer
type PolicyConfig struct {
	Mode              string  `mapstructure:"mode"`                 // default, always, never
	MinDocsBeforeFork int     `mapstructure:"min_docs_before_fork"` // 0 = batch size
	MaxQueueFill      float64 `mapstructure:"max_queue_fill"`       // Fraction of pending capacity above which forks stop (default: 0.8)
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Policy modes
const (
	PolicyModeDefault = "default"
	PolicyModeAlways  = "always"
	PolicyModeNever   = "never"
)

// File permission constants
const (
	DefaultDirPermissions  = 0750
	DefaultFilePermissions = 0644
)

// ConfigDirName is the per-user configuration directory under $HOME
const ConfigDirName = ".ixbulk"
