package config

import "time"

// Config represents the complete tapemaintd configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Backends BackendsConfig `yaml:"backends"`
	API      APIConfig      `yaml:"api,omitempty"`
	Routines RoutinesConfig `yaml:"routines"`
}

// ServiceConfig defines core daemon settings.
type ServiceConfig struct {
	Name          string        `yaml:"name"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	PIDFile       string        `yaml:"pid_file"`
}

// BackendsConfig locates the three collaborator stores.
// They may all point at the same file.
type BackendsConfig struct {
	CataloguePath   string `yaml:"catalogue_path"`
	SchedulerPath   string `yaml:"scheduler_path"`
	ObjectStorePath string `yaml:"objectstore_path"`
}

// APIConfig defines the status HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// RoutinesConfig holds per-routine settings.
type RoutinesConfig struct {
	// HardTimeout bounds a single Execute call. Zero disables the deadline.
	HardTimeout          time.Duration          `yaml:"hard_timeout"`
	GarbageCollector     GarbageCollectorConfig `yaml:"garbage_collector"`
	QueueCleanup         QueueCleanupConfig     `yaml:"queue_cleanup"`
	FailedQueueRetention RetentionConfig        `yaml:"failed_queue_retention"`
	MountFetchRetention  RetentionConfig        `yaml:"mount_fetch_retention"`
	RepackExpand         RepackExpandConfig     `yaml:"repack_expand"`
	RepackReport         RepackReportConfig     `yaml:"repack_report"`
}

// GarbageCollectorConfig configures the object-store GC routine.
type GarbageCollectorConfig struct {
	Enabled bool `yaml:"enabled"`
	// AgentTimeout is the heartbeat timeout advertised by the daemon's own agent.
	AgentTimeout time.Duration `yaml:"agent_timeout"`
}

// QueueCleanupConfig configures dead-mount reconciliation.
type QueueCleanupConfig struct {
	Enabled   bool `yaml:"enabled"`
	BatchSize int  `yaml:"batch_size"`
}

// RetentionConfig configures a batched pruning routine.
type RetentionConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BatchSize         int           `yaml:"batch_size"`
	InactiveTimeLimit time.Duration `yaml:"inactive_time_limit"`
}

// RepackExpandConfig configures repack promotion and expansion.
type RepackExpandConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequestsToExpand int           `yaml:"max_requests_to_expand"`
	CatalogueCacheTTL   time.Duration `yaml:"catalogue_cache_ttl"`
	// ReclaimDelay is how long a claimed but unrecorded expansion may
	// stall before another cycle takes it over.
	ReclaimDelay time.Duration `yaml:"reclaim_delay"`
}

// RepackReportConfig configures repack report draining.
type RepackReportConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SoftTimeout  time.Duration `yaml:"soft_timeout"`
	BatchSize    int           `yaml:"batch_size"`
	ReclaimDelay time.Duration `yaml:"reclaim_delay"`
}

// Defaults returns a Config with every routine enabled.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "tapemaintd",
			CycleInterval: 10 * time.Second,
			LogLevel:      "info",
			LogFormat:     "json",
			PIDFile:       "./data/tapemaintd.lock",
		},
		Backends: BackendsConfig{
			CataloguePath:   "./data/catalogue.db",
			SchedulerPath:   "./data/scheduler.db",
			ObjectStorePath: "./data/objectstore.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9120",
		},
		Routines: RoutinesConfig{
			GarbageCollector: GarbageCollectorConfig{
				Enabled:      true,
				AgentTimeout: 2 * time.Minute,
			},
			QueueCleanup: QueueCleanupConfig{
				Enabled:   true,
				BatchSize: 500,
			},
			FailedQueueRetention: RetentionConfig{
				Enabled:           true,
				BatchSize:         500,
				InactiveTimeLimit: 14 * 24 * time.Hour,
			},
			MountFetchRetention: RetentionConfig{
				Enabled:           true,
				BatchSize:         500,
				InactiveTimeLimit: 14 * 24 * time.Hour,
			},
			RepackExpand: RepackExpandConfig{
				Enabled:             true,
				MaxRequestsToExpand: 2,
				CatalogueCacheTTL:   time.Minute,
				ReclaimDelay:        30 * time.Minute,
			},
			RepackReport: RepackReportConfig{
				Enabled:      true,
				SoftTimeout:  30 * time.Second,
				BatchSize:    500,
				ReclaimDelay: 5 * time.Minute,
			},
		},
	}
}
