package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up when Load is given a directory.
const ConfigFileName = "config.yaml"

// Load reads, verifies and validates the configuration at configPath.
// configPath may be a file or a directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolveConfigFile turns a file or directory argument into the absolute
// path of the config file.
func ResolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

// loadConfigFile parses path on top of Defaults so omitted keys keep their
// default values (including enabled flags).
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// verifyConfigHash checks a locked config against its manifest.
func verifyConfigHash(path string) error {
	if err := Verify(path); err != nil {
		dir := filepath.Dir(path)
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: tapemaintd config lock --config %s", path, err, dir)
	}
	return nil
}

// applyConfigDefaults restores defaults for values explicitly set to zero.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.CycleInterval == 0 {
		cfg.Service.CycleInterval = defaults.Service.CycleInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	r := &cfg.Routines
	d := defaults.Routines
	if r.GarbageCollector.AgentTimeout == 0 {
		r.GarbageCollector.AgentTimeout = d.GarbageCollector.AgentTimeout
	}
	if r.QueueCleanup.BatchSize == 0 {
		r.QueueCleanup.BatchSize = d.QueueCleanup.BatchSize
	}
	applyRetentionDefaults(&r.FailedQueueRetention, d.FailedQueueRetention)
	applyRetentionDefaults(&r.MountFetchRetention, d.MountFetchRetention)
	if r.RepackExpand.MaxRequestsToExpand == 0 {
		r.RepackExpand.MaxRequestsToExpand = d.RepackExpand.MaxRequestsToExpand
	}
	if r.RepackExpand.CatalogueCacheTTL == 0 {
		r.RepackExpand.CatalogueCacheTTL = d.RepackExpand.CatalogueCacheTTL
	}
	if r.RepackExpand.ReclaimDelay == 0 {
		r.RepackExpand.ReclaimDelay = d.RepackExpand.ReclaimDelay
	}
	if r.RepackReport.SoftTimeout == 0 {
		r.RepackReport.SoftTimeout = d.RepackReport.SoftTimeout
	}
	if r.RepackReport.BatchSize == 0 {
		r.RepackReport.BatchSize = d.RepackReport.BatchSize
	}
	if r.RepackReport.ReclaimDelay == 0 {
		r.RepackReport.ReclaimDelay = d.RepackReport.ReclaimDelay
	}
	return cfg
}

func applyRetentionDefaults(dst *RetentionConfig, def RetentionConfig) {
	if dst.BatchSize == 0 {
		dst.BatchSize = def.BatchSize
	}
	if dst.InactiveTimeLimit == 0 {
		dst.InactiveTimeLimit = def.InactiveTimeLimit
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.CycleInterval <= 0 {
		return fmt.Errorf("service.cycle_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Backends.CataloguePath == "" {
		return fmt.Errorf("backends.catalogue_path is required")
	}
	if cfg.Backends.SchedulerPath == "" {
		return fmt.Errorf("backends.scheduler_path is required")
	}
	if cfg.Backends.ObjectStorePath == "" {
		return fmt.Errorf("backends.objectstore_path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	r := cfg.Routines
	if r.HardTimeout < 0 {
		return fmt.Errorf("routines.hard_timeout must not be negative")
	}
	if r.GarbageCollector.AgentTimeout < 0 {
		return fmt.Errorf("routines.garbage_collector.agent_timeout must be positive")
	}
	if r.QueueCleanup.BatchSize < 0 {
		return fmt.Errorf("routines.queue_cleanup.batch_size must be positive")
	}
	if err := validateRetention("failed_queue_retention", r.FailedQueueRetention); err != nil {
		return err
	}
	if err := validateRetention("mount_fetch_retention", r.MountFetchRetention); err != nil {
		return err
	}
	if r.RepackExpand.MaxRequestsToExpand < 0 {
		return fmt.Errorf("routines.repack_expand.max_requests_to_expand must be positive")
	}
	if r.RepackExpand.ReclaimDelay < 0 {
		return fmt.Errorf("routines.repack_expand.reclaim_delay must not be negative")
	}
	if r.RepackReport.SoftTimeout < 0 {
		return fmt.Errorf("routines.repack_report.soft_timeout must be positive")
	}
	if r.RepackReport.BatchSize < 0 {
		return fmt.Errorf("routines.repack_report.batch_size must be positive")
	}
	return nil
}

func validateRetention(name string, rc RetentionConfig) error {
	if rc.BatchSize < 0 {
		return fmt.Errorf("routines.%s.batch_size must be positive", name)
	}
	if rc.InactiveTimeLimit < 0 {
		return fmt.Errorf("routines.%s.inactive_time_limit must be positive", name)
	}
	return nil
}
