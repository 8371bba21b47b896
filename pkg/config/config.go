// Package config loads the watchdog configuration from a JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the closed configuration surface of the watchdog.
type Config struct {
	WatchDirs   []string `json:"watch_dirs" env:"WATCHDOG_WATCH_DIRS" envSeparator:":"`
	BaselineDir string   `json:"baseline_dir" env:"WATCHDOG_BASELINE_DIR"`

	UseLocalCache bool   `json:"use_local_cache" env:"WATCHDOG_USE_LOCAL_CACHE"`
	CacheDir      string `json:"cache_dir" env:"WATCHDOG_CACHE_DIR"`

	EnableTimeout  bool  `json:"enable_timeout" env:"WATCHDOG_ENABLE_TIMEOUT"`
	TimeoutSeconds int64 `json:"timeout_seconds" env:"WATCHDOG_TIMEOUT_SECONDS"`

	EnableMemoryMonitor bool  `json:"enable_memory_monitor" env:"WATCHDOG_ENABLE_MEMORY_MONITOR"`
	MemoryLimitMB       int64 `json:"memory_limit_mb" env:"WATCHDOG_MEMORY_LIMIT_MB"`

	EnableResume bool   `json:"enable_resume" env:"WATCHDOG_ENABLE_RESUME"`
	ResumeLog    string `json:"resume_log" env:"WATCHDOG_RESUME_LOG"`

	ScanAllMode           bool     `json:"scan_all_mode" env:"WATCHDOG_SCAN_ALL_MODE"`
	ManualTargets         []string `json:"manual_targets"`
	ForceBaselinePatterns []string `json:"force_baseline_patterns"`

	PollIntervalSeconds int64 `json:"poll_interval_seconds" env:"WATCHDOG_POLL_INTERVAL_SECONDS"`
	PollWindowSeconds   int64 `json:"poll_window_seconds" env:"WATCHDOG_POLL_WINDOW_SECONDS"`

	SupportedExtensions []string `json:"supported_extensions"`

	ParallelBuild bool `json:"parallel_build" env:"WATCHDOG_PARALLEL_BUILD"`

	SlackToken   string `json:"slack_token" env:"WATCHDOG_SLACK_TOKEN"`
	SlackChannel string `json:"slack_channel" env:"WATCHDOG_SLACK_CHANNEL"`

	// WhitelistUsers is accepted for compatibility with older configs.
	// It is parsed but not consulted anywhere on the monitoring path.
	WhitelistUsers []string `json:"whitelist_users"`

	Debug bool `json:"debug" env:"WATCHDOG_DEBUG"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		BaselineDir:         "./baselines",
		CacheDir:            "./cache",
		TimeoutSeconds:      120,
		EnableTimeout:       true,
		MemoryLimitMB:       2048,
		EnableMemoryMonitor: true,
		EnableResume:        true,
		ResumeLog:           "./baselines/resume_log.json",
		PollIntervalSeconds: 5,
		PollWindowSeconds:   15,
		SupportedExtensions: []string{".xlsx", ".xlsm"},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides. A malformed
// file is an error: silently monitoring the wrong directories is worse
// than refusing to start.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if len(c.SupportedExtensions) == 0 {
		c.SupportedExtensions = []string{".xlsx", ".xlsm"}
	}
	for i, ext := range c.SupportedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.SupportedExtensions[i] = ext
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	if c.PollWindowSeconds <= 0 {
		c.PollWindowSeconds = 15
	}
	if c.ResumeLog == "" {
		c.ResumeLog = filepath.Join(c.BaselineDir, "resume_log.json")
	}
}

// Validate checks the fields required before the control plane starts.
func (c *Config) Validate() error {
	if c.BaselineDir == "" {
		return fmt.Errorf("baseline_dir must be set")
	}
	if len(c.WatchDirs) == 0 {
		return fmt.Errorf("watch_dirs must name at least one directory")
	}
	return nil
}

// SupportsExtension reports whether path has one of the configured
// workbook extensions.
func (c *Config) SupportsExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range c.SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}
