package config

import (
	"fmt"
	"strings"
	"time"

	"maintd/internal/task"
)

// Config is the daemon configuration file. Durations are Go duration strings
// ("30s", "15m"). Omitted fields keep the values from Default.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Journal   JournalConfig   `json:"journal"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Actions   ActionsConfig   `json:"actions"`
	API       APIConfig       `json:"api"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Pretty  bool        `json:"pretty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig locates the task document.
type StoreConfig struct {
	Path string `json:"path"`
}

// JournalConfig controls the run journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./data/runs.db" }
type JournalConfig struct {
	Driver      string `json:"driver"` // file, sqlite or none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   int    `json:"retention,omitempty"`
}

// SchedulerConfig controls the tick loop and action execution.
//
// StartupDelay overrides the persisted startup_delay_seconds launch setting
// when set.
type SchedulerConfig struct {
	Tick              string `json:"tick"`
	Timezone          string `json:"timezone,omitempty"`
	HistorySize       int    `json:"history_size"`
	ConditionCooldown string `json:"condition_cooldown"`
	ActionTimeout     string `json:"action_timeout,omitempty"`
	RetryMax          int    `json:"retry_max,omitempty"`
	RetryBackoff      string `json:"retry_backoff,omitempty"`
	StartupDelay      string `json:"startup_delay,omitempty"`
}

type ActionsConfig struct {
	DefenderUnit string `json:"defender_unit"`
	DropCaches   bool   `json:"drop_caches"`
	// DiskPath is the mount sampled for disk_usage_percent.
	DiskPath string `json:"disk_path,omitempty"`
	// Disk overrides the glob patterns of individual cleanup categories.
	Disk map[string][]string `json:"disk,omitempty"`
}

// APIConfig controls the local control API.
//
// Security note: bind to loopback, or set a token.
type APIConfig struct {
	Enabled       bool    `json:"enabled"`
	Addr          string  `json:"addr"`
	Token         string  `json:"token,omitempty"` // do not log
	MutationRate  float64 `json:"mutation_rate,omitempty"`
	MutationBurst int     `json:"mutation_burst,omitempty"`
	// Pprof mounts net/http/pprof under /debug on the API router.
	Pprof bool `json:"pprof,omitempty"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true, Pretty: true},
		Store:   StoreConfig{Path: "./data/tasks.json"},
		Journal: JournalConfig{Driver: "file", Retention: 5000},
		Scheduler: SchedulerConfig{
			Tick:              "30s",
			HistorySize:       task.DefaultHistorySize,
			ConditionCooldown: "15m",
			RetryBackoff:      "2s",
		},
		Actions: ActionsConfig{DefenderUnit: "clamav-daemon", DropCaches: true},
		API: APIConfig{
			Enabled:       true,
			Addr:          "127.0.0.1:7420",
			MutationRate:  5,
			MutationBurst: 10,
		},
	}
}

// Timing is the parsed form of the scheduler durations.
type Timing struct {
	Tick          time.Duration
	Cooldown      time.Duration
	ActionTimeout time.Duration
	RetryBackoff  time.Duration
	StartupDelay  time.Duration
}

func (s SchedulerConfig) Timing() (Timing, error) {
	var (
		t   Timing
		err error
	)
	if t.Tick, err = ParseDurationOrDefault("scheduler.tick", s.Tick, 30*time.Second); err != nil {
		return t, err
	}
	if t.Tick < time.Second {
		return t, fmt.Errorf("scheduler.tick: must be >= 1s")
	}
	if t.Cooldown, err = ParseDurationOrDefault("scheduler.condition_cooldown", s.ConditionCooldown, 15*time.Minute); err != nil {
		return t, err
	}
	if t.ActionTimeout, err = ParseDurationField("scheduler.action_timeout", s.ActionTimeout); err != nil {
		return t, err
	}
	if t.RetryBackoff, err = ParseDurationOrDefault("scheduler.retry_backoff", s.RetryBackoff, 2*time.Second); err != nil {
		return t, err
	}
	if t.StartupDelay, err = ParseDurationField("scheduler.startup_delay", s.StartupDelay); err != nil {
		return t, err
	}
	return t, nil
}

// JournalPath returns the configured path or the driver's default.
func (j JournalConfig) JournalPath() string {
	if p := strings.TrimSpace(j.Path); p != "" {
		return p
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(j.Driver)), "sqlite") {
		return "./data/runs.db"
	}
	return "./data/runs.jsonl"
}

// Validate checks every field that the daemon would otherwise reject at
// startup or on reload.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Journal.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("journal.driver: unknown driver %q", c.Journal.Driver)
	}
	if c.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must be >= 0")
	}
	if _, err := ParseDurationField("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
		return err
	}

	if _, err := c.Scheduler.Timing(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if c.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if c.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}

	if strings.TrimSpace(c.Actions.DefenderUnit) == "" {
		return fmt.Errorf("actions.defender_unit is required")
	}
	for name := range c.Actions.Disk {
		if !knownCategory(name) {
			return fmt.Errorf("actions.disk: unknown category %q", name)
		}
	}

	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr is required when api.enabled is true")
	}
	if c.API.MutationRate < 0 || c.API.MutationBurst < 0 {
		return fmt.Errorf("api.mutation_rate and api.mutation_burst must be >= 0")
	}
	return nil
}

func knownCategory(name string) bool {
	for _, c := range task.DiskCategories {
		if string(c) == name {
			return true
		}
	}
	return false
}
