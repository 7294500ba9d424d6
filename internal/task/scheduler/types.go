package scheduler

import (
	"context"
	"time"

	"maintd/internal/storage"
	"maintd/internal/task"
)

const DefaultTick = 30 * time.Second

// Executor runs one action and never fails; *dispatch.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, a task.Action) task.Outcome
}

// MetricsSource samples the metrics used by condition schedules.
type MetricsSource interface {
	Sample(ctx context.Context) (task.Metrics, error)
}

// Journal receives every execution attempt; storage.Journal implements it.
type Journal interface {
	AppendRun(ctx context.Context, e storage.RunEntry) error
}

type Config struct {
	Tick     time.Duration
	Timezone string // IANA name; empty means Local
	// Cooldown is the default for condition schedules.
	Cooldown time.Duration
	// StartupDelay overrides the persisted startup_delay_seconds when > 0.
	StartupDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Tick < time.Second {
		c.Tick = time.Second
	}
	return c
}

type State string

const (
	StateStopped State = "stopped"
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// LastRun describes the most recent execution.
type LastRun struct {
	TaskID   string        `json:"task_id"`
	TaskName string        `json:"task_name"`
	Trigger  string        `json:"trigger"`
	At       time.Time     `json:"at"`
	Outcome  task.Outcome  `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
}

// Status is the read-only snapshot exposed to the control surface.
type Status struct {
	State    State         `json:"state"`
	Enabled  bool          `json:"enabled"`
	Tick     time.Duration `json:"tick_ns"`
	Timezone string        `json:"timezone"`

	Ticks      uint64     `json:"ticks"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
	NextTickAt *time.Time `json:"next_tick_at,omitempty"`
	// RunningTask is set while an action executes.
	RunningTask string   `json:"running_task,omitempty"`
	LastRun     *LastRun `json:"last_run,omitempty"`

	LastTickDue     int `json:"last_tick_due"`
	LastTickSkipped int `json:"last_tick_skipped"`

	SaveError string `json:"save_error,omitempty"`
}

// TickReport summarises one tick.
type TickReport struct {
	At       time.Time
	Disabled bool
	Due      []string
	Skipped  []string
	Failed   []string
}

// RunEvent is the payload of task.run.* bus events.
type RunEvent struct {
	TaskID   string        `json:"task_id"`
	TaskName string        `json:"task_name"`
	Trigger  string        `json:"trigger"`
	At       time.Time     `json:"at"`
	Outcome  *task.Outcome `json:"outcome,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)
