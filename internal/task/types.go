package task

import (
	"time"
)

type ActionKind string

const (
	ActionCleanRAM       ActionKind = "clean_ram"
	ActionCleanDisk      ActionKind = "clean_disk"
	ActionToggleDefender ActionKind = "toggle_defender"
)

// DiskCategory selects a group of reclaimable files.
type DiskCategory string

const (
	DiskTemp         DiskCategory = "temp"
	DiskBrowserCache DiskCategory = "browser_cache"
	DiskThumbnails   DiskCategory = "thumbnails"
	DiskTrash        DiskCategory = "trash"
	DiskSystemCache  DiskCategory = "system_cache"
	DiskLogs         DiskCategory = "logs"
	DiskDownloads    DiskCategory = "downloads"
)

// DiskCategories lists every known category in display order.
var DiskCategories = []DiskCategory{
	DiskTemp, DiskBrowserCache, DiskThumbnails, DiskTrash, DiskSystemCache, DiskLogs, DiskDownloads,
}

const (
	MinDiskThresholdMB = 50
	MaxDiskThresholdMB = 2000
)

type RAMOptions struct {
	// MinUsagePercent skips the flush when RAM usage is below it. 0 always flushes.
	MinUsagePercent float64 `json:"min_usage_percent,omitempty"`
}

type DiskOptions struct {
	Categories         []DiskCategory `json:"categories"`
	ThresholdMB        int            `json:"threshold_mb"`
	DryRun             bool           `json:"dry_run,omitempty"`
	SkipInUse          bool           `json:"skip_in_use,omitempty"`
	PreserveRecentDays int            `json:"preserve_recent_days,omitempty"`
}

type DefenderOptions struct {
	Enable    bool `json:"enable"`
	Permanent bool `json:"permanent"`
}

// Action is what a task does when it runs.
type Action struct {
	Kind     ActionKind       `json:"kind"`
	RAM      *RAMOptions      `json:"ram,omitempty"`
	Disk     *DiskOptions     `json:"disk,omitempty"`
	Defender *DefenderOptions `json:"defender,omitempty"`
}

func CleanRAM(opt RAMOptions) Action { return Action{Kind: ActionCleanRAM, RAM: &opt} }
func CleanDisk(opt DiskOptions) Action {
	opt.Categories = append([]DiskCategory(nil), opt.Categories...)
	return Action{Kind: ActionCleanDisk, Disk: &opt}
}
func ToggleDefender(enable, permanent bool) Action {
	return Action{Kind: ActionToggleDefender, Defender: &DefenderOptions{Enable: enable, Permanent: permanent}}
}

type ScheduleKind string

const (
	ScheduleStartup     ScheduleKind = "startup"
	ScheduleInterval    ScheduleKind = "interval"
	ScheduleDaily       ScheduleKind = "daily"
	ScheduleWeekly      ScheduleKind = "weekly"
	ScheduleOnCondition ScheduleKind = "on_condition"
)

const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 1440
)

type Metric string

const (
	MetricRAMUsage  Metric = "ram_usage_percent"
	MetricDiskUsage Metric = "disk_usage_percent"
)

type Comparison string

const (
	CmpGTE Comparison = ">="
	CmpGT  Comparison = ">"
	CmpLTE Comparison = "<="
	CmpLT  Comparison = "<"
)

// Holds reports whether v satisfies the comparison against threshold.
func (c Comparison) Holds(v, threshold float64) bool {
	switch c {
	case CmpGTE:
		return v >= threshold
	case CmpGT:
		return v > threshold
	case CmpLTE:
		return v <= threshold
	case CmpLT:
		return v < threshold
	default:
		return false
	}
}

type Condition struct {
	Metric     Metric     `json:"metric"`
	Comparison Comparison `json:"comparison"`
	Threshold  float64    `json:"threshold"`
	// CooldownMinutes overrides the scheduler-wide cooldown. 0 uses the default.
	CooldownMinutes int `json:"cooldown_minutes,omitempty"`
}

// Schedule decides when a task is due.
//
// At is a local time of day "HH:MM" (daily and weekly). Weekday is a lowercase
// english day name (weekly only).
type Schedule struct {
	Kind            ScheduleKind `json:"kind"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	At              string       `json:"at,omitempty"`
	Weekday         string       `json:"weekday,omitempty"`
	Condition       *Condition   `json:"condition,omitempty"`
}

func Startup() Schedule { return Schedule{Kind: ScheduleStartup} }
func Every(minutes int) Schedule {
	return Schedule{Kind: ScheduleInterval, IntervalMinutes: minutes}
}
func DailyAt(hhmm string) Schedule { return Schedule{Kind: ScheduleDaily, At: hhmm} }
func WeeklyAt(weekday time.Weekday, hhmm string) Schedule {
	return Schedule{Kind: ScheduleWeekly, Weekday: weekdayName(weekday), At: hhmm}
}
func OnCondition(c Condition) Schedule { return Schedule{Kind: ScheduleOnCondition, Condition: &c} }

// RunRecord is one execution attempt.
type RunRecord struct {
	At         time.Time `json:"at"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

type Stats struct {
	RunsTotal  int        `json:"runs_total"`
	Successes  int        `json:"successes"`
	Failures   int        `json:"failures"`
	LastResult *RunRecord `json:"last_result,omitempty"`
}

type Task struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Action      Action   `json:"action"`
	Schedule    Schedule `json:"schedule"`
	Enabled     bool     `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	// NextEligibleAt is a hint recomputed after every run and on load.
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`

	Stats   Stats       `json:"stats"`
	History []RunRecord `json:"history"`
}

// Outcome is the result of executing an action.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func Succeeded(msg string) Outcome { return Outcome{Success: true, Message: msg} }
func Failed(msg string) Outcome    { return Outcome{Success: false, Message: msg} }

// Metrics is a point-in-time sample of system metrics used by condition schedules.
// A missing key means the metric could not be read.
type Metrics map[Metric]float64

func (m Metrics) Value(k Metric) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[k]
	return v, ok
}

// Draft is the user input for creating a task.
type Draft struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Action      Action   `json:"action"`
	Schedule    Schedule `json:"schedule"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// Patch is a partial update. A non-nil Schedule or Action replaces the old one entirely.
type Patch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Action      *Action   `json:"action,omitempty"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Action == nil && p.Schedule == nil && p.Enabled == nil
}
