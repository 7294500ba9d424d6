package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	maxNameLen        = 120
	maxDescriptionLen = 500
)

// ParseHHMM parses a 24h "HH:MM" time of day.
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || len(ms) != 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return h, m, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return wd, nil
}

func weekdayName(wd time.Weekday) string { return strings.ToLower(wd.String()) }

// Normalize returns a copy holding only the fields of the active variant,
// with canonical spellings. It does not validate.
func (s Schedule) Normalize() Schedule {
	out := Schedule{Kind: ScheduleKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))}
	switch out.Kind {
	case ScheduleInterval:
		out.IntervalMinutes = s.IntervalMinutes
	case ScheduleDaily:
		out.At = strings.TrimSpace(s.At)
	case ScheduleWeekly:
		out.At = strings.TrimSpace(s.At)
		out.Weekday = strings.ToLower(strings.TrimSpace(s.Weekday))
		if wd, err := ParseWeekday(out.Weekday); err == nil {
			out.Weekday = weekdayName(wd)
		}
	case ScheduleOnCondition:
		if s.Condition != nil {
			c := *s.Condition
			out.Condition = &c
		}
	}
	return out
}

func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleStartup:
		return nil
	case ScheduleInterval:
		if s.IntervalMinutes < MinIntervalMinutes || s.IntervalMinutes > MaxIntervalMinutes {
			return invalid("schedule.interval_minutes", "must be between %d and %d, got %d", MinIntervalMinutes, MaxIntervalMinutes, s.IntervalMinutes)
		}
		return nil
	case ScheduleDaily:
		if _, _, err := ParseHHMM(s.At); err != nil {
			return invalid("schedule.at", "%v", err)
		}
		return nil
	case ScheduleWeekly:
		if _, err := ParseWeekday(s.Weekday); err != nil {
			return invalid("schedule.weekday", "%v", err)
		}
		if _, _, err := ParseHHMM(s.At); err != nil {
			return invalid("schedule.at", "%v", err)
		}
		return nil
	case ScheduleOnCondition:
		c := s.Condition
		if c == nil {
			return invalid("schedule.condition", "required for on_condition schedules")
		}
		switch c.Metric {
		case MetricRAMUsage, MetricDiskUsage:
		default:
			return invalid("schedule.condition.metric", "unknown metric %q", c.Metric)
		}
		switch c.Comparison {
		case CmpGTE, CmpGT, CmpLTE, CmpLT:
		default:
			return invalid("schedule.condition.comparison", "unknown comparison %q", c.Comparison)
		}
		if c.Threshold < 0 || c.Threshold > 100 {
			return invalid("schedule.condition.threshold", "must be a percentage between 0 and 100")
		}
		if c.CooldownMinutes < 0 || c.CooldownMinutes > MaxIntervalMinutes {
			return invalid("schedule.condition.cooldown_minutes", "must be between 0 and %d", MaxIntervalMinutes)
		}
		return nil
	case "":
		return invalid("schedule.kind", "required")
	default:
		return invalid("schedule.kind", "unknown schedule kind %q", s.Kind)
	}
}

// Normalize returns a copy holding only the payload of the active variant.
func (a Action) Normalize() Action {
	out := Action{Kind: ActionKind(strings.ToLower(strings.TrimSpace(string(a.Kind))))}
	switch out.Kind {
	case ActionCleanRAM:
		opt := RAMOptions{}
		if a.RAM != nil {
			opt = *a.RAM
		}
		out.RAM = &opt
	case ActionCleanDisk:
		if a.Disk != nil {
			d := *a.Disk
			d.Categories = dedupCategories(a.Disk.Categories)
			out.Disk = &d
		}
	case ActionToggleDefender:
		if a.Defender != nil {
			d := *a.Defender
			out.Defender = &d
		}
	}
	return out
}

func dedupCategories(in []DiskCategory) []DiskCategory {
	seen := make(map[DiskCategory]bool, len(in))
	out := make([]DiskCategory, 0, len(in))
	for _, c := range in {
		c = DiskCategory(strings.ToLower(strings.TrimSpace(string(c))))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func knownCategory(c DiskCategory) bool {
	for _, k := range DiskCategories {
		if k == c {
			return true
		}
	}
	return false
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionCleanRAM:
		if a.RAM != nil && (a.RAM.MinUsagePercent < 0 || a.RAM.MinUsagePercent > 100) {
			return invalid("action.ram.min_usage_percent", "must be between 0 and 100")
		}
		return nil
	case ActionCleanDisk:
		d := a.Disk
		if d == nil {
			return invalid("action.disk", "required for clean_disk actions")
		}
		if d.ThresholdMB < MinDiskThresholdMB || d.ThresholdMB > MaxDiskThresholdMB {
			return invalid("action.disk.threshold_mb", "must be between %d and %d MB, got %d", MinDiskThresholdMB, MaxDiskThresholdMB, d.ThresholdMB)
		}
		if len(d.Categories) == 0 {
			return invalid("action.disk.categories", "select at least one category")
		}
		for _, c := range d.Categories {
			if !knownCategory(c) {
				return invalid("action.disk.categories", "unknown category %q", c)
			}
		}
		if d.PreserveRecentDays < 0 || d.PreserveRecentDays > 365 {
			return invalid("action.disk.preserve_recent_days", "must be between 0 and 365")
		}
		return nil
	case ActionToggleDefender:
		if a.Defender == nil {
			return invalid("action.defender", "required for toggle_defender actions")
		}
		return nil
	case "":
		return invalid("action.kind", "required")
	default:
		return invalid("action.kind", "unknown action kind %q", a.Kind)
	}
}

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "must not be empty")
	}
	if len(name) > maxNameLen {
		return invalid("name", "must be at most %d characters", maxNameLen)
	}
	return nil
}

// ValidateDescription bounds the free-text description. Empty is allowed.
func ValidateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) > maxDescriptionLen {
		return invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	return nil
}

// Normalize trims name and description and canonicalises action and schedule.
func (d Draft) Normalize() Draft {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.Action = d.Action.Normalize()
	d.Schedule = d.Schedule.Normalize()
	if d.Enabled != nil {
		v := *d.Enabled
		d.Enabled = &v
	}
	return d
}

// Validate checks a normalized draft.
func (d Draft) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateDescription(d.Description); err != nil {
		return err
	}
	if err := d.Action.Validate(); err != nil {
		return err
	}
	return d.Schedule.Validate()
}

// Validate checks every field of a stored task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return invalid("id", "must not be empty")
	}
	return Draft{Name: t.Name, Description: t.Description, Action: t.Action, Schedule: t.Schedule}.Validate()
}
