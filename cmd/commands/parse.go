package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"maintd/internal/task"
)

// parseSchedule reads the compact --schedule form:
//
//	startup
//	every:30
//	daily:02:00
//	weekly:mon:09:00
//	ram>=85 | disk>90 (on_condition)
func parseSchedule(raw string) (task.Schedule, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	kind, rest, _ := strings.Cut(raw, ":")
	switch kind {
	case "startup":
		return task.Startup(), nil
	case "every":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return task.Schedule{}, fmt.Errorf("schedule %q: minutes must be a number", raw)
		}
		return task.Every(n), nil
	case "daily":
		return task.DailyAt(rest), nil
	case "weekly":
		day, at, ok := strings.Cut(rest, ":")
		if !ok {
			return task.Schedule{}, fmt.Errorf("schedule %q: want weekly:<day>:<HH:MM>", raw)
		}
		wd, err := task.ParseWeekday(day)
		if err != nil {
			return task.Schedule{}, err
		}
		return task.WeeklyAt(wd, at), nil
	}
	if c, ok := parseCondition(raw); ok {
		return task.OnCondition(c), nil
	}
	return task.Schedule{}, fmt.Errorf("unknown schedule %q", raw)
}

func parseCondition(raw string) (task.Condition, bool) {
	metrics := map[string]task.Metric{"ram": task.MetricRAMUsage, "disk": task.MetricDiskUsage}
	// Two-character operators first so ">=" is not read as ">".
	for _, cmp := range []task.Comparison{task.CmpGTE, task.CmpLTE, task.CmpGT, task.CmpLT} {
		name, value, ok := strings.Cut(raw, string(cmp))
		if !ok {
			continue
		}
		m, known := metrics[strings.TrimSpace(name)]
		if !known {
			return task.Condition{}, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return task.Condition{}, false
		}
		return task.Condition{Metric: m, Comparison: cmp, Threshold: v}, true
	}
	return task.Condition{}, false
}

type actionFlags struct {
	kind       string
	minUsage   float64
	categories []string
	threshold  int
	dryRun     bool
	enable     bool
	permanent  bool
}

func (f actionFlags) action() (task.Action, error) {
	switch task.ActionKind(strings.ToLower(strings.TrimSpace(f.kind))) {
	case task.ActionCleanRAM:
		return task.CleanRAM(task.RAMOptions{MinUsagePercent: f.minUsage}), nil
	case task.ActionCleanDisk:
		cats := make([]task.DiskCategory, 0, len(f.categories))
		for _, c := range f.categories {
			for _, part := range strings.Split(c, ",") {
				if part = strings.TrimSpace(part); part != "" {
					cats = append(cats, task.DiskCategory(part))
				}
			}
		}
		return task.CleanDisk(task.DiskOptions{
			Categories:  cats,
			ThresholdMB: f.threshold,
			DryRun:      f.dryRun,
			SkipInUse:   true,
		}), nil
	case task.ActionToggleDefender:
		return task.ToggleDefender(f.enable, f.permanent), nil
	default:
		return task.Action{}, fmt.Errorf("unknown action %q (clean_ram, clean_disk, toggle_defender)", f.kind)
	}
}

// readDraft loads a task draft from a JSON or YAML file.
func readDraft(path string) (task.Draft, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return task.Draft{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return task.Draft{}, fmt.Errorf("%s: %w", path, err)
		}
		if b, err = json.Marshal(v); err != nil {
			return task.Draft{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	var d task.Draft
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return task.Draft{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func describeSchedule(s task.Schedule) string {
	switch s.Kind {
	case task.ScheduleStartup:
		return "at startup"
	case task.ScheduleInterval:
		return fmt.Sprintf("every %dm", s.IntervalMinutes)
	case task.ScheduleDaily:
		return "daily " + s.At
	case task.ScheduleWeekly:
		return s.Weekday + " " + s.At
	case task.ScheduleOnCondition:
		if c := s.Condition; c != nil {
			return fmt.Sprintf("when %s %s %g", c.Metric, c.Comparison, c.Threshold)
		}
	}
	return string(s.Kind)
}
