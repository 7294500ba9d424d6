package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"maintd/internal/task"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want task.Schedule
	}{
		{"startup", task.Startup()},
		{"every:30", task.Every(30)},
		{"daily:02:00", task.DailyAt("02:00")},
		{"weekly:Mon:09:30", task.WeeklyAt(time.Monday, "09:30")},
		{"ram>=85", task.OnCondition(task.Condition{Metric: task.MetricRAMUsage, Comparison: task.CmpGTE, Threshold: 85})},
		{"disk > 90.5", task.OnCondition(task.Condition{Metric: task.MetricDiskUsage, Comparison: task.CmpGT, Threshold: 90.5})},
		{"ram<10", task.OnCondition(task.Condition{Metric: task.MetricRAMUsage, Comparison: task.CmpLT, Threshold: 10})},
	}
	for _, tc := range cases {
		got, err := parseSchedule(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Kind != tc.want.Kind || got.IntervalMinutes != tc.want.IntervalMinutes ||
			got.At != tc.want.At || got.Weekday != tc.want.Weekday {
			t.Fatalf("%q: got %+v want %+v", tc.in, got, tc.want)
		}
		if tc.want.Condition != nil && (got.Condition == nil || *got.Condition != *tc.want.Condition) {
			t.Fatalf("%q: condition %+v want %+v", tc.in, got.Condition, tc.want.Condition)
		}
	}

	for _, bad := range []string{"", "hourly", "every:x", "weekly:funday:09:00", "weekly:mon", "cpu>50"} {
		if _, err := parseSchedule(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestActionFlags(t *testing.T) {
	t.Parallel()

	a, err := actionFlags{kind: "clean_disk", categories: []string{"temp,trash", " logs "}, threshold: 50}.action()
	if err != nil {
		t.Fatal(err)
	}
	if a.Disk == nil || len(a.Disk.Categories) != 3 || a.Disk.Categories[2] != task.DiskLogs || a.Disk.ThresholdMB != 50 {
		t.Fatalf("disk=%+v", a.Disk)
	}

	a, err = actionFlags{kind: "TOGGLE_DEFENDER", enable: true, permanent: true}.action()
	if err != nil || a.Defender == nil || !a.Defender.Enable || !a.Defender.Permanent {
		t.Fatalf("defender=%+v err=%v", a.Defender, err)
	}

	if _, err := (actionFlags{kind: "reboot"}).action(); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestReadDraft(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yml := filepath.Join(dir, "task.yaml")
	body := `
name: Free RAM
action:
  kind: clean_ram
  ram:
    min_usage_percent: 70
schedule:
  kind: interval
  interval_minutes: 45
`
	if err := os.WriteFile(yml, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := readDraft(yml)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "Free RAM" || d.Action.RAM == nil || d.Action.RAM.MinUsagePercent != 70 || d.Schedule.IntervalMinutes != 45 {
		t.Fatalf("draft=%+v", d)
	}

	js := filepath.Join(dir, "task.json")
	if err := os.WriteFile(js, []byte(`{"name":"x","bogus":1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readDraft(js); err == nil {
		t.Fatal("expected unknown field error")
	}
}
