package due

import (
	"testing"
	"time"

	"maintd/internal/task"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) // a Monday

func mk(s task.Schedule) task.Task {
	return task.Task{ID: "t", Name: "t", Enabled: true, Schedule: s, Action: task.CleanRAM(task.RAMOptions{}), CreatedAt: t0.Add(-30 * 24 * time.Hour)}
}

func ptr(t time.Time) *time.Time { return &t }

func TestDisabledIsNeverDue(t *testing.T) {
	t.Parallel()

	schedules := []task.Schedule{
		task.Startup(),
		task.Every(5),
		task.DailyAt("00:00"),
		task.WeeklyAt(time.Monday, "00:00"),
		task.OnCondition(task.Condition{Metric: task.MetricRAMUsage, Comparison: task.CmpGTE, Threshold: 0}),
	}
	for _, s := range schedules {
		tk := mk(s)
		tk.Enabled = false
		for i := 0; i < 48; i++ {
			now := t0.Add(time.Duration(i) * time.Hour)
			d := Evaluate(tk, Input{Now: now, Metrics: task.Metrics{task.MetricRAMUsage: 100}})
			if d.Verdict != NotDue {
				t.Fatalf("%s at %s: verdict=%s", s.Kind, now, d.Verdict)
			}
		}
	}
}

func TestIntervalBoundary(t *testing.T) {
	t.Parallel()

	const m = 30
	tk := mk(task.Every(m))
	tk.LastRunAt = ptr(t0)
	cases := []struct {
		at   time.Time
		want Verdict
	}{
		{t0, NotDue},
		{t0.Add(m*time.Minute - time.Nanosecond), NotDue},
		{t0.Add(m * time.Minute), Due},
		{t0.Add(10 * m * time.Minute), Due},
	}
	for _, tc := range cases {
		if got := Evaluate(tk, Input{Now: tc.at}).Verdict; got != tc.want {
			t.Fatalf("at %s: %s want %s", tc.at, got, tc.want)
		}
	}

	d := Evaluate(tk, Input{Now: t0.Add(time.Minute)})
	if d.Next == nil || !d.Next.Equal(t0.Add(m*time.Minute)) {
		t.Fatalf("next=%v", d.Next)
	}

	tk.LastRunAt = nil
	if got := Evaluate(tk, Input{Now: t0}).Verdict; got != Due {
		t.Fatalf("never-run interval: %s", got)
	}
}

func TestStartupOncePerProcess(t *testing.T) {
	t.Parallel()

	tk := mk(task.Startup())
	done := false
	var dues int
	for i := 0; i < 5; i++ {
		d := Evaluate(tk, Input{Now: t0.Add(time.Duration(i) * 30 * time.Second), StartupDone: done})
		if d.Verdict == Due {
			dues++
			done = true
		}
	}
	if dues != 1 {
		t.Fatalf("dues=%d want 1", dues)
	}

	// Simulated restart: the per-process flag starts false again.
	if got := Evaluate(tk, Input{Now: t0.Add(time.Hour)}).Verdict; got != Due {
		t.Fatalf("after restart: %s", got)
	}
}

func TestConditionCooldownWindow(t *testing.T) {
	t.Parallel()

	const cooldown = 10 * time.Minute
	tk := mk(task.OnCondition(task.Condition{Metric: task.MetricRAMUsage, Comparison: task.CmpGTE, Threshold: 85}))
	metrics := task.Metrics{task.MetricRAMUsage: 92}

	// Condition holds for 60 minutes, checked every 30s.
	dueAt := []time.Time{}
	for now := t0; now.Before(t0.Add(time.Hour)); now = now.Add(30 * time.Second) {
		d := Evaluate(tk, Input{Now: now, Metrics: metrics, Cooldown: cooldown})
		if d.Verdict == Due {
			dueAt = append(dueAt, now)
			tk.Record(task.RunRecord{At: now, Success: true}, 50)
		}
	}
	if len(dueAt) != 6 {
		t.Fatalf("dues=%d want 6 (%v)", len(dueAt), dueAt)
	}
	for i := 1; i < len(dueAt); i++ {
		if gap := dueAt[i].Sub(dueAt[i-1]); gap < cooldown {
			t.Fatalf("two dues within one cooldown window: %s", gap)
		}
	}
}

func TestConditionCooldownOverrideAndMetrics(t *testing.T) {
	t.Parallel()

	tk := mk(task.OnCondition(task.Condition{Metric: task.MetricDiskUsage, Comparison: task.CmpGT, Threshold: 90, CooldownMinutes: 60}))
	tk.LastRunAt = ptr(t0)

	in := Input{Now: t0.Add(30 * time.Minute), Metrics: task.Metrics{task.MetricDiskUsage: 95}, Cooldown: time.Minute}
	d := Evaluate(tk, in)
	if d.Verdict != NotDue || d.Next == nil || !d.Next.Equal(t0.Add(time.Hour)) {
		t.Fatalf("per-task cooldown ignored: %+v", d)
	}

	in.Now = t0.Add(61 * time.Minute)
	if got := Evaluate(tk, in).Verdict; got != Due {
		t.Fatalf("after cooldown: %s", got)
	}

	in.Metrics = task.Metrics{task.MetricDiskUsage: 90}
	if got := Evaluate(tk, in).Verdict; got != NotDue {
		t.Fatalf("90 > 90 must not hold: %s", got)
	}

	in.Metrics = nil
	if got := Evaluate(tk, in).Verdict; got != Skipped {
		t.Fatalf("missing metric: %s", got)
	}
}

func TestDailyCrossing(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	tk := mk(task.DailyAt("02:00"))
	yesterday := time.Date(2026, 5, 3, 2, 0, 30, 0, loc)
	tk.LastRunAt = &yesterday

	before := time.Date(2026, 5, 4, 1, 59, 30, 0, loc)
	after := time.Date(2026, 5, 4, 2, 0, 0, 0, loc)

	d := Evaluate(tk, Input{Now: before, Location: loc, LastChecked: before.Add(-30 * time.Second)})
	if d.Verdict != NotDue {
		t.Fatalf("before target: %s", d.Verdict)
	}
	if d.Next == nil || !d.Next.Equal(after) {
		t.Fatalf("next=%v want %v", d.Next, after)
	}
	if got := Evaluate(tk, Input{Now: after, Location: loc, LastChecked: before}).Verdict; got != Due {
		t.Fatalf("at target: %s", got)
	}

	// Already ran today after the target time.
	ran := time.Date(2026, 5, 4, 2, 0, 10, 0, loc)
	tk.LastRunAt = &ran
	if got := Evaluate(tk, Input{Now: time.Date(2026, 5, 4, 23, 0, 0, 0, loc), Location: loc}).Verdict; got != NotDue {
		t.Fatalf("ran today: %s", got)
	}
}

func TestDailyCreatedAfterTargetWaitsForTomorrow(t *testing.T) {
	t.Parallel()

	tk := mk(task.DailyAt("02:00"))
	tk.CreatedAt = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	if got := Evaluate(tk, Input{Now: tk.CreatedAt.Add(time.Minute), Location: time.UTC}).Verdict; got != NotDue {
		t.Fatalf("new task fired for a past occurrence: %s", got)
	}
}

func TestCatchUpFiresOnce(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	tk := mk(task.DailyAt("02:00"))
	last := time.Date(2026, 4, 20, 2, 0, 0, 0, loc)
	tk.LastRunAt = &last

	// Offline for two weeks.
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, loc)
	if got := Evaluate(tk, Input{Now: now, Location: loc}).Verdict; got != Due {
		t.Fatalf("catch-up: %s", got)
	}
	tk.Record(task.RunRecord{At: now, Success: true}, 50)
	next := now.Add(30 * time.Second)
	d := Evaluate(tk, Input{Now: next, Location: loc, LastChecked: now})
	if d.Verdict != NotDue {
		t.Fatalf("second catch-up fired: %s", d.Verdict)
	}
	if want := time.Date(2026, 5, 5, 2, 0, 0, 0, loc); d.Next == nil || !d.Next.Equal(want) {
		t.Fatalf("next=%v want %v", d.Next, want)
	}
}

func TestWeeklyGatedOnWeekday(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	tk := mk(task.WeeklyAt(time.Wednesday, "09:00"))
	tk.CreatedAt = time.Date(2026, 5, 4, 0, 0, 0, 0, loc) // Monday

	monday := time.Date(2026, 5, 4, 9, 0, 0, 0, loc)
	if got := Evaluate(tk, Input{Now: monday, Location: loc}).Verdict; got != NotDue {
		t.Fatalf("monday: %s", got)
	}
	wednesday := time.Date(2026, 5, 6, 9, 0, 0, 0, loc)
	if got := Evaluate(tk, Input{Now: wednesday, Location: loc, LastChecked: wednesday.Add(-30 * time.Second)}).Verdict; got != Due {
		t.Fatalf("wednesday: %s", got)
	}
}

func TestDailyUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	tk := mk(task.DailyAt("02:00"))
	tk.CreatedAt = time.Date(2026, 5, 3, 12, 0, 0, 0, loc)

	// 02:00 at UTC+7 is 19:00 UTC the previous day.
	now := time.Date(2026, 5, 3, 19, 0, 0, 0, time.UTC)
	if got := Evaluate(tk, Input{Now: now, Location: loc}).Verdict; got != Due {
		t.Fatalf("verdict=%s", got)
	}
	if got := Evaluate(tk, Input{Now: now.Add(-time.Minute), Location: loc}).Verdict; got != NotDue {
		t.Fatalf("verdict=%s", got)
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		s    task.Schedule
		want string
	}{
		{task.DailyAt("02:05"), "5 2 * * *"},
		{task.WeeklyAt(time.Sunday, "23:59"), "59 23 * * 0"},
		{task.WeeklyAt(time.Monday, "09:00"), "0 9 * * 1"},
	}
	for _, tc := range cases {
		got, err := CronSpec(tc.s)
		if err != nil || got != tc.want {
			t.Fatalf("%+v: %q %v want %q", tc.s, got, err, tc.want)
		}
	}
	if _, err := CronSpec(task.Every(5)); err == nil {
		t.Fatal("interval must have no cron form")
	}
}
