package due

import (
	"fmt"
	"time"

	"maintd/internal/task"
)

type Verdict int

const (
	NotDue Verdict = iota
	Due
	Skipped
)

func (v Verdict) String() string {
	switch v {
	case Due:
		return "due"
	case Skipped:
		return "skipped"
	default:
		return "not_due"
	}
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// DefaultCooldown applies to condition schedules that set no cooldown of their own.
const DefaultCooldown = 15 * time.Minute

type Input struct {
	Now time.Time
	// Location is used for daily and weekly wall-clock times. Nil means Now's location.
	Location *time.Location
	// Metrics is the current sample. Missing metrics skip condition schedules.
	Metrics task.Metrics
	// StartupDone is true once a startup task has run in this process.
	StartupDone bool
	// LastChecked is the previous evaluation of this task in this process (zero if none).
	LastChecked time.Time
	// Cooldown is the default for condition schedules. 0 means DefaultCooldown.
	Cooldown time.Duration
}

type Decision struct {
	Verdict Verdict    `json:"verdict"`
	Reason  string     `json:"reason,omitempty"`
	Next    *time.Time `json:"next,omitempty"`
}

func notDue(reason string, next *time.Time) Decision {
	return Decision{Verdict: NotDue, Reason: reason, Next: next}
}

// Evaluate decides whether t is due at in.Now.
//
// Missed periods never accumulate: a daily, weekly or interval task that was
// not checked for several periods is due once, then waits for the next period.
func Evaluate(t task.Task, in Input) Decision {
	if !t.Enabled {
		return notDue("disabled", nil)
	}
	switch t.Schedule.Kind {
	case task.ScheduleStartup:
		if in.StartupDone {
			return notDue("already ran since start", nil)
		}
		return Decision{Verdict: Due, Reason: "first evaluation since start"}
	case task.ScheduleInterval:
		return evalInterval(t, in)
	case task.ScheduleDaily, task.ScheduleWeekly:
		return evalCalendar(t, in)
	case task.ScheduleOnCondition:
		return evalCondition(t, in)
	default:
		return Decision{Verdict: Skipped, Reason: fmt.Sprintf("unknown schedule kind %q", t.Schedule.Kind)}
	}
}

// Next returns the earliest time t may become due, when the schedule allows
// computing one without metrics. It is the next_eligible_at hint.
func Next(t task.Task, in Input) *time.Time {
	return Evaluate(t, in).Next
}

func evalInterval(t task.Task, in Input) Decision {
	every := time.Duration(t.Schedule.IntervalMinutes) * time.Minute
	if t.LastRunAt == nil {
		return Decision{Verdict: Due, Reason: "never run"}
	}
	next := t.LastRunAt.Add(every)
	if in.Now.Before(next) {
		return notDue("interval not elapsed", &next)
	}
	return Decision{Verdict: Due, Reason: "interval elapsed", Next: &next}
}

// evalCalendar fires when an occurrence of the wall-clock schedule lies in
// (anchor, now], where anchor is the latest of creation, last run and last check.
func evalCalendar(t task.Task, in Input) Decision {
	loc := in.Location
	if loc == nil {
		loc = in.Now.Location()
	}
	sched, err := calendar(t.Schedule, loc)
	if err != nil {
		return Decision{Verdict: Skipped, Reason: err.Error()}
	}

	anchor := t.CreatedAt
	if t.LastRunAt != nil && t.LastRunAt.After(anchor) {
		anchor = *t.LastRunAt
	}
	if in.LastChecked.After(anchor) {
		anchor = in.LastChecked
	}

	occ := sched.Next(anchor.In(loc))
	if occ.IsZero() {
		return Decision{Verdict: Skipped, Reason: "schedule has no future occurrence"}
	}
	if occ.After(in.Now) {
		return notDue("target time not reached", &occ)
	}
	return Decision{Verdict: Due, Reason: "target time crossed at " + occ.Format("2006-01-02 15:04"), Next: &occ}
}

func evalCondition(t task.Task, in Input) Decision {
	c := t.Schedule.Condition
	if c == nil {
		return Decision{Verdict: Skipped, Reason: "condition missing"}
	}

	cooldown := in.Cooldown
	if c.CooldownMinutes > 0 {
		cooldown = time.Duration(c.CooldownMinutes) * time.Minute
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if t.LastRunAt != nil {
		until := t.LastRunAt.Add(cooldown)
		if in.Now.Before(until) {
			return notDue("cooling down", &until)
		}
	}

	v, ok := in.Metrics.Value(c.Metric)
	if !ok {
		return Decision{Verdict: Skipped, Reason: fmt.Sprintf("metric %s unavailable", c.Metric)}
	}
	if !c.Comparison.Holds(v, c.Threshold) {
		return notDue(fmt.Sprintf("%s=%.1f not %s %.1f", c.Metric, v, c.Comparison, c.Threshold), nil)
	}
	return Decision{Verdict: Due, Reason: fmt.Sprintf("%s=%.1f %s %.1f", c.Metric, v, c.Comparison, c.Threshold)}
}
