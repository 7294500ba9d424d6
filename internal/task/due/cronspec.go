package due

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"maintd/internal/task"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec renders a daily or weekly schedule as a five-field cron expression.
func CronSpec(s task.Schedule) (string, error) {
	h, m, err := task.ParseHHMM(s.At)
	if err != nil {
		return "", err
	}
	switch s.Kind {
	case task.ScheduleDaily:
		return fmt.Sprintf("%d %d * * *", m, h), nil
	case task.ScheduleWeekly:
		wd, err := task.ParseWeekday(s.Weekday)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", m, h, int(wd)), nil
	default:
		return "", fmt.Errorf("schedule kind %q has no cron form", s.Kind)
	}
}

// calendar returns the cron schedule evaluated in loc.
func calendar(s task.Schedule, loc *time.Location) (cron.Schedule, error) {
	spec, err := CronSpec(s)
	if err != nil {
		return nil, err
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok && loc != nil {
		ss.Location = loc
	}
	return sched, nil
}
