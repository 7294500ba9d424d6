package scheduler

import (
	"context"
	"time"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/due"
	logx "maintd/pkg/logx"
)

// Tick runs one evaluation pass at now. Due tasks execute sequentially; a
// failing task never stops the pass. When the global flag is off the tick is
// recorded but nothing is evaluated.
func (s *Service) Tick(ctx context.Context, now time.Time) TickReport {
	if err := s.acquire(ctx); err != nil {
		return TickReport{At: now}
	}
	defer s.release()
	return s.tickLocked(ctx, now)
}

func (s *Service) tickLocked(ctx context.Context, now time.Time) TickReport {
	rep := TickReport{At: now}
	mono := time.Now()

	if !s.store.Settings().SchedulerEnabled {
		rep.Disabled = true
		s.finishTick(rep)
		return rep
	}

	cfg, loc := s.config()
	tasks := s.store.List()
	live := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		live[t.ID] = true
	}
	hints := map[string]*time.Time{}

	var (
		metrics task.Metrics
		sampled bool
	)
	for _, t := range tasks {
		if ctx.Err() != nil || rep.Disabled {
			break
		}
		if t.Enabled && t.Schedule.Kind == task.ScheduleOnCondition && !sampled {
			metrics = s.sample(ctx)
			sampled = true
		}
		d := due.Evaluate(t, due.Input{
			Now:         now,
			Location:    loc,
			Metrics:     metrics,
			StartupDone: s.startupDone[t.ID],
			LastChecked: s.lastChecked[t.ID],
			Cooldown:    cfg.Cooldown,
		})
		prevChecked, hadChecked := s.lastChecked[t.ID]
		s.lastChecked[t.ID] = now

		switch d.Verdict {
		case due.Due:
			// An earlier action in this pass may have changed the store.
			cur, reason := s.current(t.ID)
			if reason != "" {
				s.log.Debug("task dropped before run", logx.String("task", t.ID), logx.String("reason", reason))
				if reason == reasonGlobalOff {
					// Keep the target crossable once the flag is back on.
					if hadChecked {
						s.lastChecked[t.ID] = prevChecked
					} else {
						delete(s.lastChecked, t.ID)
					}
					rep.Disabled = true
				}
				continue
			}
			t = cur
			rep.Due = append(rep.Due, t.ID)
			s.log.Debug("task due", logx.String("task", t.ID), logx.String("name", t.Name), logx.String("reason", d.Reason))
			at := now.Add(time.Since(mono))
			if out := s.run(ctx, t, TriggerSchedule, at); !out.Success {
				rep.Failed = append(rep.Failed, t.ID)
			}
		case due.Skipped:
			rep.Skipped = append(rep.Skipped, t.ID)
			s.log.Debug("task skipped", logx.String("task", t.ID), logx.String("reason", d.Reason))
		default:
			if !sameTime(t.NextEligibleAt, d.Next) {
				hints[t.ID] = d.Next
			}
		}
	}
	s.store.SetHints(hints)

	for id := range s.lastChecked {
		if !live[id] {
			delete(s.lastChecked, id)
			delete(s.startupDone, id)
		}
	}

	s.finishTick(rep)
	return rep
}

const reasonGlobalOff = "scheduler disabled"

// current re-reads a task right before it runs. A non-empty reason means it
// must not run: it was deleted or disabled, or the global flag went off.
func (s *Service) current(id string) (task.Task, string) {
	if !s.store.Settings().SchedulerEnabled {
		return task.Task{}, reasonGlobalOff
	}
	t, err := s.store.Get(id)
	if err != nil {
		return task.Task{}, "deleted"
	}
	if !t.Enabled {
		return task.Task{}, "disabled"
	}
	return t, ""
}

func (s *Service) finishTick(rep TickReport) {
	at := rep.At
	s.mu.Lock()
	s.status.Ticks++
	s.status.LastTickAt = &at
	s.status.LastTickDue = len(rep.Due)
	s.status.LastTickSkipped = len(rep.Skipped)
	s.mu.Unlock()

	s.publish(eventbus.SchedulerTick, map[string]any{
		"at":       rep.At,
		"disabled": rep.Disabled,
		"due":      len(rep.Due),
		"failed":   len(rep.Failed),
		"skipped":  len(rep.Skipped),
	})
	if len(rep.Due) > 0 || rep.Disabled {
		s.log.Debug("tick", logx.Time("at", rep.At), logx.Bool("disabled", rep.Disabled), logx.Int("due", len(rep.Due)), logx.Int("failed", len(rep.Failed)))
	}
}

// RunNow executes one task immediately, regardless of its schedule, its
// enabled flag or the global flag. It waits for any in-flight tick.
func (s *Service) RunNow(ctx context.Context, id string) (task.Outcome, error) {
	if err := s.acquire(ctx); err != nil {
		return task.Outcome{}, err
	}
	defer s.release()

	t, err := s.store.Get(id)
	if err != nil {
		return task.Outcome{}, err
	}
	return s.run(ctx, t, TriggerManual, s.now()), nil
}

// run executes t and records the outcome. Call with the gate held.
func (s *Service) run(ctx context.Context, t task.Task, trigger string, at time.Time) task.Outcome {
	s.mu.Lock()
	prev := s.status.State
	s.status.State = StateRunning
	s.status.RunningTask = t.ID
	s.mu.Unlock()
	s.publish(eventbus.TaskRunStarted, RunEvent{TaskID: t.ID, TaskName: t.Name, Trigger: trigger, At: at})

	begin := time.Now()
	var out task.Outcome
	if s.exec == nil {
		out = task.Failed("no action executor configured")
	} else {
		out = s.exec.Execute(ctx, t.Action)
	}
	dur := time.Since(begin)

	if trigger == TriggerSchedule && t.Schedule.Kind == task.ScheduleStartup {
		s.startupDone[t.ID] = true
	}

	rec := task.RunRecord{At: at, Success: out.Success, Message: out.Message, DurationMS: dur.Milliseconds()}
	next := s.nextAfter(t, rec)
	if _, err := s.store.RecordRun(t.ID, rec, next); err != nil {
		s.log.Debug("run not recorded", logx.String("task", t.ID), logx.Err(err))
	}
	s.appendJournal(ctx, storage.RunEntry{
		At:         at,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Action:     string(t.Action.Kind),
		Trigger:    trigger,
		Success:    out.Success,
		Message:    out.Message,
		DurationMS: rec.DurationMS,
	})

	fields := []logx.Field{
		logx.String("task", t.ID),
		logx.String("name", t.Name),
		logx.String("action", string(t.Action.Kind)),
		logx.String("trigger", trigger),
		logx.Duration("dur", dur),
		logx.String("msg", out.Message),
	}
	if out.Success {
		s.log.Info("task.run.ok", fields...)
	} else {
		s.log.Warn("task.run.failed", fields...)
	}

	s.mu.Lock()
	s.status.State = prev
	s.status.RunningTask = ""
	s.status.LastRun = &LastRun{TaskID: t.ID, TaskName: t.Name, Trigger: trigger, At: at, Outcome: out, Duration: dur}
	s.mu.Unlock()
	s.publish(eventbus.TaskRunFinished, RunEvent{TaskID: t.ID, TaskName: t.Name, Trigger: trigger, At: at, Outcome: &out, Duration: dur})
	return out
}

// nextAfter computes the next-eligible hint as if rec had been recorded.
func (s *Service) nextAfter(t task.Task, rec task.RunRecord) *time.Time {
	cfg, loc := s.config()
	tmp := t.Clone()
	tmp.Record(rec, 1)
	return due.Next(tmp, due.Input{
		Now:         rec.At,
		Location:    loc,
		StartupDone: true,
		LastChecked: rec.At,
		Cooldown:    cfg.Cooldown,
	})
}

func (s *Service) sample(ctx context.Context) task.Metrics {
	if s.metrics == nil {
		return nil
	}
	m, err := s.metrics.Sample(ctx)
	if err != nil {
		s.metricsWarn.Do(func() {
			s.log.Warn("metrics sample failed; condition tasks skipped", logx.Err(err))
		})
	}
	return m
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
