package task

// DefaultHistorySize is the per-task history cap used when none is configured.
const DefaultHistorySize = 50

// Record applies one execution attempt to the task statistics.
//
// History is kept oldest-first; entries beyond limit are evicted from the front.
// LastRunAt never moves backwards, even if rec.At does.
func (t *Task) Record(rec RunRecord, limit int) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	rec.At = rec.At.UTC()

	t.Stats.RunsTotal++
	if rec.Success {
		t.Stats.Successes++
	} else {
		t.Stats.Failures++
	}
	last := rec
	t.Stats.LastResult = &last

	if t.LastRunAt == nil || rec.At.After(*t.LastRunAt) {
		at := rec.At
		t.LastRunAt = &at
	}

	t.History = append(t.History, rec)
	if n := len(t.History); n > limit {
		t.History = append(t.History[:0:0], t.History[n-limit:]...)
	}
}

// TrimHistory enforces limit on an already-recorded history, e.g. after the
// configured size shrinks.
func (t *Task) TrimHistory(limit int) {
	if limit <= 0 {
		return
	}
	if n := len(t.History); n > limit {
		t.History = append(t.History[:0:0], t.History[n-limit:]...)
	}
}
