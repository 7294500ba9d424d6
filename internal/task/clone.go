package task

import "time"

// Clone returns a deep copy safe to hand out of the store.
func (t Task) Clone() Task {
	out := t
	out.Action = t.Action.clone()
	out.Schedule = t.Schedule.clone()
	out.LastRunAt = cloneTime(t.LastRunAt)
	out.NextEligibleAt = cloneTime(t.NextEligibleAt)
	if t.Stats.LastResult != nil {
		r := *t.Stats.LastResult
		out.Stats.LastResult = &r
	}
	if t.History != nil {
		out.History = append(make([]RunRecord, 0, len(t.History)), t.History...)
	}
	return out
}

func (a Action) clone() Action {
	out := a
	if a.RAM != nil {
		v := *a.RAM
		out.RAM = &v
	}
	if a.Disk != nil {
		v := *a.Disk
		v.Categories = append([]DiskCategory(nil), a.Disk.Categories...)
		out.Disk = &v
	}
	if a.Defender != nil {
		v := *a.Defender
		out.Defender = &v
	}
	return out
}

func (s Schedule) clone() Schedule {
	out := s
	if s.Condition != nil {
		c := *s.Condition
		out.Condition = &c
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
