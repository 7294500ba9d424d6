package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("run journal disabled")

const DefaultRetention = 5000

// Config configures the run journal.
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention is the number of entries kept. 0 uses DefaultRetention.
	Retention int
}

// RunEntry is one execution attempt.
type RunEntry struct {
	At         time.Time `json:"at"`
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name"`
	Action     string    `json:"action"`
	Trigger    string    `json:"trigger"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"duration_ms"`
}

// Query filters RecentRuns. Results are newest first.
type Query struct {
	TaskID string
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 1000 {
		return 100
	}
	return q.Limit
}
