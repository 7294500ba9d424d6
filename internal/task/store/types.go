package store

import (
	"errors"
	"fmt"
	"time"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

const (
	documentVersion = 1

	MaxStartupDelaySeconds = 600
)

var (
	// ErrCorrupt matches every *CorruptError.
	ErrCorrupt = errors.New("task store: corrupt persistence file")
	ErrClosed  = errors.New("task store closed")
)

// Settings are scheduler-wide flags persisted alongside the tasks.
type Settings struct {
	SchedulerEnabled   bool `json:"scheduler_enabled"`
	AutoStartScheduler bool `json:"auto_start_scheduler"`
	// StartMinimized is only stored for the desktop front-end.
	StartMinimized      bool `json:"start_minimized"`
	StartupDelaySeconds int  `json:"startup_delay_seconds"`
}

func DefaultSettings() Settings {
	return Settings{SchedulerEnabled: true, AutoStartScheduler: true}
}

func (s Settings) Validate() error {
	if s.StartupDelaySeconds < 0 || s.StartupDelaySeconds > MaxStartupDelaySeconds {
		return &task.ValidationError{
			Field:  "settings.startup_delay_seconds",
			Reason: fmt.Sprintf("must be between 0 and %d", MaxStartupDelaySeconds),
		}
	}
	return nil
}

type document struct {
	Version  int         `json:"version"`
	Settings Settings    `json:"settings"`
	Tasks    []task.Task `json:"tasks"`
}

// CorruptError is returned by Open when the document cannot be used.
// The store is still usable (empty); the unreadable file was moved to PreservedAs.
type CorruptError struct {
	Path        string
	PreservedAs string
	Err         error
}

func (e *CorruptError) Error() string {
	if e.PreservedAs == "" {
		return fmt.Sprintf("task store %s is corrupt (could not be preserved): %v", e.Path, e.Err)
	}
	return fmt.Sprintf("task store %s is corrupt (preserved as %s): %v", e.Path, e.PreservedAs, e.Err)
}
func (e *CorruptError) Unwrap() error        { return e.Err }
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// SaveError is an IO failure while persisting the document.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save %s: %v", e.Path, e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }

type Options struct {
	Path string
	// HistorySize caps per-task history. 0 uses task.DefaultHistorySize.
	HistorySize int
	Log         logx.Logger
	// Now is the clock used for created/updated stamps. Defaults to time.Now.
	Now func() time.Time
	// NewID generates task ids. Defaults to random UUIDs.
	NewID func() string
}
