package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

// Store is the task set. All methods are safe for concurrent use and
// return deep copies, never references into the store.
type Store struct {
	mu sync.Mutex

	path        string
	log         logx.Logger
	now         func() time.Time
	newID       func() string
	historySize int

	tasks    []task.Task
	settings Settings

	// dirty is set when the last save failed; the next mutation or Flush retries.
	dirty   bool
	lastErr error
	// blocked means a corrupt document could not be moved aside; saving would destroy it.
	blocked bool
	closed  bool

	saveWarn *logx.Throttle
}

// Open loads the document at opt.Path.
//
// A missing file starts an empty store. An unreadable file is moved aside and
// Open returns a usable empty store together with a *CorruptError.
func Open(opt Options) (*Store, error) {
	path := strings.TrimSpace(opt.Path)
	if path == "" {
		return nil, errors.New("task store path is required")
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	if opt.HistorySize <= 0 {
		opt.HistorySize = task.DefaultHistorySize
	}

	s := &Store{
		path:        path,
		log:         opt.Log.With(logx.String("comp", "store")),
		now:         opt.Now,
		newID:       opt.NewID,
		historySize: opt.HistorySize,
		tasks:       []task.Task{},
		settings:    DefaultSettings(),
		saveWarn:    logx.NewThrottle(30 * time.Second),
	}

	doc, err := readDocument(path)
	if err != nil {
		var ce *CorruptError
		if !errors.As(err, &ce) {
			return nil, err
		}
		preserved, perr := preserveCorrupt(path, s.now())
		if perr != nil {
			s.blocked = true
			s.log.Error("store.corrupt.preserve_failed", logx.String("path", path), logx.Err(perr))
		}
		ce.PreservedAs = preserved
		s.log.Error("store.corrupt", logx.String("path", path), logx.String("preserved_as", preserved), logx.Err(ce.Err))
		return s, ce
	}
	if doc != nil {
		s.settings = doc.Settings
		s.tasks = doc.Tasks
		for i := range s.tasks {
			s.tasks[i].TrimHistory(s.historySize)
		}
		s.log.Info("store.loaded", logx.String("path", path), logx.Int("tasks", len(s.tasks)))
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

// saveLocked writes the whole document. Failures are recorded, not returned.
func (s *Store) saveLocked() {
	if err := s.writeLocked(); err != nil {
		s.dirty = true
		s.lastErr = err
		s.saveWarn.Do(func() {
			s.log.Warn("store.save.failed", logx.String("path", s.path), logx.Err(err))
		})
		return
	}
	if s.dirty {
		s.log.Info("store.save.recovered", logx.String("path", s.path))
	}
	s.dirty = false
	s.lastErr = nil
}

func (s *Store) writeLocked() error {
	if s.blocked {
		return &SaveError{Path: s.path, Err: errors.New("corrupt document could not be preserved; refusing to overwrite")}
	}
	doc := document{Version: documentVersion, Settings: s.settings, Tasks: s.tasks}
	if err := writeDocument(s.path, doc); err != nil {
		return &SaveError{Path: s.path, Err: err}
	}
	return nil
}

// List returns a snapshot of all tasks in insertion order.
func (s *Store) List() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, len(s.tasks))
	for i := range s.tasks {
		out[i] = s.tasks[i].Clone()
	}
	return out
}

func (s *Store) Get(id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return task.Task{}, &task.NotFoundError{ID: id}
	}
	return s.tasks[i].Clone(), nil
}

func (s *Store) Create(d task.Draft) (task.Task, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}

	id := s.newID()
	for id == "" || s.indexLocked(id) >= 0 {
		id = uuid.NewString()
	}
	now := s.stamp()
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	t := task.Task{
		ID:        id,
		Name:        d.Name,
		Description: d.Description,
		Action:      d.Action,
		Schedule:    d.Schedule,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []task.RunRecord{},
	}
	s.tasks = append(s.tasks, t)
	s.saveLocked()
	return t.Clone(), nil
}

// Update applies p. A schedule or action in p replaces the old one entirely and
// clears the cached next-eligible hint.
func (s *Store) Update(id string, p task.Patch) (task.Task, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if err := task.ValidateName(name); err != nil {
			return task.Task{}, err
		}
		p.Name = &name
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if err := task.ValidateDescription(desc); err != nil {
			return task.Task{}, err
		}
		p.Description = &desc
	}
	if p.Action != nil {
		a := p.Action.Normalize()
		if err := a.Validate(); err != nil {
			return task.Task{}, err
		}
		p.Action = &a
	}
	if p.Schedule != nil {
		sc := p.Schedule.Normalize()
		if err := sc.Validate(); err != nil {
			return task.Task{}, err
		}
		p.Schedule = &sc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		return task.Task{}, &task.NotFoundError{ID: id}
	}
	if p.IsEmpty() {
		return s.tasks[i].Clone(), nil
	}

	t := &s.tasks[i]
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Action != nil {
		t.Action = *p.Action
	}
	if p.Schedule != nil {
		t.Schedule = *p.Schedule
		t.NextEligibleAt = nil
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	t.UpdatedAt = s.stamp()
	s.saveLocked()
	return t.Clone(), nil
}

func (s *Store) SetEnabled(id string, enabled bool) (task.Task, error) {
	return s.Update(id, task.Patch{Enabled: &enabled})
}

// Delete removes id. Deleting a missing id is an error, not a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		return &task.NotFoundError{ID: id}
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	s.saveLocked()
	return nil
}

// RecordRun applies one execution attempt and the recomputed next-eligible hint.
func (s *Store) RecordRun(id string, rec task.RunRecord, next *time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		return task.Task{}, &task.NotFoundError{ID: id}
	}
	t := &s.tasks[i]
	t.Record(rec, s.historySize)
	t.NextEligibleAt = utcPtr(next)
	s.saveLocked()
	return t.Clone(), nil
}

// SetHints stores next-eligible hints for several tasks with a single save.
// Unknown ids are ignored; nothing is written when no hint changed.
func (s *Store) SetHints(hints map[string]*time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(hints) == 0 {
		return
	}
	changed := false
	for i := range s.tasks {
		h, ok := hints[s.tasks[i].ID]
		if !ok {
			continue
		}
		h = utcPtr(h)
		if !sameTime(s.tasks[i].NextEligibleAt, h) {
			s.tasks[i].NextEligibleAt = h
			changed = true
		}
	}
	if changed {
		s.saveLocked()
	}
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings mutates the settings through fn and saves them.
func (s *Store) UpdateSettings(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.settings, ErrClosed
	}
	next := s.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	if next == s.settings {
		return next, nil
	}
	s.settings = next
	s.saveLocked()
	return next, nil
}

func (s *Store) SetSchedulerEnabled(enabled bool) (Settings, error) {
	return s.UpdateSettings(func(st *Settings) { st.SchedulerEnabled = enabled })
}

// SetHistorySize changes the per-task cap and trims existing histories.
func (s *Store) SetHistorySize(n int) {
	if n <= 0 {
		n = task.DefaultHistorySize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.historySize {
		return
	}
	shrink := n < s.historySize
	s.historySize = n
	if !shrink || s.closed {
		return
	}
	for i := range s.tasks {
		s.tasks[i].TrimHistory(n)
	}
	s.saveLocked()
}

// LastSaveError returns the pending save failure, if any.
func (s *Store) LastSaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Flush retries a failed save. It is a no-op when the document is current.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}
	s.saveLocked()
	return s.lastErr
}

// Close flushes and rejects further mutations. Reads keep working.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
