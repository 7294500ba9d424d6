package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "maintd/pkg/logx"
)

// fileJournal is a dependency-free backend.
//
// Entries are appended to a JSON Lines file and mirrored in memory up to the
// retention window. When the file grows past twice the window it is rewritten
// with the retained tail.
type fileJournal struct {
	log logx.Logger

	mu        sync.Mutex
	path      string
	f         *os.File
	retention int
	recent    []RunEntry // oldest first
	lines     int
}

func openFile(cfg Config, log logx.Logger) (Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	j := &fileJournal{log: log, path: path, retention: cfg.Retention}
	n, err := j.replay()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	j.lines = n

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j.f = f
	return j, nil
}

// replay loads the retained tail and returns the number of lines read.
// Malformed lines are skipped.
func (j *fileJournal) replay() (int, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		n++
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.TaskID == "" {
			continue
		}
		j.push(e)
	}
	return n, sc.Err()
}

func (j *fileJournal) push(e RunEntry) {
	j.recent = append(j.recent, e)
	if len(j.recent) > j.retention {
		j.recent = append(j.recent[:0:0], j.recent[len(j.recent)-j.retention:]...)
	}
}

func (j *fileJournal) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return ErrDisabled
	}
	e.At = e.At.UTC()
	if err := json.NewEncoder(j.f).Encode(e); err != nil {
		return err
	}
	j.push(e)
	j.lines++
	if j.lines > 2*j.retention {
		if err := j.compactLocked(); err != nil {
			j.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (j *fileJournal) RecentRuns(ctx context.Context, q Query) ([]RunEntry, error) {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	limit := q.limit()
	out := make([]RunEntry, 0, min(limit, len(j.recent)))
	for i := len(j.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if q.TaskID != "" && j.recent[i].TaskID != q.TaskID {
			continue
		}
		out = append(out, j.recent[i])
	}
	return out, nil
}

func (j *fileJournal) compactLocked() error {
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range j.recent {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = j.f.Close()
	j.f = nf
	j.lines = len(j.recent)
	return nil
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
