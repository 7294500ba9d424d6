package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"maintd/internal/task"
)

// readDocument loads path. A missing file yields (nil, nil).
func readDocument(path string) (*document, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return doc, nil
}

func decodeDocument(b []byte) (*document, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after document")
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("unsupported document version %d", doc.Version)
	}

	seen := make(map[string]bool, len(doc.Tasks))
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		t.Action = t.Action.Normalize()
		t.Schedule = t.Schedule.Normalize()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %d (%q): %w", i, t.ID, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if t.History == nil {
			t.History = []task.RunRecord{}
		}
	}
	if err := doc.Settings.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// preserveCorrupt moves an unreadable document aside so the next save cannot overwrite it.
func preserveCorrupt(path string, now time.Time) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, dst); err == nil {
		return dst, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, b, 0o600); err != nil {
		return "", err
	}
	return dst, nil
}

// writeDocument replaces path atomically.
func writeDocument(path string, doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
