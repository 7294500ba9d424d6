package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "maintd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		j, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || j != nil {
			t.Fatalf("driver %q: j=%v err=%v", driver, j, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestJournalDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "runs."+driver)
			cfg := Config{Driver: driver, Path: path, Retention: 3, BusyTimeout: time.Second}

			j, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				e := RunEntry{
					At:       base.Add(time.Duration(i) * time.Minute),
					TaskID:   fmt.Sprintf("t%d", i%2),
					TaskName: "task",
					Action:   "clean_ram",
					Trigger:  "schedule",
					Success:  i != 2,
					Message:  fmt.Sprint(i),
				}
				if err := j.AppendRun(ctx, e); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			got, err := j.RecentRuns(ctx, Query{TaskID: "t0", Limit: 2})
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) != 2 || got[0].Message != "4" || got[1].Message != "2" || got[1].Success {
				t.Fatalf("recent=%+v", got)
			}
			if !got[0].At.Equal(base.Add(4 * time.Minute)) {
				t.Fatalf("at=%v", got[0].At)
			}
			if err := j.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			// Reopen: entries survive.
			j, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer j.Close()
			all, err := j.RecentRuns(ctx, Query{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) < 3 || all[0].Message != "4" {
				t.Fatalf("after reopen=%+v", all)
			}
		})
	}
}

func TestFileJournalCompacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	j, err := Open(Config{Driver: "file", Path: path, Retention: 2}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	for i := 0; i < 9; i++ {
		if err := j.AppendRun(ctx, RunEntry{TaskID: "t", Message: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	fj := j.(*fileJournal)
	if fj.lines > 4 {
		t.Fatalf("lines=%d, journal not compacted", fj.lines)
	}
	all, _ := j.RecentRuns(ctx, Query{})
	if len(all) != 2 || all[0].Message != "8" || all[1].Message != "7" {
		t.Fatalf("recent=%+v", all)
	}
}
