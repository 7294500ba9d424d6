package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "maintd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteJournal struct {
	db  *sql.DB
	log logx.Logger

	retention  int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &sqliteJournal{db: db, log: log, retention: cfg.Retention, pruneEvery: 200}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *sqliteJournal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *sqliteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *sqliteJournal) AppendRun(ctx context.Context, e RunEntry) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(at, task_id, task_name, action_kind, trigger_kind, success, message, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.TaskID, e.TaskName, e.Action, e.Trigger,
		boolInt(e.Success), nullStr(e.Message), e.DurationMS,
	)
	if err == nil && j.opCount.Add(1)%j.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := j.prune(pctx); perr != nil {
			j.log.Debug("journal prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (j *sqliteJournal) RecentRuns(ctx context.Context, q Query) ([]RunEntry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT at, task_id, task_name, action_kind, trigger_kind, success, COALESCE(message, ''), duration_ms FROM runs`
	if q.TaskID != "" {
		rows, err = j.db.QueryContext(ctx, cols+` WHERE task_id = ? ORDER BY id DESC LIMIT ?`, q.TaskID, q.limit())
	} else {
		rows, err = j.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT ?`, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RunEntry{}
	for rows.Next() {
		var (
			e       RunEntry
			at      string
			success int
		)
		if err := rows.Scan(&at, &e.TaskID, &e.TaskName, &e.Action, &e.Trigger, &success, &e.Message, &e.DurationMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *sqliteJournal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT id FROM runs ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		j.retention,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
