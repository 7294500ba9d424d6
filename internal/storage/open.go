package storage

import (
	"context"
	"errors"
	"strings"

	logx "maintd/pkg/logx"
)

// Journal is the run journal API used by the scheduler and the control API.
type Journal interface {
	AppendRun(ctx context.Context, e RunEntry) error
	RecentRuns(ctx context.Context, q Query) ([]RunEntry, error)
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
