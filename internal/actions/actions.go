package actions

import (
	"context"
	"time"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

// UnitController is satisfied by both the D-Bus manager and the systemctl CLI.
type UnitController interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Enable(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error
}

// Linux implements dispatch.Actions on a Linux desktop.
type Linux struct {
	cfg   Config
	units UnitController
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, units UnitController, log logx.Logger) *Linux {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Linux{
		cfg:   cfg.withDefaults(),
		units: units,
		log:   log.With(logx.String("comp", "actions")),
		now:   time.Now,
	}
}

func (l *Linux) CleanRAM(ctx context.Context, opt task.RAMOptions) (string, error) {
	return cleanRAM(ctx, l.cfg, opt, l.log)
}

func (l *Linux) CleanDisk(ctx context.Context, opt task.DiskOptions) (string, error) {
	return cleanDisk(ctx, l.cfg, opt, l.now(), l.log)
}

func (l *Linux) ToggleDefender(ctx context.Context, opt task.DefenderOptions) (string, error) {
	return toggleUnit(ctx, l.units, l.cfg.DefenderUnit, opt)
}
