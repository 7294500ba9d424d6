package actions

import (
	"context"
	"errors"

	"maintd/internal/task"
	"maintd/internal/task/dispatch"
	"maintd/pkg/systemdmanager"
)

// unitState is implemented by controllers that can report the current state.
type unitState interface {
	IsActive(ctx context.Context, unit string) (bool, error)
	IsEnabled(ctx context.Context, unit string) (bool, error)
}

// inState reports whether the unit already matches opt. Query failures count
// as a mismatch so the toggle still runs.
func inState(ctx context.Context, units UnitController, unit string, opt task.DefenderOptions) bool {
	st, ok := units.(unitState)
	if !ok {
		return false
	}
	active, err := st.IsActive(ctx, unit)
	if err != nil || active != opt.Enable {
		return false
	}
	if !opt.Permanent {
		return true
	}
	enabled, err := st.IsEnabled(ctx, unit)
	return err == nil && enabled == opt.Enable
}

// toggleUnit starts or stops the unit. A permanent toggle also enables or
// disables the unit file so the state survives a reboot.
func toggleUnit(ctx context.Context, units UnitController, unit string, opt task.DefenderOptions) (string, error) {
	if units == nil {
		return "", dispatch.NoRetry(errors.New("no unit controller configured"))
	}
	name := systemdmanager.UnitName(unit)
	if inState(ctx, units, name, opt) {
		if opt.Enable {
			return name + " already active", nil
		}
		return name + " already inactive", nil
	}

	if opt.Enable {
		if opt.Permanent {
			if err := units.Enable(ctx, name); err != nil {
				return "", unitErr(err)
			}
		}
		if err := units.Start(ctx, name); err != nil {
			return "", unitErr(err)
		}
		if opt.Permanent {
			return systemdmanager.FormatActionResult(name, "enable", nil) + " and started", nil
		}
		return systemdmanager.FormatActionResult(name, "start", nil), nil
	}

	if err := units.Stop(ctx, name); err != nil {
		return "", unitErr(err)
	}
	if opt.Permanent {
		if err := units.Disable(ctx, name); err != nil {
			return "", unitErr(err)
		}
		return systemdmanager.FormatActionResult(name, "stop", nil) + " and disabled", nil
	}
	return systemdmanager.FormatActionResult(name, "stop", nil), nil
}

func unitErr(err error) error {
	if errors.Is(err, systemdmanager.ErrNoSuchUnit) || errors.Is(err, systemdmanager.ErrClosed) {
		return dispatch.NoRetry(err)
	}
	return err
}
