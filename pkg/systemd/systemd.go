// Package systemd drives units through the systemctl binary. It is the
// fallback when the system D-Bus is unreachable.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLI runs systemctl. Bin defaults to "systemctl".
type CLI struct {
	Bin string
}

func (c CLI) bin() string {
	if c.Bin == "" {
		return "systemctl"
	}
	return c.Bin
}

func (c CLI) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, c.bin(), args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if s != "" {
			return s, fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, s)
		}
		return s, fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return s, nil
}

func (c CLI) Start(ctx context.Context, unit string) error {
	_, err := c.run(ctx, "start", unit)
	return err
}

func (c CLI) Stop(ctx context.Context, unit string) error {
	_, err := c.run(ctx, "stop", unit)
	return err
}

func (c CLI) Enable(ctx context.Context, unit string) error {
	_, err := c.run(ctx, "enable", unit)
	return err
}

func (c CLI) Disable(ctx context.Context, unit string) error {
	_, err := c.run(ctx, "disable", unit)
	return err
}

// IsActive reports whether the unit is active. is-active exits non-zero for
// inactive units, which is not an error here.
func (c CLI) IsActive(ctx context.Context, unit string) (bool, error) {
	out, _ := exec.CommandContext(ctx, c.bin(), "is-active", unit).Output()
	return strings.TrimSpace(string(out)) == "active", ctx.Err()
}

// IsEnabled reports whether the unit file is enabled.
func (c CLI) IsEnabled(ctx context.Context, unit string) (bool, error) {
	out, _ := exec.CommandContext(ctx, c.bin(), "is-enabled", unit).Output()
	return strings.TrimSpace(string(out)) == "enabled", ctx.Err()
}
