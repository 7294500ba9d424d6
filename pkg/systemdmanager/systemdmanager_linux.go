//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager controls systemd units over the system D-Bus.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// New connects to the system bus. If ctx is nil, context.Background() is used.
func New(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Close closes the systemd connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

func (m *Manager) connection() (*dbus.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, ErrClosed
	}
	return m.conn, nil
}

// Start starts the unit and waits for the job to complete.
func (m *Manager) Start(ctx context.Context, unit string) error {
	return m.job(ctx, "start", unit)
}

// Stop stops the unit and waits for the job to complete.
func (m *Manager) Stop(ctx context.Context, unit string) error {
	return m.job(ctx, "stop", unit)
}

func (m *Manager) job(ctx context.Context, op, unit string) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	name := UnitName(unit)
	done := make(chan string, 1)
	switch op {
	case "start":
		_, err = conn.StartUnitContext(ctx, name, "replace", done)
	default:
		_, err = conn.StopUnitContext(ctx, name, "replace", done)
	}
	if err != nil {
		if isNoSuchUnitErr(err) {
			return fmt.Errorf("failed to %s %s: %w: %v", op, name, ErrNoSuchUnit, err)
		}
		return fmt.Errorf("failed to %s %s: %w", op, name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", op, name, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", op, name, ctx.Err())
	}
}

// Enable enables the unit file so it starts on boot, then reloads the daemon.
func (m *Manager) Enable(ctx context.Context, unit string) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	name := UnitName(unit)
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{name}, false, true); err != nil {
		return fmt.Errorf("failed to enable %s: %w", name, err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("enabled %s but failed to reload systemd daemon: %w", name, err)
	}
	return nil
}

// Disable disables the unit file, then reloads the daemon.
func (m *Manager) Disable(ctx context.Context, unit string) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	name := UnitName(unit)
	if _, err := conn.DisableUnitFilesContext(ctx, []string{name}, false); err != nil {
		return fmt.Errorf("failed to disable %s: %w", name, err)
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("disabled %s but failed to reload systemd daemon: %w", name, err)
	}
	return nil
}

// Status reads the load/active state and whether the unit file is enabled.
func (m *Manager) Status(ctx context.Context, unit string) (UnitStatus, error) {
	conn, err := m.connection()
	if err != nil {
		return UnitStatus{}, err
	}
	name := UnitName(unit)
	st := UnitStatus{Name: name}

	units, err := conn.ListUnitsByNamesContext(ctx, []string{name})
	if err != nil {
		return st, fmt.Errorf("status %s: %w", name, err)
	}
	for _, u := range units {
		if u.Name == name {
			st.LoadState = u.LoadState
			st.Active = u.ActiveState
			st.SubState = u.SubState
		}
	}
	if st.LoadState == "not-found" {
		return st, fmt.Errorf("status %s: %w", name, ErrNoSuchUnit)
	}

	files, err := conn.ListUnitFilesByPatternsContext(ctx, nil, []string{name})
	if err == nil {
		for _, f := range files {
			if f.Path == name || strings.HasSuffix(f.Path, "/"+name) {
				st.Enabled = f.Type == "enabled"
				break
			}
		}
	}
	return st, nil
}

// IsActive and IsEnabled mirror systemctl is-active and is-enabled.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	st, err := m.Status(ctx, unit)
	return st.IsActive(), err
}

func (m *Manager) IsEnabled(ctx context.Context, unit string) (bool, error) {
	st, err := m.Status(ctx, unit)
	return st.Enabled, err
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
