//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type Manager struct{}

func New(ctx context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error                                            { return nil }
func (m *Manager) Start(ctx context.Context, unit string) error            { return ErrUnsupported }
func (m *Manager) Stop(ctx context.Context, unit string) error             { return ErrUnsupported }
func (m *Manager) Enable(ctx context.Context, unit string) error           { return ErrUnsupported }
func (m *Manager) Disable(ctx context.Context, unit string) error          { return ErrUnsupported }
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) { return false, ErrUnsupported }
func (m *Manager) IsEnabled(ctx context.Context, unit string) (bool, error) {
	return false, ErrUnsupported
}

func (m *Manager) Status(ctx context.Context, unit string) (UnitStatus, error) {
	return UnitStatus{Name: UnitName(unit)}, ErrUnsupported
}
