package kms

import (
	"errors"
	"log/slog"
	"sync"
)

// Manager owns the outputs of one device. All device access is serialized.
type Manager struct {
	mu      sync.Mutex
	dev     Device
	log     *slog.Logger
	outputs []*Output
	closed  bool
}

// New returns a manager for an open device. The manager takes ownership of dev and
// closes it in [Manager.Close].
func New(dev Device, config *Config) *Manager {
	if config == nil {
		config = new(Config)
	}

	log := config.Logger
	if log == nil {
		log = slog.New(nopHandler{})
	}

	return &Manager{
		dev: dev,
		log: log,
	}
}

// Outputs returns the outputs tracked by the manager, in enumeration order.
func (m *Manager) Outputs() []*Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Output(nil), m.outputs...)
}

// Close releases every tracked output and closes the device. Further calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	err := m.teardown(m.outputs)
	m.outputs = nil
	m.closed = true

	if cerr := m.dev.Close(); cerr != nil {
		m.log.Error("close device failed", "error", cerr)
		err = errors.Join(err, cerr)
	}
	return err
}
