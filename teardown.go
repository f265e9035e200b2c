package kms

import (
	"errors"
	"fmt"
)

// Release tears down one output: the saved controller configuration is restored, the
// memory unmapped and the framebuffer and buffer destroyed. Releasing an output that was
// never bound makes no device calls, releasing it twice is a no-op.
func (m *Manager) Release(o *Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.release(o)
}

// Teardown releases the outputs. A failing step is logged and the remaining steps and
// outputs are still processed; the returned error joins all failures.
func (m *Manager) Teardown(outputs []*Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.teardown(outputs)
}

func (m *Manager) teardown(outputs []*Output) error {
	var errs []error
	for _, o := range outputs {
		if err := m.release(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) release(o *Output) error {
	switch o.state {
	case Released:
		return nil
	case Enumerated:
		o.state = Released
		return nil
	}

	var (
		log  = m.log.With("connector", o.Name, "crtc", o.CrtcID)
		errs []error
	)

	if saved := o.saved; saved != nil {
		o.saved = nil

		var err error
		if saved.ModeValid {
			err = m.dev.SetCrtc(saved.ID, saved.BufferID, saved.X, saved.Y, []uint32{o.ConnectorID}, &saved.Mode)
		} else {
			// The controller was off before.
			err = m.dev.SetCrtc(saved.ID, 0, 0, 0, nil, nil)
		}
		if err != nil {
			log.Warn("restore crtc failed", "fb", saved.BufferID, "error", err)
			errs = append(errs, fmt.Errorf("kms: %s: restore crtc: %w", o.Name, err))
		}
	}

	if o.mapped != nil {
		if err := m.dev.Munmap(o.mapped); err != nil {
			log.Warn("munmap failed", "size", len(o.mapped), "error", err)
			errs = append(errs, fmt.Errorf("kms: %s: munmap: %w", o.Name, err))
		}
		o.mapped = nil
		o.image = nil
	}

	if o.FramebufferID != 0 {
		if err := m.dev.RmFB(o.FramebufferID); err != nil {
			log.Warn("remove framebuffer failed", "fb", o.FramebufferID, "error", err)
			errs = append(errs, fmt.Errorf("kms: %s: remove framebuffer: %w", o.Name, err))
		}
		o.FramebufferID = 0
	}

	if o.Handle != 0 {
		if err := m.dev.DestroyDumb(o.Handle); err != nil {
			log.Warn("destroy dumb buffer failed", "handle", o.Handle, "error", err)
			errs = append(errs, fmt.Errorf("kms: %s: destroy dumb buffer: %w", o.Name, err))
		}
		o.Handle = 0
	}

	o.Pitch = 0
	o.Size = 0
	o.state = Released

	log.Info("output released")
	return errors.Join(errs...)
}
