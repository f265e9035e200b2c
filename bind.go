package kms

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/BeatGlow/kms/pixel"
)

// guard undoes completed steps in reverse order unless it is committed.
type guard struct {
	log  *slog.Logger
	undo []func() error
}

func (g *guard) push(f func() error) {
	g.undo = append(g.undo, f)
}

func (g *guard) commit() {
	g.undo = nil
}

func (g *guard) rollback() {
	for i := len(g.undo) - 1; i >= 0; i-- {
		if err := g.undo[i](); err != nil {
			g.log.Warn("rollback step failed", "error", err)
		}
	}
	g.undo = nil
}

// Bind allocates a dumb buffer sized to the output's mode, registers it as a framebuffer,
// maps it into memory, saves the controller's configuration and then shows the framebuffer
// on the controller.
//
// Each step needs the previous one. If a step fails, the steps done so far are undone and
// the output stays enumerated; other outputs are not affected.
func (m *Manager) Bind(o *Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.bind(o)
}

// BindAll binds every enumerated output. Outputs that fail are logged and skipped; the
// returned error joins their failures.
func (m *Manager) BindAll() (bound []*Output, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var errs []error
	for _, o := range m.outputs {
		if o.state != Enumerated {
			continue
		}
		if err := m.bind(o); err != nil {
			errs = append(errs, err)
			continue
		}
		bound = append(bound, o)
	}
	return bound, errors.Join(errs...)
}

func (m *Manager) bind(o *Output) error {
	switch o.state {
	case Bound:
		return ErrAlreadyBound
	case Released:
		return ErrReleased
	}
	if o.CrtcID == 0 {
		return ErrNoController
	}

	log := m.log.With("connector", o.Name, "crtc", o.CrtcID)
	g := &guard{log: log}
	defer g.rollback()

	buf, err := m.dev.CreateDumb(o.Width, o.Height, BitsPerPixel)
	if err != nil {
		log.Error("create dumb buffer failed", "width", o.Width, "height", o.Height, "error", err)
		return fmt.Errorf("kms: %s: create dumb buffer: %w", o.Name, err)
	}
	g.push(func() error { return m.dev.DestroyDumb(buf.Handle) })

	fbID, err := m.dev.AddFB(o.Width, o.Height, Depth, BitsPerPixel, buf.Pitch, buf.Handle)
	if err != nil {
		log.Error("add framebuffer failed", "handle", buf.Handle, "error", err)
		return fmt.Errorf("kms: %s: add framebuffer: %w", o.Name, err)
	}
	g.push(func() error { return m.dev.RmFB(fbID) })

	offset, err := m.dev.MapDumb(buf.Handle)
	if err != nil {
		log.Error("map dumb buffer failed", "handle", buf.Handle, "error", err)
		return fmt.Errorf("kms: %s: map dumb buffer: %w", o.Name, err)
	}

	mapped, err := m.dev.Mmap(offset, int(buf.Size))
	if err != nil {
		log.Error("mmap failed", "handle", buf.Handle, "size", buf.Size, "error", err)
		return fmt.Errorf("kms: %s: mmap: %w", o.Name, err)
	}
	g.push(func() error { return m.dev.Munmap(mapped) })

	saved, err := m.dev.Crtc(o.CrtcID)
	if err != nil {
		log.Error("get crtc failed", "error", err)
		return fmt.Errorf("kms: %s: get crtc: %w", o.Name, err)
	}

	if err = m.dev.SetCrtc(o.CrtcID, fbID, 0, 0, []uint32{o.ConnectorID}, &o.Mode); err != nil {
		log.Error("set crtc failed", "fb", fbID, "error", err)
		return fmt.Errorf("kms: %s: set crtc: %w", o.Name, err)
	}
	g.commit()

	o.FramebufferID = fbID
	o.Pitch = buf.Pitch
	o.Size = buf.Size
	o.Handle = buf.Handle
	o.saved = saved
	o.mapped = mapped
	o.image = pixel.WrapXRGB8888Image(mapped, int(o.Width), int(o.Height), int(buf.Pitch))
	o.state = Bound

	log.Info("output bound", "mode", o.Mode.String(), "fb", fbID, "handle", buf.Handle, "pitch", buf.Pitch, "size", buf.Size)
	return nil
}
