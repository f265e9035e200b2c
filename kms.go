// Package kms manages simple linear framebuffers on kernel mode-setting display outputs.
//
// A [Manager] enumerates the connected outputs of an open DRM device, binds a mapped dumb
// buffer to each output's display controller and, on [Manager.Close], restores the
// controller configuration that was active before binding and releases all kernel objects.
package kms

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BeatGlow/kms/drm"
)

// Pixel format of every framebuffer: XRGB8888.
const (
	Depth        = 24
	BitsPerPixel = 32
)

// Errors
var (
	ErrNotBound     = errors.New("kms: output is not bound")
	ErrAlreadyBound = errors.New("kms: output is already bound")
	ErrReleased     = errors.New("kms: output has been released")
	ErrClosed       = errors.New("kms: manager is closed")
	ErrNoController = errors.New("kms: no display controller available")
)

// Device is the kernel mode-setting interface used by the [Manager]. It is implemented
// by [drm.Card].
type Device interface {
	// Close the device.
	Close() error

	// Resources lists controllers, connectors and encoders.
	Resources() (*drm.Resources, error)

	// Connector queries the connection status, modes and encoders of a connector.
	Connector(id uint32) (*drm.Connector, error)

	// Encoder queries the controller an encoder is bound to.
	Encoder(id uint32) (*drm.Encoder, error)

	// CreateDumb allocates a linear buffer, the kernel determines pitch and size.
	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)

	// DestroyDumb releases a buffer.
	DestroyDumb(handle uint32) error

	// AddFB registers a framebuffer object for a buffer.
	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)

	// RmFB removes a framebuffer object.
	RmFB(fbID uint32) error

	// MapDumb returns the mmap offset of a buffer.
	MapDumb(handle uint32) (uint64, error)

	// Mmap maps buffer memory shared with the kernel.
	Mmap(offset uint64, size int) ([]byte, error)

	// Munmap releases a mapping.
	Munmap([]byte) error

	// Crtc reads the configuration of a controller.
	Crtc(id uint32) (*drm.Crtc, error)

	// SetCrtc writes the configuration of a controller.
	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *drm.Mode) error
}

var _ Device = (*drm.Card)(nil)

// Lifecycle is the set of operations on display outputs.
type Lifecycle interface {
	// Enumerate finds usable outputs.
	Enumerate() []*Output

	// Bind allocates, maps and displays a framebuffer on the output.
	Bind(*Output) error

	// Release restores the output's controller and frees its framebuffer.
	Release(*Output) error

	// Close releases all outputs and closes the device.
	Close() error
}

var _ Lifecycle = (*Manager)(nil)

// Config is the manager configuration.
type Config struct {
	// Logger receives diagnostics. If nil, nothing is logged.
	Logger *slog.Logger
}

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
