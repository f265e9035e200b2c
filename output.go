package kms

import (
	"fmt"
	"image"
	"image/color"

	"periph.io/x/conn/v3/display"

	"github.com/BeatGlow/kms/draw"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
)

// State of an output.
type State uint8

// States, in lifecycle order.
const (
	Enumerated State = iota
	Bound
	Released
)

func (s State) String() string {
	switch s {
	case Enumerated:
		return "enumerated"
	case Bound:
		return "bound"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Output is a connected display with its controller and, once bound, its framebuffer.
//
// The mapped pixel memory belongs to the output; drawing into it from several goroutines
// needs external synchronization.
type Output struct {
	// Name of the connector, for example HDMI-A-1.
	Name string

	ConnectorID uint32
	EncoderID   uint32
	CrtcID      uint32

	// Mode is the first mode the connector reported.
	Mode          drm.Mode
	Width, Height uint32

	// Set while bound.
	FramebufferID uint32
	Pitch         uint32
	Size          uint64
	Handle        uint32

	state  State
	saved  *drm.Crtc
	mapped []byte
	image  *pixel.XRGB8888Image
}

var _ display.Drawer = (*Output)(nil)

func newOutput(conn *drm.Connector, encoderID, crtcID uint32) *Output {
	mode := conn.Modes[0]
	return &Output{
		Name:        conn.Name(),
		ConnectorID: conn.ID,
		EncoderID:   encoderID,
		CrtcID:      crtcID,
		Mode:        mode,
		Width:       uint32(mode.Hdisplay),
		Height:      uint32(mode.Vdisplay),
	}
}

// State returns the lifecycle state.
func (o *Output) State() State {
	return o.state
}

// Bound reports if all binding steps completed and the framebuffer is on screen.
func (o *Output) Bound() bool {
	return o.state == Bound
}

// Saved returns the controller configuration captured before binding, nil if there is none.
func (o *Output) Saved() *drm.Crtc {
	if o.saved == nil {
		return nil
	}
	c := *o.saved
	return &c
}

// Buffer returns the mapped framebuffer memory, nil unless bound.
func (o *Output) Buffer() []byte {
	return o.mapped
}

// Image returns a drawable view of the mapped framebuffer, nil unless bound.
func (o *Output) Image() *pixel.XRGB8888Image {
	return o.image
}

func (o *Output) String() string {
	return fmt.Sprintf("%s %s crtc %d (%s)", o.Name, o.Mode, o.CrtcID, o.state)
}

// Halt blanks the framebuffer.
func (o *Output) Halt() error {
	if o.image != nil {
		o.image.Clear()
	}
	return nil
}

func (o *Output) ColorModel() color.Model {
	return pixel.XRGB8888Model
}

func (o *Output) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(o.Width), int(o.Height))
}

// Draw copies src into the framebuffer; writes are visible on screen immediately.
func (o *Output) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	if o.image == nil {
		return ErrNotBound
	}
	if u, ok := src.(*image.Uniform); ok {
		o.image.FillRect(r, u.C)
		return nil
	}
	draw.Draw(o.image, r, src, sp, draw.Src)
	return nil
}

// Fill the framebuffer with a single color.
func (o *Output) Fill(c color.Color) error {
	if o.image == nil {
		return ErrNotBound
	}
	o.image.Fill(c)
	return nil
}
