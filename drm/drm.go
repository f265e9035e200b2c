package drm

import (
	"bytes"
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotSupported = errors.New("drm: not supported")
	ErrNoDumbBuffer = errors.New("drm: device does not support dumb buffers")
)

// CardPath is the device node pattern for DRM cards.
const CardPath = "/dev/dri/card%d"

// Capabilities, from <drm/drm.h>
const (
	CapDumbBuffer       = 0x1
	CapDumbPreferDepth  = 0x3
	CapDumbPreferShadow = 0x4
)

// ModeNameLen is the length of the mode name field.
const ModeNameLen = 32

// Mode type flags.
const (
	ModeTypePreferred = 1 << 3
	ModeTypeDriver    = 1 << 6
)

// Mode is a display timing descriptor, laid out as struct drm_mode_modeinfo.
type Mode struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [ModeNameLen]uint8
}

// ModeName returns the kernel supplied mode name.
func (m Mode) ModeName() string {
	name, _, _ := bytes.Cut(m.Name[:], []byte{0})
	return string(name)
}

// Preferred reports if the driver flagged this mode as preferred.
func (m Mode) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Hdisplay, m.Vdisplay, m.Vrefresh)
}

// Connection is the connector status.
type Connection uint32

// Connection states.
const (
	Connected         Connection = 1
	Disconnected      Connection = 2
	UnknownConnection Connection = 3
)

func (c Connection) String() string {
	switch c {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectorType is the kind of physical port.
type ConnectorType uint32

var connectorTypeNames = [...]string{
	"Unknown",
	"VGA",
	"DVI-I",
	"DVI-D",
	"DVI-A",
	"Composite",
	"SVIDEO",
	"LVDS",
	"Component",
	"DIN",
	"DP",
	"HDMI-A",
	"HDMI-B",
	"TV",
	"eDP",
	"Virtual",
	"DSI",
	"DPI",
	"Writeback",
	"SPI",
	"USB",
}

func (t ConnectorType) String() string {
	if int(t) < len(connectorTypeNames) {
		return connectorTypeNames[t]
	}
	return fmt.Sprintf("Type%d", uint32(t))
}

// Resources lists the mode-setting objects of a card.
type Resources struct {
	Framebuffers []uint32
	Crtcs        []uint32
	Connectors   []uint32
	Encoders     []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// Connector is a physical display port.
type Connector struct {
	ID         uint32
	EncoderID  uint32 // current encoder, 0 if none
	Type       ConnectorType
	TypeID     uint32
	Connection Connection

	// Physical size in millimeters.
	Width, Height uint32
	Subpixel      uint32

	Modes    []Mode
	Encoders []uint32
}

// Name of the connector as the kernel prints it, for example HDMI-A-1.
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", c.Type, c.TypeID)
}

// Encoder converts pixel data to the connector's signal.
type Encoder struct {
	ID   uint32
	Type uint32

	CrtcID uint32 // current controller, 0 if none

	PossibleCrtcs  uint32 // bit mask of indexes into Resources.Crtcs
	PossibleClones uint32
}

// Crtc is the configuration of a display controller.
type Crtc struct {
	ID       uint32
	BufferID uint32 // framebuffer being scanned out, 0 if disabled

	X, Y          uint32 // position on the framebuffer
	Width, Height uint32
	ModeValid     bool
	Mode          Mode

	GammaSize uint32
}

// DumbBuffer is a kernel allocated linear pixel buffer.
type DumbBuffer struct {
	Width, Height uint32
	BPP           uint32
	Handle        uint32
	Pitch         uint32
	Size          uint64
}
