package drm

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/go-errors/errors"
	"golang.org/x/sys/unix"

	"github.com/BeatGlow/kms/internal/ioctl"
)

// From <drm/drm.h>
const ioctlBase = 'd'

type (
	sysGetCap struct {
		capability uint64
		value      uint64
	}

	sysResources struct {
		fbIDPtr              uint64
		crtcIDPtr            uint64
		connectorIDPtr       uint64
		encoderIDPtr         uint64
		countFbs             uint32
		countCrtcs           uint32
		countConnectors      uint32
		countEncoders        uint32
		minWidth, maxWidth   uint32
		minHeight, maxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uint64
		modesPtr      uint64
		propsPtr      uint64
		propValuesPtr uint64

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32
		connectorID     uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		encoderID      uint32
		encoderType    uint32
		crtcID         uint32
		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysCrtc struct {
		setConnectorsPtr uint64
		countConnectors  uint32

		crtcID uint32
		fbID   uint32

		x, y uint32

		gammaSize uint32
		modeValid uint32
		mode      Mode
	}

	sysFBCmd struct {
		fbID          uint32
		width, height uint32
		pitch         uint32
		bpp           uint32
		depth         uint32
		handle        uint32
	}

	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32
		pad    uint32

		// Fake offset to use for the subsequent mmap call.
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}
)

var (
	ioctlGetCap          = ioctl.ReadWrite(&sysGetCap{}, ioctlBase, 0x0c)
	ioctlModeResources   = ioctl.ReadWrite(&sysResources{}, ioctlBase, 0xa0)
	ioctlModeGetCrtc     = ioctl.ReadWrite(&sysCrtc{}, ioctlBase, 0xa1)
	ioctlModeSetCrtc     = ioctl.ReadWrite(&sysCrtc{}, ioctlBase, 0xa2)
	ioctlModeGetEncoder  = ioctl.ReadWrite(&sysGetEncoder{}, ioctlBase, 0xa6)
	ioctlModeGetConn     = ioctl.ReadWrite(&sysGetConnector{}, ioctlBase, 0xa7)
	ioctlModeAddFB       = ioctl.ReadWrite(&sysFBCmd{}, ioctlBase, 0xae)
	ioctlModeRmFB        = ioctl.ReadWrite(new(uint32), ioctlBase, 0xaf)
	ioctlModeCreateDumb  = ioctl.ReadWrite(&sysCreateDumb{}, ioctlBase, 0xb2)
	ioctlModeMapDumb     = ioctl.ReadWrite(&sysMapDumb{}, ioctlBase, 0xb3)
	ioctlModeDestroyDumb = ioctl.ReadWrite(&sysDestroyDumb{}, ioctlBase, 0xb4)
)

// Card is an open DRM device.
type Card struct {
	f    *os.File
	fd   uintptr
	name string
}

// OpenCard opens /dev/dri/card<n>.
func OpenCard(n int) (*Card, error) {
	return Open(fmt.Sprintf(CardPath, n))
}

// Open a DRM device by name and check that it supports dumb buffers.
func Open(name string) (*Card, error) {
	// os.OpenFile sets O_CLOEXEC.
	f, err := os.OpenFile(name, os.O_RDWR, os.ModeDevice)
	if err != nil {
		return nil, err
	}

	c := &Card{
		f:    f,
		fd:   f.Fd(),
		name: name,
	}

	hasDumb, err := c.Capability(CapDumbBuffer)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if hasDumb == 0 {
		_ = f.Close()
		return nil, ErrNoDumbBuffer
	}

	return c, nil
}

func (c *Card) String() string {
	return c.name
}

// Close the device. Kernel objects owned by this file are released by the kernel.
func (c *Card) Close() error {
	return c.f.Close()
}

// Capability queries a device capability.
func (c *Card) Capability(capability uint64) (uint64, error) {
	req := &sysGetCap{capability: capability}
	if err := ioctl.Do(c.fd, ioctlGetCap, req); err != nil {
		return 0, err
	}
	return req.value, nil
}

// Resources lists the card's framebuffers, controllers, connectors and encoders.
func (c *Card) Resources() (*Resources, error) {
	for {
		res := &sysResources{}
		if err := ioctl.Do(c.fd, ioctlModeResources, res); err != nil {
			return nil, err
		}

		var (
			fbs        = make([]uint32, res.countFbs)
			crtcs      = make([]uint32, res.countCrtcs)
			connectors = make([]uint32, res.countConnectors)
			encoders   = make([]uint32, res.countEncoders)
		)
		res.fbIDPtr = slicePtr(fbs)
		res.crtcIDPtr = slicePtr(crtcs)
		res.connectorIDPtr = slicePtr(connectors)
		res.encoderIDPtr = slicePtr(encoders)

		err := ioctl.Do(c.fd, ioctlModeResources, res)
		runtime.KeepAlive(fbs)
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(connectors)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, err
		}

		// Objects were hotplugged in between, try again.
		if int(res.countFbs) > len(fbs) ||
			int(res.countCrtcs) > len(crtcs) ||
			int(res.countConnectors) > len(connectors) ||
			int(res.countEncoders) > len(encoders) {
			continue
		}

		return &Resources{
			Framebuffers: fbs[:res.countFbs],
			Crtcs:        crtcs[:res.countCrtcs],
			Connectors:   connectors[:res.countConnectors],
			Encoders:     encoders[:res.countEncoders],
			MinWidth:     res.minWidth,
			MaxWidth:     res.maxWidth,
			MinHeight:    res.minHeight,
			MaxHeight:    res.maxHeight,
		}, nil
	}
}

// Connector queries a connector, probing it for modes.
func (c *Card) Connector(id uint32) (*Connector, error) {
	for {
		conn := &sysGetConnector{connectorID: id}
		if err := ioctl.Do(c.fd, ioctlModeGetConn, conn); err != nil {
			return nil, err
		}

		var (
			modes      = make([]Mode, conn.countModes)
			encoders   = make([]uint32, conn.countEncoders)
			props      = make([]uint32, conn.countProps)
			propValues = make([]uint64, conn.countProps)
		)
		conn.modesPtr = slicePtr(modes)
		conn.encodersPtr = slicePtr(encoders)
		conn.propsPtr = slicePtr(props)
		conn.propValuesPtr = slicePtr(propValues)

		err := ioctl.Do(c.fd, ioctlModeGetConn, conn)
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		runtime.KeepAlive(props)
		runtime.KeepAlive(propValues)
		if err != nil {
			return nil, err
		}

		if int(conn.countModes) > len(modes) ||
			int(conn.countEncoders) > len(encoders) ||
			int(conn.countProps) > len(props) {
			continue
		}

		return &Connector{
			ID:         conn.connectorID,
			EncoderID:  conn.encoderID,
			Type:       ConnectorType(conn.connectorType),
			TypeID:     conn.connectorTypeID,
			Connection: Connection(conn.connection),
			Width:      conn.mmWidth,
			Height:     conn.mmHeight,
			Subpixel:   conn.subpixel,
			Modes:      modes[:conn.countModes],
			Encoders:   encoders[:conn.countEncoders],
		}, nil
	}
}

// Encoder queries an encoder.
func (c *Card) Encoder(id uint32) (*Encoder, error) {
	enc := &sysGetEncoder{encoderID: id}
	if err := ioctl.Do(c.fd, ioctlModeGetEncoder, enc); err != nil {
		return nil, err
	}
	return &Encoder{
		ID:             enc.encoderID,
		Type:           enc.encoderType,
		CrtcID:         enc.crtcID,
		PossibleCrtcs:  enc.possibleCrtcs,
		PossibleClones: enc.possibleClones,
	}, nil
}

// Crtc reads the current configuration of a controller.
func (c *Card) Crtc(id uint32) (*Crtc, error) {
	crtc := &sysCrtc{crtcID: id}
	if err := ioctl.Do(c.fd, ioctlModeGetCrtc, crtc); err != nil {
		return nil, err
	}
	return &Crtc{
		ID:        crtc.crtcID,
		BufferID:  crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		Width:     uint32(crtc.mode.Hdisplay),
		Height:    uint32(crtc.mode.Vdisplay),
		ModeValid: crtc.modeValid != 0,
		Mode:      crtc.mode,
		GammaSize: crtc.gammaSize,
	}, nil
}

// SetCrtc configures a controller to scan out fbID at (x,y) on the connectors using mode.
// A nil mode with fbID 0 and no connectors disables the controller.
func (c *Card) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *Mode) error {
	crtc := &sysCrtc{
		crtcID:           crtcID,
		fbID:             fbID,
		x:                x,
		y:                y,
		countConnectors:  uint32(len(connectors)),
		setConnectorsPtr: slicePtr(connectors),
	}
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := ioctl.Do(c.fd, ioctlModeSetCrtc, crtc)
	runtime.KeepAlive(connectors)
	return err
}

// CreateDumb allocates a dumb buffer; the kernel picks pitch and size.
func (c *Card) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	req := &sysCreateDumb{
		width:  width,
		height: height,
		bpp:    bpp,
	}
	if err := ioctl.Do(c.fd, ioctlModeCreateDumb, req); err != nil {
		return nil, err
	}
	return &DumbBuffer{
		Width:  req.width,
		Height: req.height,
		BPP:    req.bpp,
		Handle: req.handle,
		Pitch:  req.pitch,
		Size:   req.size,
	}, nil
}

// DestroyDumb releases a dumb buffer.
func (c *Card) DestroyDumb(handle uint32) error {
	return ioctl.Do(c.fd, ioctlModeDestroyDumb, &sysDestroyDumb{handle: handle})
}

// AddFB registers a framebuffer object for the buffer handle.
func (c *Card) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	req := &sysFBCmd{
		width:  width,
		height: height,
		pitch:  pitch,
		bpp:    uint32(bpp),
		depth:  uint32(depth),
		handle: handle,
	}
	if err := ioctl.Do(c.fd, ioctlModeAddFB, req); err != nil {
		return 0, err
	}
	return req.fbID, nil
}

// RmFB removes a framebuffer object.
func (c *Card) RmFB(fbID uint32) error {
	return ioctl.Do(c.fd, ioctlModeRmFB, &fbID)
}

// MapDumb returns the fake offset to pass to mmap for the buffer handle.
func (c *Card) MapDumb(handle uint32) (uint64, error) {
	req := &sysMapDumb{handle: handle}
	if err := ioctl.Do(c.fd, ioctlModeMapDumb, req); err != nil {
		return 0, err
	}
	return req.offset, nil
}

// Mmap maps size bytes at offset, shared with the kernel.
func (c *Card) Mmap(offset uint64, size int) ([]byte, error) {
	b, err := unix.Mmap(int(c.fd), int64(offset), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.WrapPrefix(err, "drm: mmap", 0)
	}
	return b, nil
}

// Munmap releases a mapping returned by Mmap.
func (c *Card) Munmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return errors.WrapPrefix(err, "drm: munmap", 0)
	}
	return nil
}

func slicePtr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
