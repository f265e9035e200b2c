// Package fakedrm is an in-memory mode-setting device for tests.
//
// It keeps the controller state, buffers, framebuffers and mappings a real card would
// hold, records every request and can fail any request on demand.
package fakedrm

import (
	"sort"
	"syscall"
	"unsafe"

	"github.com/BeatGlow/kms/drm"
)

// Request names, as recorded in [Device.Calls].
type Request string

// Requests.
const (
	Close       Request = "Close"
	Resources   Request = "Resources"
	Connector   Request = "Connector"
	Encoder     Request = "Encoder"
	CreateDumb  Request = "CreateDumb"
	DestroyDumb Request = "DestroyDumb"
	AddFB       Request = "AddFB"
	RmFB        Request = "RmFB"
	MapDumb     Request = "MapDumb"
	Mmap        Request = "Mmap"
	Munmap      Request = "Munmap"
	GetCrtc     Request = "GetCrtc"
	SetCrtc     Request = "SetCrtc"
)

// pitchAlign is the row alignment of dumb buffers, like most drivers use.
const pitchAlign = 64

const mapOffsetBase = 0x100000000

type dumb struct {
	buf  drm.DumbBuffer
	data []byte
}

// Device implements the kms.Device interface in memory.
type Device struct {
	// Fail makes the named request return the error.
	Fail map[Request]error

	// FailEncoders makes Encoder fail for these encoder ids.
	FailEncoders map[uint32]error

	// Calls lists the requests in order.
	Calls []Request

	connectors []drm.Connector
	encoders   map[uint32]drm.Encoder
	crtcs      []drm.Crtc

	foreign    map[uint32]bool // framebuffers owned by someone else
	dumbs      map[uint32]*dumb
	fbs        map[uint32]uint32 // fb id to handle
	offsets    map[uint64]uint32 // mmap offset to handle
	mappings   map[uintptr]int
	nextHandle uint32
	nextFB     uint32
	closed     int
}

// New returns a device without any objects.
func New() *Device {
	return &Device{
		Fail:         make(map[Request]error),
		FailEncoders: make(map[uint32]error),
		encoders:     make(map[uint32]drm.Encoder),
		foreign:      make(map[uint32]bool),
		dumbs:        make(map[uint32]*dumb),
		fbs:          make(map[uint32]uint32),
		offsets:      make(map[uint64]uint32),
		mappings:     make(map[uintptr]int),
		nextHandle:   1,
		nextFB:       100,
	}
}

// Mode returns a mode of w×h pixels at refresh Hz.
func Mode(w, h uint16, refresh uint32) drm.Mode {
	m := drm.Mode{
		Hdisplay: w,
		Vdisplay: h,
		Vrefresh: refresh,
		Htotal:   w + w/8,
		Vtotal:   h + h/25,
		Type:     drm.ModeTypeDriver,
	}
	m.Clock = uint32(m.Htotal) * uint32(m.Vtotal) * refresh / 1000
	return m
}

// AddCrtc adds a controller. If fbID is not zero, the controller is scanning out that
// framebuffer, owned by someone else, in mode.
func (d *Device) AddCrtc(id, fbID uint32, mode drm.Mode) {
	c := drm.Crtc{ID: id, GammaSize: 256}
	if fbID != 0 {
		d.foreign[fbID] = true
		c.BufferID = fbID
		c.ModeValid = true
		c.Mode = mode
		c.Width = uint32(mode.Hdisplay)
		c.Height = uint32(mode.Vdisplay)
	}
	d.crtcs = append(d.crtcs, c)
}

// AddEncoder adds an encoder currently driving crtcID (0 for none) that can drive the
// controllers in the possible mask.
func (d *Device) AddEncoder(id, crtcID, possible uint32) {
	d.encoders[id] = drm.Encoder{ID: id, CrtcID: crtcID, PossibleCrtcs: possible}
}

// AddConnector adds a connector.
func (d *Device) AddConnector(c drm.Connector) {
	d.connectors = append(d.connectors, c)
}

// Count returns how often req was made.
func (d *Device) Count(req Request) (n int) {
	for _, c := range d.Calls {
		if c == req {
			n++
		}
	}
	return
}

// Live returns the number of dumb buffers, framebuffers and mappings not yet released.
func (d *Device) Live() (dumbs, fbs, mappings int) {
	for _, n := range d.mappings {
		mappings += n
	}
	return len(d.dumbs), len(d.fbs), mappings
}

// Closed returns how often the device was closed.
func (d *Device) Closed() int {
	return d.closed
}

// CrtcState returns the current configuration of a controller.
func (d *Device) CrtcState(id uint32) (drm.Crtc, bool) {
	if i := d.crtcIndex(id); i >= 0 {
		return d.crtcs[i], true
	}
	return drm.Crtc{}, false
}

func (d *Device) crtcIndex(id uint32) int {
	for i, c := range d.crtcs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Pixels returns the memory of a dumb buffer.
func (d *Device) Pixels(handle uint32) []byte {
	if b, ok := d.dumbs[handle]; ok {
		return b.data
	}
	return nil
}

func (d *Device) call(req Request) error {
	d.Calls = append(d.Calls, req)
	if d.closed > 0 && req != Close {
		return syscall.EBADF
	}
	return d.Fail[req]
}

func (d *Device) Close() error {
	if err := d.call(Close); err != nil {
		return err
	}
	d.closed++
	return nil
}

func (d *Device) Resources() (*drm.Resources, error) {
	if err := d.call(Resources); err != nil {
		return nil, err
	}

	res := new(drm.Resources)
	for _, c := range d.connectors {
		res.Connectors = append(res.Connectors, c.ID)
	}
	for _, c := range d.crtcs {
		res.Crtcs = append(res.Crtcs, c.ID)
	}
	for id := range d.encoders {
		res.Encoders = append(res.Encoders, id)
	}
	sort.Slice(res.Encoders, func(i, j int) bool { return res.Encoders[i] < res.Encoders[j] })
	for id := range d.fbs {
		res.Framebuffers = append(res.Framebuffers, id)
	}
	for id := range d.foreign {
		res.Framebuffers = append(res.Framebuffers, id)
	}
	sort.Slice(res.Framebuffers, func(i, j int) bool { return res.Framebuffers[i] < res.Framebuffers[j] })
	res.MaxWidth, res.MaxHeight = 8192, 8192
	return res, nil
}

func (d *Device) Connector(id uint32) (*drm.Connector, error) {
	if err := d.call(Connector); err != nil {
		return nil, err
	}
	for _, c := range d.connectors {
		if c.ID == id {
			c.Modes = append([]drm.Mode(nil), c.Modes...)
			c.Encoders = append([]uint32(nil), c.Encoders...)
			return &c, nil
		}
	}
	return nil, syscall.ENOENT
}

func (d *Device) Encoder(id uint32) (*drm.Encoder, error) {
	if err := d.call(Encoder); err != nil {
		return nil, err
	}
	if err := d.FailEncoders[id]; err != nil {
		return nil, err
	}
	enc, ok := d.encoders[id]
	if !ok {
		return nil, syscall.ENOENT
	}
	return &enc, nil
}

func (d *Device) CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error) {
	if err := d.call(CreateDumb); err != nil {
		return nil, err
	}
	if width == 0 || height == 0 || bpp == 0 {
		return nil, syscall.EINVAL
	}

	pitch := (width*((bpp+7)/8) + pitchAlign - 1) &^ (pitchAlign - 1)
	b := &dumb{
		buf: drm.DumbBuffer{
			Width:  width,
			Height: height,
			BPP:    bpp,
			Handle: d.nextHandle,
			Pitch:  pitch,
			Size:   uint64(pitch) * uint64(height),
		},
	}
	d.nextHandle++
	d.dumbs[b.buf.Handle] = b

	out := b.buf
	return &out, nil
}

func (d *Device) DestroyDumb(handle uint32) error {
	if err := d.call(DestroyDumb); err != nil {
		return err
	}
	if _, ok := d.dumbs[handle]; !ok {
		return syscall.ENOENT
	}
	delete(d.dumbs, handle)
	for offset, h := range d.offsets {
		if h == handle {
			delete(d.offsets, offset)
		}
	}
	return nil
}

func (d *Device) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	if err := d.call(AddFB); err != nil {
		return 0, err
	}
	b, ok := d.dumbs[handle]
	if !ok {
		return 0, syscall.ENOENT
	}
	if depth != 24 || bpp != 32 || pitch < width*4 || uint64(pitch)*uint64(height) > b.buf.Size {
		return 0, syscall.EINVAL
	}

	id := d.nextFB
	d.nextFB++
	d.fbs[id] = handle
	return id, nil
}

func (d *Device) RmFB(fbID uint32) error {
	if err := d.call(RmFB); err != nil {
		return err
	}
	if _, ok := d.fbs[fbID]; !ok {
		return syscall.ENOENT
	}
	delete(d.fbs, fbID)

	// Removing a framebuffer in use turns its controller off.
	for i := range d.crtcs {
		if d.crtcs[i].BufferID == fbID {
			d.crtcs[i] = drm.Crtc{ID: d.crtcs[i].ID, GammaSize: d.crtcs[i].GammaSize}
		}
	}
	return nil
}

func (d *Device) MapDumb(handle uint32) (uint64, error) {
	if err := d.call(MapDumb); err != nil {
		return 0, err
	}
	if _, ok := d.dumbs[handle]; !ok {
		return 0, syscall.ENOENT
	}
	offset := mapOffsetBase + uint64(handle)<<20
	d.offsets[offset] = handle
	return offset, nil
}

func (d *Device) Mmap(offset uint64, size int) ([]byte, error) {
	if err := d.call(Mmap); err != nil {
		return nil, err
	}
	handle, ok := d.offsets[offset]
	if !ok {
		return nil, syscall.EINVAL
	}
	b := d.dumbs[handle]
	if size <= 0 || uint64(size) > b.buf.Size {
		return nil, syscall.EINVAL
	}
	if b.data == nil {
		b.data = make([]byte, b.buf.Size)
	}
	mapped := b.data[:size:size]
	d.mappings[uintptr(unsafe.Pointer(&mapped[0]))]++
	return mapped, nil
}

func (d *Device) Munmap(b []byte) error {
	if err := d.call(Munmap); err != nil {
		return err
	}
	if len(b) == 0 {
		return syscall.EINVAL
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	if d.mappings[p] == 0 {
		return syscall.EINVAL
	}
	if d.mappings[p]--; d.mappings[p] == 0 {
		delete(d.mappings, p)
	}
	return nil
}

func (d *Device) Crtc(id uint32) (*drm.Crtc, error) {
	if err := d.call(GetCrtc); err != nil {
		return nil, err
	}
	c, ok := d.CrtcState(id)
	if !ok {
		return nil, syscall.ENOENT
	}
	return &c, nil
}

func (d *Device) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *drm.Mode) error {
	if err := d.call(SetCrtc); err != nil {
		return err
	}

	i := d.crtcIndex(crtcID)
	if i < 0 {
		return syscall.ENOENT
	}

	if fbID != 0 {
		if _, ok := d.fbs[fbID]; !ok && !d.foreign[fbID] {
			return syscall.ENOENT
		}
		if mode == nil || len(connectors) == 0 {
			return syscall.EINVAL
		}
	}

	c := drm.Crtc{
		ID:        crtcID,
		BufferID:  fbID,
		X:         x,
		Y:         y,
		GammaSize: d.crtcs[i].GammaSize,
	}
	if mode != nil {
		c.ModeValid = true
		c.Mode = *mode
		c.Width = uint32(mode.Hdisplay)
		c.Height = uint32(mode.Vdisplay)
	}
	d.crtcs[i] = c
	return nil
}
