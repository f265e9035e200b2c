//go:build !linux

package drm

// Card is an open DRM device.
type Card struct{}

// OpenCard opens /dev/dri/card<n>.
func OpenCard(_ int) (*Card, error) {
	return nil, ErrNotSupported
}

// Open a DRM device by name.
func Open(_ string) (*Card, error) {
	return nil, ErrNotSupported
}

func (c *Card) String() string                                 { return "drm: unsupported" }
func (c *Card) Close() error                                   { return ErrNotSupported }
func (c *Card) Capability(_ uint64) (uint64, error)            { return 0, ErrNotSupported }
func (c *Card) Resources() (*Resources, error)                 { return nil, ErrNotSupported }
func (c *Card) Connector(_ uint32) (*Connector, error)         { return nil, ErrNotSupported }
func (c *Card) Encoder(_ uint32) (*Encoder, error)             { return nil, ErrNotSupported }
func (c *Card) Crtc(_ uint32) (*Crtc, error)                   { return nil, ErrNotSupported }
func (c *Card) CreateDumb(_, _, _ uint32) (*DumbBuffer, error) { return nil, ErrNotSupported }
func (c *Card) DestroyDumb(_ uint32) error                     { return ErrNotSupported }
func (c *Card) RmFB(_ uint32) error                            { return ErrNotSupported }
func (c *Card) MapDumb(_ uint32) (uint64, error)               { return 0, ErrNotSupported }
func (c *Card) Mmap(_ uint64, _ int) ([]byte, error)           { return nil, ErrNotSupported }
func (c *Card) Munmap(_ []byte) error                          { return ErrNotSupported }

func (c *Card) AddFB(_, _ uint32, _, _ uint8, _, _ uint32) (uint32, error) {
	return 0, ErrNotSupported
}

func (c *Card) SetCrtc(_, _, _, _ uint32, _ []uint32, _ *Mode) error {
	return ErrNotSupported
}
