package kms_test

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/display"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/internal/fakedrm"
	"github.com/BeatGlow/kms/pixel"
)

const (
	consoleFB = 7
	hdmi      = 31
	dp        = 32
	encHDMI   = 41
	encDP     = 42
	crtc0     = 51
	crtc1     = 52
)

var (
	mode1080p = fakedrm.Mode(1920, 1080, 60)
	mode768p  = fakedrm.Mode(1366, 768, 60)
)

func testConfig() *kms.Config {
	return &kms.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// testDevice has one connected HDMI output on crtc0, which shows the console.
func testDevice() *fakedrm.Device {
	dev := fakedrm.New()
	dev.AddCrtc(crtc0, consoleFB, mode1080p)
	dev.AddCrtc(crtc1, 0, drm.Mode{})
	dev.AddEncoder(encHDMI, crtc0, 0b01)
	dev.AddConnector(drm.Connector{
		ID:         hdmi,
		EncoderID:  encHDMI,
		Type:       11,
		TypeID:     1,
		Connection: drm.Connected,
		Modes:      []drm.Mode{mode1080p, mode768p},
		Encoders:   []uint32{encHDMI},
	})
	return dev
}

// testDualDevice adds a DisplayPort output on crtc1 to testDevice.
func testDualDevice() *fakedrm.Device {
	dev := testDevice()
	dev.AddEncoder(encDP, crtc1, 0b11)
	dev.AddConnector(drm.Connector{
		ID:         dp,
		EncoderID:  encDP,
		Type:       10,
		TypeID:     1,
		Connection: drm.Connected,
		Modes:      []drm.Mode{mode768p},
		Encoders:   []uint32{encDP},
	})
	return dev
}

func TestEnumerate(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, testConfig())

	outputs := m.Enumerate()
	require.Len(t, outputs, 1)

	o := outputs[0]
	assert.Equal(t, "HDMI-A-1", o.Name)
	assert.Equal(t, uint32(hdmi), o.ConnectorID)
	assert.Equal(t, uint32(encHDMI), o.EncoderID)
	assert.Equal(t, uint32(crtc0), o.CrtcID)
	assert.Equal(t, uint32(1920), o.Width)
	assert.Equal(t, uint32(1080), o.Height)
	assert.Equal(t, mode1080p, o.Mode, "first mode is selected")
	assert.Equal(t, kms.Enumerated, o.State())
	assert.False(t, o.Bound())
	assert.Zero(t, o.FramebufferID)
	assert.Nil(t, o.Buffer())
	assert.Nil(t, o.Image())
	assert.Nil(t, o.Saved())

	assert.Zero(t, dev.Count(fakedrm.CreateDumb))
	assert.Zero(t, dev.Count(fakedrm.SetCrtc))
	assert.Equal(t, outputs, m.Outputs())
}

func TestEnumerateSkipsUnusable(t *testing.T) {
	tests := []struct {
		Name      string
		Connector drm.Connector
	}{
		{"disconnected", drm.Connector{ID: dp, EncoderID: encDP, Connection: drm.Disconnected, Modes: []drm.Mode{mode768p}}},
		{"unknown", drm.Connector{ID: dp, EncoderID: encDP, Connection: drm.UnknownConnection, Modes: []drm.Mode{mode768p}}},
		{"no modes", drm.Connector{ID: dp, EncoderID: encDP, Connection: drm.Connected}},
	}
	for _, test := range tests {
		t.Run(test.Name, func(it *testing.T) {
			dev := testDevice()
			dev.AddEncoder(encDP, crtc1, 0b10)
			dev.AddConnector(test.Connector)

			outputs := kms.New(dev, nil).Enumerate()
			require.Len(it, outputs, 1)
			assert.Equal(it, uint32(hdmi), outputs[0].ConnectorID)
		})
	}
}

func TestEnumerateEncoderFailure(t *testing.T) {
	dev := testDualDevice()
	dev.FailEncoders[encHDMI] = syscall.ENOENT

	outputs := kms.New(dev, testConfig()).Enumerate()
	require.Len(t, outputs, 1)
	assert.Equal(t, uint32(dp), outputs[0].ConnectorID)
	assert.NotZero(t, outputs[0].CrtcID)

	dumbs, fbs, mappings := dev.Live()
	assert.Zero(t, dumbs)
	assert.Zero(t, fbs)
	assert.Zero(t, mappings)
}

func TestEnumerateResourcesFailure(t *testing.T) {
	dev := testDevice()
	dev.Fail[fakedrm.Resources] = syscall.EACCES

	m := kms.New(dev, testConfig())
	assert.Empty(t, m.Enumerate())
	assert.Empty(t, m.Outputs())
	assert.Zero(t, dev.Count(fakedrm.Connector))
}

func TestEnumerateConnectorFailure(t *testing.T) {
	dev := testDualDevice()
	dev.Fail[fakedrm.Connector] = syscall.EIO

	assert.Empty(t, kms.New(dev, nil).Enumerate())
	assert.Equal(t, 2, dev.Count(fakedrm.Connector))
}

func TestEnumerateControllerFallback(t *testing.T) {
	t.Run("no current encoder", func(it *testing.T) {
		dev := fakedrm.New()
		dev.AddCrtc(crtc0, 0, drm.Mode{})
		dev.AddCrtc(crtc1, 0, drm.Mode{})
		dev.AddEncoder(encDP, 0, 0b10)
		dev.AddConnector(drm.Connector{
			ID:         dp,
			Type:       10,
			TypeID:     2,
			Connection: drm.Connected,
			Modes:      []drm.Mode{mode768p},
			Encoders:   []uint32{encDP},
		})

		outputs := kms.New(dev, nil).Enumerate()
		require.Len(it, outputs, 1)
		assert.Equal(it, "DP-2", outputs[0].Name)
		assert.Equal(it, uint32(encDP), outputs[0].EncoderID)
		assert.Equal(it, uint32(crtc1), outputs[0].CrtcID)
	})

	t.Run("shared controller", func(it *testing.T) {
		dev := testDevice()
		// The DP encoder claims the same controller as HDMI, but can use crtc1 as well.
		dev.AddEncoder(encDP, crtc0, 0b11)
		dev.AddConnector(drm.Connector{
			ID:         dp,
			EncoderID:  encDP,
			Connection: drm.Connected,
			Modes:      []drm.Mode{mode768p},
			Encoders:   []uint32{encDP},
		})

		outputs := kms.New(dev, nil).Enumerate()
		require.Len(it, outputs, 2)
		assert.Equal(it, uint32(crtc0), outputs[0].CrtcID)
		assert.Equal(it, uint32(crtc1), outputs[1].CrtcID)
	})

	t.Run("no free controller", func(it *testing.T) {
		dev := testDevice()
		dev.AddEncoder(encDP, crtc0, 0b01)
		dev.AddConnector(drm.Connector{
			ID:         dp,
			EncoderID:  encDP,
			Connection: drm.Connected,
			Modes:      []drm.Mode{mode768p},
			Encoders:   []uint32{encDP},
		})

		outputs := kms.New(dev, testConfig()).Enumerate()
		require.Len(it, outputs, 1)
		assert.Equal(it, uint32(hdmi), outputs[0].ConnectorID)
	})
}

func TestEnumerateTwice(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)

	first := m.Enumerate()
	require.Len(t, first, 1)
	require.NoError(t, m.Bind(first[0]))

	second := m.Enumerate()
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.True(t, second[0].Bound())
}

func TestBind(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, testConfig())
	before, _ := dev.CrtcState(crtc0)

	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	o := outputs[0]

	require.NoError(t, m.Bind(o))
	assert.True(t, o.Bound())
	assert.Equal(t, kms.Bound, o.State())
	assert.NotZero(t, o.FramebufferID)
	assert.NotZero(t, o.Handle)
	assert.NotNil(t, o.Buffer())
	assert.GreaterOrEqual(t, o.Size, uint64(1920*1080*4))
	assert.Equal(t, uint64(o.Pitch)*uint64(o.Height), o.Size)
	assert.Len(t, o.Buffer(), int(o.Size))
	assert.Equal(t, image.Rect(0, 0, 1920, 1080), o.Image().Bounds())
	assert.Equal(t, int(o.Pitch), o.Image().Stride)

	require.NotNil(t, o.Saved())
	assert.Equal(t, before, *o.Saved())

	after, _ := dev.CrtcState(crtc0)
	assert.Equal(t, o.FramebufferID, after.BufferID)
	assert.Equal(t, mode1080p, after.Mode)
	assert.Zero(t, after.X)
	assert.Zero(t, after.Y)

	assert.Equal(t, []fakedrm.Request{
		fakedrm.CreateDumb,
		fakedrm.AddFB,
		fakedrm.MapDumb,
		fakedrm.Mmap,
		fakedrm.GetCrtc,
		fakedrm.SetCrtc,
	}, dev.Calls[len(dev.Calls)-6:])
}

func TestBindPaddedPitch(t *testing.T) {
	dev := fakedrm.New()
	dev.AddCrtc(crtc0, consoleFB, mode768p)
	dev.AddEncoder(encHDMI, crtc0, 0b1)
	dev.AddConnector(drm.Connector{
		ID:         hdmi,
		EncoderID:  encHDMI,
		Connection: drm.Connected,
		Modes:      []drm.Mode{mode768p},
	})

	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	o := outputs[0]
	require.NoError(t, m.Bind(o))

	// 1366*4 is not 64 byte aligned, the kernel pitch is used as is.
	assert.Greater(t, o.Pitch, o.Width*4)
	assert.Equal(t, uint64(o.Pitch)*uint64(o.Height), o.Size)

	o.Image().Set(1365, 767, pixel.XRGB8888{R: 0xff})
	pix := dev.Pixels(o.Handle)
	off := 767*int(o.Pitch) + 1365*4
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x00}, pix[off:off+4])
}

func TestBindTeardownRestores(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, testConfig())
	before, _ := dev.CrtcState(crtc0)

	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	require.NoError(t, m.Bind(outputs[0]))
	require.NoError(t, m.Close())

	after, _ := dev.CrtcState(crtc0)
	assert.Equal(t, before, after)
	assert.Equal(t, uint32(consoleFB), after.BufferID)

	dumbs, fbs, mappings := dev.Live()
	assert.Zero(t, dumbs)
	assert.Zero(t, fbs)
	assert.Zero(t, mappings)
	assert.Equal(t, 1, dev.Closed())

	o := outputs[0]
	assert.Equal(t, kms.Released, o.State())
	assert.Zero(t, o.FramebufferID)
	assert.Zero(t, o.Handle)
	assert.Zero(t, o.Size)
	assert.Nil(t, o.Buffer())
	assert.Nil(t, o.Saved())
	assert.Empty(t, m.Outputs())
}

func TestBindFailureRollsBack(t *testing.T) {
	tests := []struct {
		Fail  fakedrm.Request
		Undo  []fakedrm.Request
		Calls int
	}{
		{fakedrm.CreateDumb, nil, 1},
		{fakedrm.AddFB, []fakedrm.Request{fakedrm.DestroyDumb}, 2},
		{fakedrm.MapDumb, []fakedrm.Request{fakedrm.RmFB, fakedrm.DestroyDumb}, 3},
		{fakedrm.Mmap, []fakedrm.Request{fakedrm.RmFB, fakedrm.DestroyDumb}, 4},
		{fakedrm.GetCrtc, []fakedrm.Request{fakedrm.Munmap, fakedrm.RmFB, fakedrm.DestroyDumb}, 5},
		{fakedrm.SetCrtc, []fakedrm.Request{fakedrm.Munmap, fakedrm.RmFB, fakedrm.DestroyDumb}, 6},
	}
	for _, test := range tests {
		t.Run(string(test.Fail), func(it *testing.T) {
			dev := testDevice()
			m := kms.New(dev, testConfig())
			before, _ := dev.CrtcState(crtc0)

			outputs := m.Enumerate()
			require.Len(it, outputs, 1)
			o := outputs[0]

			dev.Fail[test.Fail] = syscall.ENOMEM
			n := len(dev.Calls)
			err := m.Bind(o)
			require.Error(it, err)
			assert.ErrorIs(it, err, syscall.ENOMEM)

			calls := dev.Calls[n:]
			require.Len(it, calls, test.Calls+len(test.Undo))
			assert.Equal(it, test.Fail, calls[test.Calls-1])
			if len(test.Undo) > 0 {
				assert.Equal(it, test.Undo, calls[test.Calls:])
			}

			assert.Equal(it, kms.Enumerated, o.State())
			assert.False(it, o.Bound())
			assert.Zero(it, o.FramebufferID)
			assert.Zero(it, o.Handle)
			assert.Nil(it, o.Buffer())
			assert.Nil(it, o.Saved())
			assert.ErrorIs(it, o.Fill(color.White), kms.ErrNotBound)

			dumbs, fbs, mappings := dev.Live()
			assert.Zero(it, dumbs)
			assert.Zero(it, fbs)
			assert.Zero(it, mappings)

			after, _ := dev.CrtcState(crtc0)
			assert.Equal(it, before, after)

			// The output can be bound once the device recovers.
			delete(dev.Fail, test.Fail)
			require.NoError(it, m.Bind(o))
			assert.True(it, o.Bound())
		})
	}
}

func TestBindTwice(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)

	require.NoError(t, m.Bind(outputs[0]))
	fbID := outputs[0].FramebufferID
	assert.ErrorIs(t, m.Bind(outputs[0]), kms.ErrAlreadyBound)
	assert.Equal(t, fbID, outputs[0].FramebufferID)
	assert.Equal(t, 1, dev.Count(fakedrm.CreateDumb))
}

func TestBindTwoOutputs(t *testing.T) {
	dev := testDualDevice()
	m := kms.New(dev, testConfig())
	require.Len(t, m.Enumerate(), 2)

	bound, err := m.BindAll()
	require.NoError(t, err)
	require.Len(t, bound, 2)

	a, b := bound[0], bound[1]
	assert.NotEqual(t, a.Handle, b.Handle)
	assert.NotEqual(t, a.FramebufferID, b.FramebufferID)
	assert.NotEqual(t, a.CrtcID, b.CrtcID)

	red := pixel.XRGB8888{R: 0xff}
	blue := pixel.XRGB8888{B: 0xff}
	require.NoError(t, a.Fill(red))
	require.NoError(t, b.Fill(blue))
	assert.Equal(t, red, a.Image().At(10, 10))
	assert.Equal(t, blue, b.Image().At(10, 10))
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x00}, dev.Pixels(a.Handle)[:4])
	assert.Equal(t, []byte{0xff, 0x00, 0x00, 0x00}, dev.Pixels(b.Handle)[:4])

	stateA, _ := dev.CrtcState(a.CrtcID)
	stateB, _ := dev.CrtcState(b.CrtcID)
	assert.Equal(t, a.FramebufferID, stateA.BufferID)
	assert.Equal(t, b.FramebufferID, stateB.BufferID)

	require.NoError(t, m.Close())
	dumbs, fbs, mappings := dev.Live()
	assert.Zero(t, dumbs)
	assert.Zero(t, fbs)
	assert.Zero(t, mappings)
}

func TestBindAllPartialFailure(t *testing.T) {
	dev := testDualDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 2)
	require.NoError(t, m.Bind(outputs[0]))

	// Only the second output is still enumerated.
	dev.Fail[fakedrm.AddFB] = syscall.ENOSPC
	bound, err := m.BindAll()
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Empty(t, bound)
	assert.True(t, outputs[0].Bound())
	assert.Equal(t, kms.Enumerated, outputs[1].State())

	delete(dev.Fail, fakedrm.AddFB)
	bound, err = m.BindAll()
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Same(t, outputs[1], bound[0])
}

func TestReleaseNeverBound(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	o := outputs[0]

	n := len(dev.Calls)
	require.NoError(t, m.Release(o))
	assert.Len(t, dev.Calls, n, "no device calls")
	assert.Equal(t, kms.Released, o.State())

	assert.ErrorIs(t, m.Bind(o), kms.ErrReleased)
	assert.Len(t, dev.Calls, n)
}

func TestReleaseTwice(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	o := outputs[0]
	require.NoError(t, m.Bind(o))

	require.NoError(t, m.Release(o))
	n := len(dev.Calls)
	require.NoError(t, m.Release(o))
	assert.Len(t, dev.Calls, n)

	assert.Equal(t, 1, dev.Count(fakedrm.RmFB))
	assert.Equal(t, 1, dev.Count(fakedrm.DestroyDumb))
	assert.Equal(t, 1, dev.Count(fakedrm.Munmap))

	// Close does not release it again.
	require.NoError(t, m.Close())
	assert.Equal(t, 1, dev.Count(fakedrm.RmFB))
	assert.Equal(t, 1, dev.Closed())
}

func TestReleaseThenEnumerate(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	require.NoError(t, m.Bind(outputs[0]))
	require.NoError(t, m.Release(outputs[0]))

	again := m.Enumerate()
	require.Len(t, again, 1)
	assert.NotSame(t, outputs[0], again[0])
	assert.Equal(t, kms.Enumerated, again[0].State())
	require.NoError(t, m.Bind(again[0]))
}

func TestTeardownEmpty(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)

	assert.NoError(t, m.Teardown(nil))
	assert.NoError(t, m.Teardown([]*kms.Output{}))
	assert.Empty(t, dev.Calls)
}

func TestTeardownBestEffort(t *testing.T) {
	dev := testDualDevice()
	m := kms.New(dev, testConfig())
	before0, _ := dev.CrtcState(crtc0)
	before1, _ := dev.CrtcState(crtc1)

	require.Len(t, m.Enumerate(), 2)
	bound, err := m.BindAll()
	require.NoError(t, err)
	require.Len(t, bound, 2)

	dev.Fail[fakedrm.RmFB] = syscall.EIO
	err = m.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.EIO)

	assert.Equal(t, 2, dev.Count(fakedrm.RmFB))
	assert.Equal(t, 2, dev.Count(fakedrm.DestroyDumb))
	assert.Equal(t, 2, dev.Count(fakedrm.Munmap))
	assert.Equal(t, 1, dev.Closed())

	after0, _ := dev.CrtcState(crtc0)
	after1, _ := dev.CrtcState(crtc1)
	assert.Equal(t, before0, after0)
	assert.Equal(t, before1, after1)

	dumbs, _, mappings := dev.Live()
	assert.Zero(t, dumbs)
	assert.Zero(t, mappings)

	for _, o := range bound {
		assert.Equal(t, kms.Released, o.State())
	}
}

func TestRestoreDisabledController(t *testing.T) {
	dev := testDualDevice()
	m := kms.New(dev, nil)
	before, _ := dev.CrtcState(crtc1)
	require.False(t, before.ModeValid)

	outputs := m.Enumerate()
	require.Len(t, outputs, 2)
	o := outputs[1]
	require.Equal(t, uint32(crtc1), o.CrtcID)
	require.NoError(t, m.Bind(o))

	on, _ := dev.CrtcState(crtc1)
	assert.True(t, on.ModeValid)

	require.NoError(t, m.Release(o))
	after, _ := dev.CrtcState(crtc1)
	assert.Equal(t, before, after)
}

func TestClose(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, dev.Closed())
	assert.Equal(t, kms.Released, outputs[0].State())

	assert.Nil(t, m.Enumerate())
	assert.ErrorIs(t, m.Bind(outputs[0]), kms.ErrClosed)
	assert.ErrorIs(t, m.Release(outputs[0]), kms.ErrClosed)
	assert.ErrorIs(t, m.Teardown(outputs), kms.ErrClosed)
	_, err := m.BindAll()
	assert.ErrorIs(t, err, kms.ErrClosed)
}

func TestCloseDeviceError(t *testing.T) {
	dev := testDevice()
	dev.Fail[fakedrm.Close] = syscall.EIO
	m := kms.New(dev, nil)
	assert.ErrorIs(t, m.Close(), syscall.EIO)
	assert.NoError(t, m.Close())
}

func TestOutputDrawer(t *testing.T) {
	dev := testDevice()
	m := kms.New(dev, nil)
	outputs := m.Enumerate()
	require.Len(t, outputs, 1)
	o := outputs[0]

	var d display.Drawer = o
	assert.Equal(t, image.Rect(0, 0, 1920, 1080), d.Bounds())
	assert.Equal(t, pixel.XRGB8888Model, d.ColorModel())
	assert.Contains(t, d.String(), "HDMI-A-1")
	assert.ErrorIs(t, d.Draw(d.Bounds(), image.NewUniform(color.White), image.Point{}), kms.ErrNotBound)
	assert.NoError(t, d.Halt())

	require.NoError(t, m.Bind(o))

	green := pixel.XRGB8888{G: 0xff}
	require.NoError(t, d.Draw(image.Rect(100, 100, 200, 200), image.NewUniform(green), image.Point{}))
	assert.Equal(t, green, o.Image().At(150, 150))
	assert.Equal(t, pixel.XRGB8888{}, o.Image().At(50, 50))

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 0x80, A: 0xff})
	require.NoError(t, d.Draw(image.Rect(10, 10, 14, 14), src, image.Point{}))
	assert.Equal(t, pixel.XRGB8888{R: 0x80}, o.Image().At(11, 11))

	pix := dev.Pixels(o.Handle)
	off := 11*int(o.Pitch) + 11*4
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x00}, pix[off:off+4])

	require.NoError(t, d.Halt())
	assert.Equal(t, pixel.XRGB8888{}, o.Image().At(150, 150))
}

func TestState(t *testing.T) {
	assert.Equal(t, "enumerated", kms.Enumerated.String())
	assert.Equal(t, "bound", kms.Bound.String())
	assert.Equal(t, "released", kms.Released.String())
	assert.Equal(t, "State(9)", kms.State(9).String())
}
