package ioctl

import (
	"fmt"
	"reflect"

	"github.com/go-errors/errors"
	"golang.org/x/sys/unix"
)

// Mode is the IOCTL mode.
type Mode uint8

// Modes
const (
	None Mode = iota
	Write
	Read
)

// Command to be sent over ioctl.
type Command uintptr

// Mode returns the transfer direction bits.
func (c Command) Mode() Mode {
	return Mode(c >> 30 & 0x03)
}

// Size returns the size of the argument in bytes.
func (c Command) Size() uint16 {
	return uint16(c >> 16 & 0x3fff)
}

// Type returns the driver type byte.
func (c Command) Type() byte {
	return byte(c >> 8)
}

// Number returns the request number within the driver type.
func (c Command) Number() byte {
	return byte(c)
}

func (c Command) String() string {
	var (
		mode = c.Mode()
		str  string
	)
	if mode&Write > 0 {
		str += " write"
	}
	if mode&Read > 0 {
		str += " read"
	}
	return fmt.Sprintf("ioctl%s (%d bytes) %q 0x%02x", str, c.Size(), c.Type(), c.Number())
}

// Do executes the ioctl call. The returned error carries a stack trace and unwraps to the errno.
func Do(fd uintptr, command Command, ptr interface{}) error {
	var p uintptr

	if ptr != nil {
		v := reflect.ValueOf(ptr)
		p = v.Pointer()
	}

	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(command), p)
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			// drmIoctl restarts on these.
			continue
		default:
			return errors.WrapPrefix(errno, command.String(), 1)
		}
	}
}

// Encode an ioctl command.
func Encode(mode Mode, size uint16, typ, nr byte) Command {
	return Command(mode)<<30 | Command(size&0x3fff)<<16 | Command(typ)<<8 | Command(nr)
}

// Pointer to a value.
func Pointer(mode Mode, ref interface{}, typ, nr byte) Command {
	size := uint16(reflect.TypeOf(ref).Elem().Size())
	return Encode(mode, size, typ, nr)
}

// ReadWrite encodes an _IOWR command for the value ref points to.
func ReadWrite(ref interface{}, typ, nr byte) Command {
	return Pointer(Read|Write, ref, typ, nr)
}
