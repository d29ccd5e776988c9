//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

// Device is a raw CAN socket bound to one interface. Frames read from it are
// stamped with the gateway bus the interface serves.
type Device struct {
	fd    int
	bus   uint8
	iface string
}

var _ Dev = (*Device)(nil)

// Open binds a classic (non-FD) raw socket to iface for gateway bus bus.
func Open(iface string, bus uint8) (*Device, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", iface, err)
	}
	fd, err := rawSocket(ifi.Index)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", iface, err)
	}
	return &Device{fd: fd, bus: bus, iface: iface}, nil
}

func rawSocket(ifindex int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()
	// kernels without FD support reject the option; they are classic-only anyway
	err = unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0)
	if err != nil && !errors.Is(err, unix.ENOPROTOOPT) {
		return fd, fmt.Errorf("disable fd frames: %w", err)
	}
	if err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		return fd, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

func (d *Device) Bus() uint8 { return d.bus }

func (d *Device) String() string { return fmt.Sprintf("%s(bus %d)", d.iface, d.bus) }

// ReadFrame blocks for the next frame on the interface.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [rawSize]byte
	n, err := unix.Read(d.fd, buf[:])
	switch {
	case err != nil:
		return err
	case n != rawSize:
		return fmt.Errorf("%s: short read %d/%d", d.iface, n, rawSize)
	}
	decodeRaw(buf[:], d.bus, fr)
	metrics.IncBusRx(d.bus, metrics.BackendSocketCAN)
	return nil
}

// WriteFrame sends fr out of the interface. fr.Bus is not consulted.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [rawSize]byte
	encodeRaw(buf[:], fr)
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		return fmt.Errorf("%s: %w", d.iface, err)
	}
	return nil
}
