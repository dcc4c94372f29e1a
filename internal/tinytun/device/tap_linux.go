package device

import (
	"errors"
	"fmt"
	"os"

	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type tap struct {
	name string
	file *os.File
	buf  []byte
}

// Open - create a TAP interface through /dev/net/tun, keeping the packet information header,
// then bring it up with the configured MTU and addresses
func Open(cfg Config) (Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(tools.If(cfg.Name != "", cfg.Name, variable.DefaultDeviceName))
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ifr.SetUint16(unix.IFF_TAP)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	t := &tap{
		name: ifr.Name(),
		file: os.NewFile(uintptr(fd), "/dev/net/tun"),
		buf:  make([]byte, HeaderSize+variable.MaxMessageSize),
	}
	if err := configure(t.name, cfg); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func configure(name string, cfg Config) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("find link %s: %w", name, err)
	}
	if cfg.MTU > 0 {
		if err := netlink.LinkSetMTU(link, cfg.MTU); err != nil {
			return fmt.Errorf("set mtu of %s: %w", name, err)
		}
	}
	for _, cidr := range cfg.Addresses {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return err
		}
		if err := netlink.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("add %s to %s: %w", cidr, name, err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %s up: %w", name, err)
	}
	return nil
}

func (t *tap) Name() string { return t.name }

func (t *tap) ReadFrame() ([]byte, error) {
	for {
		n, err := t.file.Read(t.buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if frame, ok := Decapsulate(t.buf[:n]); ok {
			return append([]byte(nil), frame...), nil
		}
	}
}

func (t *tap) WriteFrame(frame []byte) error {
	_, err := t.file.Write(Encapsulate(frame))
	return err
}

func (t *tap) Close() error {
	return t.file.Close()
}
