//go:build !linux

package device

import (
	"errors"
	"os"

	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
	"github.com/songgao/water"
)

type tap struct {
	ifce *water.Interface
	buf  []byte
}

// Open - create a TAP interface with the platform driver. MTU and addresses
// are left to the operating system tools here.
func Open(cfg Config) (Device, error) {
	ifce, err := water.New(water.Config{DeviceType: water.TAP})
	if err != nil {
		return nil, err
	}
	if cfg.MTU > 0 || len(cfg.Addresses) > 0 {
		tools.Logger.Warn().Str("dev", ifce.Name()).Msg("mtu and addresses are not applied on this platform")
	}
	return &tap{ifce: ifce, buf: make([]byte, variable.MaxMessageSize)}, nil
}

func (t *tap) Name() string { return t.ifce.Name() }

// ReadFrame - the platform driver hands out bare frames, no packet header
func (t *tap) ReadFrame() ([]byte, error) {
	for {
		n, err := t.ifce.Read(t.buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if n >= ethernetHeaderSize {
			return append([]byte(nil), t.buf[:n]...), nil
		}
	}
}

func (t *tap) WriteFrame(frame []byte) error {
	_, err := t.ifce.Write(frame)
	return err
}

func (t *tap) Close() error {
	return t.ifce.Close()
}
