// Package device - the local virtual Ethernet interface a tunnel end bridges to
package device

import (
	"context"
	"errors"
)

// Device - a TAP like interface carrying whole Ethernet frames
type Device interface {
	Name() string
	// ReadFrame - block until the next outbound Ethernet frame
	ReadFrame() ([]byte, error)
	// WriteFrame - inject an Ethernet frame
	WriteFrame(frame []byte) error
	Close() error
}

// Config - how to open and set up the interface
type Config struct {
	// Name - interface name or kernel pattern such as tap%d
	Name string
	MTU  int
	// Addresses - CIDR addresses assigned after the link is created
	Addresses []string
}

// ErrClosed - the device was closed while reading
var ErrClosed = errors.New("device closed")

// Pump - read frames from dev and hand them to frames, poking wake after
// each one, until reading fails or ctx is done
func Pump(ctx context.Context, dev Device, frames chan<- []byte, wake chan struct{}) error {
	for {
		frame, err := dev.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return nil
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Drain - discard every frame already waiting in frames
func Drain(frames <-chan []byte) int {
	n := 0
	for {
		select {
		case <-frames:
			n++
		default:
			return n
		}
	}
}
