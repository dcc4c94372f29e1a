package device

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arpRequest(t *testing.T) []byte {
	t.Helper()
	src := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   src,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp))
	return buf.Bytes()
}

func TestEncapsulate(t *testing.T) {
	frame := arpRequest(t)
	buf := Encapsulate(frame)
	assert.Equal(t, []byte{0x00, 0x00, 0x08, 0x06}, buf[:HeaderSize])
	assert.Equal(t, frame, buf[HeaderSize:])

	got, ok := Decapsulate(buf)
	require.True(t, ok)
	assert.Equal(t, frame, got)
}

func TestDecapsulate(t *testing.T) {
	tests := []struct {
		name string
		len  int
		want bool
	}{
		{"empty", 0, false},
		{"header only", HeaderSize, false},
		{"bare ethernet header", HeaderSize + 14, false},
		{"smallest frame", HeaderSize + 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, ok := Decapsulate(make([]byte, tt.len))
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Len(t, frame, tt.len-HeaderSize)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(arpRequest(t))
	assert.Contains(t, got, "02:00:00:00:00:01 > ff:ff:ff:ff:ff:ff")
	assert.Contains(t, got, "ARP")
	assert.Contains(t, got, "who-has 10.0.0.2 tell 10.0.0.1")

	assert.Contains(t, Describe([]byte{1, 2, 3}), "not ethernet")
}

// memDevice - Device fed from a channel
type memDevice struct {
	in      chan []byte
	written [][]byte
}

func (d *memDevice) Name() string { return "mem0" }

func (d *memDevice) ReadFrame() ([]byte, error) {
	frame, ok := <-d.in
	if !ok {
		return nil, ErrClosed
	}
	return frame, nil
}

func (d *memDevice) WriteFrame(frame []byte) error {
	d.written = append(d.written, frame)
	return nil
}

func (d *memDevice) Close() error {
	close(d.in)
	return nil
}

func TestPump(t *testing.T) {
	dev := &memDevice{in: make(chan []byte, 4)}
	frames := make(chan []byte, 4)
	wake := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- Pump(context.Background(), dev, frames, wake) }()

	dev.in <- []byte("one")
	dev.in <- []byte("two")
	assert.Equal(t, []byte("one"), <-frames)
	assert.Equal(t, []byte("two"), <-frames)
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("no wake up")
	}

	dev.Close()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Pump did not return")
	}
}

func TestDrain(t *testing.T) {
	frames := make(chan []byte, 4)
	frames <- []byte("stale")
	frames <- []byte("stale")
	assert.Equal(t, 2, Drain(frames))
	assert.Equal(t, 0, Drain(frames))
}
