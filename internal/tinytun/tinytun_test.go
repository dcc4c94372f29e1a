package tinytun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rectcircle/tinytun/internal/tinytun/config"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rectcircle/tinytun/internal/tinytun/device"
	"github.com/rectcircle/tinytun/internal/tinytun/transport"
	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = crypt.DeriveKey("tinytun test")

const waitFor = 5 * time.Second

// memDevice - in memory device: tests push frames into in and read what the tunnel wrote from out
type memDevice struct {
	name   string
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newMemDevice(name string) *memDevice {
	return &memDevice{
		name:   name,
		in:     make(chan []byte),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (d *memDevice) open(device.Config) (device.Device, error) { return d, nil }

func (d *memDevice) Name() string { return d.name }

func (d *memDevice) ReadFrame() ([]byte, error) {
	select {
	case f := <-d.in:
		return f, nil
	case <-d.closed:
		return nil, device.ErrClosed
	}
}

func (d *memDevice) WriteFrame(frame []byte) error {
	select {
	case d.out <- append([]byte(nil), frame...):
	default:
	}
	return nil
}

func (d *memDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// offer - hand frame to the device reader if it is waiting
func (d *memDevice) offer(frame []byte) {
	select {
	case d.in <- frame:
	case <-time.After(10 * time.Millisecond):
	}
}

// saw - whether frame has been written to the device, consuming everything written so far
func (d *memDevice) saw(frame []byte) bool {
	found := false
	for {
		select {
		case f := <-d.out:
			found = found || bytes.Equal(f, frame)
		default:
			return found
		}
	}
}

func ethFrame(t *testing.T, dst, src net.HardwareAddr, payload string) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{DstMAC: dst, SrcMAC: src, EthernetType: layers.EthernetTypeIPv4}
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)))
	return append([]byte(nil), buf.Bytes()...)
}

func newTestClient(dev *memDevice, connect func(ctx context.Context) (io.ReadWriteCloser, error)) *Client {
	c := NewClient(config.ClientConfig{Keepalive: 5, Device: config.DeviceConfig{Name: dev.name}}, testKey)
	c.OpenDevice = dev.open
	c.Connect = connect
	c.ReconnectDelay = 10 * time.Millisecond
	return c
}

func wait(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("did not stop")
	}
}

func TestServerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := transport.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	hub := newMemDevice("hub")
	srv := NewServer(config.ServerConfig{Device: config.DeviceConfig{Name: "hub"}}, testKey)
	srv.OpenDevice = hub.open
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(ctx, ln) }()

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return transport.Dial(ctx, ln.Addr().String())
	}
	dev1, dev2 := newMemDevice("one"), newMemDevice("two")
	clientsDone := make(chan error, 2)
	go func() { clientsDone <- newTestClient(dev1, dial).Run(ctx) }()
	go func() { clientsDone <- newTestClient(dev2, dial).Run(ctx) }()

	mac1 := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	mac2 := net.HardwareAddr{0x02, 0, 0, 0, 0, 2}

	broadcast := ethFrame(t, layers.EthernetBroadcast, mac1, "hello everyone")
	hubSaw, twoSaw := false, false
	require.Eventually(t, func() bool {
		dev1.offer(broadcast)
		hubSaw = hubSaw || hub.saw(broadcast)
		twoSaw = twoSaw || dev2.saw(broadcast)
		return hubSaw && twoSaw
	}, waitFor, 20*time.Millisecond)

	unicast := ethFrame(t, mac1, mac2, "just for one")
	oneSaw := false
	require.Eventually(t, func() bool {
		dev2.offer(unicast)
		oneSaw = oneSaw || dev1.saw(unicast)
		return oneSaw
	}, waitFor, 20*time.Millisecond)
	assert.False(t, hub.saw(unicast), "learned destinations are not flooded to the local device")

	fromHub := ethFrame(t, mac2, net.HardwareAddr{0x02, 0, 0, 0, 0, 9}, "from the hub device")
	require.Eventually(t, func() bool {
		hub.offer(fromHub)
		return dev2.saw(fromHub)
	}, waitFor, 20*time.Millisecond)

	cancel()
	wait(t, serverDone)
	wait(t, clientsDone)
	wait(t, clientsDone)
}

func TestServeStdio(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverEnd, clientEnd := net.Pipe()

	hub := newMemDevice("hub")
	srv := NewServer(config.ServerConfig{Stdio: true, Device: config.DeviceConfig{Name: "hub"}}, testKey)
	srv.OpenDevice = hub.open
	srv.Ready = serverEnd
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.ServeStdio(context.Background(), serverEnd) }()

	var once sync.Once
	connect := func(ctx context.Context) (io.ReadWriteCloser, error) {
		var rwc io.ReadWriteCloser
		err := errors.New("stdio server serves one tunnel")
		once.Do(func() {
			trigger := make([]byte, len(variable.StdoutReadyTrigger))
			if _, err = io.ReadFull(clientEnd, trigger); err == nil && string(trigger) != variable.StdoutReadyTrigger {
				err = errors.New("bad trigger")
			}
			rwc = clientEnd
		})
		return rwc, err
	}
	dev := newMemDevice("one")
	clientDone := make(chan error, 1)
	go func() { clientDone <- newTestClient(dev, connect).Run(ctx) }()

	frame := ethFrame(t, layers.EthernetBroadcast, net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, "over stdio")
	require.Eventually(t, func() bool {
		dev.offer(frame)
		return hub.saw(frame)
	}, waitFor, 20*time.Millisecond)

	cancel()
	wait(t, clientDone)
	wait(t, serverDone)
}

func TestClient_deviceFailure(t *testing.T) {
	c := NewClient(config.ClientConfig{Keepalive: 5}, testKey)
	c.OpenDevice = func(device.Config) (device.Device, error) { return nil, errors.New("no tun") }
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "no tun")
}
