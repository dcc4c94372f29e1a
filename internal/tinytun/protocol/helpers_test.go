package protocol

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testKey = crypt.DeriveKey("correct horse")

var quietLogger = zerolog.Nop()

// memTransport - in memory transport, reads would block once in is drained
type memTransport struct {
	in       bytes.Buffer
	out      bytes.Buffer
	maxWrite int
	readErr  error
	writeErr error
	closed   int
}

func (m *memTransport) Read(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.in.Len() == 0 {
		return 0, ErrWouldBlock
	}
	return m.in.Read(p)
}

func (m *memTransport) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.maxWrite > 0 && len(p) > m.maxWrite {
		m.out.Write(p[:m.maxWrite])
		return m.maxWrite, ErrWouldBlock
	}
	return m.out.Write(p)
}

func (m *memTransport) Close() error {
	m.closed++
	if m.closed > 1 {
		return errors.New("closed twice")
	}
	return nil
}

// fakeClock - manually advanced time source
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// frameRecorder - FrameHandler keeping a copy of every frame
type frameRecorder struct {
	frames [][]byte
	err    error
}

func (r *frameRecorder) HandleFrame(src *Conn, frame []byte) error {
	r.frames = append(r.frames, append(make([]byte, 0, len(frame)), frame...))
	return r.err
}

type peer struct {
	t    *memTransport
	c    *Conn
	recv *frameRecorder
}

func newPeer(t *testing.T, clock *fakeClock, opts Options) *peer {
	t.Helper()
	p := &peer{t: &memTransport{}, recv: &frameRecorder{}}
	if opts.Key == (crypt.Key{}) {
		opts.Key = testKey
	}
	if opts.Handler == nil {
		opts.Handler = p.recv
	}
	if clock != nil {
		opts.Now = clock.Now
	}
	opts.Logger = &quietLogger
	c, err := NewConn(p.t, opts)
	require.NoError(t, err)
	p.c = c
	return p
}

// flush - everything a has queued ends up on b's input
func flush(a, b *peer) {
	a.c.ServiceWrite()
	b.t.in.Write(a.t.out.Bytes())
	a.t.out.Reset()
}

// connected - two established connections
func connected(t *testing.T, clock *fakeClock, aOpts, bOpts Options) (*peer, *peer) {
	t.Helper()
	a, b := newPeer(t, clock, aOpts), newPeer(t, clock, bOpts)
	flush(a, b)
	flush(b, a)
	a.c.ServiceRead()
	b.c.ServiceRead()
	require.True(t, a.c.Established())
	require.True(t, b.c.Established())
	return a, b
}

func ethFrame(t *testing.T, dst, src net.HardwareAddr, payload []byte) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{DstMAC: dst, SrcMAC: src, EthernetType: layers.EthernetTypeIPv4}
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)))
	return buf.Bytes()
}

func mac(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, last}
}
