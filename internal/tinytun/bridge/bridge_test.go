package bridge

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rectcircle/tinytun/internal/tinytun/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = crypt.DeriveKey("bridge test")
	nop     = zerolog.Nop()
)

type memTransport struct {
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
}

func (m *memTransport) Read(p []byte) (int, error) {
	if m.in.Len() == 0 {
		return 0, protocol.ErrWouldBlock
	}
	return m.in.Read(p)
}

func (m *memTransport) Write(p []byte) (int, error) { return m.out.Write(p) }

func (m *memTransport) Close() error {
	m.closed = true
	return nil
}

// port - recording LocalPort
type port struct {
	frames [][]byte
	err    error
}

func (p *port) WriteFrame(frame []byte) error {
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return p.err
}

// link - a hub side connection registered with the bridge plus the remote client it talks to
type link struct {
	hub    *protocol.Conn
	ht     *memTransport
	remote *protocol.Conn
	rt     *memTransport
	got    port
}

func newLink(t *testing.T, b *Bridge) *link {
	t.Helper()
	l := &link{ht: &memTransport{}, rt: &memTransport{}}
	var err error
	l.hub, err = protocol.NewConn(l.ht, protocol.Options{Key: testKey, Handler: b, Role: protocol.RoleServer, Logger: &nop})
	require.NoError(t, err)
	l.remote, err = protocol.NewConn(l.rt, protocol.Options{Key: testKey, Handler: Deliver(&l.got), Role: protocol.RoleClient, Logger: &nop})
	require.NoError(t, err)
	b.Add(l.hub)
	return l
}

// settle - remotes write, the hub polls once, remotes read
func settle(b *Bridge, links ...*link) {
	for _, l := range links {
		l.remote.ServiceWrite()
		l.ht.in.Write(l.rt.out.Bytes())
		l.rt.out.Reset()
	}
	b.Poll()
	for _, l := range links {
		l.rt.in.Write(l.ht.out.Bytes())
		l.ht.out.Reset()
		l.remote.ServiceRead()
	}
}

func reset(local *port, links ...*link) {
	local.frames = nil
	for _, l := range links {
		l.got.frames = nil
	}
}

func frame(t *testing.T, dst, src net.HardwareAddr, payload string) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{DstMAC: dst, SrcMAC: src, EthernetType: layers.EthernetTypeARP}
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)))
	return append([]byte(nil), buf.Bytes()...)
}

func hw(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0xaa, 0, 0, 0, last}
}

func TestBridge_Route(t *testing.T) {
	local := &port{}
	b := New(local, &nop)
	a, bb, c := newLink(t, b), newLink(t, b), newLink(t, b)
	settle(b, a, bb, c)
	require.Equal(t, 3, b.Len())
	for _, l := range []*link{a, bb, c} {
		require.True(t, l.hub.Established())
		require.True(t, l.remote.Established())
	}

	m := hw(0x0b)
	unknown := hw(0xee)

	// B announces M by talking to an unknown host: flooded everywhere but B
	hello := frame(t, unknown, m, "hello from M")
	require.NoError(t, bb.remote.Send(hello))
	settle(b, a, bb, c)
	assert.Equal(t, [][]byte{hello}, a.got.frames)
	assert.Empty(t, bb.got.frames)
	assert.Equal(t, [][]byte{hello}, c.got.frames)
	assert.Equal(t, [][]byte{hello}, local.frames)
	assert.True(t, bb.hub.Knows(m))
	reset(local, a, bb, c)

	t.Run("unicast to learned address reaches only its connection", func(t *testing.T) {
		f := frame(t, m, hw(0x0a), "to M")
		require.NoError(t, a.remote.Send(f))
		settle(b, a, bb, c)
		assert.Empty(t, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Empty(t, c.got.frames)
		assert.Empty(t, local.frames)
		reset(local, a, bb, c)
	})

	t.Run("broadcast reaches every other connection", func(t *testing.T) {
		f := frame(t, layers.EthernetBroadcast, hw(0x0a), "who has")
		require.NoError(t, a.remote.Send(f))
		settle(b, a, bb, c)
		assert.Empty(t, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Equal(t, [][]byte{f}, c.got.frames)
		assert.Equal(t, [][]byte{f}, local.frames)
		reset(local, a, bb, c)
	})

	t.Run("unknown destination floods except source", func(t *testing.T) {
		f := frame(t, unknown, hw(0x0a), "anyone")
		require.NoError(t, a.remote.Send(f))
		settle(b, a, bb, c)
		assert.Empty(t, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Equal(t, [][]byte{f}, c.got.frames)
		assert.Equal(t, [][]byte{f}, local.frames)
		reset(local, a, bb, c)
	})

	t.Run("frames from the local device never return to it", func(t *testing.T) {
		f := frame(t, m, hw(0x01), "local to M")
		b.Route(nil, f)
		settle(b, a, bb, c)
		assert.Empty(t, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Empty(t, c.got.frames)
		reset(local, a, bb, c)

		f = frame(t, unknown, hw(0x01), "local flood")
		b.Route(nil, f)
		settle(b, a, bb, c)
		assert.Equal(t, [][]byte{f}, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Equal(t, [][]byte{f}, c.got.frames)
		assert.Empty(t, local.frames)
		reset(local, a, bb, c)
	})

	t.Run("every connection that learned the address gets a copy", func(t *testing.T) {
		f := frame(t, unknown, m, "M moved")
		require.NoError(t, c.remote.Send(f))
		settle(b, a, bb, c)
		require.True(t, c.hub.Knows(m))
		reset(local, a, bb, c)

		f = frame(t, m, hw(0x0a), "to M again")
		require.NoError(t, a.remote.Send(f))
		settle(b, a, bb, c)
		assert.Empty(t, a.got.frames)
		assert.Equal(t, [][]byte{f}, bb.got.frames)
		assert.Equal(t, [][]byte{f}, c.got.frames)
		assert.Empty(t, local.frames)
		reset(local, a, bb, c)
	})

	t.Run("runt frames are dropped", func(t *testing.T) {
		require.NoError(t, a.remote.Send([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 1, 2, 3}))
		settle(b, a, bb, c)
		assert.Empty(t, bb.got.frames)
		assert.Empty(t, c.got.frames)
		assert.Empty(t, local.frames)
		assert.Equal(t, 3, b.Len())
	})
}

func TestBridge_lifecycle(t *testing.T) {
	b := New(nil, &nop)
	a, c := newLink(t, b), newLink(t, b)
	settle(b, a, c)
	assert.Equal(t, []*protocol.Conn{a.hub, c.hub}, b.Conns())

	t.Run("no local device", func(t *testing.T) {
		f := frame(t, layers.EthernetBroadcast, hw(1), "bcast")
		require.NoError(t, a.remote.Send(f))
		settle(b, a, c)
		assert.Equal(t, [][]byte{f}, c.got.frames)
	})

	t.Run("protocol violation removes the connection", func(t *testing.T) {
		a.ht.in.Write([]byte{0x41, 0x06})
		assert.Equal(t, 1, b.Poll())
		assert.Equal(t, []*protocol.Conn{c.hub}, b.Conns())
		assert.True(t, a.ht.closed)
		assert.True(t, a.hub.Finished())
		assert.True(t, protocol.IsKind(a.hub.Err(), protocol.KindProtocol))
	})

	t.Run("Remove", func(t *testing.T) {
		assert.False(t, b.Remove(a.hub))
		assert.True(t, b.Remove(c.hub))
		assert.Equal(t, 0, b.Len())
		assert.True(t, c.ht.closed)
	})

	t.Run("CloseAll", func(t *testing.T) {
		d, e := newLink(t, b), newLink(t, b)
		b.CloseAll()
		assert.Equal(t, 0, b.Len())
		assert.True(t, d.ht.closed)
		assert.True(t, e.ht.closed)
	})
}

func TestDeliver(t *testing.T) {
	p := &port{}
	h := Deliver(p)
	require.NoError(t, h.HandleFrame(nil, []byte("frame")))
	assert.Equal(t, [][]byte{[]byte("frame")}, p.frames)

	p.err = errors.New("device gone")
	assert.Error(t, h.HandleFrame(nil, []byte("frame")))
}
