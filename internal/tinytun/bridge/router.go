package bridge

import (
	"bytes"
	"net"

	"github.com/google/gopacket/layers"
	"github.com/rectcircle/tinytun/internal/tinytun/protocol"
)

// minFrameSize - destination, source and EtherType
const minFrameSize = 14

// HandleFrame - protocol.FrameHandler of hub connections
func (b *Bridge) HandleFrame(src *protocol.Conn, frame []byte) error {
	b.Route(src, frame)
	return nil
}

// Route - switch one frame. src is nil for frames read from the local device.
//
// A unicast frame goes to every other connection that has seen its destination
// as a source. Broadcasts and unknown destinations are flooded to every
// connection except src, and to the local device unless they came from it.
func (b *Bridge) Route(src *protocol.Conn, frame []byte) {
	if len(frame) < minFrameSize {
		b.log.Trace().Int("len", len(frame)).Msg("runt frame dropped")
		return
	}
	dst := net.HardwareAddr(frame[0:6])
	found := false
	if !bytes.Equal(dst, layers.EthernetBroadcast) {
		for _, c := range b.conns {
			if c == src || c.Finished() || !c.Knows(dst) {
				continue
			}
			found = true
			b.send(c, frame)
		}
	}
	if found {
		return
	}

	for _, c := range b.conns {
		if c == src || c.Finished() {
			continue
		}
		b.send(c, frame)
	}
	if src != nil && b.local != nil {
		if err := b.local.WriteFrame(frame); err != nil {
			b.log.Warn().Err(err).Msg("write to local device")
		}
	}
}

func (b *Bridge) send(c *protocol.Conn, frame []byte) {
	if err := c.Send(frame); err != nil {
		b.log.Debug().Err(err).Str("conn", c.ID()).Msg("frame dropped")
	}
}

// Deliver - protocol.FrameHandler of a client connection: every frame goes to port.
// A failing write terminates the connection.
func Deliver(port LocalPort) protocol.FrameHandler {
	return protocol.FrameHandlerFunc(func(src *protocol.Conn, frame []byte) error {
		return port.WriteFrame(frame)
	})
}
