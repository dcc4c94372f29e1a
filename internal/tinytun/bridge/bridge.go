// Package bridge - the hub side switch: the live connection set and the frame router
package bridge

import (
	"github.com/rectcircle/tinytun/internal/tinytun/protocol"
	"github.com/rectcircle/tinytun/tools"
	"github.com/rs/zerolog"
)

// LocalPort - the local network device as seen by the switch
type LocalPort interface {
	WriteFrame(frame []byte) error
}

// Bridge - Bridge, own all live connections and switch frames between them
type Bridge struct {
	conns []*protocol.Conn
	local LocalPort
	log   zerolog.Logger
}

// New - Create a Bridge, local may be nil when the hub has no device
func New(local LocalPort, logger *zerolog.Logger) *Bridge {
	parent := tools.Logger
	if logger != nil {
		parent = *logger
	}
	return &Bridge{
		local: local,
		log:   parent.With().Str("component", "bridge").Logger(),
	}
}

// Add - register a connection, its Handler should be the Bridge
func (b *Bridge) Add(c *protocol.Conn) {
	b.conns = append(b.conns, c)
	b.log.Info().Str("conn", c.ID()).Int("conns", len(b.conns)).Msg("connection added")
}

// Remove - unregister and release a connection
func (b *Bridge) Remove(c *protocol.Conn) bool {
	for i, conn := range b.conns {
		if conn == c {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			b.release(c)
			return true
		}
	}
	return false
}

func (b *Bridge) release(c *protocol.Conn) {
	c.Close()
	ev := b.log.Info()
	if err := c.Err(); err != nil {
		ev = b.log.Info().Err(err)
	}
	ev.Str("conn", c.ID()).Int("conns", len(b.conns)).Msg("connection removed")
}

// Len - number of registered connections
func (b *Bridge) Len() int {
	return len(b.conns)
}

// Conns - snapshot of the registered connections in insertion order
func (b *Bridge) Conns() []*protocol.Conn {
	return append([]*protocol.Conn(nil), b.conns...)
}

// Poll - one pass of the event loop: read from every connection, write every
// connection with queued data, then drop terminated ones. Returns the number removed.
func (b *Bridge) Poll() int {
	for _, c := range b.conns {
		if c.WantRead() {
			c.ServiceRead()
		}
	}
	for _, c := range b.conns {
		if c.WantWrite() {
			c.ServiceWrite()
		}
	}
	return b.Sweep()
}

// Sweep - release every connection that is terminal or whose peer went silent
func (b *Bridge) Sweep() int {
	var dead []*protocol.Conn
	kept := b.conns[:0]
	for _, c := range b.conns {
		if c.NeedClose() {
			dead = append(dead, c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(b.conns); i++ {
		b.conns[i] = nil
	}
	b.conns = kept
	for _, c := range dead {
		b.release(c)
	}
	return len(dead)
}

// CloseAll - release every connection
func (b *Bridge) CloseAll() {
	conns := b.conns
	b.conns = nil
	for _, c := range conns {
		b.release(c)
	}
}
