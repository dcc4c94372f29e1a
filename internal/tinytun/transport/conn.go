// Package transport - byte streams a tunnel connection can run over
//
// The protocol engine never blocks, while sockets, pipes and ptys do. Conn
// bridges the two: a reader goroutine and a writer goroutine do the blocking
// I/O and poke a shared wake channel whenever something becomes ready, and
// the engine sees Read/Write calls that return protocol.ErrWouldBlock.
package transport

import (
	"io"
	"sync"

	"github.com/rectcircle/tinytun/internal/tinytun/protocol"
)

// ChunkSize - largest single read or write handed to the underlying stream
const ChunkSize = 4096

// Conn - non-blocking view of a blocking io.ReadWriteCloser
type Conn struct {
	rwc  io.ReadWriteCloser
	wake chan struct{}

	in      chan []byte
	pending []byte
	readErr error

	out      chan []byte
	idle     chan struct{}
	failed   chan struct{}
	writeErr error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn - start the I/O goroutines over rwc. wake is signalled (never
// blocking) whenever data arrives, a write completes or the stream fails;
// when nil a private channel is used, see Wake.
func NewConn(rwc io.ReadWriteCloser, wake chan struct{}) *Conn {
	if wake == nil {
		wake = make(chan struct{}, 1)
	}
	c := &Conn{
		rwc:    rwc,
		wake:   wake,
		in:     make(chan []byte, 1),
		out:    make(chan []byte, 1),
		idle:   make(chan struct{}, 1),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.idle <- struct{}{}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Wake - the channel signalled on readiness changes
func (c *Conn) Wake() <-chan struct{} {
	return c.wake
}

func (c *Conn) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) readLoop() {
	defer c.notify()
	for {
		buffer := make([]byte, ChunkSize)
		n, err := c.rwc.Read(buffer)
		if n > 0 {
			select {
			case c.in <- buffer[:n]:
				c.notify()
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.readErr = err
			close(c.in)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case chunk := <-c.out:
			if _, err := c.rwc.Write(chunk); err != nil {
				c.writeErr = err
				close(c.failed)
				c.notify()
				return
			}
			c.idle <- struct{}{}
			c.notify()
		case <-c.done:
			return
		}
	}
}

// Read - copy already received bytes into p, protocol.ErrWouldBlock when there are none
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case chunk, ok := <-c.in:
			if !ok {
				return 0, c.readErr
			}
			c.pending = chunk
		default:
			return 0, protocol.ErrWouldBlock
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write - hand at most ChunkSize bytes of p to the writer goroutine.
// Returns protocol.ErrWouldBlock while the previous chunk is still being written.
func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.failed:
		return 0, c.writeErr
	case <-c.done:
		return 0, io.ErrClosedPipe
	default:
	}
	select {
	case <-c.idle:
	default:
		return 0, protocol.ErrWouldBlock
	}
	n := min(len(p), ChunkSize)
	c.out <- append([]byte(nil), p[:n]...)
	return n, nil
}

// Close - stop the goroutines and close the underlying stream
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
