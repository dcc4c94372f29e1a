package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
	"github.com/rs/zerolog"
)

// Role - which end of the tunnel a connection serves
type Role uint8

const (
	// RoleServer - accepted by the hub
	RoleServer Role = iota
	// RoleClient - dialed by a client
	RoleClient
)

func (r Role) String() string {
	return tools.If(r == RoleServer, "server", "client")
}

// FrameHandler - receives every verified Ethernet frame of a connection.
// frame is only valid during the call. A returned error terminates src.
type FrameHandler interface {
	HandleFrame(src *Conn, frame []byte) error
}

// FrameHandlerFunc - adapt a function to FrameHandler
type FrameHandlerFunc func(src *Conn, frame []byte) error

func (f FrameHandlerFunc) HandleFrame(src *Conn, frame []byte) error {
	return f(src, frame)
}

// Options - construction parameters of a Conn
type Options struct {
	// Key - passphrase derived key protecting the session key exchange
	Key     crypt.Key
	Handler FrameHandler
	Role    Role
	// KeepaliveInterval - client send interval, liveness is 1.5 times this
	KeepaliveInterval time.Duration
	MACTableSize      int
	QueueLimit        int
	Now               func() time.Time
	Logger            *zerolog.Logger
	ID                string
}

// Conn - one tunnel connection
type Conn struct {
	id        string
	role      Role
	transport io.ReadWriteCloser
	handler   FrameHandler
	log       zerolog.Logger
	now       func() time.Time

	rd      messageState
	readBuf []byte
	out     *outputQueue

	passphrase *crypt.Cipher
	writeKey   crypt.Key
	writer     *crypt.Cipher
	readKey    *crypt.Key
	reader     *crypt.Cipher

	macs *MACTable

	keepalivePeriod  time.Duration
	keepaliveTimeout time.Duration
	answerKeepalive  bool
	keepaliveAt      time.Time
	timeoutAt        time.Time

	finished bool
	released bool
	err      error
}

// keepalivePolicy - send interval, liveness timeout and the answer-keepalive flag of a role
func keepalivePolicy(role Role, interval time.Duration) (time.Duration, time.Duration, bool) {
	if role == RoleServer {
		return variable.ServerKeepalivePeriod, variable.ServerKeepaliveTimeout, true
	}
	if interval <= 0 {
		interval = variable.ClientKeepaliveDefault
	}
	return interval, interval + interval/2, false
}

// NewConn - wrap a transport, generate the session key and queue the handshake
func NewConn(t io.ReadWriteCloser, opts Options) (*Conn, error) {
	if t == nil {
		return nil, errors.New("nil transport")
	}
	if opts.Handler == nil {
		return nil, errors.New("nil frame handler")
	}
	c := &Conn{
		id:        tools.If(opts.ID != "", opts.ID, uuid.NewString()),
		role:      opts.Role,
		transport: t,
		handler:   opts.Handler,
		now:       tools.If(opts.Now != nil, opts.Now, time.Now),
		readBuf:   make([]byte, variable.MaxMessageSize+LengthSize),
		out:       newOutputQueue(tools.If(opts.QueueLimit > 0, opts.QueueLimit, variable.MaxQueueSize)),
		macs:      NewMACTable(opts.MACTableSize),
	}
	c.rd.limit = variable.MaxMessageSize
	parent := tools.Logger
	if opts.Logger != nil {
		parent = *opts.Logger
	}
	c.log = parent.With().Str("conn", c.id).Str("role", c.role.String()).Logger()
	c.keepalivePeriod, c.keepaliveTimeout, c.answerKeepalive = keepalivePolicy(opts.Role, opts.KeepaliveInterval)

	var err error
	if c.passphrase, err = crypt.NewCipher(opts.Key); err != nil {
		return nil, err
	}
	if c.writeKey, err = crypt.RandomKey(); err != nil {
		return nil, err
	}
	if c.writer, err = crypt.NewCipher(c.writeKey); err != nil {
		return nil, err
	}

	hello := c.writeKey
	c.passphrase.Encrypt(hello[:])
	if err = c.enqueue(appendMessage(nil, hello[:])); err != nil {
		return nil, fmt.Errorf("queue handshake: %w", err)
	}
	c.timeoutAt = c.now().Add(c.keepaliveTimeout)
	c.log.Debug().Dur("keepalive", c.keepalivePeriod).Dur("timeout", c.keepaliveTimeout).Msg("connection created")
	return c, nil
}

// ID - connection identifier used in logs
func (c *Conn) ID() string { return c.id }

// Role - the role the connection was created with
func (c *Conn) Role() Role { return c.role }

// AnswersKeepalive - set for server connections, does not affect keepalive cadence
func (c *Conn) AnswersKeepalive() bool { return c.answerKeepalive }

// Established - whether the peer's session key has been received
func (c *Conn) Established() bool { return c.readKey != nil }

// Finished - whether the connection is terminal
func (c *Conn) Finished() bool { return c.finished }

// Err - why the connection became terminal, nil while alive or after a plain Close
func (c *Conn) Err() error { return c.err }

// QueuedBytes - total bytes waiting in the output queue
func (c *Conn) QueuedBytes() int { return c.out.size }

// QueuedMessages - number of messages waiting in the output queue
func (c *Conn) QueuedMessages() int { return c.out.entries.Len() }

// MACTable - addresses learned from this connection
func (c *Conn) MACTable() *MACTable { return c.macs }

// Knows - whether addr has recently been seen as a source on this connection
func (c *Conn) Knows(addr net.HardwareAddr) bool {
	return c.macs != nil && c.macs.Contains(addr)
}

// WantRead - always true while open
func (c *Conn) WantRead() bool {
	return !c.finished
}

// WantWrite - whether the output queue holds data. Queues a keepalive first
// when the queue is empty and the send deadline has passed.
func (c *Conn) WantWrite() bool {
	if c.finished {
		return false
	}
	if c.out.empty() && c.now().After(c.keepaliveAt) {
		if err := c.enqueue(appendMessage(nil, nil)); err == nil {
			c.log.Trace().Msg("keepalive queued")
		}
	}
	return !c.out.empty()
}

// NeedClose - whether the owner should drop the connection. Flags it terminal
// once the liveness deadline has passed.
func (c *Conn) NeedClose() bool {
	if !c.finished && c.now().After(c.timeoutAt) {
		c.fail(wrapError(KindTimeout, fmt.Sprintf("nothing received for %s", c.keepaliveTimeout), ErrPeerSilent))
	}
	return c.finished
}

// ServiceRead - read from the transport until it would block, decoding everything read
func (c *Conn) ServiceRead() {
	for !c.finished {
		n, err := c.transport.Read(c.readBuf)
		if n > 0 {
			if c.Receive(c.readBuf[:n]) != nil {
				return
			}
		}
		if err != nil {
			if !IsWouldBlock(err) {
				c.fail(wrapError(KindTransport, "read", err))
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// Receive - feed raw bytes read from the transport through the decoder
func (c *Conn) Receive(chunk []byte) error {
	if c.finished {
		return wrapError(KindTransport, "receive", ErrClosed)
	}
	if err := c.rd.feed(chunk, c.handleMessage); err != nil {
		c.fail(err)
		return c.err
	}
	return nil
}

func (c *Conn) handleMessage(msg []byte) error {
	if c.reader == nil {
		if len(msg) != variable.HandshakeSize {
			return wrapError(KindProtocol, fmt.Sprintf("first message of %d bytes", len(msg)), ErrBadHandshake)
		}
		var key crypt.Key
		copy(key[:], msg)
		c.passphrase.Decrypt(key[:])
		if key == c.writeKey {
			return wrapError(KindProtocol, "handshake", ErrSelfKey)
		}
		reader, err := crypt.NewCipher(key)
		if err != nil {
			return wrapError(KindProtocol, "handshake", err)
		}
		c.readKey, c.reader = &key, reader
		c.touch()
		c.log.Debug().Msg("handshake complete")
		return nil
	}

	if len(msg) == 0 {
		c.touch()
		c.log.Trace().Msg("keepalive received")
		return nil
	}

	frame, err := openFrame(c.reader, msg)
	if err != nil {
		return err
	}
	if len(frame) >= 12 {
		c.macs.Learn(net.HardwareAddr(frame[6:12]))
	}
	c.touch()
	c.log.Trace().Int("len", len(frame)).Msg("frame received")
	if err := c.handler.HandleFrame(c, frame); err != nil {
		return wrapError(KindTransport, "deliver frame", err)
	}
	return nil
}

// ServiceWrite - write queued messages until the queue drains or the transport would block
func (c *Conn) ServiceWrite() {
	for !c.finished && !c.out.empty() {
		n, err := c.transport.Write(c.out.head())
		if n > 0 {
			c.out.advance(n)
		}
		if err != nil {
			if !IsWouldBlock(err) {
				c.fail(wrapError(KindTransport, "write", err))
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// Send - encrypt frame and queue it. A full queue or an oversized frame
// fails the call and leaves the connection untouched.
func (c *Conn) Send(frame []byte) error {
	if c.finished {
		return wrapError(KindTransport, "send", ErrClosed)
	}
	size := SealedSize(len(frame))
	if size > variable.MaxMessageSize {
		return wrapError(KindResource, fmt.Sprintf("frame of %d bytes", len(frame)), ErrFrameTooLarge)
	}
	if !c.out.fits(LengthSize + size) {
		return wrapError(KindResource, fmt.Sprintf("%d queued", c.out.size), ErrQueueFull)
	}
	return c.enqueue(sealFrame(c.writer, frame))
}

func (c *Conn) enqueue(msg []byte) error {
	if err := c.out.push(msg); err != nil {
		return wrapError(KindResource, fmt.Sprintf("%d queued", c.out.size), err)
	}
	c.keepaliveAt = c.now().Add(c.keepalivePeriod)
	return nil
}

// touch - a valid message arrived
func (c *Conn) touch() {
	c.timeoutAt = c.now().Add(c.keepaliveTimeout)
}

// fail - the single termination path: flag terminal, release the transport
func (c *Conn) fail(err error) {
	if c.finished {
		return
	}
	var pe *Error
	if !errors.As(err, &pe) {
		err = wrapError(KindProtocol, "terminated", err)
	}
	c.err = err
	c.finished = true
	c.log.Debug().Err(err).Msg("connection terminated")
	c.closeTransport()
}

func (c *Conn) closeTransport() error {
	if c.released {
		return nil
	}
	c.released = true
	return c.transport.Close()
}

// Close - terminate the connection and release everything it owns. Safe to call more than once.
func (c *Conn) Close() error {
	c.finished = true
	err := c.closeTransport()
	c.rd.reset()
	c.readBuf = nil
	c.out.clear()
	if c.readKey != nil {
		*c.readKey = crypt.Key{}
		c.readKey = nil
	}
	c.reader = nil
	c.macs = nil
	return err
}
