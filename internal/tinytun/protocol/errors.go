package protocol

import (
	"errors"
	"os"
	"syscall"
)

// Kind - categorizes why a connection or an operation failed
type Kind uint8

const (
	// KindTransport - read/write failure other than would-block
	KindTransport Kind = iota + 1
	// KindProtocol - the peer broke the wire protocol
	KindProtocol
	// KindResource - a send did not fit, the connection stays up
	KindResource
	// KindTimeout - the peer stayed silent past the liveness deadline
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error - a failure tagged with its Kind
type Error struct {
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return e.Kind.String() + ": " + e.Msg
	}
	return e.Kind.String() + ": " + e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

func wrapError(kind Kind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// IsKind - whether err carries kind
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

var (
	// ErrWouldBlock - a transport has nothing to read or cannot take more bytes right now
	ErrWouldBlock = errors.New("operation would block")
	// ErrClosed - the connection is already terminal
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull - the output queue cap would be exceeded
	ErrQueueFull = errors.New("output queue full")
	// ErrFrameTooLarge - the sealed frame would exceed the maximum message size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMessageTooLarge - declared outer length above the maximum message size
	ErrMessageTooLarge = errors.New("declared message length too large")
	// ErrBadHandshake - the first message is not a 16-byte key
	ErrBadHandshake = errors.New("malformed handshake")
	// ErrSelfKey - the peer's session key equals ours
	ErrSelfKey = errors.New("peer session key equals local session key")
	// ErrMisaligned - frame message length is not a multiple of the block size
	ErrMisaligned = errors.New("frame message not block aligned")
	// ErrInnerLength - decrypted inner length does not fit the message
	ErrInnerLength = errors.New("inner length exceeds message")
	// ErrChecksum - decrypted frame fails the CRC
	ErrChecksum = errors.New("bad frame checksum")
	// ErrPeerSilent - no valid message within the liveness timeout
	ErrPeerSilent = errors.New("liveness timeout")
)

// IsWouldBlock - whether a transport error only means "try again later"
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN)
}
