package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/rectcircle/tinytun/internal/tinytun/crypt"
)

// LengthSize - bytes of the outer length prefix
const LengthSize = 2

// frameOverhead - inner length field plus CRC trailer
const frameOverhead = 2 + crypt.ChecksumSize

const (
	messageStepLengthLow = int32(iota)
	messageStepLengthHigh
	messageStepPayload
)

// messageState - re-entrant decoder of length prefixed messages
type messageState struct {
	step   int32
	length uint16
	buf    []byte
	pos    int
	limit  int
}

func (s *messageState) reset() {
	s.step = messageStepLengthLow
	s.length = 0
	s.buf = nil
	s.pos = 0
}

// feed consumes an arbitrary chunk, calling deliver for every complete message.
// It stops at the first error; the state is then unusable.
func (s *messageState) feed(chunk []byte, deliver func(msg []byte) error) error {
	n := len(chunk)
	for i := 0; i < n; {
		switch s.step {
		case messageStepLengthLow:
			s.length = uint16(chunk[i])
			s.step++
			i++
		case messageStepLengthHigh:
			s.length |= uint16(chunk[i]) << 8
			s.step++
			i++
			if int(s.length) > s.limit {
				return wrapError(KindProtocol, fmt.Sprintf("declared length %d", s.length), ErrMessageTooLarge)
			}
			s.buf = make([]byte, s.length)
			s.pos = 0
		case messageStepPayload:
			l := copy(s.buf[s.pos:], chunk[i:])
			s.pos += l
			i += l
		}
		if messageStepPayload == s.step && s.pos == len(s.buf) {
			msg := s.buf
			s.reset()
			if err := deliver(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendMessage - dst + length prefix + payload
func appendMessage(dst []byte, payload []byte) []byte {
	var prefix [LengthSize]byte
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(payload)))
	dst = append(dst, prefix[:]...)
	return append(dst, payload...)
}

// SealedSize - outer length of a frame message carrying n frame bytes
func SealedSize(n int) int {
	return (n + frameOverhead + crypt.BlockSize - 1) &^ (crypt.BlockSize - 1)
}

// sealFrame - build the complete wire message (prefix included) for frame
func sealFrame(c *crypt.Cipher, frame []byte) []byte {
	size := SealedSize(len(frame))
	msg := make([]byte, LengthSize+size)
	binary.LittleEndian.PutUint16(msg[0:LengthSize], uint16(size))
	body := msg[LengthSize:]
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(frame)))
	copy(body[2:], frame)
	crypt.Seal(body, 2+len(frame))
	c.EncryptBlocks(body)
	return msg
}

// openFrame - decrypt msg in place and return the frame it carries
func openFrame(c *crypt.Cipher, msg []byte) ([]byte, error) {
	if len(msg)%crypt.BlockSize != 0 {
		return nil, wrapError(KindProtocol, fmt.Sprintf("length %d", len(msg)), ErrMisaligned)
	}
	c.DecryptBlocks(msg)
	n := int(binary.LittleEndian.Uint16(msg[0:2]))
	if n+frameOverhead > len(msg) {
		return nil, wrapError(KindProtocol, fmt.Sprintf("inner length %d in %d", n, len(msg)), ErrInnerLength)
	}
	if !crypt.Valid(msg[:n+frameOverhead]) {
		return nil, wrapError(KindProtocol, fmt.Sprintf("frame of %d bytes", n), ErrChecksum)
	}
	return msg[2 : 2+n], nil
}
