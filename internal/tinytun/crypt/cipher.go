// Package crypt holds the tunnel's fixed cipher and integrity primitives.
//
// The block transform is XTEA (32 cycles) applied to each 8-byte half of a
// 16-byte block. Key and data words are little-endian, which is what the
// wire format has always used; golang.org/x/crypto/xtea reads big-endian
// words, so keys and blocks are word-swapped on the way in and out.
package crypt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// BlockSize - the unit the tunnel encrypts in
const BlockSize = 16

// KeySize - 128-bit keys
const KeySize = 16

// Key - a passphrase-derived or session key
type Key [KeySize]byte

// Cipher - a keyed block transform, build once per key
type Cipher struct {
	c *xtea.Cipher
}

// NewCipher - key the transform
func NewCipher(key Key) (*Cipher, error) {
	swapped := key
	swapWords(swapped[:])
	c, err := xtea.NewCipher(swapped[:])
	if err != nil {
		return nil, fmt.Errorf("xtea key: %w", err)
	}
	return &Cipher{c: c}, nil
}

// Encrypt - encrypt one 16-byte block in place
func (c *Cipher) Encrypt(block []byte) {
	c.half(block[0:8], c.c.Encrypt)
	c.half(block[8:16], c.c.Encrypt)
}

// Decrypt - decrypt one 16-byte block in place
func (c *Cipher) Decrypt(block []byte) {
	c.half(block[0:8], c.c.Decrypt)
	c.half(block[8:16], c.c.Decrypt)
}

// EncryptBlocks - encrypt every block of buf in place, len(buf) must be a multiple of BlockSize
func (c *Cipher) EncryptBlocks(buf []byte) {
	for offs := 0; offs+BlockSize <= len(buf); offs += BlockSize {
		c.Encrypt(buf[offs : offs+BlockSize])
	}
}

// DecryptBlocks - decrypt every block of buf in place, len(buf) must be a multiple of BlockSize
func (c *Cipher) DecryptBlocks(buf []byte) {
	for offs := 0; offs+BlockSize <= len(buf); offs += BlockSize {
		c.Decrypt(buf[offs : offs+BlockSize])
	}
}

func (c *Cipher) half(b []byte, f func(dst, src []byte)) {
	swapWords(b)
	f(b, b)
	swapWords(b)
}

// Encrypt - one-shot encryption of a 16-byte block with key
func Encrypt(block []byte, key Key) {
	c, _ := NewCipher(key) // a Key always has a valid length
	c.Encrypt(block)
}

// Decrypt - one-shot decryption of a 16-byte block with key
func Decrypt(block []byte, key Key) {
	c, _ := NewCipher(key)
	c.Decrypt(block)
}

// swapWords flips the byte order of each 32-bit word of b
func swapWords(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		binary.BigEndian.PutUint32(b[i:], binary.LittleEndian.Uint32(b[i:]))
	}
}
