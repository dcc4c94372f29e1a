package crypt

import (
	"crypto/rand"
	"fmt"
)

// DeriveKey - stretch a passphrase into the key that protects session key exchange
//
// The passphrase is repeated to fill 16 bytes. The left half of the result is
// the first 8 tiled bytes enciphered under the tiled buffer. The tiled buffer's
// first half is then replaced by that result and used to encipher an all-zero
// block, giving the right half.
func DeriveKey(passphrase string) Key {
	var tiled Key
	if len(passphrase) > 0 {
		for l := 0; l < KeySize; {
			l += copy(tiled[l:], passphrase)
		}
	}

	var derived Key
	copy(derived[0:8], tiled[0:8])
	c, _ := NewCipher(tiled)
	c.half(derived[0:8], c.c.Encrypt)

	copy(tiled[0:8], derived[0:8])
	c, _ = NewCipher(tiled)
	c.half(derived[8:16], c.c.Encrypt)
	return derived
}

// RandomKey - a fresh session key
func RandomKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("random key: %w", err)
	}
	return key, nil
}
