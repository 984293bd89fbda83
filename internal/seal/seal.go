// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package seal encrypts per-flow payloads with a flow's session key and
// authenticates admin responses with the bridge's global key.
package seal

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"grimm.is/flowbridge/internal/errors"
)

// KeySize is the key length accepted by every Cipher in this package.
const KeySize = chacha20poly1305.KeySize

// ErrOpen is returned when ciphertext fails authentication.
var ErrOpen = errors.New(errors.KindValidation, "ciphertext authentication failed")

// Cipher is the pluggable symmetric primitive applied to flow payloads.
type Cipher interface {
	Seal(key [KeySize]byte, plaintext []byte) ([]byte, error)
	Open(key [KeySize]byte, ciphertext []byte) ([]byte, error)
}

// XChaCha is an XChaCha20-Poly1305 Cipher. Output is nonce || ciphertext.
type XChaCha struct {
	// Rand supplies nonces; crypto/rand when nil.
	Rand io.Reader
}

// Seal encrypts plaintext under key with a random 24-byte nonce.
func (x XChaCha) Seal(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "init cipher")
	}

	src := x.Rand
	if src == nil {
		src = rand.Reader
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(src, out); err != nil {
		return nil, errors.Wrap(err, errors.KindEntropy, "read nonce")
	}
	return aead.Seal(out, out, plaintext, nil), nil
}

// Open reverses Seal.
func (x XChaCha) Open(key [KeySize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "init cipher")
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

// MAC returns a 32-byte keyed BLAKE2b digest of data.
func MAC(key [KeySize]byte, data []byte) []byte {
	h, err := blake2b.New256(key[:])
	if err != nil {
		// Only possible for keys longer than 64 bytes.
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}
