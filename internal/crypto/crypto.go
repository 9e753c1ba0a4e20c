// Package crypto implements authenticated encryption for memory bodies.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/engramdev/engram/internal/model"
)

// hkdfInfo binds derived keys to this use so the same secret handed to
// another subsystem yields a different key.
const hkdfInfo = "engram/record-body/v1"

// Cipher seals and opens record bodies with AES-256-GCM. The key is derived
// from the caller's secret with HKDF-SHA256, so any length of secret works.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a key from secret and returns a ready Cipher.
func New(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, model.Validationf("encryption secret", "must not be empty")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the returned
// ciphertext so Open needs no extra state.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. A truncated buffer, flipped byte, or
// wrong key surfaces as an IntegrityError; partial plaintext is never
// returned.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < c.aead.NonceSize() {
		return nil, &model.IntegrityError{Op: "decrypt", Err: fmt.Errorf("ciphertext shorter than nonce")}
	}
	nonce, sealed := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &model.IntegrityError{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}
