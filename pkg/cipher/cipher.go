// Package cipher seals secret values at rest for the sql backend.
//
// Sealed values are laid out as
//
//	'G' | tag (16) | nonce (12) | ciphertext
//
// and authenticated against caller supplied additional data, so a value
// copied to another row fails to open.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	nonceSize = 12
	tagSize   = aes.BlockSize
	magic     = byte('G')
	headerLen = 1 + tagSize + nonceSize
)

var ErrMalformed = errors.New("sealed value is malformed")

// Cipher seals and opens values bound to additional data.
type Cipher interface {
	Seal(aad, plaintext []byte) ([]byte, error)
	Open(aad, sealed []byte) ([]byte, error)
}

// AESGCM is a Cipher using AES-256-GCM with random nonces.
type AESGCM struct {
	aead gocipher.AEAD
}

var _ Cipher = (*AESGCM)(nil)

func New(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// NewFromBase64 decodes a key produced by GenerateKey.
func NewFromBase64(encoded string) (*AESGCM, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("data key is not valid base64: %w", err)
	}
	return New(key)
}

func (c *AESGCM) Seal(aad, plaintext []byte) ([]byte, error) {
	nonce, err := RandomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	return c.seal(aad, plaintext, nonce), nil
}

func (c *AESGCM) seal(aad, plaintext, nonce []byte) []byte {
	// Seal appends the tag after the ciphertext
	out := c.aead.Seal(nil, nonce, plaintext, aad)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	packed := make([]byte, 0, headerLen+len(ct))
	packed = append(packed, magic)
	packed = append(packed, tag...)
	packed = append(packed, nonce...)
	return append(packed, ct...)
}

func (c *AESGCM) Open(aad, sealed []byte) ([]byte, error) {
	if len(sealed) < headerLen || sealed[0] != magic {
		return nil, ErrMalformed
	}
	tag := sealed[1 : 1+tagSize]
	nonce := sealed[1+tagSize : headerLen]
	ct := sealed[headerLen:]

	buf := make([]byte, 0, len(ct)+tagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)
	return c.aead.Open(nil, nonce, buf, aad)
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateKey returns a new random data key, base64 encoded.
func GenerateKey() (string, error) {
	key, err := RandomBytes(KeySize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
