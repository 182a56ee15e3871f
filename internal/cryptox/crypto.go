// Package cryptox implements the low-level primitives of the security core:
// AES-256-GCM field encryption, SHA-256 digests, PBKDF2 password hashing,
// argon2id key-encryption keys and random identifier generation.
//
// Ciphertexts are transported as a single base64 string holding
// nonce‖ciphertext‖tag, so they can be stored in any string slot.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

// Key is an opaque symmetric key handle. The raw bytes leave the package
// only through ExportKey.
type Key struct {
	b []byte
}

// IsZero reports whether k holds no key material.
func (k Key) IsZero() bool { return len(k.b) == 0 }

// GenerateKey produces a fresh random 256-bit key.
func GenerateKey() (Key, error) {
	b, err := RandomBytes(KeySize)
	if err != nil {
		return Key{}, err
	}
	return Key{b: b}, nil
}

// ExportKey serializes k as base64 for persistence.
func ExportKey(k Key) string {
	return base64.StdEncoding.EncodeToString(k.b)
}

// ImportKey parses a key produced by ExportKey. Anything that is not valid
// base64 of exactly KeySize bytes yields common.ErrKeyFormat.
func ImportKey(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", common.ErrKeyFormat, err)
	}
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("%w: expected %d bytes, got %d", common.ErrKeyFormat, KeySize, len(b))
	}
	return Key{b: b}, nil
}

func newGCM(k Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyFormat, err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under k with a fresh random nonce and returns
// base64(nonce‖ciphertext‖tag). Two calls with the same input never return
// the same output.
func Encrypt(plaintext string, k Key) (string, error) {
	aead, err := newGCM(k)
	if err != nil {
		return "", err
	}

	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Malformed encoding, a short
// payload, a wrong key or any tampering all yield common.ErrDecryption.
func Decrypt(ciphertext string, k Key) (string, error) {
	aead, err := newGCM(k)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", common.ErrDecryption)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", common.ErrDecryption)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", common.ErrDecryption)
	}

	return string(plaintext), nil
}
