// Package hybrid implements single-message public-key encryption using
// X25519 + HKDF-SHA256 + ChaCha20-Poly1305.
//
// Every call to Encrypt generates a fresh ephemeral key pair, so each field
// is independently decryptable by the holder of the recipient private key.
// The packed form is ephemeral_pub(32) || nonce(12) || ciphertext+tag.
package hybrid

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfo = "verichat-e2ee-v1"

	keySize   = curve25519.ScalarSize
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = chacha20poly1305.Overhead

	// Overhead is the number of bytes Encrypt adds to the plaintext.
	Overhead = keySize + nonceSize + tagSize
)

// ErrDecryptionFailed is returned for any authentication or packing failure.
var ErrDecryptionFailed = errors.New("hybrid: decryption failed")

// EncryptedField is one packed ciphertext unit.
type EncryptedField []byte

// String returns the lower-case hex form embedded in JSON fields.
func (f EncryptedField) String() string {
	return hex.EncodeToString(f)
}

// ParseField decodes the hex form of an encrypted field.
func ParseField(s string) (EncryptedField, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) < Overhead {
		return nil, ErrDecryptionFailed
	}
	return EncryptedField(b), nil
}

// Encrypt seals plaintext to recipientPub.
func Encrypt(plaintext []byte, recipientPub [keySize]byte) (EncryptedField, error) {
	ephPriv := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, ephPriv); err != nil {
		return nil, fmt.Errorf("hybrid: ephemeral key: %w", err)
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("hybrid: ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv, recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("hybrid: key agreement: %w", err)
	}

	aead, err := newAEAD(shared, ephPub, recipientPub[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("hybrid: nonce: %w", err)
	}

	out := make([]byte, 0, Overhead+len(plaintext))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return EncryptedField(out), nil
}

// Decrypt opens a packed field with the recipient private key.
func Decrypt(field EncryptedField, ownPriv [keySize]byte) ([]byte, error) {
	if len(field) < Overhead {
		return nil, ErrDecryptionFailed
	}
	ephPub := field[:keySize]
	nonce := field[keySize : keySize+nonceSize]
	ct := field[keySize+nonceSize:]

	shared, err := curve25519.X25519(ownPriv[:], ephPub)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	ownPub, err := curve25519.X25519(ownPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	aead, err := newAEAD(shared, ephPub, ownPub)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// EncryptString seals a string and returns the hex form.
func EncryptString(plaintext string, recipientPub [keySize]byte) (string, error) {
	f, err := Encrypt([]byte(plaintext), recipientPub)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

// DecryptString opens the hex form produced by EncryptString.
func DecryptString(hexField string, ownPriv [keySize]byte) (string, error) {
	f, err := ParseField(hexField)
	if err != nil {
		return "", err
	}
	pt, err := Decrypt(f, ownPriv)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// newAEAD derives the field key; the HKDF salt binds both public keys.
func newAEAD(shared, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*keySize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	r := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hybrid: hkdf: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("hybrid: aead: %w", err)
	}
	return aead, nil
}
