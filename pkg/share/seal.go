package share

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
)

// Sealed blob layout: magic(4) ‖ version(1) ‖ salt(16) ‖ nonce(12) ‖ AES-256-GCM.
// The header up to the nonce is authenticated as associated data.
const (
	sealMagic   = "VCSB"
	sealVersion = 0x01
	saltSize    = 16
	nonceSize   = 12
	headerSize  = len(sealMagic) + 1 + saltSize + nonceSize

	kdfTime    = 2
	kdfMemory  = 19 * 1024
	kdfThreads = 1
	keySize    = 32
)

// Seal encrypts plaintext under a key derived from the passphrase words.
func Seal(plaintext []byte, words []string) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("share: read salt: %w", err)
	}
	aead, err := sealAEAD(words, salt[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerSize+len(plaintext)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, sealVersion)
	out = append(out, salt[:]...)
	aad := out

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("share: read nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Unseal reverses Seal. Every failure, including an unusable passphrase, is
// ErrDecryptionFailed.
func Unseal(blob []byte, words []string) ([]byte, error) {
	if len(blob) < headerSize || !bytes.HasPrefix(blob, []byte(sealMagic)) || blob[len(sealMagic)] != sealVersion {
		return nil, fmt.Errorf("%w: not a sealed bundle", ErrDecryptionFailed)
	}
	saltEnd := len(sealMagic) + 1 + saltSize
	aead, err := sealAEAD(words, blob[len(sealMagic)+1:saltEnd])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonce := blob[saltEnd:headerSize]
	pt, err := aead.Open(nil, nonce, blob[headerSize:], blob[:saltEnd])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func sealAEAD(words []string, salt []byte) (cipher.AEAD, error) {
	normalized, err := keymaterial.NormalizeWords(words)
	if err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(strings.Join(normalized, " ")), salt, kdfTime, kdfMemory, kdfThreads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("share: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
