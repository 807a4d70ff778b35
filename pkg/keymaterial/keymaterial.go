// Package keymaterial derives X25519 key pairs from human-readable passphrases.
//
// The same word list always yields the same key pair, so a holder can
// regenerate a private key from words they wrote down. Key pairs are used
// both for live end-to-end encryption and for long-lived share links.
package keymaterial

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPassphrase is returned when a passphrase has no usable words.
var ErrInvalidPassphrase = errors.New("keymaterial: invalid passphrase")

const (
	// KeySize is the size of X25519 public and private keys.
	KeySize = curve25519.ScalarSize

	// DefaultWords is the passphrase length used by GenerateKeyPair.
	DefaultWords = 12

	kdfSalt    = "verichat/keymaterial/v1"
	kdfTime    = 2
	kdfMemory  = 19 * 1024
	kdfThreads = 1
)

//go:embed wordlist.txt
var wordlistRaw string

var wordlist = strings.Fields(wordlistRaw)

// Wordlist returns a copy of the dictionary passphrase words are drawn from.
func Wordlist() []string {
	out := make([]string, len(wordlist))
	copy(out, wordlist)
	return out
}

// KeyPair is an X25519 key pair together with the words it was derived from.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
	Passphrase []string
}

// DeriveKeyPair deterministically derives a key pair from an ordered word list.
func DeriveKeyPair(words []string) (*KeyPair, error) {
	normalized, err := NormalizeWords(words)
	if err != nil {
		return nil, err
	}

	seed := argon2.IDKey([]byte(strings.Join(normalized, " ")), []byte(kdfSalt),
		kdfTime, kdfMemory, kdfThreads, KeySize)

	kp := &KeyPair{Passphrase: normalized}
	copy(kp.PrivateKey[:], clamp(seed))

	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: derive public key: %w", err)
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// GenerateKeyPair creates a key pair from a fresh random passphrase.
func GenerateKeyPair() (*KeyPair, error) {
	words, err := GeneratePassphrase(DefaultWords)
	if err != nil {
		return nil, err
	}
	return DeriveKeyPair(words)
}

// GeneratePassphrase draws n words uniformly from the embedded word list.
func GeneratePassphrase(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: word count must be positive", ErrInvalidPassphrase)
	}
	limit := big.NewInt(int64(len(wordlist)))
	words := make([]string, n)
	for i := range words {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("keymaterial: read randomness: %w", err)
		}
		words[i] = wordlist[idx.Int64()]
	}
	return words, nil
}

// ParsePassphrase splits a passphrase string on whitespace and dashes.
func ParsePassphrase(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// PublicKeyHex returns the public key as lower-case hex.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey[:])
}

// PassphraseString returns the passphrase words joined by single spaces.
func (kp *KeyPair) PassphraseString() string {
	return strings.Join(kp.Passphrase, " ")
}

// ParsePublicKey decodes a hex-encoded X25519 public key.
func ParsePublicKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("keymaterial: invalid public key hex: %w", err)
	}
	if len(b) != KeySize {
		return out, fmt.Errorf("keymaterial: public key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// NormalizeWords applies the canonical word form used for key derivation.
func NormalizeWords(words []string) ([]string, error) {
	out := make([]string, 0, len(words))
	for _, w := range words {
		// Blank entries carry no entropy and are dropped.
		if w = strings.ToLower(strings.TrimSpace(norm.NFKD.String(w))); w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty word list", ErrInvalidPassphrase)
	}
	return out, nil
}

func clamp(k []byte) []byte {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
	return k
}
