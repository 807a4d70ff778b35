// Package crypto signs and verifies exchange hashes for receipts.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AlgoEd25519 is the only signing algorithm produced by this package.
const AlgoEd25519 = "ed25519"

// ErrUnsupportedAlgorithm is returned for signatures of an unknown algorithm.
var ErrUnsupportedAlgorithm = errors.New("crypto: unsupported signing algorithm")

// Signer interface for cryptographic signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	Algorithm() string
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, keyID), nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// NewEd25519SignerFromSeed derives a signer from secret key material of any
// length. The same secret and key id always produce the same key.
func NewEd25519SignerFromSeed(secret []byte, keyID string) (*Ed25519Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signer seed is empty")
	}
	// HKDF-SHA256: derive 32 bytes of signer key material
	r := hkdf.New(sha256.New, secret, []byte("verichat-signer-kdf"), []byte(keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) Algorithm() string {
	return AlgoEd25519
}

// Verify verifies a signature against a public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}

	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}

	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// VerifyWithAlgorithm dispatches on the receipt's signing algorithm.
func VerifyWithAlgorithm(algo, pubKeyHex, sigHex string, data []byte) (bool, error) {
	switch algo {
	case AlgoEd25519, "":
		return Verify(pubKeyHex, sigHex, data)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algo)
	}
}
