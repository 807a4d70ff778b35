package hybrid

import (
	"bytes"
	"testing"

	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T, words ...string) *keymaterial.KeyPair {
	t.Helper()
	kp, err := keymaterial.DeriveKeyPair(words)
	require.NoError(t, err)
	return kp
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	kp := mustKeyPair(t, "alpha", "bravo", "charlie")

	field, err := Encrypt([]byte("hello"), kp.PublicKey)
	require.NoError(t, err)
	assert.Len(t, field, Overhead+len("hello"))

	got, err := Decrypt(field, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestEncryptString_Roundtrip(t *testing.T) {
	kp := mustKeyPair(t, "delta")

	hexField, err := EncryptString("Grüße, 世界", kp.PublicKey)
	require.NoError(t, err)

	got, err := DecryptString(hexField, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "Grüße, 世界", got)
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	kp := mustKeyPair(t, "echo")

	field, err := Encrypt(nil, kp.PublicKey)
	require.NoError(t, err)

	got, err := Decrypt(field, kp.PrivateKey)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecryptWrongKey(t *testing.T) {
	kp1 := mustKeyPair(t, "alpha")
	kp2 := mustKeyPair(t, "bravo")

	field, err := Encrypt([]byte("secret"), kp1.PublicKey)
	require.NoError(t, err)

	_, err = Decrypt(field, kp2.PrivateKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptTampered(t *testing.T) {
	kp := mustKeyPair(t, "alpha")

	field, err := Encrypt([]byte("secret"), kp.PublicKey)
	require.NoError(t, err)

	for _, idx := range []int{0, keySize, len(field) - 1} {
		tampered := bytes.Clone(field)
		tampered[idx] ^= 0x01
		_, err = Decrypt(tampered, kp.PrivateKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "flip at %d", idx)
	}
}

func TestDecryptMalformed(t *testing.T) {
	kp := mustKeyPair(t, "alpha")

	_, err := Decrypt([]byte("tooshort"), kp.PrivateKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptString("not hex at all", kp.PrivateKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptString("plain text content", kp.PrivateKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptDifferentCiphertexts(t *testing.T) {
	kp := mustKeyPair(t, "alpha")

	a, err := Encrypt([]byte("same"), kp.PublicKey)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), kp.PublicKey)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a[:keySize], b[:keySize], "ephemeral keys must differ")
}
