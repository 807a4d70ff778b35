package keymaterial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyPair_Deterministic(t *testing.T) {
	words := []string{"alpha", "bravo", "charlie"}

	a, err := DeriveKeyPair(words)
	require.NoError(t, err)
	b, err := DeriveKeyPair(words)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey, b.PublicKey)
	assert.Equal(t, a.PrivateKey, b.PrivateKey)
	assert.Equal(t, words, a.Passphrase)
}

func TestDeriveKeyPair_Normalization(t *testing.T) {
	a, err := DeriveKeyPair([]string{"Alpha", " bravo ", "CHARLIE"})
	require.NoError(t, err)
	b, err := DeriveKeyPair([]string{"alpha", "bravo", "charlie"})
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey, b.PublicKey)
}

func TestDeriveKeyPair_DifferentWords(t *testing.T) {
	a, err := DeriveKeyPair([]string{"alpha", "bravo", "charlie"})
	require.NoError(t, err)
	b, err := DeriveKeyPair([]string{"alpha", "charlie", "bravo"})
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey, b.PublicKey, "word order must matter")
}

func TestDeriveKeyPair_Empty(t *testing.T) {
	_, err := DeriveKeyPair(nil)
	assert.True(t, errors.Is(err, ErrInvalidPassphrase))

	_, err = DeriveKeyPair([]string{"", "  "})
	assert.True(t, errors.Is(err, ErrInvalidPassphrase))
}

func TestGeneratePassphrase(t *testing.T) {
	words, err := GeneratePassphrase(DefaultWords)
	require.NoError(t, err)
	require.Len(t, words, DefaultWords)

	dict := make(map[string]bool)
	for _, w := range Wordlist() {
		dict[w] = true
	}
	for _, w := range words {
		assert.True(t, dict[w], "word %q not in dictionary", w)
	}

	_, err = GeneratePassphrase(0)
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestGenerateKeyPair_Recoverable(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	again, err := DeriveKeyPair(ParsePassphrase(kp.PassphraseString()))
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, again.PrivateKey)
}

func TestParsePublicKey(t *testing.T) {
	kp, err := DeriveKeyPair([]string{"alpha"})
	require.NoError(t, err)

	pub, err := ParsePublicKey(kp.PublicKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)

	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)
	_, err = ParsePublicKey("zz")
	assert.Error(t, err)
}

func TestParsePassphrase(t *testing.T) {
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, ParsePassphrase("alpha-bravo charlie"))
	assert.Empty(t, ParsePassphrase("  "))
}
