package crypto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

func TestSigner_Integrity(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)

	msg := SigningMessage(HashHex([]byte("req")), HashHex([]byte("resp")))

	// 1. Sign
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	// 2. Verify Valid
	valid, err := Verify(signer.PublicKey(), sig, msg)
	require.NoError(t, err)
	assert.True(t, valid)

	// 3. Verify Tampered
	tampered := append([]byte{}, msg...)
	tampered[0] ^= 1
	valid, err = Verify(signer.PublicKey(), sig, tampered)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerify_BadInputs(t *testing.T) {
	_, err := Verify("zz", "00", nil)
	assert.Error(t, err)
	_, err = Verify("abcd", "00", nil)
	assert.Error(t, err)

	_, err = VerifyWithAlgorithm("secp256k1", "", "", nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestNewEd25519SignerFromSeed_Deterministic(t *testing.T) {
	a, err := NewEd25519SignerFromSeed([]byte("secret"), "gateway")
	require.NoError(t, err)
	b, err := NewEd25519SignerFromSeed([]byte("secret"), "gateway")
	require.NoError(t, err)
	c, err := NewEd25519SignerFromSeed([]byte("secret"), "other")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.NotEqual(t, a.PublicKey(), c.PublicKey())

	_, err = NewEd25519SignerFromSeed(nil, "x")
	assert.Error(t, err)
}

func TestLocalSigner(t *testing.T) {
	signer, err := NewEd25519Signer("local")
	require.NoError(t, err)
	ls := &LocalSigner{Signer: signer}

	sig, err := ls.SignHashes(context.Background(), "aa", "bb")
	require.NoError(t, err)
	assert.Equal(t, AlgoEd25519, sig.SigningAlgo)
	assert.Equal(t, signer.PublicKey(), sig.SigningAddress)

	ok, err := VerifyWithAlgorithm(sig.SigningAlgo, sig.SigningAddress, sig.Signature, []byte("aabb"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPSigner(t *testing.T) {
	signer, err := NewEd25519Signer("remote")
	require.NoError(t, err)
	local := &LocalSigner{Signer: signer}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sign", r.URL.Path)
		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sig, err := local.SignHashes(r.Context(), req.RequestHash, req.ResponseHash)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(sig)
	}))
	defer srv.Close()

	hs := NewHTTPSigner(srv.URL + "/")
	sig, err := hs.SignHashes(context.Background(), "11", "22")
	require.NoError(t, err)

	ok, err := Verify(sig.SigningAddress, sig.Signature, []byte("1122"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPSigner_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hs := &HTTPSigner{BaseURL: srv.URL, Client: resiliency.NewEnhancedClient("test", resiliency.WithMaxRetries(0))}
	_, err := hs.SignHashes(context.Background(), "11", "22")
	assert.ErrorIs(t, err, ErrSignerUnavailable)

	srv.Close()
	_, err = hs.SignHashes(context.Background(), "11", "22")
	assert.ErrorIs(t, err, ErrSignerUnavailable)
}
