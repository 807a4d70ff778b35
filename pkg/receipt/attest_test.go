package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/e2ee"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
)

var errDown = errors.New("backend down")

// flakyLedger fails the first n writes before delegating.
type flakyLedger struct {
	ledger.Ledger
	failures int
	calls    int
}

func (f *flakyLedger) Notarize(ctx context.Context, proofHash string, ts int64) (*ledger.Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errDown
	}
	return f.Ledger.Notarize(ctx, proofHash, ts)
}

type failingSigner struct{}

func (failingSigner) SignHashes(context.Context, string, string) (*crypto.Signature, error) {
	return nil, errDown
}

type forgingSigner struct{ crypto.HashSigner }

func (f forgingSigner) SignHashes(ctx context.Context, a, b string) (*crypto.Signature, error) {
	sig, err := f.HashSigner.SignHashes(ctx, a, b)
	if err != nil {
		return nil, err
	}
	sig.Signature = "00" + sig.Signature[2:]
	return sig, nil
}

func newSigner(t *testing.T) crypto.HashSigner {
	t.Helper()
	s, err := crypto.NewEd25519SignerFromSeed([]byte("test-seed"), "model")
	require.NoError(t, err)
	return &crypto.LocalSigner{Signer: s}
}

func sampleCapture() *e2ee.WireCapture {
	return &e2ee.WireCapture{
		RequestBody:  []byte(`{"messages":[{"role":"user","content":"deadbeef"}]}`),
		ResponseBody: []byte("data: {\"id\":\"chatcmpl-1\"}\n\ndata: [DONE]\n\n"),
		ExchangeID:   "chatcmpl-1",
		Streaming:    true,
	}
}

func TestAttestAt(t *testing.T) {
	mem := ledger.NewMemory()
	a := NewAttestor(newSigner(t), mem)
	capture := sampleCapture()

	r, err := a.AttestAt(context.Background(), capture, Output{Model: "m", Prompt: "hi", Output: "hello"}, 1700000000)
	require.NoError(t, err)

	h1 := crypto.HashHex(capture.RequestBody)
	h2 := crypto.HashHex(capture.ResponseBody)
	assert.Equal(t, h1, r.RequestHash)
	assert.Equal(t, h2, r.ResponseHash)
	assert.Equal(t, crypto.HashHex([]byte(h1+h2+r.Signature+"1700000000")), r.ProofHash)
	assert.Equal(t, r.ProofHash, r.ComputedProofHash())
	assert.Equal(t, "sha256", r.HashAlgorithm)
	assert.Equal(t, "memory", r.Ledger)
	assert.Equal(t, "chatcmpl-1", r.ExchangeID)
	assert.Equal(t, "hello", r.Output)
	assert.NoError(t, r.Validate())

	ok, err := crypto.Verify(r.SigningAddress, r.Signature, SigningMessage(h1, h2))
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := mem.Lookup(context.Background(), r.ProofHash)
	require.NoError(t, err)
	assert.Equal(t, r.TxHash, rec.TxHash)
	assert.Equal(t, int64(1700000000), rec.Timestamp)
}

func TestAttest_Idempotence(t *testing.T) {
	mem := ledger.NewMemory()
	a := NewAttestor(newSigner(t), mem)
	capture := sampleCapture()

	r1, err := a.AttestAt(context.Background(), capture, Output{}, 1000)
	require.NoError(t, err)
	r2, err := a.AttestAt(context.Background(), capture, Output{}, 1000)
	require.NoError(t, err)
	r3, err := a.AttestAt(context.Background(), capture, Output{}, 1001)
	require.NoError(t, err)

	assert.Equal(t, r1.ProofHash, r2.ProofHash)
	assert.Equal(t, r1.TxHash, r2.TxHash)
	assert.NotEqual(t, r1.ProofHash, r3.ProofHash)
	assert.Equal(t, 2, mem.Len(), "resubmission must not add a record")
}

func TestAttest_UsesClock(t *testing.T) {
	fixed := time.Unix(1234567890, 0)
	a := NewAttestor(newSigner(t), ledger.NewMemory(), WithClock(func() time.Time { return fixed }))
	r, err := a.Attest(context.Background(), sampleCapture(), Output{})
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), r.Timestamp)
}

func TestAttest_SigningUnavailable(t *testing.T) {
	mem := ledger.NewMemory()
	a := NewAttestor(failingSigner{}, mem)
	r, err := a.AttestAt(context.Background(), sampleCapture(), Output{}, 1)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrSigningUnavailable)
	assert.Equal(t, 0, mem.Len())

	a = NewAttestor(forgingSigner{newSigner(t)}, mem)
	_, err = a.AttestAt(context.Background(), sampleCapture(), Output{}, 1)
	assert.ErrorIs(t, err, ErrSigningUnavailable)
	assert.Equal(t, 0, mem.Len())
}

func TestAttest_NotarizationRetries(t *testing.T) {
	fl := &flakyLedger{Ledger: ledger.NewMemory(), failures: 2}
	a := NewAttestor(newSigner(t), fl, WithRetryBackoff(time.Millisecond))

	r, err := a.AttestAt(context.Background(), sampleCapture(), Output{}, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, r.TxHash)
	assert.Equal(t, 3, fl.calls)
}

func TestAttest_NotarizationFailed(t *testing.T) {
	fl := &flakyLedger{Ledger: ledger.NewMemory(), failures: 10}
	a := NewAttestor(newSigner(t), fl, WithRetryBackoff(time.Millisecond), WithMaxNotarizeAttempts(2))

	r, err := a.AttestAt(context.Background(), sampleCapture(), Output{}, 5)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrNotarizationFailed)
	assert.Equal(t, 2, fl.calls)
}

func TestAttest_ConflictIsTerminal(t *testing.T) {
	mem := ledger.NewMemory()
	signer := newSigner(t)
	capture := sampleCapture()

	// Pre-record the proof hash with another timestamp.
	sig, err := signer.SignHashes(context.Background(), HashBody(capture.RequestBody), HashBody(capture.ResponseBody))
	require.NoError(t, err)
	proof := ProofHash(HashBody(capture.RequestBody), HashBody(capture.ResponseBody), sig.Signature, 9)
	_, err = mem.Notarize(context.Background(), proof, 8)
	require.NoError(t, err)

	fl := &flakyLedger{Ledger: mem}
	_, err = NewAttestor(signer, fl).AttestAt(context.Background(), capture, Output{}, 9)
	assert.ErrorIs(t, err, ErrNotarizationFailed)
	assert.Equal(t, 1, fl.calls)
}

func TestParse(t *testing.T) {
	r, err := NewAttestor(newSigner(t), ledger.NewMemory()).AttestAt(context.Background(), sampleCapture(), Output{}, 77)
	require.NoError(t, err)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)

	_, err = Parse([]byte(`{"request_hash":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidReceipt)
	_, err = Parse([]byte(`nope`))
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}
