// Package e2ee wraps one chat completion exchange in end-to-end encryption.
//
// A Session encrypts outbound message content to the model's public key,
// decrypts the streamed or whole-body response with its own key, and tees the
// raw response bytes into a WireCapture for later attestation. Capturing never
// blocks or aborts the live decrypted stream.
package e2ee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/verichat/pkg/hybrid"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/sse"
)

// Header names attached to every encrypted request.
const (
	HeaderSigningAlgo = "X-Signing-Algo"
	HeaderClientKey   = "X-Client-Pub-Key"
	HeaderModelKey    = "X-Model-Pub-Key"

	SigningAlgoEd25519 = "ed25519"
)

var (
	// ErrMalformedRequest is returned when the request body is not a chat
	// completion JSON object.
	ErrMalformedRequest = errors.New("e2ee: malformed request body")
	// ErrNoExchange is returned when a response is wrapped before any request
	// was encrypted on the session.
	ErrNoExchange = errors.New("e2ee: no exchange in progress")
	// ErrUpstream is returned when the transport answers with a non-2xx status.
	ErrUpstream = errors.New("e2ee: upstream error")
)

// Session owns the key material and capture state for one exchange at a time.
type Session struct {
	id     string
	keys   *keymaterial.KeyPair
	peer   [keymaterial.KeySize]byte
	algo   string
	logger *slog.Logger

	mu      sync.Mutex
	current *CaptureHandle
}

// Option configures a Session.
type Option func(*Session)

// WithKeyPair uses an existing key pair instead of generating one.
func WithKeyPair(kp *keymaterial.KeyPair) Option {
	return func(s *Session) { s.keys = kp }
}

// WithSigningAlgo overrides the advertised signing algorithm.
func WithSigningAlgo(algo string) Option {
	return func(s *Session) { s.algo = algo }
}

// OpenSession starts a session encrypting to the counterparty public key.
// A fresh key pair is generated unless WithKeyPair is given.
func OpenSession(peer [keymaterial.KeySize]byte, opts ...Option) (*Session, error) {
	s := &Session{
		id:   uuid.NewString(),
		peer: peer,
		algo: SigningAlgoEd25519,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keys == nil {
		kp, err := keymaterial.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("e2ee: generate session key: %w", err)
		}
		s.keys = kp
	}
	s.logger = slog.Default().With("component", "e2ee", "session", s.id)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PublicKey returns the session's own public key.
func (s *Session) PublicKey() [keymaterial.KeySize]byte { return s.keys.PublicKey }

// PeerKey returns the counterparty public key.
func (s *Session) PeerKey() [keymaterial.KeySize]byte { return s.peer }

// SigningAlgo returns the advertised signing algorithm.
func (s *Session) SigningAlgo() string { return s.algo }

// Headers returns the headers identifying the signing algorithm and both keys.
func (s *Session) Headers() http.Header {
	h := make(http.Header)
	h.Set(HeaderSigningAlgo, s.algo)
	h.Set(HeaderClientKey, s.keys.PublicKeyHex())
	h.Set(HeaderModelKey, fmt.Sprintf("%x", s.peer[:]))
	return h
}

// Outbound is an encrypted request ready to send.
type Outbound struct {
	Request
	// Stream is true when the request asked for an event stream.
	Stream bool
	// Capture resolves to the wire capture of this exchange.
	Capture *CaptureHandle
}

// EncryptRequest encrypts every non-empty string message content in a chat
// completion body. It starts a new exchange, invalidating the previous one.
func (s *Session) EncryptRequest(body []byte) (*Outbound, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	var stream bool
	if raw, ok := top["stream"]; ok {
		_ = json.Unmarshal(raw, &stream)
	}

	if raw, ok := top["messages"]; ok {
		var messages []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("%w: messages: %v", ErrMalformedRequest, err)
		}
		for i, msg := range messages {
			var content string
			if err := json.Unmarshal(msg["content"], &content); err != nil || content == "" {
				continue
			}
			enc, err := hybrid.EncryptString(content, s.peer)
			if err != nil {
				return nil, fmt.Errorf("e2ee: encrypt message %d: %w", i, err)
			}
			b, err := json.Marshal(enc)
			if err != nil {
				return nil, fmt.Errorf("e2ee: encode message %d: %w", i, err)
			}
			msg["content"] = b
		}
		b, err := json.Marshal(messages)
		if err != nil {
			return nil, fmt.Errorf("e2ee: encode messages: %w", err)
		}
		top["messages"] = b
	}

	encoded, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("e2ee: encode request: %w", err)
	}

	handle := newCaptureHandle(bytes.Clone(encoded))
	s.mu.Lock()
	prev := s.current
	s.current = handle
	s.mu.Unlock()
	if prev != nil {
		prev.Abandon()
	}

	return &Outbound{
		Request: Request{Body: encoded, Header: s.Headers()},
		Stream:  stream,
		Capture: handle,
	}, nil
}

// Capture returns the handle of the current exchange, or nil.
func (s *Session) Capture() *CaptureHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) decryptField(v string) (string, error) {
	return hybrid.DecryptString(v, s.keys.PrivateKey)
}

// NewCodec returns a stream codec decrypting with the session key. It can be
// replayed over a WireCapture to reproduce the live output.
func (s *Session) NewCodec() *sse.Codec {
	return sse.NewCodec(s.decryptField)
}

// WrapResponseStream tees an event-stream body. The returned reader yields
// the decrypted stream; the raw bytes are captured in the background and
// delivered through the current exchange's CaptureHandle.
//
// Cancelling ctx stops both readers. Closing the returned reader before EOF,
// or abandoning the handle, resolves the capture as unavailable.
func (s *Session) WrapResponseStream(ctx context.Context, body io.ReadCloser) (*LiveStream, error) {
	handle := s.Capture()
	if handle == nil {
		return nil, ErrNoExchange
	}

	live, capture := duplicate(ctx, body)
	handle.setStop(func() { _ = capture.Close() })

	go func() {
		raw, err := io.ReadAll(capture)
		if err != nil {
			s.logger.WarnContext(ctx, "response capture failed", "error", err)
			handle.resolve(nil, false)
			return
		}
		handle.resolve(&WireCapture{
			RequestBody:  handle.request,
			ResponseBody: raw,
			ExchangeID:   streamExchangeID(raw),
			Streaming:    true,
		}, true)
	}()

	codec := s.NewCodec()
	return &LiveStream{
		reader: sse.NewReader(live, codec),
		codec:  codec,
		branch: live,
		handle: handle,
	}, nil
}

// DecryptResponseBody handles a whole JSON response body. A private copy of
// the body becomes the capture; the decrypted document is returned.
func (s *Session) DecryptResponseBody(body []byte) ([]byte, []sse.Outcome, error) {
	handle := s.Capture()
	if handle == nil {
		return nil, nil, ErrNoExchange
	}
	raw := bytes.Clone(body)
	handle.resolve(&WireCapture{
		RequestBody:  handle.request,
		ResponseBody: raw,
		ExchangeID:   documentExchangeID(raw),
	}, true)

	out, outcomes := sse.TransformJSON(body, s.decryptField)
	return out, outcomes, nil
}

// LiveStream is the decrypted view of a streaming response.
type LiveStream struct {
	reader *sse.Reader
	codec  *sse.Codec
	branch *branch
	handle *CaptureHandle

	mu  sync.Mutex
	eof bool
}

func (l *LiveStream) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	if errors.Is(err, io.EOF) {
		l.mu.Lock()
		l.eof = true
		l.mu.Unlock()
	}
	return n, err
}

// Close releases the live branch. Closing before EOF abandons the capture.
func (l *LiveStream) Close() error {
	l.mu.Lock()
	eof := l.eof
	l.mu.Unlock()
	if !eof {
		l.handle.Abandon()
	}
	return l.branch.Close()
}

// Outcomes returns the per-field decryption outcomes seen so far.
func (l *LiveStream) Outcomes() []sse.Outcome {
	return l.codec.Outcomes()
}

// Result is the outcome of a full exchange.
type Result struct {
	StatusCode int
	Header     http.Header
	Streaming  bool
	// Body is the decrypted response. For streams it is a *LiveStream.
	Body io.ReadCloser
	// Outcomes is set for whole-body responses.
	Outcomes []sse.Outcome
	Capture  *CaptureHandle
}

// Exchange encrypts body, sends it through t and wraps the response.
func (s *Session) Exchange(ctx context.Context, t Transport, body []byte) (*Result, error) {
	out, err := s.EncryptRequest(body)
	if err != nil {
		return nil, err
	}

	resp, err := t.Send(ctx, &out.Request)
	if err != nil {
		out.Capture.Abandon()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		out.Capture.Abandon()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, bytes.TrimSpace(msg))
	}

	res := &Result{StatusCode: resp.StatusCode, Header: resp.Header, Capture: out.Capture}
	if isEventStream(resp.Header) || (out.Stream && resp.Header.Get("Content-Type") == "") {
		live, err := s.WrapResponseStream(ctx, resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		res.Streaming = true
		res.Body = live
		s.logger.DebugContext(ctx, "streaming exchange started", "request_bytes", len(out.Body))
		return res, nil
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		out.Capture.Abandon()
		return nil, fmt.Errorf("e2ee: read response: %w", err)
	}
	decrypted, outcomes, err := s.DecryptResponseBody(raw)
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(decrypted))
	res.Outcomes = outcomes
	return res, nil
}

func isEventStream(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "text/event-stream"
}
