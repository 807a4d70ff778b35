// Package share publishes a conversation and its receipt as a sealed,
// passphrase-protected bundle in a content-addressed blob store.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/canonicalize"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/observability"
	"github.com/Mindburn-Labs/verichat/pkg/receipt"
)

var (
	// ErrNotFound is returned when no bundle is stored under an id.
	ErrNotFound = errors.New("share: bundle not found")
	// ErrDecryptionFailed is returned for a wrong passphrase or corrupted blob.
	ErrDecryptionFailed = errors.New("share: decryption failed")
	// ErrInvalidBundle is returned when decrypted content is not a valid bundle.
	ErrInvalidBundle = errors.New("share: invalid bundle")
)

// Share is what the creator hands out: the blob id and the passphrase that
// opens it.
type Share struct {
	ID         string   `json:"id"`
	Passphrase []string `json:"passphrase"`
}

// Service creates and opens share bundles.
type Service struct {
	store  artifacts.Store
	words  int
	clock  func() time.Time
	obs    *observability.Provider
	logger *slog.Logger

	// content hash -> *Share
	cache sync.Map
}

type Option func(*Service)

// WithPassphraseWords sets the length of generated passphrases.
func WithPassphraseWords(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.words = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

func NewService(store artifacts.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		words:  keymaterial.DefaultWords,
		clock:  time.Now,
		logger: slog.Default().With("component", "share"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey identifies the logical content of a share. Any change to the
// conversation or the receipt yields a different key.
func CacheKey(chat *ChatData, r *receipt.Receipt) (string, error) {
	return canonicalize.CanonicalHash(map[string]any{"chat_data": chat, "receipt": r})
}

// Create seals chat and r under a fresh passphrase and uploads the blob.
// Content shared before on this Service returns the previously issued share.
func (s *Service) Create(ctx context.Context, chat *ChatData, r *receipt.Receipt) (_ *Share, err error) {
	if chat == nil || r == nil {
		return nil, fmt.Errorf("%w: chat data and receipt are required", ErrInvalidBundle)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if chat.Messages == nil {
		c := *chat
		c.Messages = []Message{}
		chat = &c
	}

	ctx, done := s.obs.TrackOperation(ctx, "share.create")
	defer func() { done(err) }()

	// 1. Reuse a previous share of the same content
	key, err := CacheKey(chat, r)
	if err != nil {
		return nil, fmt.Errorf("share: content hash: %w", err)
	}
	if v, ok := s.cache.Load(key); ok {
		sh := v.(*Share)
		s.logger.DebugContext(ctx, "reusing share", "id", sh.ID)
		return copyShare(sh), nil
	}

	// 2. Serialize
	data, err := json.Marshal(Payload{
		Version:   FormatVersion,
		ChatData:  chat,
		Receipt:   r,
		Timestamp: s.clock().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("share: encode bundle: %w", err)
	}

	// 3. Seal under a fresh passphrase
	words, err := keymaterial.GeneratePassphrase(s.words)
	if err != nil {
		return nil, err
	}
	blob, err := Seal(data, words)
	if err != nil {
		return nil, err
	}

	// 4. Upload
	id, err := s.store.Store(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("share: upload: %w", err)
	}

	sh := &Share{ID: id, Passphrase: words}
	if prev, loaded := s.cache.LoadOrStore(key, sh); loaded {
		sh = prev.(*Share)
	}
	s.logger.InfoContext(ctx, "share created", "id", sh.ID, "bytes", len(blob), "proof_hash", r.ProofHash)
	return copyShare(sh), nil
}

// Open downloads and decrypts the bundle stored under id.
func (s *Service) Open(ctx context.Context, id string, passphrase []string) (_ *Payload, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "share.open", attribute.String("id", id))
	defer func() { done(err) }()

	blob, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("share: download: %w", err)
	}

	data, err := Unseal(blob, passphrase)
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "share opened", "id", id)
	return p, nil
}

func copyShare(sh *Share) *Share {
	return &Share{ID: sh.ID, Passphrase: append([]string(nil), sh.Passphrase...)}
}
