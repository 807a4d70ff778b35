package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// TestRedisLedger_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisLedger_Integration(t *testing.T) {
	l := NewRedisLedger("localhost:6379", "", 0)
	defer func() { _ = l.Close() }()
	if err := l.Ping(context.Background()); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	// Unique hashes keep reruns independent of leftover keys.
	var salt [8]byte
	_, _ = rand.Read(salt[:])
	prefix := hex.EncodeToString(salt[:])

	ctx := context.Background()
	first, err := l.Notarize(ctx, prefix+"-a", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	again, err := l.Notarize(ctx, prefix+"-a", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if again.TxHash != first.TxHash || again.LogIndex != first.LogIndex {
		t.Errorf("resubmission created a new record: %+v vs %+v", again, first)
	}
	if _, err := l.Notarize(ctx, prefix+"-a", 11); err == nil {
		t.Errorf("Expected conflict for a different timestamp")
	}
}
