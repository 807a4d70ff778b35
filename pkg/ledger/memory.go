package ledger

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
)

// genesisTx is the previous transaction hash of the first memory record.
var genesisTx = strings.Repeat("0", 64)

// Memory is an in-process hash-chained log. Records carry inclusion proofs
// against the current tree.
type Memory struct {
	mu      sync.RWMutex
	records []Record
	leaves  [][]byte
	index   map[string]int
}

func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

func (m *Memory) ID() string { return "memory" }

func (m *Memory) Notarize(ctx context.Context, proofHash string, timestamp int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.index[proofHash]; ok {
		return checkExisting(m.withProof(i), timestamp)
	}

	prev := genesisTx
	if n := len(m.records); n > 0 {
		prev = m.records[n-1].TxHash
	}
	rec := Record{
		ProofHash: proofHash,
		Timestamp: timestamp,
		TxHash:    crypto.HashHex([]byte(prev + proofHash + strconv.FormatInt(timestamp, 10))),
		LogIndex:  int64(len(m.records)),
	}
	m.records = append(m.records, rec)
	m.leaves = append(m.leaves, leafHash(LeafData(proofHash, timestamp)))
	m.index[proofHash] = len(m.records) - 1
	return m.withProof(len(m.records) - 1), nil
}

func (m *Memory) Lookup(ctx context.Context, proofHash string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[proofHash]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withProof(i), nil
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// VerifyChain recomputes every transaction hash from genesis.
func (m *Memory) VerifyChain() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prev := genesisTx
	for _, r := range m.records {
		if r.TxHash != crypto.HashHex([]byte(prev+r.ProofHash+strconv.FormatInt(r.Timestamp, 10))) {
			return false
		}
		prev = r.TxHash
	}
	return true
}

// withProof copies record i and attaches its inclusion proof. Callers hold mu.
func (m *Memory) withProof(i int) *Record {
	rec := m.records[i]
	rec.InclusionProof = buildProof(i, m.leaves)
	return &rec
}
