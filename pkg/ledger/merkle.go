package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InclusionProof proves a leaf is in the log (RFC 6962 audit path).
type InclusionProof struct {
	LogIndex int64    `json:"log_index"`
	TreeSize int64    `json:"tree_size"`
	RootHash string   `json:"root_hash"`
	Hashes   []string `json:"hashes"`
}

// leafHash computes the RFC 6962 leaf hash: SHA256(0x00 || data).
func leafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// nodeHash computes the RFC 6962 node hash: SHA256(0x01 || left || right).
func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// splitPoint is the largest power of two smaller than n.
func splitPoint(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

// treeHash is MTH over already-hashed leaves; len(leaves) must be > 0.
func treeHash(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := splitPoint(len(leaves))
	return nodeHash(treeHash(leaves[:k]), treeHash(leaves[k:]))
}

// auditPath is PATH(m, D[n]).
func auditPath(m int, leaves [][]byte) [][]byte {
	if len(leaves) <= 1 {
		return nil
	}
	k := splitPoint(len(leaves))
	if m < k {
		return append(auditPath(m, leaves[:k]), treeHash(leaves[k:]))
	}
	return append(auditPath(m-k, leaves[k:]), treeHash(leaves[:k]))
}

// buildProof returns the inclusion proof of leaf m in leaves.
func buildProof(m int, leaves [][]byte) *InclusionProof {
	path := auditPath(m, leaves)
	hashes := make([]string, len(path))
	for i, p := range path {
		hashes[i] = hex.EncodeToString(p)
	}
	return &InclusionProof{
		LogIndex: int64(m),
		TreeSize: int64(len(leaves)),
		RootHash: hex.EncodeToString(treeHash(leaves)),
		Hashes:   hashes,
	}
}

// VerifyInclusion checks that leafData sits at proof.LogIndex in a tree of
// proof.TreeSize leaves with root proof.RootHash.
func VerifyInclusion(leafData []byte, proof *InclusionProof) error {
	if proof == nil {
		return fmt.Errorf("%w: nil inclusion proof", ErrInvalidProof)
	}
	if proof.LogIndex < 0 || proof.LogIndex >= proof.TreeSize {
		return fmt.Errorf("%w: index %d outside tree of size %d", ErrInvalidProof, proof.LogIndex, proof.TreeSize)
	}
	root, err := hex.DecodeString(proof.RootHash)
	if err != nil {
		return fmt.Errorf("%w: root hash: %v", ErrInvalidProof, err)
	}

	fn, sn := proof.LogIndex, proof.TreeSize-1
	r := leafHash(leafData)
	for i, s := range proof.Hashes {
		p, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("%w: proof hash %d: %v", ErrInvalidProof, i, err)
		}
		if sn == 0 {
			return fmt.Errorf("%w: proof too long", ErrInvalidProof)
		}
		if fn&1 == 1 || fn == sn {
			r = nodeHash(p, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			r = nodeHash(r, p)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return fmt.Errorf("%w: proof too short", ErrInvalidProof)
	}
	if !bytes.Equal(r, root) {
		return fmt.Errorf("%w: root mismatch", ErrInvalidProof)
	}
	return nil
}
