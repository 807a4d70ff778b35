package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAlgorithm names the content hash recorded in receipts.
const HashAlgorithm = "sha256"

// HashHex returns the lower-case hex SHA-256 digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SigningMessage is the byte string a signer signs for one exchange: the two
// content hashes concatenated as ASCII hex.
func SigningMessage(requestHash, responseHash string) []byte {
	return []byte(requestHash + responseHash)
}
