//go:build property
// +build property

package hybrid_test

import (
	"testing"

	"github.com/Mindburn-Labs/verichat/pkg/hybrid"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRoundtripProperty: decrypt(encrypt(m, pub(derive(p))), priv(derive(p))) == m
func TestRoundtripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("hybrid round-trip under derived keys", prop.ForAll(
		func(words []string, msg string) bool {
			kp, err := keymaterial.DeriveKeyPair(words)
			if err != nil {
				return true // empty passphrases are rejected consistently
			}
			ct, err := hybrid.EncryptString(msg, kp.PublicKey)
			if err != nil {
				return false
			}
			pt, err := hybrid.DecryptString(ct, kp.PrivateKey)
			return err == nil && pt == msg
		},
		gen.SliceOfN(3, gen.AlphaString()),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
