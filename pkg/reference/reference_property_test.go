//go:build property
// +build property

package reference_test

import (
	"testing"

	"github.com/Mindburn-Labs/verichat/pkg/reference"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRoundtripProperty: decode(encode(sid, i, a, b)) == (sid, i, a, b) for a < b
func TestRoundtripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("reference round-trip", prop.ForAll(
		func(sid string, i, a, width int) bool {
			if sid == "" {
				return true
			}
			s, err := reference.Encode(sid, i, a, a+width)
			if err != nil {
				return false
			}
			r, err := reference.Decode(s)
			return err == nil && r == reference.Reference{ShareID: sid, MessageIndex: i, Start: a, End: a + width}
		},
		gen.AlphaString(),
		gen.IntRange(0, 1<<20),
		gen.IntRange(0, 1<<20),
		gen.IntRange(1, 1<<20),
	))

	properties.Property("non-increasing ranges are rejected", prop.ForAll(
		func(b, d int) bool {
			_, err := reference.Decode(reference.Reference{ShareID: "s", Start: b + d, End: b}.String())
			return err != nil
		},
		gen.IntRange(0, 1<<20),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}
