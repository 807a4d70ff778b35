package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestCanonicalHash_Stability(t *testing.T) {
	v1 := map[string]interface{}{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	h1, err := CanonicalHash(v1)
	require.NoError(t, err)
	h2, err := CanonicalHash(v2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestTransform_RawMessage(t *testing.T) {
	doc := json.RawMessage(`{ "b" : [1, 2.50, "x"], "a" : null }`)
	b, err := Transform(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"b":[1,2.5,"x"]}`, string(b))

	_, err = Transform([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}
