package reference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verichat/pkg/share"
)

const sid = "3f2a9c"

func bundle() *share.Payload {
	return &share.Payload{ChatData: &share.ChatData{Messages: []share.Message{
		{Role: "user", Content: "What is a TEE?"},
		{Role: "assistant", Content: "Ein vertrauenswürdiger Bereich, ja."},
	}}}
}

func TestEncodeDecode(t *testing.T) {
	s, err := Encode(sid, 1, 4, 20)
	require.NoError(t, err)
	assert.Equal(t, "3f2a9c:1:4-20", s)

	r, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, Reference{ShareID: sid, MessageIndex: 1, Start: 4, End: 20}, r)
}

func TestDecode_Malformed(t *testing.T) {
	for _, s := range []string{
		"",
		"abc",
		"abc:1",
		"abc:1:2-3:4",
		"abc:1:2",
		"abc:1:2-3-4",
		"abc:x:2-3",
		"abc:1:-2-3",
		"abc:-1:2-3",
		"abc:+1:2-3",
		"abc:1:3-3",
		"abc:1:5-3",
		":1:2-3",
		"a b:1:2-3",
		"abc:1: 2-3",
		"abc:99999999999999999999:2-3",
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrMalformedReference, "%q", s)
	}
}

func TestEncode_Rejects(t *testing.T) {
	_, err := Encode("a:b", 0, 0, 1)
	assert.ErrorIs(t, err, ErrMalformedReference)
	_, err = Encode(sid, 0, 2, 2)
	assert.ErrorIs(t, err, ErrMalformedReference)
	_, err = Encode(sid, -1, 0, 1)
	assert.ErrorIs(t, err, ErrMalformedReference)
}

func TestResolve(t *testing.T) {
	tr, err := Resolve(sid+":1:4-22", sid, bundle())
	require.NoError(t, err)
	assert.Equal(t, "vertrauenswürdiger", tr.Text, "offsets are code points")
	assert.Equal(t, "assistant", tr.Role)

	_, err = Resolve("other:1:4-22", sid, bundle())
	assert.ErrorIs(t, err, ErrShareMismatch)

	_, err = Resolve(sid+":2:0-1", sid, bundle())
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Resolve(sid+":0:0-100", sid, bundle())
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Resolve(sid+":0", sid, bundle())
	assert.ErrorIs(t, err, ErrMalformedReference)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))

	long := strings.Repeat("ü", PreviewLength+5)
	p := Preview(long)
	assert.Equal(t, PreviewLength+1, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))
}

func TestLink(t *testing.T) {
	r := Reference{ShareID: sid, MessageIndex: 0, Start: 0, End: 4}
	words := []string{"alpha", "bravo", "charlie"}

	link := Link("https://verichat.example/", r, words)
	assert.Equal(t, "https://verichat.example/r/3f2a9c:0:0-4#alpha-bravo-charlie", link)

	got, gotWords, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.Equal(t, words, gotWords)

	_, _, err = ParseLink("https://verichat.example/s/abc")
	assert.ErrorIs(t, err, ErrMalformedReference)
}
