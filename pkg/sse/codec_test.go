package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotMine = errors.New("not mine")

// upper transforms values prefixed with "enc:" and rejects everything else.
func upper(v string) (string, error) {
	if !strings.HasPrefix(v, "enc:") {
		return "", errNotMine
	}
	return strings.ToUpper(strings.TrimPrefix(v, "enc:")), nil
}

const sampleStream = "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"enc:hel\"}}]}\n" +
	"\n" +
	": keep-alive comment\n" +
	"data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"enc:lo\",\"reasoning_content\":\"plain\"}}]}\n" +
	"data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n" +
	"data: [DONE]\n"

func TestCodec_SingleChunk(t *testing.T) {
	out, outcomes := Transform([]byte(sampleStream), upper)

	lines := strings.Split(string(out), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], `"content":"HEL"`)
	assert.Equal(t, "", lines[1])
	assert.Equal(t, ": keep-alive comment", lines[2])
	assert.Contains(t, lines[3], `"content":"LO"`)
	assert.Contains(t, lines[3], `"reasoning_content":"plain"`)
	assert.Equal(t, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}", lines[4])
	assert.Equal(t, "data: [DONE]", lines[5])

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusTransformed, outcomes[0].Status)
	assert.Equal(t, "delta.content", outcomes[0].Path)
	assert.Equal(t, 0, outcomes[0].Line)
	assert.Equal(t, StatusTransformed, outcomes[1].Status)
	assert.Equal(t, 3, outcomes[1].Line)
	assert.Equal(t, StatusPassthrough, outcomes[2].Status)
	assert.Equal(t, "delta.reasoning_content", outcomes[2].Path)
	assert.ErrorIs(t, outcomes[2].Err, errNotMine)
}

func TestCodec_ChunkingInvariance(t *testing.T) {
	want, wantOutcomes := Transform([]byte(sampleStream), upper)

	for _, size := range []int{1, 2, 3, 7, 16, 64} {
		c := NewCodec(upper)
		var got bytes.Buffer
		data := []byte(sampleStream)
		for len(data) > 0 {
			n := size
			if n > len(data) {
				n = len(data)
			}
			got.Write(c.Push(data[:n]))
			data = data[n:]
		}
		got.Write(c.Flush())
		assert.Equal(t, string(want), got.String(), "chunk size %d", size)
		assert.Equal(t, len(wantOutcomes), len(c.Outcomes()), "chunk size %d", size)
	}
}

func TestCodec_FlushPartialLine(t *testing.T) {
	c := NewCodec(upper)
	out := c.Push([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"enc:x\"}}]}"))
	assert.Empty(t, out)

	rest := c.Flush()
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"enc:x\"}}]}", string(rest))
	assert.Empty(t, c.Flush())
}

func TestCodec_NonJSONDataPassesThrough(t *testing.T) {
	in := "data: not json\ndata: {\"no_choices\":true}\nevent: ping\n"
	out, outcomes := Transform([]byte(in), upper)
	assert.Equal(t, in, string(out))
	assert.Empty(t, outcomes)
}

func TestCodec_CRLF(t *testing.T) {
	in := "data: {\"choices\":[{\"delta\":{\"content\":\"enc:ab\"}}]}\r\ndata: [DONE]\r\n"
	out, _ := Transform([]byte(in), upper)
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"AB\"}}]}\r\ndata: [DONE]\r\n", string(out))
}

func TestCodec_NoSpaceAfterData(t *testing.T) {
	in := "data:{\"choices\":[{\"delta\":{\"content\":\"enc:ab\"}}]}\n"
	out, _ := Transform([]byte(in), upper)
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"AB\"}}]}\n", string(out))
}

func TestTransformJSON_MessageShape(t *testing.T) {
	doc := []byte(`{"id":"chatcmpl-9","choices":[{"index":0,"message":{"role":"assistant","content":"enc:whole"}}],"usage":{"total_tokens":3}}`)
	out, outcomes := TransformJSON(doc, upper)

	assert.Contains(t, string(out), `"content":"WHOLE"`)
	assert.Contains(t, string(out), `"usage":{"total_tokens":3}`)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "message.content", outcomes[0].Path)
}

func TestTransformJSON_Unchanged(t *testing.T) {
	doc := []byte(`{"choices":[{"message":{"content":"plain"}}]}`)
	out, outcomes := TransformJSON(doc, upper)
	assert.Equal(t, doc, out)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusPassthrough, outcomes[0].Status)
}

type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReader_MatchesTransform(t *testing.T) {
	want, _ := Transform([]byte(sampleStream), upper)

	r := NewReader(oneByteReader{strings.NewReader(sampleStream)}, NewCodec(upper))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Len(t, r.Codec().Outcomes(), 3)
}

func TestCodec_NoHTMLEscaping(t *testing.T) {
	in := "data: {\"id\":\"a<b>&c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"enc:<b>&</b>\",\"tag\":\"<i>\"}}]}\n"
	out, outcomes := Transform([]byte(in), upper)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusTransformed, outcomes[0].Status)
	assert.Contains(t, string(out), `"content":"<B>&</B>"`)
	assert.Contains(t, string(out), `"id":"a<b>&c"`)
	assert.Contains(t, string(out), `"tag":"<i>"`)
	assert.NotContains(t, string(out), `\u003c`)
	assert.NotContains(t, string(out), `\u0026`)
}
