// Package sse rewrites line-delimited server-sent event streams in flight.
//
// A Codec consumes raw bytes chunk by chunk, holds back the trailing partial
// line, and rewrites the content-bearing string fields of every complete
// "data:" event through a FieldTransform. It never buffers more than one
// line and never blocks, so it can sit directly on a network read loop.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DoneSentinel is the payload of the terminal event record.
const DoneSentinel = "[DONE]"

// FieldTransform rewrites one field value. An error leaves the field as-is.
type FieldTransform func(value string) (string, error)

// Status is the outcome of transforming one field.
type Status string

const (
	StatusTransformed Status = "transformed"
	StatusPassthrough Status = "passthrough"
)

// Outcome records what happened to one content-bearing field.
type Outcome struct {
	Line   int    // zero-based index of the complete line within the stream
	Choice int    // index into choices[]
	Path   string // e.g. "delta.content"
	Status Status
	Err    error // set when Status is StatusPassthrough
}

// Containers and fields that may hold ciphertext, in the order they are visited.
var (
	contentContainers = []string{"delta", "message"}
	contentFields     = []string{"content", "reasoning_content"}
)

// Codec is a chunk-boundary-safe event stream transform.
// A Codec is not safe for concurrent use.
type Codec struct {
	transform FieldTransform
	pending   []byte
	line      int
	outcomes  []Outcome
}

// NewCodec creates a codec applying fn to every content-bearing field.
func NewCodec(fn FieldTransform) *Codec {
	return &Codec{transform: fn}
}

// Push appends chunk and returns the rewritten bytes of all lines it completed.
func (c *Codec) Push(chunk []byte) []byte {
	c.pending = append(c.pending, chunk...)

	last := bytes.LastIndexByte(c.pending, '\n')
	if last < 0 {
		return nil
	}

	complete := c.pending[:last+1]
	var out bytes.Buffer
	out.Grow(len(complete))
	for len(complete) > 0 {
		i := bytes.IndexByte(complete, '\n')
		out.Write(c.processLine(complete[:i]))
		out.WriteByte('\n')
		complete = complete[i+1:]
	}

	rest := make([]byte, len(c.pending)-last-1)
	copy(rest, c.pending[last+1:])
	c.pending = rest
	return out.Bytes()
}

// Flush returns any buffered partial line unchanged and resets the buffer.
func (c *Codec) Flush() []byte {
	out := c.pending
	c.pending = nil
	return out
}

// Outcomes returns the per-field outcomes recorded so far.
func (c *Codec) Outcomes() []Outcome {
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Transform runs a whole byte stream through a fresh codec.
func Transform(stream []byte, fn FieldTransform) ([]byte, []Outcome) {
	c := NewCodec(fn)
	out := c.Push(stream)
	out = append(out, c.Flush()...)
	return out, c.Outcomes()
}

func (c *Codec) processLine(raw []byte) []byte {
	lineNo := c.line
	c.line++

	line := bytes.TrimSuffix(raw, []byte{'\r'})
	payload, ok := dataPayload(line)
	if !ok || string(bytes.TrimSpace(payload)) == DoneSentinel {
		return raw
	}

	rewritten, outcomes, changed := rewriteDocument(bytes.TrimSpace(payload), c.transform)
	for i := range outcomes {
		outcomes[i].Line = lineNo
	}
	c.outcomes = append(c.outcomes, outcomes...)
	if !changed {
		return raw
	}

	out := make([]byte, 0, len(rewritten)+8)
	out = append(out, "data: "...)
	out = append(out, rewritten...)
	if len(line) != len(raw) {
		out = append(out, '\r')
	}
	return out
}

func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return line[len("data:"):], true
}

// TransformJSON applies the field transform to one whole JSON document, the
// non-streaming "message" shape. Documents that fail to parse are returned
// unchanged.
func TransformJSON(doc []byte, fn FieldTransform) ([]byte, []Outcome) {
	rewritten, outcomes, changed := rewriteDocument(bytes.TrimSpace(doc), fn)
	if !changed {
		return doc, outcomes
	}
	return rewritten, outcomes
}

// rewriteDocument decodes only the parts of the event it needs; every other
// field is carried as raw JSON. Output keys are sorted by encoding/json.
func rewriteDocument(doc []byte, fn FieldTransform) ([]byte, []Outcome, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return doc, nil, false
	}
	rawChoices, ok := top["choices"]
	if !ok {
		return doc, nil, false
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return doc, nil, false
	}

	var outcomes []Outcome
	changed := false
	for ci, choice := range choices {
		for _, container := range contentContainers {
			rawContainer, ok := choice[container]
			if !ok {
				continue
			}
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(rawContainer, &fields); err != nil {
				continue
			}
			containerChanged := false
			for _, name := range contentFields {
				rawValue, ok := fields[name]
				if !ok {
					continue
				}
				var value string
				if err := json.Unmarshal(rawValue, &value); err != nil || value == "" {
					continue
				}
				o := Outcome{Choice: ci, Path: container + "." + name}
				next, err := fn(value)
				if err != nil {
					o.Status = StatusPassthrough
					o.Err = err
					outcomes = append(outcomes, o)
					continue
				}
				encoded, err := encodeJSON(next)
				if err != nil {
					o.Status = StatusPassthrough
					o.Err = err
					outcomes = append(outcomes, o)
					continue
				}
				o.Status = StatusTransformed
				outcomes = append(outcomes, o)
				fields[name] = encoded
				containerChanged = true
			}
			if containerChanged {
				b, err := encodeJSON(fields)
				if err != nil {
					continue
				}
				choice[container] = b
				changed = true
			}
		}
	}
	if !changed {
		return doc, outcomes, false
	}

	b, err := encodeJSON(choices)
	if err != nil {
		return doc, outcomes, false
	}
	top["choices"] = b
	out, err := encodeJSON(top)
	if err != nil {
		return doc, outcomes, false
	}
	return out, outcomes, true
}

// encodeJSON marshals v without HTML escaping so rewritten events keep
// decrypted text byte for byte.
func encodeJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("sse: encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
