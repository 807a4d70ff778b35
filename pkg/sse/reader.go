package sse

import (
	"errors"
	"io"
)

const readChunk = 4096

// Reader applies a Codec to everything read from an underlying reader.
type Reader struct {
	src   io.Reader
	codec *Codec
	buf   []byte
	out   []byte
	err   error
}

// NewReader wraps src so reads return the codec's rewritten stream.
func NewReader(src io.Reader, codec *Codec) *Reader {
	return &Reader{src: src, codec: codec, buf: make([]byte, readChunk)}
}

// Codec returns the codec driving this reader, e.g. to inspect outcomes.
func (r *Reader) Codec() *Codec {
	return r.codec
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.out = append(r.out, r.codec.Push(r.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.out = append(r.out, r.codec.Flush()...)
			}
			r.err = err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// Close closes the underlying reader when it is an io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
