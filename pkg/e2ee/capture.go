package e2ee

import (
	"context"
	"sync"
)

// WireCapture holds the unmodified bytes of one exchange in both directions.
type WireCapture struct {
	// RequestBody is the encrypted request exactly as sent.
	RequestBody []byte
	// ResponseBody is the response exactly as received, before decryption.
	ResponseBody []byte
	// ExchangeID is the upstream completion id, if one was seen.
	ExchangeID string
	// Streaming reports whether the response was an event stream.
	Streaming bool
}

// CaptureHandle resolves once the background capture of an exchange finishes.
// A handle resolves exactly once: either with a capture or as unavailable.
type CaptureHandle struct {
	request []byte
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	stop func()

	capture *WireCapture
	ok      bool
}

func newCaptureHandle(request []byte) *CaptureHandle {
	return &CaptureHandle{
		request: request,
		done:    make(chan struct{}),
		stop:    func() {},
	}
}

// Await blocks until the capture resolves or ctx ends. The boolean is false
// when no capture is available.
func (h *CaptureHandle) Await(ctx context.Context) (*WireCapture, bool) {
	select {
	case <-h.done:
		return h.capture, h.ok
	case <-ctx.Done():
		return nil, false
	}
}

// Done is closed once the handle has resolved.
func (h *CaptureHandle) Done() <-chan struct{} {
	return h.done
}

// Abandon stops the background capture and resolves the handle as
// unavailable. It has no effect on a handle that already resolved.
func (h *CaptureHandle) Abandon() {
	h.resolve(nil, false)
}

func (h *CaptureHandle) resolve(c *WireCapture, ok bool) {
	h.once.Do(func() {
		h.capture, h.ok = c, ok
		close(h.done)
		if !ok {
			h.mu.Lock()
			stop := h.stop
			h.mu.Unlock()
			stop()
		}
	})
}

// setStop ties the handle to the background capture. A handle that already
// resolved as unavailable stops it immediately.
func (h *CaptureHandle) setStop(stop func()) {
	h.mu.Lock()
	h.stop = stop
	h.mu.Unlock()
	select {
	case <-h.done:
		if !h.ok {
			stop()
		}
	default:
	}
}
