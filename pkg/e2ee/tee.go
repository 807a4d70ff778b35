package e2ee

import (
	"context"
	"errors"
	"io"
	"sync"
)

const pumpChunk = 32 * 1024

var errBranchClosed = errors.New("e2ee: stream branch closed")

// branch is one independent reader over a duplicated stream. Chunks are
// queued without bound so a slow consumer never stalls the other branch.
type branch struct {
	ctx     context.Context
	mu      sync.Mutex
	queue   [][]byte
	err     error
	closed  bool
	signal  chan struct{}
	onClose func()
}

func newBranch(ctx context.Context) *branch {
	return &branch{ctx: ctx, signal: make(chan struct{}, 1)}
}

func (b *branch) push(chunk []byte) {
	b.mu.Lock()
	if !b.closed {
		b.queue = append(b.queue, chunk)
	}
	b.mu.Unlock()
	b.notify()
}

func (b *branch) finish(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.notify()
}

func (b *branch) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *branch) Read(p []byte) (int, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, errBranchClosed
		}
		if err := b.ctx.Err(); err != nil {
			b.mu.Unlock()
			return 0, err
		}
		if len(b.queue) > 0 {
			n := copy(p, b.queue[0])
			if n == len(b.queue[0]) {
				b.queue[0] = nil
				b.queue = b.queue[1:]
			} else {
				b.queue[0] = b.queue[0][n:]
			}
			b.mu.Unlock()
			return n, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return 0, err
		}
		b.mu.Unlock()
		select {
		case <-b.signal:
		case <-b.ctx.Done():
		}
	}
}

func (b *branch) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	b.notify()
	if !already && b.onClose != nil {
		b.onClose()
	}
	return nil
}

// duplicate starts a pump copying src into two branches. The source is closed
// when it ends, when ctx is cancelled, or when both branches are closed.
func duplicate(ctx context.Context, src io.ReadCloser) (*branch, *branch) {
	a, b := newBranch(ctx), newBranch(ctx)

	var (
		closeOnce sync.Once
		mu        sync.Mutex
		open      = 2
	)
	closeSrc := func() { closeOnce.Do(func() { _ = src.Close() }) }
	release := func() {
		mu.Lock()
		open--
		last := open == 0
		mu.Unlock()
		if last {
			closeSrc()
		}
	}
	a.onClose, b.onClose = release, release

	stop := context.AfterFunc(ctx, closeSrc)

	go func() {
		defer stop()
		defer closeSrc()
		for {
			buf := make([]byte, pumpChunk)
			n, err := src.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				a.push(chunk)
				b.push(chunk)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, io.EOF) {
					err = ctxErr
				}
				a.finish(err)
				b.finish(err)
				return
			}
		}
	}()
	return a, b
}
