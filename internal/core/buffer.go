package core

import (
	"context"
	"sync"
)

// callBuffer serializes overlapping calls to sequence-sensitive methods. Each
// method name carries its own FIFO: a call waits for every call queued before
// it, so concurrent invocations drain strictly in arrival order.
type callBuffer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newCallBuffer() *callBuffer {
	return &callBuffer{tails: make(map[string]chan struct{})}
}

// run executes fn after every previously queued call to method completes.
func (b *callBuffer) run(ctx context.Context, method string, fn func() error) error {
	done := make(chan struct{})
	b.mu.Lock()
	prev := b.tails[method]
	b.tails[method] = done
	b.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// keep the chain intact for queued successors
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
	}
	err := fn()
	close(done)
	return err
}

// Buffered runs fn through the entity's per-method FIFO queue. It is the
// engine's only explicit backpressure mechanism, used for actions where
// interleaving would corrupt a sequence (post numbering).
func (e *Entity) Buffered(ctx context.Context, method string, fn func() error) error {
	return e.buffer.run(ctx, method, fn)
}
