package watch

import (
	"sort"
	"sync"
	"time"
)

// Batcher collects paths and hands them to flush once no new path has
// arrived for the quiet period. Editors often write a file several times
// per save; the batch carries each path once.
type Batcher struct {
	mu      sync.Mutex
	quiet   time.Duration
	flush   func([]string)
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

// NewBatcher returns a Batcher that calls flush from its own goroutine.
func NewBatcher(quiet time.Duration, flush func([]string)) *Batcher {
	return &Batcher{
		quiet:   quiet,
		flush:   flush,
		pending: make(map[string]struct{}),
	}
}

// Add queues path and restarts the quiet period.
func (b *Batcher) Add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending[path] = struct{}{}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.quiet, b.Flush)
		return
	}
	b.timer.Reset(b.quiet)
}

// Pending returns the number of queued paths.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush delivers the queued paths now, sorted. Nothing is delivered when
// the queue is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 || b.stopped {
		b.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(b.pending))
	for p := range b.pending {
		paths = append(paths, p)
	}
	b.pending = make(map[string]struct{})
	b.mu.Unlock()

	sort.Strings(paths)
	b.flush(paths)
}

// Stop drops anything queued. Later calls to Add are ignored.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = make(map[string]struct{})
}
