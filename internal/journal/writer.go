// Package journal persists committed trading batches outside the market
// locks.
//
// Trading code appends a batch to an in-memory queue while it still holds
// the market lock, which keeps batches in commit order without doing any
// I/O under the lock. A single writer goroutine commits the batches to the
// store one at a time and then hands each to the sinks (caches, event bus,
// settlement archive).
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/metrics"
	"github.com/alanyoungcy/predictex/internal/notify"
)

// Sink receives each batch after it is durably stored. Sink errors are
// logged and never retried.
type Sink interface {
	Handle(ctx context.Context, b domain.Batch) error
	Name() string
}

// Config tunes retries.
type Config struct {
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	ShutdownTimeout time.Duration
}

// Writer drains the queue into the store.
type Writer struct {
	store    domain.BatchWriter
	sinks    []Sink
	cfg      Config
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []domain.Batch
	wake    chan struct{}
	drained *sync.Cond
	busy    bool
}

// NewWriter creates a Writer. Sinks are called in order.
func NewWriter(store domain.BatchWriter, sinks []Sink, cfg Config, m *metrics.Metrics, n *notify.Notifier, logger *slog.Logger) *Writer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	w := &Writer{
		store:    store,
		sinks:    sinks,
		cfg:      cfg,
		metrics:  m,
		notifier: n,
		logger:   logger.With(slog.String("component", "journal")),
		wake:     make(chan struct{}, 1),
	}
	w.drained = sync.NewCond(&w.mu)
	return w
}

// Enqueue appends a batch. It never blocks on I/O.
func (w *Writer) Enqueue(b domain.Batch) {
	if b.Empty() {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, b)
	n := len(w.queue)
	w.mu.Unlock()
	w.metrics.JournalQueue.Set(float64(n))
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued batches.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run writes batches until ctx is cancelled, then drains what is left with
// a bounded timeout.
func (w *Writer) Run(ctx context.Context) error {
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
			w.drain(sctx)
			cancel()
			if n := w.Pending(); n > 0 {
				w.logger.Error("journal: shutdown with unpersisted batches", slog.Int("pending", n))
			}
			return ctx.Err()
		case <-w.wake:
		}
	}
}

// Flush blocks until the queue is empty and nothing is in flight.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for len(w.queue) > 0 || w.busy {
			w.drained.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drain(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.busy = false
			w.drained.Broadcast()
			w.mu.Unlock()
			return
		}
		b := w.queue[0]
		w.busy = true
		w.mu.Unlock()

		if err := w.commit(ctx, b); err != nil {
			// Only reachable once ctx is done; the batch stays queued.
			w.mu.Lock()
			w.busy = false
			w.drained.Broadcast()
			w.mu.Unlock()
			return
		}

		w.mu.Lock()
		w.queue = w.queue[1:]
		n := len(w.queue)
		w.mu.Unlock()
		w.metrics.JournalQueue.Set(float64(n))

		for _, s := range w.sinks {
			if err := s.Handle(ctx, b); err != nil {
				w.logger.WarnContext(ctx, "journal: sink failed",
					slog.String("sink", s.Name()),
					slog.String("op_id", b.OpID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// commit retries with exponential backoff until the store accepts the batch
// or ctx ends. Batches are never dropped.
func (w *Writer) commit(ctx context.Context, b domain.Batch) error {
	backoff := w.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := w.store.CommitBatch(ctx, b)
		if err == nil {
			return nil
		}
		w.metrics.JournalFailures.Add(1)
		w.logger.ErrorContext(ctx, "journal: commit failed",
			slog.String("op_id", b.OpID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == 3 {
			w.notifier.Go(notify.EventJournalFailed, "Journal commit failing",
				fmt.Sprintf("batch %s failed %d times: %v", b.OpID, attempt, err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.cfg.MaxRetryBackoff)
	}
}
