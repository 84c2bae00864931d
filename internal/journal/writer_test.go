package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/metrics"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// flakyStore fails the first failures commits.
type flakyStore struct {
	mu        sync.Mutex
	failures  int
	committed []string
}

func (f *flakyStore) CommitBatch(_ context.Context, b domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.committed = append(f.committed, b.OpID)
	return nil
}

func (f *flakyStore) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.committed...)
}

type recordingSink struct {
	mu  sync.Mutex
	ops []string
	err error
}

func (r *recordingSink) Name() string { return "recorder" }

func (r *recordingSink) Handle(_ context.Context, b domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, b.OpID)
	return r.err
}

func batch(op string) domain.Batch {
	return domain.Batch{OpID: op, Entries: []domain.LedgerEntry{{OpID: op}}}
}

func startWriter(t *testing.T, store domain.BatchWriter, sinks ...Sink) (*Writer, context.CancelFunc) {
	t.Helper()
	w := NewWriter(store, sinks, Config{RetryBackoff: time.Millisecond, MaxRetryBackoff: 5 * time.Millisecond},
		metrics.NopMetrics(), nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cancel
}

func TestWriterPreservesOrderAndRetries(t *testing.T) {
	store := &flakyStore{failures: 4}
	sink := &recordingSink{err: errors.New("sink down")}
	w, _ := startWriter(t, store, sink)

	for _, op := range []string{"a", "b", "c"} {
		w.Enqueue(batch(op))
	}
	w.Enqueue(domain.Batch{OpID: "empty"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []string{"a", "b", "c"}, store.ops())
	assert.Equal(t, []string{"a", "b", "c"}, sink.ops)
	assert.Zero(t, w.Pending())
}

func TestWriterDrainsOnShutdown(t *testing.T) {
	store := &flakyStore{}
	w, cancel := startWriter(t, store)
	w.Enqueue(batch("x"))
	cancel()

	require.Eventually(t, func() bool { return len(store.ops()) == 1 }, time.Second, time.Millisecond)
}

func TestFlushHonoursContext(t *testing.T) {
	w := NewWriter(&flakyStore{}, nil, Config{}, nil, nil, discardLogger())
	w.Enqueue(batch("never-run"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)
}
