package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hakimelghazi/clob-core/internal/engine"
)

// gatedSink records fills once gate is closed.
type gatedSink struct {
	gate chan struct{}

	mu  sync.Mutex
	got []engine.Fill
}

func (s *gatedSink) RecordFills(ctx context.Context, _ string, fills []engine.Fill) error {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, fills...)
	return nil
}

func (s *gatedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestAsyncDoesNotWaitForSlowSink(t *testing.T) {
	slow := &gatedSink{gate: make(chan struct{})}
	a := NewAsync(4, zaptest.NewLogger(t), slow)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-a.done
	})

	start := time.Now()
	require.NoError(t, a.RecordFills(context.Background(), "BTC-USD", fills))
	require.NoError(t, a.RecordFills(context.Background(), "BTC-USD", fills[:1]))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, slow.count())

	close(slow.gate)
	require.Eventually(t, func() bool { return slow.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestAsyncFlushesOnStop(t *testing.T) {
	sink := &gatedSink{gate: make(chan struct{})}
	close(sink.gate)
	a := NewAsync(8, zaptest.NewLogger(t), sink, NopSink{})

	// queue before the worker starts, then stop it straight away
	require.NoError(t, a.RecordFills(context.Background(), "BTC-USD", fills))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	assert.Equal(t, 2, sink.count())
	assert.ErrorIs(t, a.RecordFills(context.Background(), "BTC-USD", fills), ErrSinkStopped)
}

func TestAsyncCopiesFills(t *testing.T) {
	sink := &gatedSink{gate: make(chan struct{})}
	close(sink.gate)
	a := NewAsync(1, nil, sink)

	mine := append([]engine.Fill(nil), fills...)
	require.NoError(t, a.RecordFills(context.Background(), "BTC-USD", mine))
	mine[0].Maker = "changed"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	assert.Equal(t, "A", sink.got[0].Maker)
}
