package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hakimelghazi/clob-core/internal/engine"
)

var ErrSinkStopped = errors.New("events: sink stopped")

type batch struct {
	market string
	fills  []engine.Fill
}

// Async queues fills for a background goroutine that feeds the wrapped
// sinks, so a slow broker or database does not hold up the engine loop.
// RecordFills blocks only when the queue is full.
type Async struct {
	sinks   []engine.FillSink
	batches chan batch
	done    chan struct{}
	drain   time.Duration
	log     *zap.Logger
}

func NewAsync(buffer int, log *zap.Logger, sinks ...engine.FillSink) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{
		sinks:   sinks,
		batches: make(chan batch, buffer),
		done:    make(chan struct{}),
		drain:   5 * time.Second,
		log:     log,
	}
}

func (a *Async) RecordFills(ctx context.Context, market string, fills []engine.Fill) error {
	b := batch{market: market, fills: append([]engine.Fill(nil), fills...)}
	select {
	case a.batches <- b:
		return nil
	case <-a.done:
		return ErrSinkStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued fills until ctx ends, then flushes what is still
// queued within the drain timeout.
func (a *Async) Run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case b := <-a.batches:
			if ctx.Err() != nil {
				a.flush(b)
				return
			}
			a.deliver(ctx, b)
		case <-ctx.Done():
			a.flush()
			return
		}
	}
}

func (a *Async) flush(pending ...batch) {
	ctx, cancel := context.WithTimeout(context.Background(), a.drain)
	defer cancel()
	for _, b := range pending {
		a.deliver(ctx, b)
	}
	for {
		select {
		case b := <-a.batches:
			a.deliver(ctx, b)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, b batch) {
	for _, s := range a.sinks {
		if err := s.RecordFills(ctx, b.market, b.fills); err != nil {
			a.log.Error("record fills failed",
				zap.String("market", b.market),
				zap.Int("fills", len(b.fills)),
				zap.Error(err),
			)
		}
	}
}
