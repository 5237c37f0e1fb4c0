package pricefeed

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QuoteCache stores the latest quote per market in memory.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]Quote)}
}

func (c *QuoteCache) Set(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Market] = q
}

func (c *QuoteCache) Get(market string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[market]
	return q, ok
}

// All returns every cached quote ordered by market name.
func (c *QuoteCache) All() []Quote {
	c.mu.RLock()
	out := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

// StartUpdater periodically refreshes quotes for the given markets until ctx
// is done.
func StartUpdater(
	ctx context.Context,
	feed Feed,
	cache *QuoteCache,
	markets []string,
	interval time.Duration,
	log *zap.Logger,
) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refreshOnce(ctx, feed, cache, markets, log)

	for {
		select {
		case <-ticker.C:
			refreshOnce(ctx, feed, cache, markets, log)
		case <-ctx.Done():
			return
		}
	}
}

func refreshOnce(ctx context.Context, feed Feed, cache *QuoteCache, markets []string, log *zap.Logger) {
	for _, m := range markets {
		top, err := feed.TopOfBook(ctx, m)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("quote update failed", zap.String("market", m), zap.Error(err))
			}
			continue
		}
		q := QuoteFrom(top, time.Now().UTC())
		cache.Set(q)
		log.Debug("quote update",
			zap.String("market", m),
			zap.Uint64("mid", q.Mid),
			zap.Uint64("spread", q.Spread),
		)
	}
}
