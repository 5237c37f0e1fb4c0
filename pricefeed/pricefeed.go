package pricefeed

import (
	"context"
	"time"

	"github.com/hakimelghazi/clob-core/internal/engine"
)

// Feed reports the best levels of a market. *engine.Engine satisfies it.
type Feed interface {
	TopOfBook(ctx context.Context, market string) (engine.TopOfBook, error)
}

// Quote is a ticker snapshot derived from the top of book. Prices are in
// quote subunits per lot.
type Quote struct {
	Market    string             `json:"market"`
	Bid       *engine.PriceLevel `json:"bid,omitempty"`
	Ask       *engine.PriceLevel `json:"ask,omitempty"`
	Mid       uint64             `json:"mid,omitempty"`
	Spread    uint64             `json:"spread,omitempty"`
	Crossed   bool               `json:"crossed,omitempty"`
	BidOrders uint64             `json:"bid_orders"`
	AskOrders uint64             `json:"ask_orders"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// QuoteFrom derives a quote from top. Mid and Spread need both sides; a
// book whose best bid is above its best ask is flagged Crossed.
func QuoteFrom(top engine.TopOfBook, at time.Time) Quote {
	q := Quote{
		Market:    top.Market,
		Bid:       top.Bid,
		Ask:       top.Ask,
		BidOrders: top.BidOrders,
		AskOrders: top.AskOrders,
		UpdatedAt: at,
	}
	if top.Bid == nil || top.Ask == nil {
		return q
	}
	lo, hi := top.Bid.Price, top.Ask.Price
	if lo > hi {
		lo, hi = hi, lo
		q.Crossed = true
	}
	q.Mid = lo + (hi-lo)/2
	if !q.Crossed {
		q.Spread = hi - lo
	}
	return q
}
