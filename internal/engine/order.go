package engine

import (
	"fmt"
	"strings"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case, plus the book-side aliases
// "bid"/"ask".
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return SideBuy, nil
	case "SELL", "ASK":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) valid() bool { return s == SideBuy || s == SideSell }

// LimitOrder is a request to rest liquidity on the book.
type LimitOrder struct {
	Owner    string
	Side     Side
	Price    uint64 // quote subunits per lot
	Quantity uint64 // lots
}

// MarketOrder takes liquidity from the opposite side of the book.
type MarketOrder struct {
	Taker    string
	Side     Side
	Quantity uint64 // lots
	// Budget caps the quote a buy may spend. Ignored for sells.
	Budget *uint64
}

// Position is what rests in the book under an OrderID.
type Position struct {
	Quantity uint64
	Owner    string
}
