package engine

import (
	"fmt"
	"strconv"
	"strings"

	"lukechampine.com/uint128"

	"github.com/hakimelghazi/clob-core/internal/critbit"
)

// OrderID identifies a resting order by its price and the book-wide
// sequence number it was accepted with.
//
// On the index the pair is packed into one 128-bit key, price in the high
// word. Asks store the sequence as-is, so ascending keys run cheapest first
// and oldest first within a price. Bids store the complemented sequence, so
// descending keys run dearest first and still oldest first within a price.
type OrderID struct {
	Price uint64
	Seq   uint64
}

func (id OrderID) String() string {
	return strconv.FormatUint(id.Price, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// ParseOrderID parses the "<price>-<seq>" form produced by String.
func ParseOrderID(s string) (OrderID, error) {
	price, seq, ok := strings.Cut(s, "-")
	if !ok {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, s)
	}
	p, err := strconv.ParseUint(price, 10, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, s)
	}
	q, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, s)
	}
	return OrderID{Price: p, Seq: q}, nil
}

func encodeKey(side Side, id OrderID) critbit.Key {
	if side == SideBuy {
		return uint128.New(^id.Seq, id.Price)
	}
	return uint128.New(id.Seq, id.Price)
}

func decodeKey(side Side, key critbit.Key) OrderID {
	if side == SideBuy {
		return OrderID{Price: key.Hi, Seq: ^key.Lo}
	}
	return OrderID{Price: key.Hi, Seq: key.Lo}
}

func (id OrderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *OrderID) UnmarshalText(b []byte) error {
	parsed, err := ParseOrderID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
