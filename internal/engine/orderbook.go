package engine

import (
	"errors"
	"fmt"

	"github.com/hakimelghazi/clob-core/internal/critbit"
	"github.com/hakimelghazi/clob-core/internal/market"
)

// bookSide is one side of the book plus its cached best key.
type bookSide struct {
	side    Side
	tree    *critbit.Tree[Position]
	best    critbit.Key
	hasBest bool
}

// better reports whether a has priority over b on this side.
func (s *bookSide) better(a, b critbit.Key) bool {
	if s.side == SideBuy {
		return a.Cmp(b) > 0
	}
	return a.Cmp(b) < 0
}

func (s *bookSide) extreme() (critbit.Key, error) {
	if s.side == SideBuy {
		return s.tree.Max()
	}
	return s.tree.Min()
}

// next returns the key that follows key in priority order.
func (s *bookSide) next(key critbit.Key) (critbit.Key, bool, error) {
	if s.side == SideBuy {
		return s.tree.Predecessor(key)
	}
	return s.tree.Successor(key)
}

// Resting is a position as seen while walking the book.
type Resting struct {
	ID        OrderID
	Owner     string
	Remaining uint64
	key       critbit.Key
}

// PriceLevel aggregates every position resting at one price.
type PriceLevel struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	Orders   int    `json:"orders"`
}

// OrderBook holds the resting orders of one market. It is not safe for
// concurrent use; the Engine serializes access to it.
type OrderBook struct {
	market market.Market
	bids   *bookSide
	asks   *bookSide
	seq    uint64
}

func NewOrderBook(m market.Market, opts ...critbit.Option) *OrderBook {
	return &OrderBook{
		market: m,
		bids:   &bookSide{side: SideBuy, tree: critbit.New[Position](opts...)},
		asks:   &bookSide{side: SideSell, tree: critbit.New[Position](opts...)},
	}
}

func (ob *OrderBook) Market() market.Market { return ob.market }

func (ob *OrderBook) sideOf(s Side) (*bookSide, error) {
	switch s {
	case SideBuy:
		return ob.bids, nil
	case SideSell:
		return ob.asks, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// mustSide is for internal callers that have already validated s.
func (ob *OrderBook) mustSide(s Side) *bookSide {
	if s == SideBuy {
		return ob.bids
	}
	return ob.asks
}

// InsertRestingOrder places a new position on the given side and returns
// its identifier.
func (ob *OrderBook) InsertRestingOrder(side Side, price, quantity uint64, owner string) (OrderID, error) {
	bs, err := ob.sideOf(side)
	if err != nil {
		return OrderID{}, err
	}
	if price == 0 {
		return OrderID{}, ErrInvalidPrice
	}
	if quantity == 0 {
		return OrderID{}, ErrInvalidQuantity
	}
	if owner == "" {
		return OrderID{}, ErrInvalidOwner
	}

	id := OrderID{Price: price, Seq: ob.seq + 1}
	if err := ob.insert(bs, id, Position{Quantity: quantity, Owner: owner}); err != nil {
		return OrderID{}, err
	}
	ob.seq = id.Seq
	return id, nil
}

// Restore re-inserts a journaled position under its original identifier
// and advances the sequence counter past it.
func (ob *OrderBook) Restore(side Side, id OrderID, pos Position) error {
	bs, err := ob.sideOf(side)
	if err != nil {
		return err
	}
	if id.Price == 0 {
		return ErrInvalidPrice
	}
	if pos.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if err := ob.insert(bs, id, pos); err != nil {
		return err
	}
	ob.AdvanceSequence(id.Seq)
	return nil
}

// Sequence returns the last sequence number handed out.
func (ob *OrderBook) Sequence() uint64 { return ob.seq }

// AdvanceSequence moves the counter up to seq. It never moves it back.
func (ob *OrderBook) AdvanceSequence(seq uint64) {
	if seq > ob.seq {
		ob.seq = seq
	}
}

func (ob *OrderBook) insert(bs *bookSide, id OrderID, pos Position) error {
	key := encodeKey(bs.side, id)
	if err := bs.tree.Insert(key, pos); err != nil {
		return fmt.Errorf("insert %s %s: %w", bs.side, id, err)
	}
	if !bs.hasBest || bs.better(key, bs.best) {
		bs.best, bs.hasBest = key, true
	}
	return nil
}

// Cancel removes a resting order and returns what was left of it.
func (ob *OrderBook) Cancel(side Side, id OrderID) (Position, error) {
	bs, err := ob.sideOf(side)
	if err != nil {
		return Position{}, err
	}
	pos, err := bs.tree.Remove(encodeKey(side, id))
	if err != nil {
		if errors.Is(err, critbit.ErrKeyNotFound) {
			return Position{}, fmt.Errorf("%w: %s %s", ErrOrderNotFound, side, id)
		}
		return Position{}, err
	}
	ob.RefreshExtreme(side)
	return pos, nil
}

// Position returns the resting position for id.
func (ob *OrderBook) Position(side Side, id OrderID) (Position, error) {
	bs, err := ob.sideOf(side)
	if err != nil {
		return Position{}, err
	}
	pos, err := bs.tree.Get(encodeKey(side, id))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %s %s", ErrOrderNotFound, side, id)
	}
	return pos, nil
}

// Best returns the highest-priority position on side, using the cached
// extreme key.
func (ob *OrderBook) Best(side Side) (Resting, bool) {
	bs := ob.mustSide(side)
	if !bs.hasBest {
		return Resting{}, false
	}
	return ob.resting(bs, bs.best)
}

// BestPrice answers from the cache without touching the tree.
func (ob *OrderBook) BestPrice(side Side) (uint64, bool) {
	bs := ob.mustSide(side)
	if !bs.hasBest {
		return 0, false
	}
	return decodeKey(side, bs.best).Price, true
}

// AdvanceAfter returns the position that follows key in priority order:
// the successor on the ask side, the predecessor on the bid side.
func (ob *OrderBook) AdvanceAfter(side Side, after Resting) (Resting, bool) {
	bs := ob.mustSide(side)
	key, ok, err := bs.next(after.key)
	if err != nil || !ok {
		return Resting{}, false
	}
	return ob.resting(bs, key)
}

func (ob *OrderBook) resting(bs *bookSide, key critbit.Key) (Resting, bool) {
	pos, err := bs.tree.Get(key)
	if err != nil {
		return Resting{}, false
	}
	return Resting{
		ID:        decodeKey(bs.side, key),
		Owner:     pos.Owner,
		Remaining: pos.Quantity,
		key:       key,
	}, true
}

// ReduceOrRemove consumes quantity from a resting position, removing it
// once nothing remains. It returns the quantity left. The cached best key
// is not updated; call RefreshExtreme when done mutating the side.
func (ob *OrderBook) ReduceOrRemove(side Side, r Resting, consumed uint64) (uint64, error) {
	bs := ob.mustSide(side)
	pos, err := bs.tree.Ptr(r.key)
	if err != nil {
		return 0, fmt.Errorf("reduce %s %s: %w", side, r.ID, err)
	}
	if consumed > pos.Quantity {
		return 0, fmt.Errorf("reduce %s %s by %d: %w", side, r.ID, consumed, ErrInvalidQuantity)
	}
	pos.Quantity -= consumed
	if pos.Quantity > 0 {
		return pos.Quantity, nil
	}
	if _, err := bs.tree.Remove(r.key); err != nil {
		return 0, err
	}
	return 0, nil
}

// RefreshExtreme recomputes the cached best key of side.
func (ob *OrderBook) RefreshExtreme(side Side) {
	bs := ob.mustSide(side)
	key, err := bs.extreme()
	if err != nil {
		bs.best, bs.hasBest = critbit.Key{}, false
		return
	}
	bs.best, bs.hasBest = key, true
}

// PositionCount returns the number of resting orders on side.
func (ob *OrderBook) PositionCount(side Side) uint64 {
	return uint64(ob.mustSide(side).tree.Len())
}

// Depth aggregates up to levels price levels of side, best first.
func (ob *OrderBook) Depth(side Side, levels int) []PriceLevel {
	if levels <= 0 {
		return nil
	}
	bs := ob.mustSide(side)
	out := make([]PriceLevel, 0, levels)
	visit := func(key critbit.Key, pos Position) bool {
		price := key.Hi
		if n := len(out); n > 0 && out[n-1].Price == price {
			out[n-1].Quantity += pos.Quantity
			out[n-1].Orders++
			return true
		}
		if len(out) == levels {
			return false
		}
		out = append(out, PriceLevel{Price: price, Quantity: pos.Quantity, Orders: 1})
		return true
	}
	if side == SideBuy {
		bs.tree.Descend(visit)
	} else {
		bs.tree.Ascend(visit)
	}
	return out
}

// Walk visits every resting order on side in priority order.
func (ob *OrderBook) Walk(side Side, fn func(id OrderID, pos Position) bool) {
	bs := ob.mustSide(side)
	visit := func(key critbit.Key, pos Position) bool {
		return fn(decodeKey(side, key), pos)
	}
	if side == SideBuy {
		bs.tree.Descend(visit)
	} else {
		bs.tree.Ascend(visit)
	}
}
