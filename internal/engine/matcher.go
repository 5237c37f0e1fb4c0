package engine

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/hakimelghazi/clob-core/internal/ledger"
)

// FillKind classifies one matching step.
type FillKind uint8

const (
	// FillPartial leaves quantity on the maker; matching stops.
	FillPartial FillKind = iota
	// FillExact exhausts maker and taker together.
	FillExact
	// FillComplete exhausts the maker while the taker still wants more.
	FillComplete
)

func (k FillKind) String() string {
	switch k {
	case FillPartial:
		return "partial"
	case FillExact:
		return "exact"
	case FillComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func (k FillKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type Fill struct {
	MakerOrderID   OrderID  `json:"maker_order_id"`
	Maker          string   `json:"maker"`
	Taker          string   `json:"taker"`
	TakerSide      Side     `json:"taker_side"`
	Price          uint64   `json:"price"`
	Quantity       uint64   `json:"quantity"` // lots
	MakerRemaining uint64   `json:"maker_remaining"`
	Kind           FillKind `json:"kind"`
}

type FillResult struct {
	Fills []Fill `json:"fills"`
	// BaseFilled is in base subunits, QuoteFilled in quote subunits.
	BaseFilled  uint64 `json:"base_filled"`
	QuoteFilled uint64 `json:"quote_filled"`
	// Unfilled is the requested quantity, in lots, left unmatched.
	Unfilled           uint64 `json:"unfilled"`
	InsufficientBudget bool   `json:"insufficient_budget"`
	NoLiquidity        bool   `json:"no_liquidity"`
	// Evicted lists makers removed because they could no longer fund a fill.
	Evicted []Eviction `json:"evicted,omitempty"`
}

type Eviction struct {
	OrderID   OrderID `json:"order_id"`
	Owner     string  `json:"owner"`
	Remaining uint64  `json:"remaining"`
}

// Ledger moves balances between counterparties. Amounts are in asset
// subunits. Settle applies all legs or none.
type Ledger interface {
	AvailableBalance(ctx context.Context, owner, asset string) (uint64, error)
	Settle(ctx context.Context, legs []ledger.Leg) error
}

type Matcher struct {
	book   *OrderBook
	ledger Ledger
}

// NewMatcher returns a matcher over book. A nil ledger matches without
// settling balances.
func NewMatcher(book *OrderBook, ledger Ledger) *Matcher {
	return &Matcher{book: book, ledger: ledger}
}

// Submit fills a market order against the opposite side of the book, best
// price first and oldest first within a price. Running out of liquidity or
// budget is reported through the result, not as an error.
// Makers that no longer hold what a fill would take from them are removed
// and listed in Evicted.
func (m *Matcher) Submit(ctx context.Context, o MarketOrder) (*FillResult, error) {
	if !o.Side.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if o.Quantity == 0 {
		return nil, ErrInvalidQuantity
	}

	target := o.Side.Opposite()
	res := &FillResult{Fills: make([]Fill, 0), Unfilled: o.Quantity}

	if m.book.PositionCount(target) == 0 {
		res.NoLiquidity = true
		return res, nil
	}
	maker, ok := m.book.Best(target)
	if !ok {
		res.NoLiquidity = true
		return res, nil
	}
	defer m.book.RefreshExtreme(target)

	var budget uint64
	hasBudget := o.Side == SideBuy && o.Budget != nil
	if hasBudget {
		budget = *o.Budget
	}

	for {
		fillable := min(res.Unfilled, maker.Remaining)
		short := false
		if hasBudget {
			if affordable := budget / maker.ID.Price; affordable < fillable {
				fillable, short = affordable, true
			}
		}
		if fillable == 0 {
			res.InsufficientBudget = true
			return res, nil
		}

		kind := FillComplete
		switch {
		case fillable < maker.Remaining:
			kind = FillPartial
		case fillable == res.Unfilled:
			kind = FillExact
		}

		quote, err := mulChecked(maker.ID.Price, fillable)
		if err != nil {
			return res, err
		}
		base, err := m.book.market.ToSubunits(fillable)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrOverflow, err)
		}
		if res.QuoteFilled+quote < res.QuoteFilled || res.BaseFilled+base < res.BaseFilled {
			return res, ErrOverflow
		}

		// The successor must be found before the maker can leave the tree.
		next, hasNext := m.book.AdvanceAfter(target, maker)

		funded, err := m.makerFunded(ctx, o.Side, maker.Owner, base, quote)
		if err != nil {
			return res, err
		}
		if !funded {
			if _, err := m.book.ReduceOrRemove(target, maker, maker.Remaining); err != nil {
				return res, err
			}
			res.Evicted = append(res.Evicted, Eviction{OrderID: maker.ID, Owner: maker.Owner, Remaining: maker.Remaining})
			if !hasNext {
				return res, nil
			}
			maker = next
			continue
		}

		if err := m.settle(ctx, o, maker.Owner, base, quote); err != nil {
			return res, err
		}
		left, err := m.book.ReduceOrRemove(target, maker, fillable)
		if err != nil {
			return res, err
		}

		res.Fills = append(res.Fills, Fill{
			MakerOrderID:   maker.ID,
			Maker:          maker.Owner,
			Taker:          o.Taker,
			TakerSide:      o.Side,
			Price:          maker.ID.Price,
			Quantity:       fillable,
			MakerRemaining: left,
			Kind:           kind,
		})
		res.Unfilled -= fillable
		res.BaseFilled += base
		res.QuoteFilled += quote
		if hasBudget {
			budget -= quote
		}

		if short {
			res.InsufficientBudget = true
			return res, nil
		}
		if res.Unfilled == 0 || !hasNext {
			return res, nil
		}
		maker = next
	}
}

// makerFunded reports whether the maker still holds what this fill takes
// from it. Balances can leave the ledger while an order rests.
func (m *Matcher) makerFunded(ctx context.Context, taker Side, maker string, base, quote uint64) (bool, error) {
	if m.ledger == nil {
		return true, nil
	}
	asset, need := m.book.market.Base, base
	if taker == SideSell {
		asset, need = m.book.market.Quote, quote
	}
	have, err := m.ledger.AvailableBalance(ctx, maker, asset)
	if err != nil {
		return false, err
	}
	return have >= need, nil
}

// settle moves base to the buyer and quote to the seller of one fill.
func (m *Matcher) settle(ctx context.Context, o MarketOrder, maker string, base, quote uint64) error {
	if m.ledger == nil {
		return nil
	}
	mk := m.book.market
	buyer, seller := o.Taker, maker
	if o.Side == SideSell {
		buyer, seller = maker, o.Taker
	}
	legs := []ledger.Leg{
		{Owner: buyer, Asset: mk.Quote, Amount: quote},
		{Owner: seller, Asset: mk.Base, Amount: base},
		{Owner: buyer, Asset: mk.Base, Amount: base, Credit: true},
		{Owner: seller, Asset: mk.Quote, Amount: quote, Credit: true},
	}
	if err := m.ledger.Settle(ctx, legs); err != nil {
		return fmt.Errorf("%w: buyer %s seller %s: %w", ErrSettlement, buyer, seller, err)
	}
	return nil
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}
