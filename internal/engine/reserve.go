package engine

import "fmt"

type holdKey struct {
	owner string
	asset string
}

// holds tracks the collateral committed to resting orders. The ledger keeps
// the funds; holds only stop them from being spent twice.
type holds map[holdKey]uint64

func (h holds) held(owner, asset string) uint64 { return h[holdKey{owner, asset}] }

func (h holds) add(owner, asset string, amount uint64) {
	h[holdKey{owner, asset}] += amount
}

func (h holds) release(owner, asset string, amount uint64) {
	k := holdKey{owner, asset}
	if h[k] <= amount {
		delete(h, k)
		return
	}
	h[k] -= amount
}

// commitment is what a resting order of quantity lots at price ties up: base
// subunits for an ask, quote subunits for a bid.
func (e *Engine) commitment(side Side, price, quantity uint64) (string, uint64, error) {
	var (
		need uint64
		err  error
	)
	if side == SideSell {
		need, err = e.market.ToSubunits(quantity)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %w", ErrOverflow, err)
		}
		return e.market.Base, need, nil
	}
	need, err = mulChecked(price, quantity)
	if err != nil {
		return "", 0, err
	}
	return e.market.Quote, need, nil
}

func (e *Engine) hold(side Side, id OrderID, pos Position) error {
	asset, amount, err := e.commitment(side, id.Price, pos.Quantity)
	if err != nil {
		return err
	}
	e.holds.add(pos.Owner, asset, amount)
	return nil
}

// releaseHold frees the collateral behind quantity lots of a resting order.
func (e *Engine) releaseHold(side Side, id OrderID, owner string, quantity uint64) {
	asset, amount, err := e.commitment(side, id.Price, quantity)
	if err != nil {
		// the hold was computed from a larger quantity, so this cannot overflow
		return
	}
	e.holds.release(owner, asset, amount)
}
