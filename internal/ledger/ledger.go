// Package ledger provides balance custody for matched fills: an in-memory
// implementation for tests and single-process runs, and a Postgres-backed
// one for the server.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBalanceOverflow     = errors.New("ledger: balance overflows 64 bits")
)

type account struct {
	owner string
	asset string
}

// Memory keeps balances in a map guarded by a mutex.
type Memory struct {
	mu       sync.Mutex
	balances map[account]uint64
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[account]uint64)}
}

// Deposit adds funds from outside the venue.
func (m *Memory) Deposit(owner, asset string, amount uint64) error {
	return m.Credit(context.Background(), owner, asset, amount)
}

func (m *Memory) AvailableBalance(_ context.Context, owner, asset string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account{owner, asset}], nil
}

// Leg is one balance movement of a settlement. Debits fail when the
// account holds less than Amount.
type Leg struct {
	Owner  string
	Asset  string
	Amount uint64
	Credit bool
}

func (m *Memory) Debit(ctx context.Context, owner, asset string, amount uint64) error {
	return m.Settle(ctx, []Leg{{Owner: owner, Asset: asset, Amount: amount}})
}

func (m *Memory) Credit(ctx context.Context, owner, asset string, amount uint64) error {
	return m.Settle(ctx, []Leg{{Owner: owner, Asset: asset, Amount: amount, Credit: true}})
}

// Settle applies every leg or none of them.
func (m *Memory) Settle(_ context.Context, legs []Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[account]uint64, len(legs))
	for _, l := range legs {
		acct := account{l.Owner, l.Asset}
		have, ok := staged[acct]
		if !ok {
			have = m.balances[acct]
		}
		next, err := apply(have, l)
		if err != nil {
			return err
		}
		staged[acct] = next
	}
	for acct, v := range staged {
		m.balances[acct] = v
	}
	return nil
}

func apply(have uint64, l Leg) (uint64, error) {
	if l.Credit {
		if l.Amount > math.MaxUint64-have {
			return 0, fmt.Errorf("%w: %s %s", ErrBalanceOverflow, l.Owner, l.Asset)
		}
		return have + l.Amount, nil
	}
	if have < l.Amount {
		return 0, fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientBalance, l.Owner, have, l.Asset, l.Amount)
	}
	return have - l.Amount, nil
}
