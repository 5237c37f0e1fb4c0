package engine

import (
	"errors"

	"github.com/hakimelghazi/clob-core/internal/market"
)

var (
	ErrInvalidSide            = errors.New("engine: invalid side")
	ErrInvalidPrice           = errors.New("engine: price must be positive")
	ErrInvalidQuantity        = errors.New("engine: quantity must be positive")
	ErrInvalidOwner           = errors.New("engine: owner required")
	ErrInvalidOrderID         = errors.New("engine: invalid order id")
	ErrOrderNotFound          = errors.New("engine: order not found")
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral")
	ErrSettlement             = errors.New("engine: settlement failed")
	ErrOverflow               = errors.New("engine: amount overflows 64 bits")
	ErrEngineStopped          = errors.New("engine: stopped")

	// ErrUnknownMarket is the registry's sentinel, so errors.Is matches
	// either name.
	ErrUnknownMarket = market.ErrUnknownMarket
)
