// Package market holds market registrations and their scale factors.
package market

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
)

var (
	ErrUnknownMarket      = errors.New("market: unknown market")
	ErrDuplicateMarket    = errors.New("market: already registered")
	ErrInvalidScaleFactor = errors.New("market: scale factor must be a power of ten")
	ErrInvalidMarket      = errors.New("market: name, base and quote are required")
	ErrOverflow           = errors.New("market: subunit amount overflows 64 bits")
)

// Market pairs a base and a quote asset. ScaleFactor is the number of base
// subunits in one lot, the unit orders are sized in.
type Market struct {
	Name        string `json:"name" yaml:"name"`
	Base        string `json:"base" yaml:"base"`
	Quote       string `json:"quote" yaml:"quote"`
	ScaleFactor uint64 `json:"scale_factor" yaml:"scale_factor"`
}

func (m Market) Validate() error {
	if m.Name == "" || m.Base == "" || m.Quote == "" {
		return ErrInvalidMarket
	}
	if !isPowerOfTen(m.ScaleFactor) {
		return fmt.Errorf("%w: %s has %d", ErrInvalidScaleFactor, m.Name, m.ScaleFactor)
	}
	return nil
}

// ToSubunits converts a lot count into base subunits.
func (m Market) ToSubunits(lots uint64) (uint64, error) {
	hi, lo := bits.Mul64(lots, m.ScaleFactor)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

func isPowerOfTen(v uint64) bool {
	if v == 0 {
		return false
	}
	for v%10 == 0 {
		v /= 10
	}
	return v == 1
}

// Registry is a concurrency-safe set of markets keyed by name.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]Market
}

func NewRegistry(markets ...Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]Market)}
	for _, m := range markets {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(m Market) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMarket, m.Name)
	}
	r.markets[m.Name] = m
	return nil
}

func (r *Registry) Lookup(name string) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[name]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	return m, nil
}

// ScaleFactor returns the base subunits per lot of the named market.
func (r *Registry) ScaleFactor(name string) (uint64, error) {
	m, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return m.ScaleFactor, nil
}

// Names returns the registered market names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.markets))
	for name := range r.markets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
