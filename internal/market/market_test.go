package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcusd() Market {
	return Market{Name: "BTC-USD", Base: "BTC", Quote: "USD", ScaleFactor: 1000}
}

func TestValidateScaleFactor(t *testing.T) {
	for _, sf := range []uint64{1, 10, 100, 1_000_000, 1_000_000_000_000_000_000} {
		m := btcusd()
		m.ScaleFactor = sf
		assert.NoError(t, m.Validate(), "scale factor %d", sf)
	}
	for _, sf := range []uint64{0, 2, 15, 1001, 500} {
		m := btcusd()
		m.ScaleFactor = sf
		assert.ErrorIs(t, m.Validate(), ErrInvalidScaleFactor, "scale factor %d", sf)
	}

	m := btcusd()
	m.Quote = ""
	assert.ErrorIs(t, m.Validate(), ErrInvalidMarket)
}

func TestToSubunits(t *testing.T) {
	m := btcusd()
	v, err := m.ToSubunits(17)
	require.NoError(t, err)
	assert.Equal(t, uint64(17_000), v)

	_, err = m.ToSubunits(math.MaxUint64 / 10)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(btcusd())
	require.NoError(t, err)

	sf, err := r.ScaleFactor("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), sf)

	_, err = r.ScaleFactor("ETH-USD")
	assert.ErrorIs(t, err, ErrUnknownMarket)

	assert.ErrorIs(t, r.Register(btcusd()), ErrDuplicateMarket)

	require.NoError(t, r.Register(Market{Name: "ETH-USD", Base: "ETH", Quote: "USD", ScaleFactor: 1}))
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, r.Names())
}
