package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskKeysAscendByPriceThenSequence(t *testing.T) {
	ids := []OrderID{{10, 1}, {10, 2}, {10, 900}, {11, 0}, {11, 3}, {1 << 40, 1}}
	for i := 1; i < len(ids); i++ {
		prev, cur := encodeKey(SideSell, ids[i-1]), encodeKey(SideSell, ids[i])
		assert.Negative(t, prev.Cmp(cur), "%v should sort before %v", ids[i-1], ids[i])
	}
}

func TestBidKeysDescendByPriceThenAscendBySequence(t *testing.T) {
	// priority order: highest price first, earliest sequence first
	ids := []OrderID{{1 << 40, 5}, {12, 1}, {12, 2}, {12, 900}, {11, 0}, {10, 3}}
	for i := 1; i < len(ids); i++ {
		prev, cur := encodeKey(SideBuy, ids[i-1]), encodeKey(SideBuy, ids[i])
		assert.Positive(t, prev.Cmp(cur), "%v should outrank %v", ids[i-1], ids[i])
	}
}

func TestKeyDecodeInvertsEncode(t *testing.T) {
	for _, id := range []OrderID{{1, 1}, {0, 0}, {^uint64(0), ^uint64(0)}, {77, 12345}} {
		for _, side := range []Side{SideBuy, SideSell} {
			assert.Equal(t, id, decodeKey(side, encodeKey(side, id)))
		}
	}
}

func TestParseOrderID(t *testing.T) {
	id, err := ParseOrderID("105-42")
	require.NoError(t, err)
	assert.Equal(t, OrderID{Price: 105, Seq: 42}, id)
	assert.Equal(t, "105-42", id.String())

	for _, bad := range []string{"", "105", "a-1", "1-b", "-1-2", "1--2"} {
		_, err := ParseOrderID(bad)
		assert.ErrorIs(t, err, ErrInvalidOrderID, bad)
	}
}

func TestOrderIDJSON(t *testing.T) {
	b, err := json.Marshal(map[string]OrderID{"id": {Price: 10, Seq: 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"10-3"}`, string(b))

	var out struct{ ID OrderID }
	require.NoError(t, json.Unmarshal([]byte(`{"ID":"11-4"}`), &out))
	assert.Equal(t, OrderID{Price: 11, Seq: 4}, out.ID)
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": SideBuy, " BID ": SideBuy, "Sell": SideSell, "ask": SideSell} {
		got, err := ParseSide(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSide("hold")
	assert.ErrorIs(t, err, ErrInvalidSide)
	assert.Equal(t, SideSell, SideBuy.Opposite())
}
