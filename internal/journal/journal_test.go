package journal

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakimelghazi/clob-core/internal/engine"
	"github.com/hakimelghazi/clob-core/internal/market"
)

func openMem(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenWith("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

type entry struct {
	side engine.Side
	id   engine.OrderID
	pos  engine.Position
}

func collect(t *testing.T, j *Journal) []entry {
	t.Helper()
	var out []entry
	require.NoError(t, j.Positions(func(side engine.Side, id engine.OrderID, pos engine.Position) error {
		out = append(out, entry{side, id, pos})
		return nil
	}))
	return out
}

func TestPutDeleteScan(t *testing.T) {
	j := openMem(t)

	require.NoError(t, j.PutPosition(engine.SideBuy, engine.OrderID{Price: 9, Seq: 2}, engine.Position{Quantity: 3, Owner: "b1"}))
	require.NoError(t, j.PutPosition(engine.SideSell, engine.OrderID{Price: 300, Seq: 1}, engine.Position{Quantity: 1, Owner: "a1"}))
	require.NoError(t, j.PutPosition(engine.SideSell, engine.OrderID{Price: 20, Seq: 4}, engine.Position{Quantity: 5, Owner: "a2"}))
	// overwrite keeps one record
	require.NoError(t, j.PutPosition(engine.SideSell, engine.OrderID{Price: 20, Seq: 4}, engine.Position{Quantity: 2, Owner: "a2"}))

	got := collect(t, j)
	require.Len(t, got, 3)
	assert.Equal(t, entry{engine.SideSell, engine.OrderID{Price: 20, Seq: 4}, engine.Position{Quantity: 2, Owner: "a2"}}, got[0])
	assert.Equal(t, engine.OrderID{Price: 300, Seq: 1}, got[1].id)
	assert.Equal(t, engine.SideBuy, got[2].side)

	require.NoError(t, j.DeletePosition(engine.SideSell, engine.OrderID{Price: 300, Seq: 1}))
	assert.Len(t, collect(t, j), 2)
}

func TestKeyRoundTrip(t *testing.T) {
	id := engine.OrderID{Price: 1 << 40, Seq: 77}
	side, got, err := parseKey(keyFor(engine.SideBuy, id))
	require.NoError(t, err)
	assert.Equal(t, engine.SideBuy, side)
	assert.Equal(t, id, got)

	_, _, err = parseKey([]byte("pos/x/short"))
	assert.ErrorIs(t, err, ErrCorruptRecord)
	_, err = decodePosition([]byte{0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestEngineRebuildsFromJournal(t *testing.T) {
	ctx := context.Background()
	j := openMem(t)
	m := market.Market{Name: "BTC-USD", Base: "BTC", Quote: "USD", ScaleFactor: 1000}

	run := func() (*engine.Engine, context.CancelFunc) {
		eng, err := engine.NewEngine(engine.Config{Market: m, Journal: j})
		require.NoError(t, err)
		runCtx, cancel := context.WithCancel(ctx)
		go eng.Run(runCtx)
		return eng, cancel
	}

	first, stop := run()
	_, err := first.Place(ctx, engine.LimitOrder{Owner: "A", Side: engine.SideSell, Price: 10, Quantity: 9})
	require.NoError(t, err)
	_, err = first.Place(ctx, engine.LimitOrder{Owner: "B", Side: engine.SideSell, Price: 11, Quantity: 8})
	require.NoError(t, err)
	_, err = first.Market(ctx, engine.MarketOrder{Taker: "T", Side: engine.SideBuy, Quantity: 12})
	require.NoError(t, err)
	before, err := first.Depth(ctx, 10)
	require.NoError(t, err)
	stop()

	second, stop2 := run()
	defer stop2()
	after, err := second.Depth(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	require.Len(t, after.Asks, 1)
	assert.Equal(t, engine.PriceLevel{Price: 11, Quantity: 5, Orders: 1}, after.Asks[0])

	id, err := second.Place(ctx, engine.LimitOrder{Owner: "C", Side: engine.SideBuy, Price: 9, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id.Seq)
}

func TestSequenceSurvivesDeletes(t *testing.T) {
	fs := vfs.NewMem()
	j, err := OpenWith("journal", &pebble.Options{FS: fs})
	require.NoError(t, err)

	seq, err := j.LastSequence()
	require.NoError(t, err)
	assert.Zero(t, seq)

	id := engine.OrderID{Price: 10, Seq: 5}
	require.NoError(t, j.PutPosition(engine.SideSell, id, engine.Position{Quantity: 1, Owner: "a"}))
	// a reduce of an older order must not move the mark back
	require.NoError(t, j.PutPosition(engine.SideBuy, engine.OrderID{Price: 9, Seq: 2}, engine.Position{Quantity: 1, Owner: "b"}))
	require.NoError(t, j.DeletePosition(engine.SideSell, id))
	require.NoError(t, j.Close())

	j, err = OpenWith("journal", &pebble.Options{FS: fs})
	require.NoError(t, err)
	defer j.Close()
	seq, err = j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
	assert.Len(t, collect(t, j), 1)
}

func TestFilledOrderIdIsNotReusedAfterRestart(t *testing.T) {
	ctx := context.Background()
	j := openMem(t)
	m := market.Market{Name: "BTC-USD", Base: "BTC", Quote: "USD", ScaleFactor: 1000}

	run := func() (*engine.Engine, context.CancelFunc) {
		eng, err := engine.NewEngine(engine.Config{Market: m, Journal: j})
		require.NoError(t, err)
		runCtx, cancel := context.WithCancel(ctx)
		go eng.Run(runCtx)
		return eng, cancel
	}

	first, stop := run()
	filled, err := first.Place(ctx, engine.LimitOrder{Owner: "A", Side: engine.SideSell, Price: 10, Quantity: 1})
	require.NoError(t, err)
	res, err := first.Market(ctx, engine.MarketOrder{Taker: "T", Side: engine.SideBuy, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	stop()
	assert.Empty(t, collect(t, j))

	second, stop2 := run()
	defer stop2()
	again, err := second.Place(ctx, engine.LimitOrder{Owner: "A", Side: engine.SideSell, Price: 10, Quantity: 1})
	require.NoError(t, err)
	assert.NotEqual(t, filled, again)
	assert.Equal(t, uint64(2), again.Seq)
}
