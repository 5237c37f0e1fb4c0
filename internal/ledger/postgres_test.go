package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbsqlc "github.com/hakimelghazi/clob-core/db/sqlc"
)

// fakeTx counts statements; the failAt-th Exec fails.
type fakeTx struct {
	pgx.Tx
	execs      int
	failAt     int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	f.execs++
	if f.failAt > 0 && f.execs == f.failAt {
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct{ tx *fakeTx }

func (b fakeBeginner) Begin(context.Context) (pgx.Tx, error) { return b.tx, nil }

func settleLegs() []Leg {
	return []Leg{
		{Owner: "T", Asset: "USD", Amount: 10},
		{Owner: "S", Asset: "BTC", Amount: 1_000},
		{Owner: "T", Asset: "BTC", Amount: 1_000, Credit: true},
		{Owner: "S", Asset: "USD", Amount: 10, Credit: true},
	}
}

func TestPostgresSettleCommits(t *testing.T) {
	tx := &fakeTx{}
	p := NewPostgres(fakeBeginner{tx}, dbsqlc.New(tx))

	require.NoError(t, p.Settle(context.Background(), settleLegs()))
	assert.Equal(t, 4, tx.execs)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestPostgresSettleRollsBackFailedCredit(t *testing.T) {
	tx := &fakeTx{failAt: 3}
	p := NewPostgres(fakeBeginner{tx}, dbsqlc.New(tx))

	err := p.Settle(context.Background(), settleLegs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, tx.execs)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}
