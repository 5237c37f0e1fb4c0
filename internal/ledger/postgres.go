package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	dbsqlc "github.com/hakimelghazi/clob-core/db/sqlc"
)

// beginner is satisfied by *pgxpool.Pool.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres keeps balances in the balances table.
type Postgres struct {
	db      beginner
	queries *dbsqlc.Queries
}

func NewPostgres(db beginner, queries *dbsqlc.Queries) *Postgres {
	return &Postgres{db: db, queries: queries}
}

func (p *Postgres) AvailableBalance(ctx context.Context, owner, asset string) (uint64, error) {
	n, err := p.queries.GetBalance(ctx, owner, asset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return dbsqlc.Uint64FromNumeric(n)
}

// Settle applies every leg inside one transaction.
func (p *Postgres) Settle(ctx context.Context, legs []Leg) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		err = tx.Commit(ctx)
	}()

	qtx := p.queries.WithTx(tx)
	for _, l := range legs {
		if err := applyLeg(ctx, qtx, l); err != nil {
			return err
		}
	}
	return nil
}

func applyLeg(ctx context.Context, q *dbsqlc.Queries, l Leg) error {
	amount := dbsqlc.NumericFromUint64(l.Amount)
	if l.Credit {
		return q.CreditBalance(ctx, dbsqlc.CreditBalanceParams{Owner: l.Owner, Asset: l.Asset, Amount: amount})
	}
	n, err := q.DebitBalance(ctx, dbsqlc.DebitBalanceParams{Owner: l.Owner, Asset: l.Asset, Amount: amount})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s needs %d %s", ErrInsufficientBalance, l.Owner, l.Amount, l.Asset)
	}
	return nil
}
