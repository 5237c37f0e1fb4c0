// Package store persists fill history in Postgres.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbsqlc "github.com/hakimelghazi/clob-core/db/sqlc"
	"github.com/hakimelghazi/clob-core/internal/engine"
)

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// FillStore writes every fill of a match in one transaction.
type FillStore struct {
	db      beginner
	queries *dbsqlc.Queries
}

// NewFillStore takes a *pgxpool.Pool (or anything else that can begin a
// transaction) and the queries bound to it.
func NewFillStore(db beginner, queries *dbsqlc.Queries) *FillStore {
	return &FillStore{db: db, queries: queries}
}

func (s *FillStore) RecordFills(ctx context.Context, market string, fills []engine.Fill) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	qtx := s.queries.WithTx(tx)

	if err := persistFills(ctx, qtx, market, fills); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("store: persist fills: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func persistFills(ctx context.Context, q *dbsqlc.Queries, market string, fills []engine.Fill) error {
	for _, f := range fills {
		arg, err := fillParams(market, f)
		if err != nil {
			return err
		}
		if err := q.InsertFill(ctx, arg); err != nil {
			return err
		}
	}
	return nil
}

func fillParams(market string, f engine.Fill) (dbsqlc.InsertFillParams, error) {
	id, err := newUUID()
	if err != nil {
		return dbsqlc.InsertFillParams{}, err
	}
	return dbsqlc.InsertFillParams{
		ID:           id,
		Market:       market,
		MakerOrderID: f.MakerOrderID.String(),
		Maker:        f.Maker,
		Taker:        f.Taker,
		TakerSide:    string(f.TakerSide),
		Price:        dbsqlc.NumericFromUint64(f.Price),
		Quantity:     dbsqlc.NumericFromUint64(f.Quantity),
		Kind:         f.Kind.String(),
	}, nil
}

func newUUID() (pgtype.UUID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}
