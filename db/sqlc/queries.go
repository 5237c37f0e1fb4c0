package dbsqlc

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var ErrNotUint64 = errors.New("dbsqlc: numeric is not a uint64")

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getBalance = `SELECT amount FROM balances WHERE owner = $1 AND asset = $2`

func (q *Queries) GetBalance(ctx context.Context, owner, asset string) (pgtype.Numeric, error) {
	var amount pgtype.Numeric
	err := q.db.QueryRow(ctx, getBalance, owner, asset).Scan(&amount)
	return amount, err
}

const debitBalance = `UPDATE balances SET amount = amount - $3
WHERE owner = $1 AND asset = $2 AND amount >= $3`

type DebitBalanceParams struct {
	Owner  string
	Asset  string
	Amount pgtype.Numeric
}

// DebitBalance returns the number of rows changed; zero means the account
// is missing or holds less than Amount.
func (q *Queries) DebitBalance(ctx context.Context, arg DebitBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, debitBalance, arg.Owner, arg.Asset, arg.Amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const creditBalance = `INSERT INTO balances (owner, asset, amount) VALUES ($1, $2, $3)
ON CONFLICT (owner, asset) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`

type CreditBalanceParams struct {
	Owner  string
	Asset  string
	Amount pgtype.Numeric
}

func (q *Queries) CreditBalance(ctx context.Context, arg CreditBalanceParams) error {
	_, err := q.db.Exec(ctx, creditBalance, arg.Owner, arg.Asset, arg.Amount)
	return err
}

const insertFill = `INSERT INTO fills
(id, market, maker_order_id, maker, taker, taker_side, price, quantity, kind)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

type InsertFillParams struct {
	ID           pgtype.UUID
	Market       string
	MakerOrderID string
	Maker        string
	Taker        string
	TakerSide    string
	Price        pgtype.Numeric
	Quantity     pgtype.Numeric
	Kind         string
}

func (q *Queries) InsertFill(ctx context.Context, arg InsertFillParams) error {
	_, err := q.db.Exec(ctx, insertFill,
		arg.ID,
		arg.Market,
		arg.MakerOrderID,
		arg.Maker,
		arg.Taker,
		arg.TakerSide,
		arg.Price,
		arg.Quantity,
		arg.Kind,
	)
	return err
}

const listFillsByOrder = `SELECT id, market, maker_order_id, maker, taker, taker_side, price, quantity, kind, created_at
FROM fills WHERE maker_order_id = $1 ORDER BY created_at`

type Fill struct {
	ID           pgtype.UUID    `json:"id"`
	Market       string         `json:"market"`
	MakerOrderID string         `json:"maker_order_id"`
	Maker        string         `json:"maker"`
	Taker        string         `json:"taker"`
	TakerSide    string         `json:"taker_side"`
	Price        pgtype.Numeric `json:"price"`
	Quantity     pgtype.Numeric `json:"quantity"`
	Kind         string         `json:"kind"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (q *Queries) ListFillsByOrder(ctx context.Context, makerOrderID string) ([]Fill, error) {
	rows, err := q.db.Query(ctx, listFillsByOrder, makerOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Fill{}
	for rows.Next() {
		var i Fill
		if err := rows.Scan(
			&i.ID,
			&i.Market,
			&i.MakerOrderID,
			&i.Maker,
			&i.Taker,
			&i.TakerSide,
			&i.Price,
			&i.Quantity,
			&i.Kind,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func NumericFromUint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   new(big.Int).SetUint64(v),
		Valid: true,
	}
}

// Uint64FromNumeric converts an integral, non-negative numeric. Postgres may
// return trailing zeros folded into a positive exponent.
func Uint64FromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return 0, ErrNotUint64
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		v.QuoRem(v, div, &rem)
		if rem.Sign() != 0 {
			return 0, ErrNotUint64
		}
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, ErrNotUint64
	}
	return v.Uint64(), nil
}
