package db

import (
	"context"
	_ "embed"
	"errors"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

var ErrNoDatabaseURL = errors.New("db: no database url configured")

// NewPool connects to url, falling back to DATABASE_URL when url is empty.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, ErrNoDatabaseURL
	}
	return pgxpool.New(ctx, url)
}

// Migrate creates the balances and fills tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
