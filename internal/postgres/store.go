package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/tracking"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements orders.Store on Postgres.
type Store struct {
	DB *pgxpool.Pool
}

var _ orders.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store { return &Store{DB: pool} }

func (s *Store) Orders() orders.Repository { return &OrderRepo{q: s.DB} }
func (s *Store) Ledger() tracking.Ledger { return &LedgerRepo{q: s.DB} }
func (s *Store) Catalog() inventory.Catalog { return &CatalogRepo{q: s.DB} }

// SeedProduct inserts or replaces a catalog row.
func (s *Store) SeedProduct(ctx context.Context, p inventory.Product) error {
	return (&CatalogRepo{q: s.DB}).UpsertProduct(ctx, p)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, txStores{tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStores struct{ tx pgx.Tx }

func (t txStores) Orders() orders.Repository { return &OrderRepo{q: t.tx} }
func (t txStores) Ledger() tracking.Ledger { return &LedgerRepo{q: t.tx} }
func (t txStores) Catalog() inventory.Catalog { return &CatalogRepo{q: t.tx} }
