package database

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements core.Store on a connection pool.
type Store struct {
	pool *pgxpool.Pool
	q    *Queries
}

var _ core.Store = (*Store)(nil)

// NewStore returns a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: New(pool)}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ListEditedOrders implements core.EditSource.
func (s *Store) ListEditedOrders(ctx context.Context) ([]core.EditRecord, error) {
	return s.q.ListEditedOrders(ctx)
}

// UpsertOrders writes one chunk of new orders. The statement is atomic.
func (s *Store) UpsertOrders(ctx context.Context, orders []core.NormalizedOrder) (int64, error) {
	n, err := s.q.UpsertOrders(ctx, orders)
	if err != nil {
		return 0, fmt.Errorf("upsert %d orders: %w", len(orders), err)
	}
	return n, nil
}

// UpdateMergedOrders writes one chunk of merged orders in a transaction.
func (s *Store) UpdateMergedOrders(ctx context.Context, orders []core.MergedOrder) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		n, err = s.q.WithTx(tx).UpdateMergedOrders(ctx, orders)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update %d merged orders: %w", len(orders), err)
	}
	return n, nil
}

// InsertImportLog implements core.ImportLogWriter.
func (s *Store) InsertImportLog(ctx context.Context, entry core.ImportLogEntry) error {
	if err := s.q.InsertImportLog(ctx, entry); err != nil {
		return fmt.Errorf("insert import log: %w", err)
	}
	return nil
}

// ResetProtection clears the edit history of one order.
func (s *Store) ResetProtection(ctx context.Context, orderNumber string) (bool, error) {
	return s.q.ResetProtection(ctx, orderNumber)
}
