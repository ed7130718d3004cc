// Package inventory is the stock side of treatment completion. The catalog
// itself is owned elsewhere; only stock counts are adjusted here.
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

var (
	ErrItemNotFound      = apperr.New(apperr.KindNotFound, "inventory item not found")
	ErrInsufficientStock = apperr.New(apperr.KindInvalidInput, "insufficient stock")
)

// Adjuster changes the stock of one item by delta. Implementations join the
// transaction carried by ctx.
type Adjuster interface {
	AdjustStock(ctx context.Context, itemID uuid.UUID, delta int) error
}

type PgAdjuster struct {
	pool *pgxpool.Pool
}

func NewPgAdjuster(pool *pgxpool.Pool) *PgAdjuster {
	return &PgAdjuster{pool: pool}
}

func (a *PgAdjuster) AdjustStock(ctx context.Context, itemID uuid.UUID, delta int) error {
	q := db.Conn(ctx, a.pool)

	tag, err := q.Exec(ctx, `
		UPDATE inventory_items
		SET stock = stock + $2
		WHERE id = $1
		  AND stock + $2 >= 0
	`, itemID, delta)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return fmt.Errorf("check inventory item: %w", err)
	}
	if !exists {
		return ErrItemNotFound
	}
	return ErrInsufficientStock
}

// Item is the minimal catalog row the seed tool writes.
type Item struct {
	ID    uuid.UUID
	Name  string
	Stock int
}

func (a *PgAdjuster) Upsert(ctx context.Context, it Item) error {
	_, err := db.Conn(ctx, a.pool).Exec(ctx, `
		INSERT INTO inventory_items (id, name, stock) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, stock = EXCLUDED.stock
	`, it.ID, it.Name, it.Stock)
	if err != nil {
		return fmt.Errorf("upsert inventory item: %w", err)
	}
	return nil
}
