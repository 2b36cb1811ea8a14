// README: Catalog store backed by PostgreSQL; prices are read only at placement time.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mesa/internal/types"
)

var ErrItemNotFound = errors.New("menu item not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Resolve(ctx context.Context, id types.ID) (Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, price, currency, available
		FROM menu_items
		WHERE id = $1`, string(id),
	)
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Price.Amount, &it.Price.Currency, &it.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return it, nil
}
