package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"menutrack/api/models"
)

// ErrRestaurantNotFound is returned when no restaurant matches the id or slug.
var ErrRestaurantNotFound = errors.New("restaurant not found")

type RestaurantStore struct {
	db *sql.DB
}

// NewRestaurantStore creates a new RestaurantStore instance.
func NewRestaurantStore(db *sql.DB) *RestaurantStore {
	return &RestaurantStore{db: db}
}

// FindRestaurant looks a restaurant up by id or by public slug. Public menu
// pages only know the slug from their URL.
func (s *RestaurantStore) FindRestaurant(ctx context.Context, ref string) (*models.Restaurant, error) {
	r := &models.Restaurant{}
	query := `
		SELECT id, slug, name, active, COALESCE(owner_id, 0), created_at, updated_at
		FROM restaurants
		WHERE slug = $1 OR id::text = $1
		LIMIT 1;
	`
	err := s.db.QueryRowContext(ctx, query, ref).Scan(
		&r.ID,
		&r.Slug,
		&r.Name,
		&r.Active,
		&r.OwnerID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRestaurantNotFound, ref)
		}
		return nil, fmt.Errorf("failed to get restaurant %q: %w", ref, err)
	}

	return r, nil
}
