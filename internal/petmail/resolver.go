package petmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ltfpqrr/mailroom/internal/store"
)

// PGResolver resolves pets and owners from the application database.
type PGResolver struct {
	db *store.DB
}

func NewPGResolver(db *store.DB) *PGResolver {
	return &PGResolver{db: db}
}

func (r *PGResolver) Pet(ctx context.Context, id string) (*Pet, error) {
	query := `
		SELECT id, name, species, breed, tag_id, owner_id
		FROM pets
		WHERE id = $1
	`

	var p Pet
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Species, &p.Breed, &p.TagID, &p.OwnerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pet %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query pet: %w", err)
	}
	return &p, nil
}

func (r *PGResolver) Owner(ctx context.Context, id string) (*Owner, error) {
	query := `
		SELECT id, first_name, last_name, email
		FROM users
		WHERE id = $1
	`

	var o Owner
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&o.ID, &o.FirstName, &o.LastName, &o.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("owner %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query owner: %w", err)
	}
	return &o, nil
}
