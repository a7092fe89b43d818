// Package registry keeps the alias-keyed user records. Users are created
// once and never changed afterwards.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

type Registry struct {
	store storage.Store
}

func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Register creates a user. Aliases compare case-sensitively.
func (r *Registry) Register(ctx context.Context, alias, name, carPlate string) (models.User, error) {
	u := models.User{Alias: alias, Name: name, CarPlate: carPlate}
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.UserByAlias(ctx, alias); err == nil {
			return models.Fail(models.ErrConflict, "Alias already registered")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.InsertUser(ctx, &u); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return models.Fail(models.ErrConflict, "Alias already registered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (r *Registry) LookupByAlias(ctx context.Context, alias string) (models.User, error) {
	var u models.User
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		u, err = r.Resolve(ctx, tx, alias, "User not found")
		return err
	})
	return u, err
}

func (r *Registry) LookupByID(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		u, err = tx.UserByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Fail(models.ErrNotFound, "User not found")
		}
		return err
	})
	return u, err
}

// List pages through users in registration order.
func (r *Registry) List(ctx context.Context, offset, count int) ([]models.User, error) {
	if count <= 0 {
		return []models.User{}, nil
	}
	var out []models.User
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListUsers(ctx, offset, count)
		return err
	})
	return out, err
}

// Resolve looks alias up inside a unit of work that is already open.
// detail is the message reported when nobody has that alias.
func (r *Registry) Resolve(ctx context.Context, tx storage.Tx, alias, detail string) (models.User, error) {
	u, err := tx.UserByAlias(ctx, alias)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, models.Fail(models.ErrNotFound, detail)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("resolve alias %q: %w", alias, err)
	}
	return u, nil
}
