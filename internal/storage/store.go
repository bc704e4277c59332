package storage

import (
	"context"
	"fmt"

	"fair/internal/config"
	"fair/internal/model"
)

// Store is everything the services need from a backend.
type Store interface {
	model.UserRepository
	model.CatalogRepository
	model.MessageRepository
	model.RequestRepository
	model.SupportRepository
	model.AuditRepository
	Close() error
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Pebble)(nil)
)

// Open connects the backend named by cfg.Database.Driver and prepares its
// schema.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverPebble:
		return OpenPebble(cfg.Database.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
