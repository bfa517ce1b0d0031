package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
)

// Migrate applies the goose migrations found in dir.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	name := stdlib.RegisterConnConfig(s.db.Config().ConnConfig)
	defer stdlib.UnregisterConnConfig(name)

	db, err := sql.Open("pgx", name)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migration db: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up %s: %w", dir, err)
	}
	return nil
}
