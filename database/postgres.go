package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"menutrack/api/config"
)

const restaurantsDDL = `
CREATE TABLE IF NOT EXISTS restaurants (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	owner_id   INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE restaurants ADD COLUMN IF NOT EXISTS owner_id INTEGER;
CREATE INDEX IF NOT EXISTS restaurants_owner_id_idx ON restaurants (owner_id)`

type DBClient struct {
	DB *sql.DB
}

func NewPostgresDB(cfg *config.Config) (*DBClient, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	if _, err = db.ExecContext(ctx, restaurantsDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating restaurants table: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DBClient{DB: db}, nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database connection")
			return
		}
		log.Info().Msg("PostgreSQL connection closed")
	}
}
