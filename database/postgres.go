package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tourtrack/api/config"
)

type DBClient struct {
	DB *sql.DB
}

func NewPostgresDB(cfg config.PostgresConfig) (*DBClient, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DBClient{DB: db}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id              SERIAL PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	display_name    TEXT NOT NULL DEFAULT '',
	hashed_password BYTEA NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tour_sessions (
	session_id         TEXT PRIMARY KEY,
	property_id        TEXT NOT NULL,
	user_id            TEXT,
	tour_type          TEXT NOT NULL CHECK (tour_type IN ('virtual_3d', 'realsee', 'video')),
	user_info          JSONB,
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ,
	total_duration     INTEGER NOT NULL DEFAULT 0,
	rooms_visited      JSONB NOT NULL DEFAULT '[]',
	actions_taken      JSONB NOT NULL DEFAULT '[]',
	completed          BOOLEAN NOT NULL DEFAULT false,
	completion_reason  TEXT NOT NULL DEFAULT '',
	engagement_score   INTEGER NOT NULL DEFAULT 0 CHECK (engagement_score BETWEEN 0 AND 100),
	lead_quality_score INTEGER NOT NULL DEFAULT 0 CHECK (lead_quality_score BETWEEN 0 AND 65),
	event_sent         BOOLEAN NOT NULL DEFAULT false,
	event_id           TEXT,
	fbclid             TEXT NOT NULL DEFAULT '',
	fbp                TEXT NOT NULL DEFAULT '',
	utm_source         TEXT NOT NULL DEFAULT '',
	utm_medium         TEXT NOT NULL DEFAULT '',
	utm_campaign       TEXT NOT NULL DEFAULT '',
	utm_content        TEXT NOT NULL DEFAULT '',
	utm_term           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (NOT event_sent OR event_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_tour_sessions_property_start ON tour_sessions (property_id, start_time DESC);
`

// Migrate creates the tables this service owns when they are missing.
func (c *DBClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database connection")
		} else {
			log.Info().Msg("PostgreSQL connection closed")
		}
	}
}
