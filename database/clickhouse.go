package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"tourtrack/api/config"
)

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

func NewClickHouseDB(cfg config.ClickHouseConfig) (*ClickHouseClient, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("CLICKHOUSE_HOST or CLICKHOUSE_DB_NAME environment variables are not set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.NativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "tourtrack-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to ClickHouse")
	return &ClickHouseClient{Conn: conn}, nil
}

var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS tour_actions (
		session_id  String,
		property_id String,
		tour_kind   LowCardinality(String),
		action_type LowCardinality(String),
		target      String,
		room        String,
		timestamp   DateTime64(3, 'UTC'),
		dwell_ms    Int64,
		metadata    String
	) ENGINE = MergeTree
	ORDER BY (property_id, timestamp, session_id)`,
	`CREATE TABLE IF NOT EXISTS tour_milestones (
		session_id        String,
		property_id       String,
		kind              LowCardinality(String),
		value_score       UInt8,
		room              String,
		dwell_seconds     Float64,
		interaction_count UInt32,
		source            LowCardinality(String),
		timestamp         DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (session_id, kind, source, timestamp)`,
}

// Migrate creates the action log archive and milestone cache tables.
func (c *ClickHouseClient) Migrate(ctx context.Context) error {
	for _, stmt := range clickhouseSchema {
		if err := c.Conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply clickhouse schema: %w", err)
		}
	}
	return nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		log.Info().Msg("ClickHouse connection closed")
	}
}
