package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"menutrack/api/config"
)

const analyticsEventsDDL = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id              UUID,
	event_type      LowCardinality(String),
	restaurant_id   String,
	menu_id         String,
	item_id         String,
	category_id     String,
	time_spent      UInt32,
	session_id      String,
	ip_hash         FixedString(64),
	user_agent_hash String,
	device_type     LowCardinality(String),
	page_path       String,
	referrer        String,
	metadata        String,
	timestamp       DateTime64(3, 'UTC'),
	received_at     DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (restaurant_id, event_type, timestamp)`

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

func NewClickHouseDB(cfg *config.Config) (*ClickHouseClient, error) {
	if cfg.ClickHouseHost == "" || cfg.ClickHouseDB == "" {
		return nil, fmt.Errorf("CLICKHOUSE_HOST or CLICKHOUSE_DB_NAME environment variables are not set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouseHost, cfg.ClickHouseNativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "menutrack-api", Version: "1.0.0"}},
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

	if err := conn.Exec(ctx, analyticsEventsDDL); err != nil {
		return nil, fmt.Errorf("failed to create analytics_events table: %w", err)
	}

	log.Info().Str("host", cfg.ClickHouseHost).Str("db", cfg.ClickHouseDB).Msg("connected to ClickHouse")
	return &ClickHouseClient{Conn: conn}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			log.Error().Err(err).Msg("error closing ClickHouse connection")
			return
		}
		log.Info().Msg("ClickHouse connection closed")
	}
}
