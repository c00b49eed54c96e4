package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// ClickHouseProvider implements the Database interface using ClickHouse.
// Rows carry the record as a JSON blob next to the columns used as the
// sorting key, so the stored shape can evolve without migrations.
type ClickHouseProvider struct {
	conn     driver.Conn
	addr     string
	database string
	username string
	password string
}

var _ Database = (*ClickHouseProvider)(nil)

// configuredClickHouse sets up the ClickHouse provider.
// It registers flags for configuration.
func configuredClickHouse() *ClickHouseProvider {
	addr := lflag.String("clickhouse-addr", "127.0.0.1:9000", "ClickHouse native protocol address")
	database := lflag.String("clickhouse-database", "yetiwatch", "ClickHouse database")
	username := lflag.String("clickhouse-username", "default", "ClickHouse username")
	password := lflag.String("clickhouse-password", "", "ClickHouse password")

	c := &ClickHouseProvider{}

	lflag.Do(func() {
		c.addr = *addr
		c.database = *database
		c.username = *username
		c.password = *password
	})

	return c
}

// Init opens the connection and creates the tables if they don't exist.
// This must be called before using the provider methods.
func (c *ClickHouseProvider) Init(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{c.addr},
		Auth: clickhouse.Auth{
			Database: c.database,
			Username: c.username,
			Password: c.password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to clickhouse at %s: %w", c.addr, err)
	}
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping clickhouse at %s: %w", c.addr, err)
	}
	c.conn = conn
	return c.initSchema(ctx)
}

func (c *ClickHouseProvider) initSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS telemetry (
			captured_at DateTime64(3),
			device_id String,
			json String
		) ENGINE = MergeTree()
		ORDER BY (device_id, captured_at)`,
		`CREATE TABLE IF NOT EXISTS commands (
			resolved_at DateTime64(3),
			device_id String,
			json String
		) ENGINE = MergeTree()
		ORDER BY (device_id, resolved_at)`,
	}
	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the ClickHouse connection.
func (c *ClickHouseProvider) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close clickhouse connection: %w", err)
		}
	}
	return nil
}

// InsertTelemetry stores a snapshot as one telemetry row.
func (c *ClickHouseProvider) InsertTelemetry(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error {
	if deviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `INSERT INTO telemetry (captured_at, device_id, json) VALUES (?, ?, ?)`
	if err := c.conn.Exec(ctx, query, snap.CapturedAt, deviceID, string(jsonBytes)); err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// GetTelemetryHistory retrieves snapshots captured within the specified
// time range, oldest first.
func (c *ClickHouseProvider) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.DeviceSnapshot, error) {
	query := `
		SELECT json FROM telemetry
		WHERE device_id = ? AND captured_at >= ? AND captured_at < ?
		ORDER BY captured_at
	`
	rows, err := c.conn.Query(ctx, query, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var snaps []types.DeviceSnapshot
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		var snap types.DeviceSnapshot
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal telemetry row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetLatestTelemetryTime retrieves the capture time of the newest stored
// snapshot, zero when the device has none.
func (c *ClickHouseProvider) GetLatestTelemetryTime(ctx context.Context, deviceID string) (time.Time, error) {
	query := `
		SELECT captured_at FROM telemetry
		WHERE device_id = ?
		ORDER BY captured_at DESC
		LIMIT 1
	`
	var ts time.Time
	if err := c.conn.QueryRow(ctx, query, deviceID).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get latest telemetry time: %w", err)
	}
	return ts, nil
}

// InsertCommand stores a resolved command as one commands row.
func (c *ClickHouseProvider) InsertCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error {
	if deviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	jsonBytes, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal command outcome: %w", err)
	}

	query := `INSERT INTO commands (resolved_at, device_id, json) VALUES (?, ?, ?)`
	if err := c.conn.Exec(ctx, query, outcome.ResolvedAt, deviceID, string(jsonBytes)); err != nil {
		return fmt.Errorf("failed to insert command outcome: %w", err)
	}
	return nil
}

// GetCommandHistory retrieves command outcomes resolved within the
// specified time range, oldest first.
func (c *ClickHouseProvider) GetCommandHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.CommandOutcome, error) {
	query := `
		SELECT json FROM commands
		WHERE device_id = ? AND resolved_at >= ? AND resolved_at < ?
		ORDER BY resolved_at
	`
	rows, err := c.conn.Query(ctx, query, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var outcomes []types.CommandOutcome
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		var out types.CommandOutcome
		if err := json.Unmarshal([]byte(blob), &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command row: %w", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}
