// Package storage persists telemetry and command history.
//
// The memory provider is the default and needs no external services; the
// firestore and clickhouse providers are for installs that want history to
// survive restarts.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Database defines the interface for persisting device history.
type Database interface {
	// Telemetry
	InsertTelemetry(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error
	GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.DeviceSnapshot, error)
	GetLatestTelemetryTime(ctx context.Context, deviceID string) (time.Time, error)

	// Commands
	InsertCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error
	GetCommandHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.CommandOutcome, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore, clickhouse)")

	var p struct{ Database }

	fs := configuredFirestore()
	ch := configuredClickHouse()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Database = NewMemory()
		case "firestore":
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "clickhouse":
			p.Database = ch
			if err := ch.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("clickhouse init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
