// Package storagemock provides a testify mock of the storage.Database
// interface for tests in other packages.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/yetiwatch/yetiwatch/pkg/storage"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertTelemetry(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error {
	args := m.Called(ctx, deviceID, snap)
	return args.Error(0)
}

func (m *MockDatabase) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.DeviceSnapshot, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		snaps, _ := args.Get(0).([]types.DeviceSnapshot)
		return snaps, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestTelemetryTime(ctx context.Context, deviceID string) (time.Time, error) {
	args := m.Called(ctx, deviceID)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) InsertCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error {
	args := m.Called(ctx, deviceID, outcome)
	return args.Error(0)
}

func (m *MockDatabase) GetCommandHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.CommandOutcome, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		outcomes, _ := args.Get(0).([]types.CommandOutcome)
		return outcomes, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
