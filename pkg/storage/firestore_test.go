package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	// These tests need a running Firestore emulator.
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping firestore tests")
	}

	// Use a test project ID and a random database for isolation
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  fmt.Sprintf("test-db-%d", time.Now().UnixNano()),
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("EmptyDeviceID", func(t *testing.T) {
		err := f.InsertTelemetry(ctx, "", types.DeviceSnapshot{CapturedAt: time.Now()})
		assert.ErrorContains(t, err, "deviceID cannot be empty")
	})

	t.Run("Telemetry", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC() // Firestore doc IDs are RFC3339 (seconds)
		s1 := types.DeviceSnapshot{SOCPercent: 70, WattsOut: 55.5, CapturedAt: now.Add(-1 * time.Hour)}
		s2 := types.DeviceSnapshot{SOCPercent: 69, WattsOut: 60, CapturedAt: now}

		require.NoError(t, f.InsertTelemetry(ctx, "test-device", s1))
		require.NoError(t, f.InsertTelemetry(ctx, "test-device", s2))

		snaps, err := f.GetTelemetryHistory(ctx, "test-device", now.Add(-2*time.Hour), now.Add(1*time.Minute))
		require.NoError(t, err)

		foundS1 := false
		foundS2 := false
		for _, s := range snaps {
			if s.SOCPercent == 70 && s.CapturedAt.Equal(s1.CapturedAt) {
				foundS1 = true
			}
			if s.SOCPercent == 69 && s.CapturedAt.Equal(s2.CapturedAt) {
				foundS2 = true
			}
		}
		assert.True(t, foundS1, "did not find inserted s1")
		assert.True(t, foundS2, "did not find inserted s2")

		t.Run("GetLatestTelemetryTime", func(t *testing.T) {
			latest, err := f.GetLatestTelemetryTime(ctx, "test-device")
			require.NoError(t, err)
			assert.Equal(t, s2.CapturedAt, latest)
		})

		t.Run("RangeExcludesEnd", func(t *testing.T) {
			snaps, err := f.GetTelemetryHistory(ctx, "test-device", now.Add(-2*time.Hour), now)
			require.NoError(t, err)
			for _, s := range snaps {
				assert.True(t, s.CapturedAt.Before(now), "snapshot at %s should be before the end bound", s.CapturedAt)
			}
		})
	})

	t.Run("Commands", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC()
		o1 := types.CommandOutcome{
			ID:         "cmd-1",
			Field:      types.FieldACPort,
			Value:      1,
			Status:     types.OutcomeApplied,
			Polls:      2,
			ResolvedAt: now,
		}
		require.NoError(t, f.InsertCommand(ctx, "test-device", o1))

		outcomes, err := f.GetCommandHistory(ctx, "test-device", now.Add(-1*time.Minute), now.Add(1*time.Minute))
		require.NoError(t, err)

		foundO1 := false
		for _, o := range outcomes {
			if o.ID == "cmd-1" && o.Status == types.OutcomeApplied && o.Polls == 2 {
				foundO1 = true
			}
		}
		assert.True(t, foundO1, "did not find inserted command outcome")
	})

	t.Run("NoHistory", func(t *testing.T) {
		latest, err := f.GetLatestTelemetryTime(ctx, "never-seen")
		require.NoError(t, err)
		assert.True(t, latest.IsZero())
	})
}
