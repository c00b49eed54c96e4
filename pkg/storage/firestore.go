package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each device gets its own telemetry and command subcollections.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(deviceID, name string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection(name), nil
}

// InsertTelemetry stores a snapshot in the "telemetry" collection as a JSON
// blob. The document ID is the RFC3339 capture timestamp for lexicographic
// ordering and efficient range queries.
func (f *FirestoreProvider) InsertTelemetry(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error {
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	coll, err := f.getCollection(deviceID, "telemetry")
	if err != nil {
		return err
	}
	docID := snap.CapturedAt.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Create(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": snap.CapturedAt,
	})
	if err != nil {
		// A snapshot is immutable at its capture time, so a duplicate
		// insert is already stored.
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// GetTelemetryHistory retrieves snapshots captured within the specified
// time range. Uses document ID range queries for efficient filtering
// without reading all documents.
func (f *FirestoreProvider) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.DeviceSnapshot, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(deviceID, "telemetry")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var snaps []types.DeviceSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating telemetry: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "telemetry doc missing json", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("telemetry document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "telemetry doc json not string", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
			return nil, fmt.Errorf("telemetry document %s 'json' field is not string", doc.Ref.ID)
		}

		var snap types.DeviceSnapshot
		if err := json.Unmarshal([]byte(jsonStr), &snap); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal telemetry", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal telemetry (id=%s): %w", doc.Ref.ID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// GetLatestTelemetryTime retrieves the capture time of the newest stored
// snapshot, zero when the device has none.
func (f *FirestoreProvider) GetLatestTelemetryTime(ctx context.Context, deviceID string) (time.Time, error) {
	coll, err := f.getCollection(deviceID, "telemetry")
	if err != nil {
		return time.Time{}, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest telemetry doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid telemetry doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}

// InsertCommand stores a resolved command in the "commands" collection as a
// JSON blob. The document ID is the RFC3339 resolution timestamp.
func (f *FirestoreProvider) InsertCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error {
	jsonBytes, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal command outcome: %w", err)
	}

	coll, err := f.getCollection(deviceID, "commands")
	if err != nil {
		return err
	}
	docID := outcome.ResolvedAt.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": outcome.ResolvedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert command outcome: %w", err)
	}
	return nil
}

// GetCommandHistory retrieves command outcomes resolved within the
// specified time range.
func (f *FirestoreProvider) GetCommandHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.CommandOutcome, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(deviceID, "commands")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var outcomes []types.CommandOutcome
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating commands: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "command doc missing json", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("command document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "command doc json not string", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
			return nil, fmt.Errorf("command document %s 'json' field is not string", doc.Ref.ID)
		}

		var out types.CommandOutcome
		if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal command", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal command (id=%s): %w", doc.Ref.ID, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
