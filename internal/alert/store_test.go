package alert

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE alerts (
			id         TEXT PRIMARY KEY,
			device_id  TEXT NOT NULL,
			type       TEXT NOT NULL,
			message    TEXT NOT NULL,
			severity   TEXT NOT NULL DEFAULT 'medium',
			data       TEXT,
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestStoreRecordAndRecent(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	a := Alert{
		DeviceID: "GREENHOUSE-A1",
		Type:     TypeThresholdExceeded,
		Message:  "temperature 31.2 > 30",
		Severity: "high",
		Data:     map[string]any{"parameter": "temperature", "value": 31.2},
	}
	if err := store.Record(ctx, a); err != nil {
		t.Fatalf("Record: %v", err)
	}

	alerts, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Recent returned %d alerts, want 1", len(alerts))
	}

	got := alerts[0]
	if got.ID == "" {
		t.Error("Record should assign an ID")
	}
	if got.CreatedAt.IsZero() {
		t.Error("Record should assign a timestamp")
	}
	if got.Type != TypeThresholdExceeded || got.Severity != "high" {
		t.Errorf("alert = %+v", got)
	}
	if got.Data["parameter"] != "temperature" {
		t.Errorf("Data = %v", got.Data)
	}
}

// fanoutSpy records broadcast calls.
type fanoutSpy struct {
	mu       sync.Mutex
	channels []string
}

func (s *fanoutSpy) Broadcast(channel string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
}

// failingSink always rejects.
type failingSink struct{}

func (failingSink) Record(context.Context, Alert) error {
	return errors.New("store down")
}

func TestFanoutBroadcastsAfterStore(t *testing.T) {
	spy := &fanoutSpy{}
	sink := NewFanout(NewStore(setupTestDB(t)), spy)

	if err := sink.Record(context.Background(), Alert{DeviceID: "d", Type: TypeDeviceEvent, Message: "motion"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(spy.channels) != 1 || spy.channels[0] != "alert.triggered" {
		t.Errorf("broadcasts = %v, want [alert.triggered]", spy.channels)
	}
}

func TestFanoutSkipsBroadcastOnStoreFailure(t *testing.T) {
	spy := &fanoutSpy{}
	sink := NewFanout(failingSink{}, spy)

	if err := sink.Record(context.Background(), Alert{}); err == nil {
		t.Error("Record should propagate store failure")
	}
	if len(spy.channels) != 0 {
		t.Errorf("broadcasts = %v, want none on store failure", spy.channels)
	}
}
