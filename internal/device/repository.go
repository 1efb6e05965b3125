package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*State, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]State, error)

	// Save inserts or replaces the full state of a device.
	Save(ctx context.Context, state *State) error

	// MarkOffline flips the given devices to offline in a single statement.
	MarkOffline(ctx context.Context, ids []string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, kind, online, last_seen, last_sample,
	uptime, free_memory, wifi_signal, firmware_version,
	error_count, last_error, ack_timeout_ms, retry_attempts,
	created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*State, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	state, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return state, nil
}

// List retrieves all devices ordered by identifier.
func (r *SQLiteRepository) List(ctx context.Context) ([]State, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []State
	for rows.Next() {
		state, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}

	return devices, nil
}

// Save inserts or replaces the full state of a device.
func (r *SQLiteRepository) Save(ctx context.Context, state *State) error {
	sampleJSON, err := marshalNullable(state.LastSample)
	if err != nil {
		return fmt.Errorf("marshalling last_sample: %w", err)
	}
	errorJSON, err := marshalNullable(state.LastError)
	if err != nil {
		return fmt.Errorf("marshalling last_error: %w", err)
	}

	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			online = excluded.online,
			last_seen = excluded.last_seen,
			last_sample = excluded.last_sample,
			uptime = excluded.uptime,
			free_memory = excluded.free_memory,
			wifi_signal = excluded.wifi_signal,
			firmware_version = excluded.firmware_version,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			ack_timeout_ms = excluded.ack_timeout_ms,
			retry_attempts = excluded.retry_attempts,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		state.ID,
		state.Name,
		string(state.Kind),
		boolToInt(state.Online),
		unixMilliOrZero(state.LastSeen),
		sampleJSON,
		state.Uptime,
		state.FreeMemory,
		state.WifiSignal,
		state.FirmwareVersion,
		state.ErrorCount,
		errorJSON,
		state.AckTimeoutMS,
		state.RetryAttempts,
		state.CreatedAt.Format(time.RFC3339),
		state.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", state.ID, err)
	}
	return nil
}

// MarkOffline flips the given devices to offline in a single statement.
func (r *SQLiteRepository) MarkOffline(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := `UPDATE devices SET online = 0, updated_at = ? WHERE id IN (` + placeholders + `)`

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking devices offline: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice reads one device row into a State.
func scanDevice(row scanner) (*State, error) {
	var (
		state      State
		kind       string
		online     int
		lastSeenMS int64
		sampleJSON sql.NullString
		errorJSON  sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(
		&state.ID,
		&state.Name,
		&kind,
		&online,
		&lastSeenMS,
		&sampleJSON,
		&state.Uptime,
		&state.FreeMemory,
		&state.WifiSignal,
		&state.FirmwareVersion,
		&state.ErrorCount,
		&errorJSON,
		&state.AckTimeoutMS,
		&state.RetryAttempts,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.Kind = Kind(kind)
	state.Online = online != 0
	if lastSeenMS > 0 {
		state.LastSeen = time.UnixMilli(lastSeenMS).UTC()
	}
	if sampleJSON.Valid && sampleJSON.String != "" {
		if err := json.Unmarshal([]byte(sampleJSON.String), &state.LastSample); err != nil {
			return nil, fmt.Errorf("unmarshalling last_sample: %w", err)
		}
	}
	if errorJSON.Valid && errorJSON.String != "" {
		if err := json.Unmarshal([]byte(errorJSON.String), &state.LastError); err != nil {
			return nil, fmt.Errorf("unmarshalling last_error: %w", err)
		}
	}
	if state.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if state.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &state, nil
}

// marshalNullable marshals v to JSON, returning SQL NULL for nil values.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case map[string]float64:
		if val == nil {
			return nil, nil
		}
	case *LastError:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// unixMilliOrZero converts a time to unix milliseconds, mapping the zero
// time to 0 (never seen).
func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
