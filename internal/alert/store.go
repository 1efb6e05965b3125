package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists alerts to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a SQLite-backed alert store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an alert. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, a Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var dataJSON any
	if a.Data != nil {
		raw, err := json.Marshal(a.Data)
		if err != nil {
			return fmt.Errorf("marshalling alert data: %w", err)
		}
		dataJSON = string(raw)
	}

	query := `
		INSERT INTO alerts (id, device_id, type, message, severity, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.DeviceID,
		a.Type,
		a.Message,
		a.Severity,
		dataJSON,
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

// Recent returns the newest alerts, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, device_id, type, message, severity, data, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a         Alert
			dataJSON  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Type, &a.Message, &a.Severity, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &a.Data); err != nil {
				return nil, fmt.Errorf("unmarshalling alert data: %w", err)
			}
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rows: %w", err)
	}

	return alerts, nil
}
