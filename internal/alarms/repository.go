package alarms

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	telemetry "cyclerhub/internal/telemetry/domain"
)

// Repository is the Postgres-backed journal.
//
// Expected schema:
//
//	CREATE TABLE alarm_journal (
//	    id          TEXT PRIMARY KEY,
//	    device_id   TEXT NOT NULL,
//	    code        TEXT NOT NULL,
//	    severity    TEXT NOT NULL,
//	    message     TEXT NOT NULL DEFAULT '',
//	    snapshot_at TIMESTAMPTZ NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a journal repository; nil db yields nil.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Record inserts one row per alarm reading.
func (r *Repository) Record(ctx context.Context, deviceID string, at time.Time, readings []telemetry.AlarmReading) error {
	if r == nil || r.db == nil {
		return errors.New("alarm journal: nil db")
	}
	if deviceID == "" {
		return errors.New("alarm journal: empty device id")
	}
	now := time.Now().UTC()
	for _, reading := range readings {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO alarm_journal (
	id, device_id, code, severity, message, snapshot_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)`, uuid.NewString(), deviceID, reading.Code, string(reading.Severity), reading.Message, at, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// List returns journaled entries for a device in [from, to), newest first.
func (r *Repository) List(ctx context.Context, deviceID string, from, to time.Time) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm journal: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("alarm journal: empty device id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, code, severity, message, snapshot_at, created_at
FROM alarm_journal
WHERE device_id = $1 AND snapshot_at >= $2 AND snapshot_at < $3
ORDER BY snapshot_at DESC`, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var severity string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Code, &severity, &entry.Message, &entry.SnapshotAt, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Severity = telemetry.AlarmSeverity(severity)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
