package alarms

import (
	"context"
	"time"

	telemetry "cyclerhub/internal/telemetry/domain"
)

// Entry is one journaled alarm reading. The journal is an advisory record
// of alarms seen on the wire; the in-memory store stays the live view.
type Entry struct {
	ID         string                  `json:"id"`
	DeviceID   string                  `json:"deviceId"`
	Code       string                  `json:"code"`
	Severity   telemetry.AlarmSeverity `json:"severity"`
	Message    string                  `json:"message"`
	SnapshotAt time.Time               `json:"snapshotAt"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// Journal records and queries alarm entries.
type Journal interface {
	Record(ctx context.Context, deviceID string, at time.Time, alarms []telemetry.AlarmReading) error
	List(ctx context.Context, deviceID string, from, to time.Time) ([]Entry, error)
}
