package application

import (
	"context"
	"errors"
	"log"
	"time"

	"cyclerhub/internal/observability/metrics"
	telemetry "cyclerhub/internal/telemetry/domain"
	"cyclerhub/internal/telemetry/infrastructure/memory"
)

// Notifier receives fan-out events. Implemented by the broadcaster; all
// calls must return without blocking on subscriber delivery.
type Notifier interface {
	NotifyDeviceData(deviceID string, snap telemetry.DeviceSnapshot)
	NotifyStatusChanged(deviceID string, online bool, timestamp, lastHeartbeat time.Time)
	NotifyStatusSummary(summary []telemetry.DeviceStatus)
}

// AlarmJournal records alarm readings carried by accepted snapshots. The
// journal is advisory; failures never affect the live view.
type AlarmJournal interface {
	Record(ctx context.Context, deviceID string, at time.Time, alarms []telemetry.AlarmReading) error
}

// Sweeper runs one liveness sweep cycle out of band.
type Sweeper interface {
	SweepOnce(now time.Time) SweepResult
}

// Clock abstracts wall-clock time for tests.
type Clock interface {
	Now() time.Time
}

// Service is the facade surrounding application code calls: validation,
// ingestion, queries and explicit liveness commands.
type Service struct {
	store     *memory.Store
	validator telemetry.Validator
	notifier  Notifier
	journal   AlarmJournal
	sweeper   Sweeper
	clock     Clock
	logger    *log.Logger

	journalTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithJournal attaches the optional alarm journal.
func WithJournal(journal AlarmJournal) Option {
	return func(s *Service) { s.journal = journal }
}

// NewService constructs the telemetry service facade.
func NewService(store *memory.Store, validator telemetry.Validator, notifier Notifier, clock Clock, logger *log.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("telemetry service: nil store")
	}
	if notifier == nil {
		return nil, errors.New("telemetry service: nil notifier")
	}
	if clock == nil {
		return nil, errors.New("telemetry service: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		store:          store,
		validator:      validator,
		notifier:       notifier,
		clock:          clock,
		logger:         logger,
		journalTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AttachSweeper wires the liveness monitor after construction so that
// RunLivenessSweep can be invoked through the facade.
func (s *Service) AttachSweeper(sweeper Sweeper) {
	s.sweeper = sweeper
}

// Ingest validates and records one snapshot, then triggers fan-out. It
// returns whether the snapshot was accepted plus a reason on rejection.
// Rejection leaves the store untouched and emits no event.
func (s *Service) Ingest(ctx context.Context, snap telemetry.DeviceSnapshot) (bool, string) {
	start := s.clock.Now()

	if err := s.validator.Validate(snap); err != nil {
		s.logger.Printf("ingest: rejected snapshot from %q: %v", snap.DeviceID, err)
		metrics.IncRejected(rejectionReason(err))
		metrics.ObserveIngest(metrics.ResultError, s.clock.Now().Sub(start))
		return false, err.Error()
	}

	now := s.clock.Now()
	wasOffline, err := s.store.RecordSnapshot(snap, now)
	if err != nil {
		s.logger.Printf("ingest: rejected snapshot from %q: %v", snap.DeviceID, err)
		metrics.IncRejected(rejectionReason(err))
		metrics.ObserveIngest(metrics.ResultError, s.clock.Now().Sub(start))
		return false, err.Error()
	}

	s.notifier.NotifyDeviceData(snap.DeviceID, snap)
	if wasOffline {
		s.logger.Printf("device %s online", snap.DeviceID)
		metrics.IncStatusTransition("online")
		s.notifier.NotifyStatusChanged(snap.DeviceID, true, snap.Timestamp, now)
	}

	if s.journal != nil && len(snap.Alarms) > 0 {
		s.recordAlarms(snap)
	}

	metrics.ObserveIngest(metrics.ResultSuccess, s.clock.Now().Sub(start))
	return true, ""
}

// recordAlarms hands the journal write to a goroutine; the ingestion caller
// never observes journal errors.
func (s *Service) recordAlarms(snap telemetry.DeviceSnapshot) {
	deviceID := snap.DeviceID
	at := snap.Timestamp
	alarms := append([]telemetry.AlarmReading(nil), snap.Alarms...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.journalTimeout)
		defer cancel()
		if err := s.journal.Record(ctx, deviceID, at, alarms); err != nil {
			s.logger.Printf("alarm journal: record for %s failed: %v", deviceID, err)
		}
	}()
}

// Latest returns the most recent snapshot for a device.
func (s *Service) Latest(deviceID string) (telemetry.DeviceSnapshot, bool) {
	return s.store.Latest(deviceID)
}

// History returns up to count most recent snapshots, oldest first.
func (s *Service) History(deviceID string, count int) []telemetry.DeviceSnapshot {
	return s.store.History(deviceID, count)
}

// OnlineDevices returns ids of devices currently online.
func (s *Service) OnlineDevices() []string { return s.store.OnlineDevices() }

// KnownDevices returns ids of all tracked devices.
func (s *Service) KnownDevices() []string { return s.store.KnownDevices() }

// IsOnline reports liveness; false for untracked devices.
func (s *Service) IsOnline(deviceID string) bool { return s.store.IsOnline(deviceID) }

// LastHeartbeat returns the heartbeat timestamp for a tracked device.
func (s *Service) LastHeartbeat(deviceID string) (time.Time, bool) {
	return s.store.LastHeartbeat(deviceID)
}

// StatusSummary returns the per-device aggregate for the whole fleet.
func (s *Service) StatusSummary() []telemetry.DeviceStatus { return s.store.StatusSummary() }

// MarkOffline explicitly flips a device offline. It reports whether a
// transition happened; repeating the call while offline is a no-op and
// emits nothing.
func (s *Service) MarkOffline(deviceID, reason string) bool {
	if !s.store.MarkOffline(deviceID) {
		return false
	}
	now := s.clock.Now()
	hb, _ := s.store.LastHeartbeat(deviceID)
	s.logger.Printf("device %s offline (%s)", deviceID, reason)
	metrics.IncStatusTransition("offline")
	s.notifier.NotifyStatusChanged(deviceID, false, now, hb)
	return true
}

// RunLivenessSweep triggers one sweep cycle out of band. Safe to call at
// any time; overlapping cycles are skipped by the monitor's guard.
func (s *Service) RunLivenessSweep() SweepResult {
	if s.sweeper == nil {
		return SweepResult{}
	}
	return s.sweeper.SweepOnce(s.clock.Now())
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrEmptyDeviceID):
		return "empty_device_id"
	case errors.Is(err, memory.ErrDeviceCapacity):
		return "device_capacity"
	default:
		return "bounds"
	}
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
