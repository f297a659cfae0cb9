package application

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"cyclerhub/internal/observability/metrics"
	"cyclerhub/internal/telemetry/infrastructure/memory"
)

// MonitorConfig carries the liveness and maintenance policy. All values are
// externally configured; there are no authoritative built-in thresholds.
type MonitorConfig struct {
	HeartbeatTimeout time.Duration
	InactivityWindow time.Duration
	SweepInterval    time.Duration
	SummaryInterval  time.Duration

	MaintenanceInterval time.Duration
	HistoryCapacity     int // per-device ring capacity, used as the trim base
	HistoryHighWater    int // total snapshots across all rings; 0 disables trimming
}

// SweepResult reports what one sweep cycle did.
type SweepResult struct {
	MarkedOffline int
	Evicted       int
}

// Monitor drives the liveness state machine: a periodic sweep flips devices
// offline after the heartbeat timeout and evicts them after the inactivity
// window. It also owns the periodic status-summary broadcast and the
// memory-pressure maintenance pass. Cycles are isolated; a failure on one
// device never stops the cycle or the schedule.
type Monitor struct {
	store    *memory.Store
	notifier Notifier
	clock    Clock
	logger   *log.Logger
	cfg      MonitorConfig

	sweeping atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor constructs the liveness monitor.
func NewMonitor(store *memory.Store, notifier Notifier, clock Clock, logger *log.Logger, cfg MonitorConfig) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("liveness monitor: nil store")
	}
	if notifier == nil {
		return nil, errors.New("liveness monitor: nil notifier")
	}
	if clock == nil {
		return nil, errors.New("liveness monitor: nil clock")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, errors.New("liveness monitor: heartbeat timeout must be positive")
	}
	if cfg.InactivityWindow <= cfg.HeartbeatTimeout {
		return nil, errors.New("liveness monitor: inactivity window must exceed heartbeat timeout")
	}
	if cfg.SweepInterval <= 0 {
		return nil, errors.New("liveness monitor: sweep interval must be positive")
	}
	return &Monitor{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the recurring schedule. Stop finishes the current cycle
// before returning.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop requests a graceful stop and waits for the current cycle to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	lastSummary := m.clock.Now()
	lastMaintenance := m.clock.Now()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		now := m.clock.Now()
		result := m.SweepOnce(now)

		summaryDue := m.cfg.SummaryInterval > 0 && now.Sub(lastSummary) >= m.cfg.SummaryInterval
		if summaryDue || result.MarkedOffline > 0 {
			m.notifier.NotifyStatusSummary(m.store.StatusSummary())
			lastSummary = now
		}

		if m.cfg.MaintenanceInterval > 0 && now.Sub(lastMaintenance) >= m.cfg.MaintenanceInterval {
			m.maintain()
			lastMaintenance = now
		}
	}
}

// SweepOnce runs a single sweep cycle against the store. Overlapping calls
// are skipped via a run flag so concurrent cycles never interleave. Safe to
// invoke out of band; a cycle that finds nothing to do is a no-op.
func (m *Monitor) SweepOnce(now time.Time) SweepResult {
	if !m.sweeping.CompareAndSwap(false, true) {
		return SweepResult{}
	}
	defer m.sweeping.Store(false)

	start := m.clock.Now()
	var result SweepResult

	for _, record := range m.store.Liveness() {
		if err := m.sweepDevice(record.DeviceID, record.Online, record.LastHeartbeat, now, &result); err != nil {
			m.logger.Printf("liveness sweep: device %s: %v", record.DeviceID, err)
		}
	}

	online := len(m.store.OnlineDevices())
	metrics.SetDeviceGauges(online, m.store.DeviceCount())
	metrics.ObserveSweep(m.clock.Now().Sub(start))
	metrics.AddEvictions(result.Evicted)

	if result.MarkedOffline > 0 || result.Evicted > 0 {
		m.logger.Printf("liveness sweep: %d marked offline, %d evicted, %d online", result.MarkedOffline, result.Evicted, online)
	}
	return result
}

// sweepDevice processes one device; a panic here is contained so the cycle
// continues with the next device.
func (m *Monitor) sweepDevice(deviceID string, online bool, lastHeartbeat time.Time, now time.Time, result *SweepResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	idle := now.Sub(lastHeartbeat)

	if idle > m.cfg.InactivityWindow {
		if m.store.Evict(deviceID) {
			result.Evicted++
			m.logger.Printf("device %s evicted after %s of inactivity", deviceID, idle.Truncate(time.Second))
		}
		return nil
	}

	if online && idle > m.cfg.HeartbeatTimeout {
		if m.store.MarkOffline(deviceID) {
			result.MarkedOffline++
			m.logger.Printf("device %s offline (heartbeat timeout)", deviceID)
			metrics.IncStatusTransition("offline")
			m.notifier.NotifyStatusChanged(deviceID, false, now, lastHeartbeat)
		}
	}
	return nil
}

// maintain trims every device ring to half its capacity when the total
// snapshot count passes the configured high-water mark.
func (m *Monitor) maintain() {
	if m.cfg.HistoryHighWater <= 0 || m.cfg.HistoryCapacity <= 0 {
		return
	}
	total := m.store.HistoryTotal()
	if total <= m.cfg.HistoryHighWater {
		return
	}
	target := m.cfg.HistoryCapacity / 2
	if target < 1 {
		target = 1
	}
	m.store.TrimHistories(target)
	metrics.IncHistoryTrim()
	m.logger.Printf("maintenance: trimmed histories, %d snapshots before, %d after", total, m.store.HistoryTotal())
}
