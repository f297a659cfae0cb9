package memory

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	telemetry "cyclerhub/internal/telemetry/domain"
)

// ErrDeviceCapacity rejects registration of unseen devices once the tracked
// count reaches the configured maximum.
var ErrDeviceCapacity = errors.New("tracked device capacity reached")

const shardCount = 32

// Store is the authoritative live view of the fleet: latest snapshot,
// bounded history, heartbeat and online flag per device. State is sharded by
// device id so distinct devices never contend on one lock; per-device
// mutation happens under the owning entry's mutex, which makes
// RecordSnapshot linearizable per device.
type Store struct {
	shards          [shardCount]shard
	historyCapacity int
	maxDevices      int
	deviceCount     atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*deviceEntry
}

type deviceEntry struct {
	mu            sync.Mutex
	latest        telemetry.DeviceSnapshot
	history       *telemetry.History
	lastHeartbeat time.Time
	online        bool
}

// NewStore creates a store. historyCapacity bounds each device ring;
// maxDevices caps the tracked fleet size (0 means unlimited).
func NewStore(historyCapacity, maxDevices int) *Store {
	s := &Store{historyCapacity: historyCapacity, maxDevices: maxDevices}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*deviceEntry)
	}
	return s
}

func (s *Store) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return &s.shards[h.Sum32()%shardCount]
}

// RecordSnapshot atomically stores the snapshot as latest, appends it to the
// device history, refreshes the heartbeat and flips the device online. It
// reports whether the device was offline or unseen immediately before, so
// the caller knows an online transition event is due.
func (s *Store) RecordSnapshot(snap telemetry.DeviceSnapshot, now time.Time) (wasOffline bool, err error) {
	sh := s.shardFor(snap.DeviceID)

	sh.mu.Lock()
	entry, ok := sh.entries[snap.DeviceID]
	if !ok {
		if s.maxDevices > 0 && s.deviceCount.Load() >= int64(s.maxDevices) {
			sh.mu.Unlock()
			return false, ErrDeviceCapacity
		}
		entry = &deviceEntry{history: telemetry.NewHistory(s.historyCapacity)}
		sh.entries[snap.DeviceID] = entry
		s.deviceCount.Add(1)
	}
	sh.mu.Unlock()

	stored := snap.Clone()

	entry.mu.Lock()
	wasOffline = !entry.online
	entry.latest = stored
	entry.history.Add(stored)
	entry.lastHeartbeat = now
	entry.online = true
	entry.mu.Unlock()

	return wasOffline, nil
}

func (s *Store) lookup(deviceID string) (*deviceEntry, bool) {
	sh := s.shardFor(deviceID)
	sh.mu.RLock()
	entry, ok := sh.entries[deviceID]
	sh.mu.RUnlock()
	return entry, ok
}

// Latest returns a copy of the most recent snapshot for the device.
func (s *Store) Latest(deviceID string) (telemetry.DeviceSnapshot, bool) {
	entry, ok := s.lookup(deviceID)
	if !ok {
		return telemetry.DeviceSnapshot{}, false
	}
	entry.mu.Lock()
	snap := entry.latest.Clone()
	entry.mu.Unlock()
	return snap, true
}

// History returns up to count most recent snapshots, oldest first.
func (s *Store) History(deviceID string, count int) []telemetry.DeviceSnapshot {
	entry, ok := s.lookup(deviceID)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	snaps := entry.history.Last(count)
	entry.mu.Unlock()
	for i := range snaps {
		snaps[i] = snaps[i].Clone()
	}
	return snaps
}

// OnlineDevices returns the ids of devices currently flagged online, sorted.
func (s *Store) OnlineDevices() []string {
	return s.collect(func(entry *deviceEntry) bool {
		entry.mu.Lock()
		online := entry.online
		entry.mu.Unlock()
		return online
	})
}

// KnownDevices returns every tracked device id, online or not, sorted.
func (s *Store) KnownDevices() []string {
	return s.collect(func(*deviceEntry) bool { return true })
}

func (s *Store) collect(keep func(*deviceEntry) bool) []string {
	var ids []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, entry := range sh.entries {
			if keep(entry) {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports the online flag; false for untracked devices.
func (s *Store) IsOnline(deviceID string) bool {
	entry, ok := s.lookup(deviceID)
	if !ok {
		return false
	}
	entry.mu.Lock()
	online := entry.online
	entry.mu.Unlock()
	return online
}

// LastHeartbeat returns the heartbeat timestamp for a tracked device.
func (s *Store) LastHeartbeat(deviceID string) (time.Time, bool) {
	entry, ok := s.lookup(deviceID)
	if !ok {
		return time.Time{}, false
	}
	entry.mu.Lock()
	hb := entry.lastHeartbeat
	entry.mu.Unlock()
	return hb, true
}

// Liveness returns the liveness record of every tracked device, sorted by
// id. The sweep iterates this view rather than holding store locks.
func (s *Store) Liveness() []telemetry.LivenessRecord {
	var records []telemetry.LivenessRecord
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, entry := range sh.entries {
			entry.mu.Lock()
			records = append(records, telemetry.LivenessRecord{
				DeviceID:      id,
				Online:        entry.online,
				LastHeartbeat: entry.lastHeartbeat,
			})
			entry.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })
	return records
}

// StatusSummary returns the per-device aggregate for every tracked device,
// sorted by id.
func (s *Store) StatusSummary() []telemetry.DeviceStatus {
	var summary []telemetry.DeviceStatus
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, entry := range sh.entries {
			entry.mu.Lock()
			status := telemetry.Summarize(entry.latest, entry.online, entry.lastHeartbeat)
			entry.mu.Unlock()
			status.DeviceID = id
			summary = append(summary, status)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(summary, func(i, j int) bool { return summary[i].DeviceID < summary[j].DeviceID })
	return summary
}

// MarkOffline clears the online flag without touching heartbeat or history.
// It reports whether the device was online; already-offline or untracked
// devices are a no-op.
func (s *Store) MarkOffline(deviceID string) bool {
	entry, ok := s.lookup(deviceID)
	if !ok {
		return false
	}
	entry.mu.Lock()
	wasOnline := entry.online
	entry.online = false
	entry.mu.Unlock()
	return wasOnline
}

// Evict removes all per-device records. Invoked only by the liveness sweep.
func (s *Store) Evict(deviceID string) bool {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	_, ok := sh.entries[deviceID]
	if ok {
		delete(sh.entries, deviceID)
		s.deviceCount.Add(-1)
	}
	sh.mu.Unlock()
	return ok
}

// DeviceCount returns the number of tracked devices.
func (s *Store) DeviceCount() int {
	return int(s.deviceCount.Load())
}

// HistoryTotal returns the total number of snapshots held across all rings.
func (s *Store) HistoryTotal() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, entry := range sh.entries {
			entry.mu.Lock()
			total += entry.history.Len()
			entry.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return total
}

// TrimHistories shrinks every device ring to at most m snapshots. Used by
// the maintenance job under memory pressure; capacity is unchanged.
func (s *Store) TrimHistories(m int) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, entry := range sh.entries {
			entry.mu.Lock()
			entry.history.TrimTo(m)
			entry.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
}
