package telemetry

import "time"

// ChannelStatus is the operating state reported for a cycler channel.
type ChannelStatus string

const (
	ChannelIdle        ChannelStatus = "idle"
	ChannelActive      ChannelStatus = "active"
	ChannelCharging    ChannelStatus = "charging"
	ChannelDischarging ChannelStatus = "discharging"
	ChannelRest        ChannelStatus = "rest"
	ChannelFault       ChannelStatus = "fault"
)

// AlarmSeverity classifies alarm readings.
type AlarmSeverity string

const (
	SeverityInfo     AlarmSeverity = "info"
	SeverityWarning  AlarmSeverity = "warning"
	SeverityCritical AlarmSeverity = "critical"
)

// ChannelReading is one channel sample within a snapshot.
type ChannelReading struct {
	Channel     int           `json:"channel"`
	Status      ChannelStatus `json:"status"`
	Voltage     float64       `json:"voltage"`
	Current     float64       `json:"current"`
	Power       float64       `json:"power"`
	CapacityAh  float64       `json:"capacityAh"`
	Temperature float64       `json:"temperature"`
}

// AuxReading is an auxiliary sensor sample (thermocouples, voltage taps).
type AuxReading struct {
	ID    int     `json:"id"`
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

// CANReading is a decoded CAN bus signal sample.
type CANReading struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// LINReading is a decoded LIN bus signal sample.
type LINReading struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// AlarmReading is an alarm carried by a snapshot.
type AlarmReading struct {
	Code     string        `json:"code"`
	Severity AlarmSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// DeviceSnapshot is one telemetry sample pushed by a device. A snapshot with
// no readings is a valid heartbeat.
type DeviceSnapshot struct {
	DeviceID    string           `json:"deviceId"`
	Timestamp   time.Time        `json:"timestamp"`
	Channels    []ChannelReading `json:"channels,omitempty"`
	AuxReadings []AuxReading     `json:"auxReadings,omitempty"`
	CANReadings []CANReading     `json:"canReadings,omitempty"`
	LINReadings []LINReading     `json:"linReadings,omitempty"`
	Alarms      []AlarmReading   `json:"alarms,omitempty"`
}

// Clone returns a deep copy so callers never share backing slices with the
// store.
func (s DeviceSnapshot) Clone() DeviceSnapshot {
	out := s
	if s.Channels != nil {
		out.Channels = append([]ChannelReading(nil), s.Channels...)
	}
	if s.AuxReadings != nil {
		out.AuxReadings = append([]AuxReading(nil), s.AuxReadings...)
	}
	if s.CANReadings != nil {
		out.CANReadings = append([]CANReading(nil), s.CANReadings...)
	}
	if s.LINReadings != nil {
		out.LINReadings = append([]LINReading(nil), s.LINReadings...)
	}
	if s.Alarms != nil {
		out.Alarms = append([]AlarmReading(nil), s.Alarms...)
	}
	return out
}

// LivenessRecord is per-device derived state, never sent by the device.
type LivenessRecord struct {
	DeviceID      string    `json:"deviceId"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// DeviceStatus aggregates a device for the status summary broadcast.
type DeviceStatus struct {
	DeviceID         string    `json:"deviceId"`
	Online           bool      `json:"online"`
	LastHeartbeat    time.Time `json:"lastHeartbeat"`
	SnapshotAt       time.Time `json:"snapshotAt"`
	ChannelCount     int       `json:"channelCount"`
	ActiveChannels   int       `json:"activeChannels"`
	TotalPower       float64   `json:"totalPower"`
	AlarmCount       int       `json:"alarmCount"`
	HasCriticalAlarm bool      `json:"hasCriticalAlarm"`
}

// Summarize builds the per-device aggregate from the latest snapshot and the
// liveness record. Active counts every channel whose status is not idle.
func Summarize(snap DeviceSnapshot, online bool, lastHeartbeat time.Time) DeviceStatus {
	status := DeviceStatus{
		DeviceID:      snap.DeviceID,
		Online:        online,
		LastHeartbeat: lastHeartbeat,
		SnapshotAt:    snap.Timestamp,
		ChannelCount:  len(snap.Channels),
		AlarmCount:    len(snap.Alarms),
	}
	for _, ch := range snap.Channels {
		if ch.Status != ChannelIdle {
			status.ActiveChannels++
		}
		status.TotalPower += ch.Power
	}
	for _, alarm := range snap.Alarms {
		if alarm.Severity == SeverityCritical {
			status.HasCriticalAlarm = true
			break
		}
	}
	return status
}
