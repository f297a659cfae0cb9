package telemetry

import (
	"testing"
	"time"
)

func TestCloneDoesNotShareSlices(t *testing.T) {
	snap := DeviceSnapshot{
		DeviceID:  "cycler-01",
		Timestamp: time.Now(),
		Channels:  []ChannelReading{{Channel: 0, Voltage: 3.7}},
		Alarms:    []AlarmReading{{Code: "OV", Severity: SeverityWarning}},
	}

	clone := snap.Clone()
	clone.Channels[0].Voltage = 4.2
	clone.Alarms[0].Severity = SeverityCritical

	if snap.Channels[0].Voltage != 3.7 {
		t.Fatal("clone mutation leaked into original channels")
	}
	if snap.Alarms[0].Severity != SeverityWarning {
		t.Fatal("clone mutation leaked into original alarms")
	}
}

func TestSummarize(t *testing.T) {
	hb := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := DeviceSnapshot{
		DeviceID:  "cycler-01",
		Timestamp: hb,
		Channels: []ChannelReading{
			{Channel: 0, Status: ChannelCharging, Power: 12.5},
			{Channel: 1, Status: ChannelIdle},
			{Channel: 2, Status: ChannelDischarging, Power: -8.0},
		},
		Alarms: []AlarmReading{
			{Code: "OT", Severity: SeverityWarning},
			{Code: "OV", Severity: SeverityCritical},
		},
	}

	status := Summarize(snap, true, hb)
	if status.ChannelCount != 3 {
		t.Fatalf("expected 3 channels, got %d", status.ChannelCount)
	}
	if status.ActiveChannels != 2 {
		t.Fatalf("expected 2 active channels, got %d", status.ActiveChannels)
	}
	if status.TotalPower != 4.5 {
		t.Fatalf("expected total power 4.5, got %v", status.TotalPower)
	}
	if status.AlarmCount != 2 {
		t.Fatalf("expected 2 alarms, got %d", status.AlarmCount)
	}
	if !status.HasCriticalAlarm {
		t.Fatal("expected critical alarm flag")
	}
	if !status.Online {
		t.Fatal("expected online")
	}
}

func TestSummarizeEmptySnapshot(t *testing.T) {
	status := Summarize(DeviceSnapshot{DeviceID: "cycler-02"}, false, time.Time{})
	if status.ChannelCount != 0 || status.ActiveChannels != 0 || status.TotalPower != 0 {
		t.Fatalf("expected zero aggregate, got %+v", status)
	}
	if status.HasCriticalAlarm {
		t.Fatal("expected no critical alarm")
	}
}
