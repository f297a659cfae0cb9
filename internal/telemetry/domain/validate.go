package telemetry

import (
	"errors"
	"fmt"
)

// ErrEmptyDeviceID rejects snapshots without a device identifier.
var ErrEmptyDeviceID = errors.New("empty deviceId")

// Limits bounds the sequences a snapshot may carry. Zero means unlimited;
// all values come from configuration, never hard-coded policy.
type Limits struct {
	MaxChannels int
	MaxAux      int
	MaxCAN      int
	MaxLIN      int
	MaxAlarms   int
}

// Validator performs pure bound checks on incoming snapshots. A snapshot
// violating any bound is rejected wholesale.
type Validator struct {
	limits Limits
}

// NewValidator constructs a validator with the given limits.
func NewValidator(limits Limits) Validator {
	return Validator{limits: limits}
}

// Validate returns nil when the snapshot is acceptable, otherwise an error
// naming the first violated bound. It has no side effects.
func (v Validator) Validate(snap DeviceSnapshot) error {
	if snap.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if err := checkBound("channels", len(snap.Channels), v.limits.MaxChannels); err != nil {
		return err
	}
	if err := checkBound("auxReadings", len(snap.AuxReadings), v.limits.MaxAux); err != nil {
		return err
	}
	if err := checkBound("canReadings", len(snap.CANReadings), v.limits.MaxCAN); err != nil {
		return err
	}
	if err := checkBound("linReadings", len(snap.LINReadings), v.limits.MaxLIN); err != nil {
		return err
	}
	return checkBound("alarms", len(snap.Alarms), v.limits.MaxAlarms)
}

func checkBound(field string, count, max int) error {
	if max > 0 && count > max {
		return fmt.Errorf("%s count %d exceeds limit %d", field, count, max)
	}
	return nil
}
