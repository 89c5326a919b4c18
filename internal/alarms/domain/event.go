package alarms

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	telemetry "powerwatch/internal/telemetry/domain"
)

// EventType classifies an anomaly.
type EventType string

const (
	EventVoltageSpike     EventType = "voltage_spike"
	EventVoltageRestored  EventType = "voltage_restored"
	EventPhaseImbalance   EventType = "phase_imbalance"
	EventCurrentImbalance EventType = "current_imbalance"
)

// EventTypes lists every supported type in detection order.
var EventTypes = []EventType{EventVoltageSpike, EventVoltageRestored, EventPhaseImbalance, EventCurrentImbalance}

// Valid returns true when the type is supported.
func (t EventType) Valid() bool {
	return slices.Contains(EventTypes, t)
}

// ParseEventType converts a persisted or configured name into an EventType.
func ParseEventType(value string) (EventType, error) {
	t := EventType(value)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, value)
	}
	return t, nil
}

// EventDetails is the structured payload of an anomaly. Imbalance values and
// thresholds are percentages; voltage values are volts.
type EventDetails struct {
	Phase         int      `json:"phase,omitempty"`
	Phases        []int    `json:"phases,omitempty"`
	Parameter     string   `json:"parameter"`
	Value         float64  `json:"value"`
	PreviousValue *float64 `json:"previous_value,omitempty"`
	MinThreshold  float64  `json:"min_threshold,omitempty"`
	MaxThreshold  float64  `json:"max_threshold,omitempty"`
	Threshold     float64  `json:"threshold,omitempty"`
}

// Detection is one classified anomaly before it is attributed to a device.
type Detection struct {
	Type    EventType
	Details EventDetails
}

// AnomalyEvent is a persisted anomaly. Only Notified ever changes, once, from false to true.
type AnomalyEvent struct {
	ID         int64        `json:"id"`
	DeviceID   int64        `json:"device_id"`
	Type       EventType    `json:"event_type"`
	Details    EventDetails `json:"details"`
	SourceTime time.Time    `json:"timestamp"`
	SourceUnix int64        `json:"unix_time"`
	Notified   bool         `json:"notified"`
}

// NewAnomalyEvent attributes a detection to a device and the sample it came from.
func NewAnomalyEvent(deviceID int64, d Detection, m telemetry.Measurement) AnomalyEvent {
	at := m.SourceTime()
	unix := m.DeviceUnix
	if unix <= 0 {
		unix = at.Unix()
	}
	return AnomalyEvent{
		DeviceID:   deviceID,
		Type:       d.Type,
		Details:    d.Details,
		SourceTime: at,
		SourceUnix: unix,
	}
}

// IsCritical reports a spike down to (near) zero volts, i.e. an outage.
func (e AnomalyEvent) IsCritical(outageFloor float64) bool {
	return e.Type == EventVoltageSpike && e.Details.Value < outageFloor
}

// MarshalDetails encodes details for storage.
func (e AnomalyEvent) MarshalDetails() (string, error) {
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UnmarshalDetails decodes stored details.
func UnmarshalDetails(raw string) (EventDetails, error) {
	var details EventDetails
	if raw == "" {
		return details, nil
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return EventDetails{}, err
	}
	return details, nil
}
