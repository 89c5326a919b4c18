package telemetry

import (
	"errors"
	"math"
	"time"
)

// PhaseCount is the number of phases reported by the meter.
const PhaseCount = 3

// DeviceTimeLayout is the meter's local timestamp format (DD.MM.YYYY HH:MM:SS).
const DeviceTimeLayout = "02.01.2006 15:04:05"

// ErrInvalidMeasurement is returned when a measurement carries unusable values.
var ErrInvalidMeasurement = errors.New("telemetry: invalid measurement")

// PhaseReading is one phase of a three-phase sample.
type PhaseReading struct {
	Voltage   float64
	Current   float64
	Power     float64
	EnergyKWh float64
}

// Totals are the meter-computed sums across phases.
type Totals struct {
	Voltage   float64
	Current   float64
	Power     float64
	EnergyKWh float64
}

// Measurement is one normalized meter sample. It is a value type and is
// never mutated after acquisition.
type Measurement struct {
	Hostname string
	Phases   [PhaseCount]PhaseReading
	Totals   Totals

	Temperature float64
	Humidity    float64
	WifiSignal  float64
	Uptime      int64

	// DeviceTime is the meter-local wall clock, DeviceUnix its epoch seconds.
	DeviceTime time.Time
	DeviceUnix int64
	// ReceivedAt is the local wall clock when the sample was fetched.
	ReceivedAt time.Time
}

// Voltages returns the three phase voltages in phase order.
func (m Measurement) Voltages() [PhaseCount]float64 {
	var out [PhaseCount]float64
	for i, p := range m.Phases {
		out[i] = p.Voltage
	}
	return out
}

// Currents returns the three phase currents in phase order.
func (m Measurement) Currents() [PhaseCount]float64 {
	var out [PhaseCount]float64
	for i, p := range m.Phases {
		out[i] = p.Current
	}
	return out
}

// SourceTime is the time an event derived from this sample is attributed to.
func (m Measurement) SourceTime() time.Time {
	if !m.DeviceTime.IsZero() {
		return m.DeviceTime
	}
	if m.DeviceUnix > 0 {
		return time.Unix(m.DeviceUnix, 0)
	}
	return m.ReceivedAt
}

// Validate rejects samples that must not reach the processing pipeline.
func (m Measurement) Validate() error {
	if m.DeviceTime.IsZero() && m.DeviceUnix <= 0 {
		return ErrInvalidMeasurement
	}
	values := []float64{
		m.Totals.Voltage, m.Totals.Current, m.Totals.Power, m.Totals.EnergyKWh,
		m.Temperature, m.Humidity, m.WifiSignal,
	}
	for _, p := range m.Phases {
		values = append(values, p.Voltage, p.Current, p.Power, p.EnergyKWh)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidMeasurement
		}
	}
	return nil
}
