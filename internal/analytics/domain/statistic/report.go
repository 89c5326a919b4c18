package statistic

import (
	"math"
	"time"

	telemetry "powerwatch/internal/telemetry/domain"
)

// Granularity is the rollup window of a report.
type Granularity string

const (
	GranularityHour Granularity = "HOUR"
	GranularityDay  Granularity = "DAY"
)

// PhaseTriple holds one value per phase.
type PhaseTriple [telemetry.PhaseCount]float64

// HourlyReport is an immutable rollup snapshot.
type HourlyReport struct {
	ID          int64
	DeviceID    int64
	CreatedAt   time.Time
	AvgVoltage  PhaseTriple
	AvgPower    PhaseTriple
	EnergyKWh   float64
	EnergyReset bool
	EventsCount int
}

// DailyReport extends the hourly view with voltage extremes and per-type counters.
type DailyReport struct {
	ID                    int64
	DeviceID              int64
	CreatedAt             time.Time
	AvgVoltage            PhaseTriple
	AvgPower              PhaseTriple
	MinVoltage            PhaseTriple
	MaxVoltage            PhaseTriple
	EnergyKWh             float64
	EnergyReset           bool
	VoltageSpikesCount    int
	PhaseImbalanceCount   int
	CurrentImbalanceCount int
}

// HasExtremes reports whether phase i saw a sample since the extremes were
// last reset.
func (r DailyReport) HasExtremes(i int) bool {
	return !math.IsInf(r.MinVoltage[i], 1) && r.MinVoltage[i] <= r.MaxVoltage[i]
}
