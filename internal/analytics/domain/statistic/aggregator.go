package statistic

import (
	"math"

	alarms "powerwatch/internal/alarms/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

// DefaultBufferCapacity is one hour of 1 Hz samples.
const DefaultBufferCapacity = 3600

// PhaseState is the per-phase state carried between ticks: the last committed
// voltage snapshot and the running daily extremes.
type PhaseState struct {
	Previous   alarms.PhaseSnapshot
	MinVoltage PhaseTriple
	MaxVoltage PhaseTriple
}

func newPhaseState() PhaseState {
	var s PhaseState
	s.resetExtremes()
	return s
}

func (s *PhaseState) resetExtremes() {
	for i := range s.MinVoltage {
		s.MinVoltage[i] = math.Inf(1)
		s.MaxVoltage[i] = 0
	}
}

// Aggregator maintains the sliding windows, daily extremes and event counters
// behind hourly and daily rollups. It is not safe for concurrent use; the
// sampling loop owns it.
type Aggregator struct {
	voltage [telemetry.PhaseCount]*SlidingBuffer[float64]
	power   [telemetry.PhaseCount]*SlidingBuffer[float64]
	energy  *SlidingBuffer[float64]
	state   PhaseState

	hourlyEvents      int
	voltageSpikes     int
	phaseImbalances   int
	currentImbalances int
}

// NewAggregator constructs an aggregator whose windows hold capacity samples.
func NewAggregator(capacity int) (*Aggregator, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	a := &Aggregator{state: newPhaseState()}
	for i := 0; i < telemetry.PhaseCount; i++ {
		a.voltage[i], _ = NewSlidingBuffer[float64](capacity)
		a.power[i], _ = NewSlidingBuffer[float64](capacity)
	}
	a.energy, _ = NewSlidingBuffer[float64](capacity)
	return a, nil
}

// PhaseSnapshot returns a copy of the committed previous-voltage snapshot for
// the evaluator to work on.
func (a *Aggregator) PhaseSnapshot() alarms.PhaseSnapshot {
	return a.state.Previous
}

// Update appends the sample to every window, folds it into the daily extremes
// and commits snapshot as the new previous-voltage state.
func (a *Aggregator) Update(m telemetry.Measurement, snapshot alarms.PhaseSnapshot) {
	for i, phase := range m.Phases {
		a.voltage[i].Push(phase.Voltage)
		a.power[i].Push(phase.Power)
		if phase.Voltage < a.state.MinVoltage[i] {
			a.state.MinVoltage[i] = phase.Voltage
		}
		if phase.Voltage > a.state.MaxVoltage[i] {
			a.state.MaxVoltage[i] = phase.Voltage
		}
	}
	a.energy.Push(m.Totals.EnergyKWh)
	a.state.Previous = snapshot
}

// RecordEvents bumps the hourly counter for every event and the daily
// counters for the types they track.
func (a *Aggregator) RecordEvents(types []alarms.EventType) {
	for _, t := range types {
		a.hourlyEvents++
		switch t {
		case alarms.EventVoltageSpike:
			a.voltageSpikes++
		case alarms.EventPhaseImbalance:
			a.phaseImbalances++
		case alarms.EventCurrentImbalance:
			a.currentImbalances++
		}
	}
}

// ResetHourlyCounters zeroes the hourly event counter.
func (a *Aggregator) ResetHourlyCounters() {
	a.hourlyEvents = 0
}

// ResetDailyCounters zeroes the per-type daily counters.
func (a *Aggregator) ResetDailyCounters() {
	a.voltageSpikes = 0
	a.phaseImbalances = 0
	a.currentImbalances = 0
}

// SnapshotHourly averages the current windows. It returns
// ErrInsufficientData when any window is empty.
func (a *Aggregator) SnapshotHourly() (HourlyReport, error) {
	avgV, avgP, ok := a.averages()
	if !ok {
		return HourlyReport{}, ErrInsufficientData
	}
	energy, reset := a.EnergyDelta()
	return HourlyReport{
		AvgVoltage:  avgV,
		AvgPower:    avgP,
		EnergyKWh:   energy,
		EnergyReset: reset,
		EventsCount: a.hourlyEvents,
	}, nil
}

// SnapshotDaily averages the current windows and surfaces the daily extremes,
// then resets the extremes to {+Inf, 0}. The windows are left untouched. The
// extremes are reset even when there is no data to report. A phase with no
// sample since the last reset keeps {+Inf, 0}; see DailyReport.HasExtremes.
func (a *Aggregator) SnapshotDaily() (DailyReport, error) {
	defer a.state.resetExtremes()
	avgV, avgP, ok := a.averages()
	if !ok {
		return DailyReport{}, ErrInsufficientData
	}
	energy, reset := a.EnergyDelta()
	return DailyReport{
		AvgVoltage:            avgV,
		AvgPower:              avgP,
		MinVoltage:            a.state.MinVoltage,
		MaxVoltage:            a.state.MaxVoltage,
		EnergyKWh:             energy,
		EnergyReset:           reset,
		VoltageSpikesCount:    a.voltageSpikes,
		PhaseImbalanceCount:   a.phaseImbalances,
		CurrentImbalanceCount: a.currentImbalances,
	}, nil
}

// EnergyDelta is the energy consumed over the window: newest minus oldest
// cumulative reading, or 0 with fewer than two samples. When the counter went
// backwards the delta is the sum of the non-negative steps and reset is true.
func (a *Aggregator) EnergyDelta() (delta float64, reset bool) {
	if a.energy.Len() < 2 {
		return 0, false
	}
	oldest, _ := a.energy.Oldest()
	newest, _ := a.energy.Newest()
	if newest >= oldest {
		return newest - oldest, false
	}
	values := a.energy.Values()
	for i := 1; i < len(values); i++ {
		if step := values[i] - values[i-1]; step > 0 {
			delta += step
		}
	}
	return delta, true
}

func (a *Aggregator) averages() (PhaseTriple, PhaseTriple, bool) {
	var avgV, avgP PhaseTriple
	for i := 0; i < telemetry.PhaseCount; i++ {
		v, ok := a.voltage[i].Mean()
		if !ok {
			return avgV, avgP, false
		}
		p, ok := a.power[i].Mean()
		if !ok {
			return avgV, avgP, false
		}
		avgV[i], avgP[i] = v, p
	}
	if a.energy.Len() == 0 {
		return avgV, avgP, false
	}
	return avgV, avgP, true
}
