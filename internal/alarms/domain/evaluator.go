package alarms

import (
	"math"

	telemetry "powerwatch/internal/telemetry/domain"
)

// PhaseSnapshot is the last-known voltage per phase. Known is false until a
// phase has been observed once.
type PhaseSnapshot struct {
	Voltage [telemetry.PhaseCount]float64
	Known   [telemetry.PhaseCount]bool
}

// Set records the current voltage for a zero-based phase index.
func (s *PhaseSnapshot) Set(phase int, voltage float64) {
	s.Voltage[phase] = voltage
	s.Known[phase] = true
}

// Evaluator classifies measurements against tolerance rules. It holds no
// state of its own; the previous-voltage snapshot is owned by the caller.
type Evaluator struct {
	tol Tolerances
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(tol Tolerances) (*Evaluator, error) {
	if err := tol.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{tol: tol}, nil
}

// Tolerances returns the configured tolerances.
func (e *Evaluator) Tolerances() Tolerances { return e.tol }

// Evaluate runs every enabled check in order: per-phase voltage, voltage
// imbalance, then current imbalance. prev is overwritten with the current
// voltages; the caller decides whether to commit it.
func (e *Evaluator) Evaluate(m telemetry.Measurement, prev *PhaseSnapshot) []Detection {
	var out []Detection
	out = append(out, e.CheckVoltage(m, prev)...)
	out = append(out, e.CheckPhaseImbalance(m)...)
	if e.tol.CurrentImbalanceEnabled {
		out = append(out, e.CheckCurrentImbalance(m)...)
	}
	return out
}

// CheckVoltage emits voltage_restored when a phase comes back from below the
// outage floor to at least the lower bound, and voltage_spike whenever a phase
// is outside the bounds.
func (e *Evaluator) CheckVoltage(m telemetry.Measurement, prev *PhaseSnapshot) []Detection {
	if prev == nil {
		prev = &PhaseSnapshot{}
	}
	minBound, maxBound := e.tol.VoltageBounds()
	var out []Detection
	for i, phase := range m.Phases {
		value := phase.Voltage
		if prev.Known[i] && prev.Voltage[i] < e.tol.OutageFloor && value >= minBound {
			previous := prev.Voltage[i]
			out = append(out, Detection{
				Type: EventVoltageRestored,
				Details: EventDetails{
					Phase:         i + 1,
					Parameter:     string(EventVoltageRestored),
					Value:         value,
					PreviousValue: &previous,
					MinThreshold:  minBound,
					MaxThreshold:  maxBound,
				},
			})
		}
		if value < minBound || value > maxBound {
			out = append(out, Detection{
				Type: EventVoltageSpike,
				Details: EventDetails{
					Phase:        i + 1,
					Parameter:    "voltage",
					Value:        value,
					MinThreshold: minBound,
					MaxThreshold: maxBound,
				},
			})
		}
		prev.Set(i, value)
	}
	return out
}

// CheckPhaseImbalance reports the worst voltage pair when its spread relative
// to nominal exceeds the cross-phase tolerance.
func (e *Evaluator) CheckPhaseImbalance(m telemetry.Measurement) []Detection {
	v := m.Voltages()
	worst, a, b := 0.0, 0, 0
	for i := 0; i < len(v); i++ {
		for j := i + 1; j < len(v); j++ {
			diff := math.Abs(v[i]-v[j]) / e.tol.NominalVoltage
			if diff > worst {
				worst, a, b = diff, i+1, j+1
			}
		}
	}
	if worst <= e.tol.PhaseVoltageTolerance {
		return nil
	}
	return []Detection{{
		Type: EventPhaseImbalance,
		Details: EventDetails{
			Phases:    []int{a, b},
			Parameter: "voltage_imbalance",
			Value:     worst * 100,
			Threshold: e.tol.PhaseVoltageTolerance * 100,
		},
	}}
}

// CheckCurrentImbalance reports the worst current pair relative to the larger
// current of the pair. Near-zero loads are ignored.
func (e *Evaluator) CheckCurrentImbalance(m telemetry.Measurement) []Detection {
	c := m.Currents()
	floor := e.tol.CurrentSensitivityFloor
	if math.Max(c[0], math.Max(c[1], c[2])) < floor {
		return nil
	}
	worst, a, b := 0.0, 0, 0
	for i := 0; i < len(c); i++ {
		for j := i + 1; j < len(c); j++ {
			if c[i] < floor || c[j] < floor {
				continue
			}
			base := math.Max(c[i], c[j])
			if base <= 0 {
				continue
			}
			diff := math.Abs(c[i]-c[j]) / base
			if diff > worst {
				worst, a, b = diff, i+1, j+1
			}
		}
	}
	if worst <= e.tol.PhaseCurrentTolerance {
		return nil
	}
	return []Detection{{
		Type: EventCurrentImbalance,
		Details: EventDetails{
			Phases:    []int{a, b},
			Parameter: "current_imbalance",
			Value:     worst * 100,
			Threshold: e.tol.PhaseCurrentTolerance * 100,
		},
	}}
}
