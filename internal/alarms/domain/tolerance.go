package alarms

import "fmt"

// Tolerances configures the threshold evaluator. Ratios are fractions (0.10 = 10%).
type Tolerances struct {
	NominalVoltage          float64
	VoltageTolerance        float64
	PhaseVoltageTolerance   float64
	PhaseCurrentTolerance   float64
	OutageFloor             float64
	CurrentSensitivityFloor float64
	CurrentImbalanceEnabled bool
}

// DefaultTolerances returns the 230 V grid defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		NominalVoltage:          230,
		VoltageTolerance:        0.10,
		PhaseVoltageTolerance:   0.15,
		PhaseCurrentTolerance:   0.30,
		OutageFloor:             10,
		CurrentSensitivityFloor: 0.5,
	}
}

// Validate checks tolerance invariants.
func (t Tolerances) Validate() error {
	if t.NominalVoltage <= 0 {
		return fmt.Errorf("%w: nominal voltage must be positive", ErrInvalidTolerance)
	}
	if t.VoltageTolerance < 0 || t.VoltageTolerance >= 1 {
		return fmt.Errorf("%w: voltage tolerance must be in [0,1)", ErrInvalidTolerance)
	}
	if t.PhaseVoltageTolerance < 0 || t.PhaseCurrentTolerance < 0 {
		return fmt.Errorf("%w: cross-phase tolerance must not be negative", ErrInvalidTolerance)
	}
	if t.OutageFloor < 0 || t.CurrentSensitivityFloor < 0 {
		return fmt.Errorf("%w: floors must not be negative", ErrInvalidTolerance)
	}
	return nil
}

// VoltageBounds returns the inclusive acceptable per-phase voltage range.
func (t Tolerances) VoltageBounds() (float64, float64) {
	return t.NominalVoltage * (1 - t.VoltageTolerance), t.NominalVoltage * (1 + t.VoltageTolerance)
}
