package notify

import (
	"math"
	"strings"
	"testing"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
)

func TestEventTemplateOutage(t *testing.T) {
	tpls := DefaultTemplates()
	evt := spike(0, 0)
	out, err := tpls.Event.Render(buildEventData("Main <switchboard>", evt, true, time.UTC))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"🚨", "Power outage", "Phase 1: 0.0 V", "26.01.2026 08:00:00", "Main &lt;switchboard&gt;"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestEventTemplateRestoredAndImbalance(t *testing.T) {
	tpls := DefaultTemplates()
	prev := 3.0
	restored := alarms.AnomalyEvent{
		Type:       alarms.EventVoltageRestored,
		Details:    alarms.EventDetails{Phase: 2, Value: 229, PreviousValue: &prev},
		SourceTime: baseTime,
	}
	out, err := tpls.Event.Render(buildEventData("dev", restored, false, time.UTC))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Voltage restored") || !strings.Contains(out, "was 3.0 V") {
		t.Fatalf("unexpected restored message %q", out)
	}

	imbalance := alarms.AnomalyEvent{
		Type:       alarms.EventPhaseImbalance,
		Details:    alarms.EventDetails{Phases: []int{1, 3}, Value: 30.43, Threshold: 15},
		SourceTime: baseTime,
	}
	out, err = tpls.Event.Render(buildEventData("dev", imbalance, false, time.UTC))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Phases 1 and 3: 30.4% (threshold 15.0%)") {
		t.Fatalf("unexpected imbalance message %q", out)
	}
}

func TestDailyTemplate(t *testing.T) {
	report := statistic.DailyReport{
		CreatedAt:             baseTime,
		AvgVoltage:            statistic.PhaseTriple{230, 231, 232},
		MinVoltage:            statistic.PhaseTriple{200, 201, 202},
		MaxVoltage:            statistic.PhaseTriple{250, 251, 252},
		EnergyKWh:             12.5,
		EnergyReset:           true,
		VoltageSpikesCount:    4,
		PhaseImbalanceCount:   1,
		CurrentImbalanceCount: 0,
	}
	out, err := DefaultTemplates().Daily.Render(buildDailyData("dev", report, time.UTC))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Phase 2: 231.0 V (min: 201.0 V, max: 251.0 V)", "12.500 kWh (meter counter reset)", "Voltage spikes: 4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestDailyTemplateWithoutSamplesSinceReset(t *testing.T) {
	inf := math.Inf(1)
	report := statistic.DailyReport{
		CreatedAt:  baseTime,
		AvgVoltage: statistic.PhaseTriple{230, 231, 232},
		MinVoltage: statistic.PhaseTriple{inf, 201, inf},
		MaxVoltage: statistic.PhaseTriple{0, 251, 0},
	}
	data := buildDailyData("dev", report, time.UTC)
	if data.Phases[0].MinVoltage != "n/a" || data.Phases[0].MaxVoltage != "n/a" {
		t.Fatalf("expected n/a extremes, got %+v", data.Phases[0])
	}
	out, err := DefaultTemplates().Daily.Render(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "Inf") {
		t.Fatalf("unexpected infinity in %q", out)
	}
	for _, want := range []string{"Phase 1: 230.0 V (min/max: n/a)", "Phase 2: 231.0 V (min: 201.0 V, max: 251.0 V)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestNewTemplatesRejectsBadSyntax(t *testing.T) {
	if _, err := NewTemplates("{{.Device", "", ""); err == nil {
		t.Fatal("expected parse error")
	}
	tpls, err := NewTemplates("custom {{.Label}}", "", "")
	if err != nil {
		t.Fatalf("new templates: %v", err)
	}
	out, err := tpls.Event.Render(EventData{Label: "x"})
	if err != nil || out != "custom x" {
		t.Fatalf("unexpected render %q err=%v", out, err)
	}
}
