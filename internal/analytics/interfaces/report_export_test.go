package interfaces

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"powerwatch/internal/analytics/application/events"
	"powerwatch/internal/analytics/domain/statistic"
)

func sampleHourly() []statistic.HourlyReport {
	base := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	return []statistic.HourlyReport{
		{CreatedAt: base.Add(time.Hour), AvgVoltage: statistic.PhaseTriple{229.1, 230, 231}, EnergyKWh: 1.25, EventsCount: 2},
		{CreatedAt: base.Add(2 * time.Hour), AvgVoltage: statistic.PhaseTriple{228, 229, 230}, EnergyKWh: 0.75},
	}
}

func TestBuildHourlyReportsXLSX(t *testing.T) {
	data, err := BuildHourlyReportsXLSX(sampleHourly())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	header, _ := f.GetCellValue("hourly", "H1")
	if header != "Energy (kWh)" {
		t.Fatalf("unexpected header %q", header)
	}
	created, _ := f.GetCellValue("hourly", "A2")
	if created != "2026-01-26 01:00" {
		t.Fatalf("unexpected created cell %q", created)
	}
	energy, _ := f.GetCellValue("hourly", "H3")
	if energy != "0.75" {
		t.Fatalf("unexpected energy cell %q", energy)
	}
	events, _ := f.GetCellValue("hourly", "J2")
	if events != "2" {
		t.Fatalf("unexpected events cell %q", events)
	}
}

func TestBuildDailyReportPDF(t *testing.T) {
	report := statistic.DailyReport{
		CreatedAt:  time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC),
		MinVoltage: statistic.PhaseTriple{math.Inf(1), 225, 226},
		MaxVoltage: statistic.PhaseTriple{0, 235, 236},
		EnergyKWh:  12.5,
	}
	data, err := BuildDailyReportPDF("Main switchboard", report, sampleHourly())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected PDF header, got %q", data[:8])
	}
}

func TestReportBusRunsAllHandlers(t *testing.T) {
	bus := NewReportBus()
	calls := 0
	boom := errors.New("boom")
	bus.SubscribeHourly(func(context.Context, events.HourlyReportCreated) error {
		calls++
		return boom
	})
	bus.SubscribeHourly(func(context.Context, events.HourlyReportCreated) error {
		calls++
		return nil
	})
	err := bus.PublishHourly(context.Background(), events.HourlyReportCreated{})
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := bus.PublishDaily(context.Background(), events.DailyReportCreated{}); err != nil {
		t.Fatalf("expected no error without daily handlers, got %v", err)
	}
}
