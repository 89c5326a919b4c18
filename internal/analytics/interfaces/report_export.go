package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"powerwatch/internal/analytics/domain/statistic"
)

const reportTimeLayout = "2006-01-02 15:04"

// BuildDailyReportPDF renders a one-page PDF summary of a daily report, with
// the hourly reports of the same day as a table.
func BuildDailyReportPDF(deviceName string, report statistic.DailyReport, hourly []statistic.HourlyReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Power Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", deviceName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Energy (kWh): %.3f", report.EnergyKWh))
	pdf.Ln(5)
	if report.EnergyReset {
		pdf.Cell(0, 6, "Energy counter reset detected in window")
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Voltage spikes: %d  Phase imbalance: %d  Current imbalance: %d",
		report.VoltageSpikesCount, report.PhaseImbalanceCount, report.CurrentImbalanceCount))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	for _, title := range []string{"Phase", "Avg V", "Min V", "Max V", "Avg W"} {
		pdf.CellFormat(34, 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for i := range report.AvgVoltage {
		pdf.CellFormat(34, 6, fmt.Sprintf("L%d", i+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(34, 6, fmt.Sprintf("%.1f", report.AvgVoltage[i]), "1", 0, "R", false, 0, "")
		minV, maxV := "-", "-"
		if report.HasExtremes(i) {
			minV, maxV = fmt.Sprintf("%.1f", report.MinVoltage[i]), fmt.Sprintf("%.1f", report.MaxVoltage[i])
		}
		pdf.CellFormat(34, 6, minV, "1", 0, "R", false, 0, "")
		pdf.CellFormat(34, 6, maxV, "1", 0, "R", false, 0, "")
		pdf.CellFormat(34, 6, fmt.Sprintf("%.1f", report.AvgPower[i]), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(hourly) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		for _, title := range []string{"Hour", "Avg V L1/L2/L3", "Energy (kWh)", "Events"} {
			pdf.CellFormat(45, 6, title, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, h := range hourly {
			pdf.CellFormat(45, 6, h.CreatedAt.Format(reportTimeLayout), "1", 0, "C", false, 0, "")
			pdf.CellFormat(45, 6, fmt.Sprintf("%.1f/%.1f/%.1f", h.AvgVoltage[0], h.AvgVoltage[1], h.AvgVoltage[2]), "1", 0, "R", false, 0, "")
			pdf.CellFormat(45, 6, fmt.Sprintf("%.3f", h.EnergyKWh), "1", 0, "R", false, 0, "")
			pdf.CellFormat(45, 6, fmt.Sprintf("%d", h.EventsCount), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHourlyReportsXLSX renders hourly reports as one row per report.
func BuildHourlyReportsXLSX(hourly []statistic.HourlyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "hourly"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Created", "Avg V L1", "Avg V L2", "Avg V L3",
		"Avg W L1", "Avg W L2", "Avg W L3", "Energy (kWh)", "Counter reset", "Events",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, h := range hourly {
		row := i + 2
		values := []any{
			h.CreatedAt.Format(reportTimeLayout),
			h.AvgVoltage[0], h.AvgVoltage[1], h.AvgVoltage[2],
			h.AvgPower[0], h.AvgPower[1], h.AvgPower[2],
			h.EnergyKWh, h.EnergyReset, h.EventsCount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
