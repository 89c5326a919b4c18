package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"text/template"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
)

const messageTimeLayout = "02.01.2006 15:04:05"

const DefaultEventTemplate = `{{.Icon}} <b>{{.Label}}</b>
Device: {{.Device}}
{{.Summary}}
Time: {{.Time}}`

const DefaultHourlyTemplate = `🕐 <b>Hourly report - {{.Time}}</b>
Device: {{.Device}}

<b>Average voltage:</b>
{{range .Phases}}Phase {{.Index}}: {{.AvgVoltage}} V
{{end}}
<b>Average power:</b>
{{range .Phases}}Phase {{.Index}}: {{.AvgPower}} W
{{end}}
<b>Energy consumed:</b> {{.Energy}} kWh{{if .EnergyReset}} (meter counter reset){{end}}
<b>Events this hour:</b> {{.EventsCount}}`

const DefaultDailyTemplate = `📅 <b>Daily report - {{.Time}}</b>
Device: {{.Device}}

<b>Average voltage:</b>
{{range .Phases}}Phase {{.Index}}: {{.AvgVoltage}} V {{if .HasExtremes}}(min: {{.MinVoltage}} V, max: {{.MaxVoltage}} V){{else}}(min/max: n/a){{end}}
{{end}}
<b>Average power:</b>
{{range .Phases}}Phase {{.Index}}: {{.AvgPower}} W
{{end}}
<b>Energy consumed:</b> {{.Energy}} kWh{{if .EnergyReset}} (meter counter reset){{end}}

<b>Events today:</b>
- Voltage spikes: {{.VoltageSpikes}}
- Phase imbalance: {{.PhaseImbalances}}
- Current imbalance: {{.CurrentImbalances}}`

// EventData provides fields for rendering an anomaly notification.
type EventData struct {
	Device   string
	Type     string
	Label    string
	Icon     string
	Summary  string
	Time     string
	Critical bool
}

// PhaseRow is one phase line of a report.
type PhaseRow struct {
	Index       int
	AvgVoltage  string
	AvgPower    string
	MinVoltage  string
	MaxVoltage  string
	HasExtremes bool
}

// ReportData provides fields for rendering hourly and daily reports.
type ReportData struct {
	Device            string
	Time              string
	Phases            []PhaseRow
	Energy            string
	EnergyReset       bool
	EventsCount       int
	VoltageSpikes     int
	PhaseImbalances   int
	CurrentImbalances int
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to fallback when tpl is empty.
func NewTemplate(name, tpl, fallback string) (*Template, error) {
	if tpl == "" {
		tpl = fallback
	}
	parsed, err := template.New(name).Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data any) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Templates groups the three message kinds.
type Templates struct {
	Event  *Template
	Hourly *Template
	Daily  *Template
}

// NewTemplates parses custom templates; empty strings select the defaults.
func NewTemplates(event, hourly, daily string) (*Templates, error) {
	e, err := NewTemplate("event", event, DefaultEventTemplate)
	if err != nil {
		return nil, fmt.Errorf("event template: %w", err)
	}
	h, err := NewTemplate("hourly", hourly, DefaultHourlyTemplate)
	if err != nil {
		return nil, fmt.Errorf("hourly template: %w", err)
	}
	d, err := NewTemplate("daily", daily, DefaultDailyTemplate)
	if err != nil {
		return nil, fmt.Errorf("daily template: %w", err)
	}
	return &Templates{Event: e, Hourly: h, Daily: d}, nil
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	t, err := NewTemplates("", "", "")
	if err != nil {
		panic(err)
	}
	return t
}

func buildEventData(device string, evt alarms.AnomalyEvent, critical bool, loc *time.Location) EventData {
	d := evt.Details
	data := EventData{
		Device:   html.EscapeString(device),
		Type:     string(evt.Type),
		Label:    eventLabel(evt.Type),
		Icon:     "⚠️",
		Time:     evt.SourceTime.In(loc).Format(messageTimeLayout),
		Critical: critical,
	}
	switch evt.Type {
	case alarms.EventVoltageSpike:
		data.Summary = fmt.Sprintf("Phase %d: %s V (allowed %s..%s V)", d.Phase, formatFloat(d.Value), formatFloat(d.MinThreshold), formatFloat(d.MaxThreshold))
		if critical {
			data.Icon = "🚨"
			data.Label = "Power outage"
		}
	case alarms.EventVoltageRestored:
		data.Icon = "✅"
		previous := 0.0
		if d.PreviousValue != nil {
			previous = *d.PreviousValue
		}
		data.Summary = fmt.Sprintf("Phase %d: %s V (was %s V)", d.Phase, formatFloat(d.Value), formatFloat(previous))
	case alarms.EventPhaseImbalance, alarms.EventCurrentImbalance:
		data.Summary = fmt.Sprintf("Phases %s: %s%% (threshold %s%%)", pairLabel(d.Phases), formatFloat(d.Value), formatFloat(d.Threshold))
	default:
		data.Summary = fmt.Sprintf("%s: %s", d.Parameter, formatFloat(d.Value))
	}
	return data
}

func buildHourlyData(device string, r statistic.HourlyReport, loc *time.Location) ReportData {
	data := ReportData{
		Device:      html.EscapeString(device),
		Time:        r.CreatedAt.In(loc).Format(messageTimeLayout),
		Energy:      fmt.Sprintf("%.3f", r.EnergyKWh),
		EnergyReset: r.EnergyReset,
		EventsCount: r.EventsCount,
	}
	for i := range r.AvgVoltage {
		data.Phases = append(data.Phases, PhaseRow{
			Index:      i + 1,
			AvgVoltage: formatFloat(r.AvgVoltage[i]),
			AvgPower:   formatFloat(r.AvgPower[i]),
		})
	}
	return data
}

func buildDailyData(device string, r statistic.DailyReport, loc *time.Location) ReportData {
	data := ReportData{
		Device:            html.EscapeString(device),
		Time:              r.CreatedAt.In(loc).Format(messageTimeLayout),
		Energy:            fmt.Sprintf("%.3f", r.EnergyKWh),
		EnergyReset:       r.EnergyReset,
		VoltageSpikes:     r.VoltageSpikesCount,
		PhaseImbalances:   r.PhaseImbalanceCount,
		CurrentImbalances: r.CurrentImbalanceCount,
	}
	for i := range r.AvgVoltage {
		row := PhaseRow{
			Index:      i + 1,
			AvgVoltage: formatFloat(r.AvgVoltage[i]),
			AvgPower:   formatFloat(r.AvgPower[i]),
			MinVoltage: "n/a",
			MaxVoltage: "n/a",
		}
		if r.HasExtremes(i) {
			row.MinVoltage = formatFloat(r.MinVoltage[i])
			row.MaxVoltage = formatFloat(r.MaxVoltage[i])
			row.HasExtremes = true
		}
		data.Phases = append(data.Phases, row)
	}
	return data
}

func eventLabel(t alarms.EventType) string {
	switch t {
	case alarms.EventVoltageSpike:
		return "Voltage spike"
	case alarms.EventVoltageRestored:
		return "Voltage restored"
	case alarms.EventPhaseImbalance:
		return "Phase voltage imbalance"
	case alarms.EventCurrentImbalance:
		return "Uneven phase load"
	default:
		return string(t)
	}
}

func pairLabel(phases []int) string {
	if len(phases) != 2 {
		return "?"
	}
	return fmt.Sprintf("%d and %d", phases[0], phases[1])
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.1f", value)
}
