package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger"
	masterdata "powerwatch/internal/masterdata/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

type session struct {
	conn    *sql.Conn
	dialect Dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *session) check() error {
	if s.conn == nil {
		return ledger.ErrSessionClosed
	}
	return nil
}

// Close returns the connection to the pool. Closing twice is a no-op.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *session) GetOrCreateDevice(ctx context.Context, device masterdata.Device) (masterdata.Device, error) {
	if err := s.check(); err != nil {
		return masterdata.Device{}, err
	}
	device = device.WithDefaults()
	if err := device.Validate(); err != nil {
		return masterdata.Device{}, err
	}

	existing, err := s.deviceByAddress(ctx, device.Address)
	if err != nil {
		return masterdata.Device{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := time.Now().UTC()
	query := s.dialect.rebind(`
INSERT INTO devices (name, address, model, hostname, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id`)
	if err := s.conn.QueryRowContext(ctx, query,
		device.Name,
		device.Address,
		device.Model,
		device.Hostname,
		formatTime(now),
	).Scan(&device.ID); err != nil {
		return masterdata.Device{}, fmt.Errorf("insert device: %w", err)
	}
	device.CreatedAt = now
	return device, nil
}

func (s *session) deviceByAddress(ctx context.Context, address string) (*masterdata.Device, error) {
	query := s.dialect.rebind(`
SELECT id, name, address, model, hostname, created_at
FROM devices
WHERE address = ?
LIMIT 1`)
	var (
		device    masterdata.Device
		createdAt string
	)
	err := s.conn.QueryRowContext(ctx, query, address).Scan(
		&device.ID,
		&device.Name,
		&device.Address,
		&device.Model,
		&device.Hostname,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if device.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("device %d created_at: %w", device.ID, err)
	}
	return &device, nil
}

func (s *session) UpdateDeviceHostname(ctx context.Context, deviceID int64, hostname string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx, s.dialect.rebind(`UPDATE devices SET hostname = ? WHERE id = ?`), hostname, deviceID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrDeviceNotFound
	}
	return nil
}

func (s *session) RecordEvents(ctx context.Context, events []alarms.AnomalyEvent) ([]int64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := s.dialect.rebind(`
INSERT INTO events (device_id, event_type, details, timestamp, unix_time, notified)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`)
	ids := make([]int64, 0, len(events))
	for _, evt := range events {
		details, err := evt.MarshalDetails()
		if err != nil {
			return nil, fmt.Errorf("encode details: %w", err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, query,
			evt.DeviceID,
			string(evt.Type),
			details,
			formatTime(evt.SourceTime),
			evt.SourceUnix,
			false,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *session) RecordHourlyReport(ctx context.Context, r statistic.HourlyReport) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	query := s.dialect.rebind(`
INSERT INTO hourly_stats (
	device_id, timestamp, unix_time,
	avg_voltage_l1, avg_voltage_l2, avg_voltage_l3,
	avg_power_l1, avg_power_l2, avg_power_l3,
	energy_kwh, energy_reset, events_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`)
	var id int64
	err := s.conn.QueryRowContext(ctx, query,
		r.DeviceID, formatTime(r.CreatedAt), r.CreatedAt.Unix(),
		r.AvgVoltage[0], r.AvgVoltage[1], r.AvgVoltage[2],
		r.AvgPower[0], r.AvgPower[1], r.AvgPower[2],
		r.EnergyKWh, r.EnergyReset, r.EventsCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert hourly report: %w", err)
	}
	return id, nil
}

func (s *session) RecordDailyReport(ctx context.Context, r statistic.DailyReport) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	query := s.dialect.rebind(`
INSERT INTO daily_stats (
	device_id, timestamp, unix_time,
	avg_voltage_l1, avg_voltage_l2, avg_voltage_l3,
	avg_power_l1, avg_power_l2, avg_power_l3,
	min_voltage_l1, min_voltage_l2, min_voltage_l3,
	max_voltage_l1, max_voltage_l2, max_voltage_l3,
	energy_kwh, energy_reset,
	voltage_spikes, phase_imbalances, current_imbalances
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`)
	var id int64
	err := s.conn.QueryRowContext(ctx, query,
		r.DeviceID, formatTime(r.CreatedAt), r.CreatedAt.Unix(),
		r.AvgVoltage[0], r.AvgVoltage[1], r.AvgVoltage[2],
		r.AvgPower[0], r.AvgPower[1], r.AvgPower[2],
		r.MinVoltage[0], r.MinVoltage[1], r.MinVoltage[2],
		r.MaxVoltage[0], r.MaxVoltage[1], r.MaxVoltage[2],
		r.EnergyKWh, r.EnergyReset,
		r.VoltageSpikesCount, r.PhaseImbalanceCount, r.CurrentImbalanceCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert daily report: %w", err)
	}
	return id, nil
}

func (s *session) RecordMeasurement(ctx context.Context, deviceID int64, m telemetry.Measurement) error {
	if err := s.check(); err != nil {
		return err
	}
	at := m.SourceTime()
	unix := m.DeviceUnix
	if unix <= 0 {
		unix = at.Unix()
	}
	p := m.Phases
	query := s.dialect.rebind(`
INSERT INTO measurements (
	device_id, timestamp, unix_time, received_at,
	u1, i1, w1, kwh1,
	u2, i2, w2, kwh2,
	u3, i3, w3, kwh3,
	u0, i0, w0, kwh0,
	temperature, humidity, wifi_signal, uptime
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.conn.ExecContext(ctx, query,
		deviceID, formatTime(at), unix, formatTime(m.ReceivedAt),
		p[0].Voltage, p[0].Current, p[0].Power, p[0].EnergyKWh,
		p[1].Voltage, p[1].Current, p[1].Power, p[1].EnergyKWh,
		p[2].Voltage, p[2].Current, p[2].Power, p[2].EnergyKWh,
		m.Totals.Voltage, m.Totals.Current, m.Totals.Power, m.Totals.EnergyKWh,
		m.Temperature, m.Humidity, m.WifiSignal, m.Uptime,
	)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

func (s *session) FetchUnnotified(ctx context.Context, exclude []alarms.EventType) ([]alarms.AnomalyEvent, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := `
SELECT id, device_id, event_type, details, timestamp, unix_time, notified
FROM events
WHERE notified = ?`
	args := []any{false}
	if len(exclude) > 0 {
		query += ` AND event_type NOT IN (` + placeholders(len(exclude)) + `)`
		for _, t := range exclude {
			args = append(args, string(t))
		}
	}
	query += `
ORDER BY unix_time ASC, timestamp ASC, id ASC`

	rows, err := s.conn.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.AnomalyEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEvent(row rowScanner) (alarms.AnomalyEvent, error) {
	var (
		evt       alarms.AnomalyEvent
		eventType string
		details   string
		timestamp string
	)
	if err := row.Scan(&evt.ID, &evt.DeviceID, &eventType, &details, &timestamp, &evt.SourceUnix, &evt.Notified); err != nil {
		return alarms.AnomalyEvent{}, err
	}
	evt.Type = alarms.EventType(eventType)
	var err error
	if evt.Details, err = alarms.UnmarshalDetails(details); err != nil {
		return alarms.AnomalyEvent{}, fmt.Errorf("event %d details: %w", evt.ID, err)
	}
	if evt.SourceTime, err = parseTime(timestamp); err != nil {
		return alarms.AnomalyEvent{}, fmt.Errorf("event %d timestamp: %w", evt.ID, err)
	}
	return evt, nil
}

func (s *session) MarkNotified(ctx context.Context, ids []int64) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{true, false}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE events SET notified = ? WHERE notified = ? AND id IN (` + placeholders(len(ids)) + `)`
	res, err := s.conn.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("mark notified: %w", err)
	}
	return res.RowsAffected()
}

func (s *session) SuppressUnnotified(ctx context.Context, types []alarms.EventType) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if len(types) == 0 {
		return 0, nil
	}
	args := []any{true, false}
	for _, t := range types {
		args = append(args, string(t))
	}
	query := `UPDATE events SET notified = ? WHERE notified = ? AND event_type IN (` + placeholders(len(types)) + `)`
	res, err := s.conn.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("suppress events: %w", err)
	}
	return res.RowsAffected()
}

func (s *session) CountUnnotified(ctx context.Context) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var count int64
	err := s.conn.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM events WHERE notified = ?`), false).Scan(&count)
	return count, err
}

func (s *session) ListHourlyReports(ctx context.Context, deviceID int64, from, to time.Time) ([]statistic.HourlyReport, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := s.dialect.rebind(`
SELECT
	id, device_id, timestamp,
	avg_voltage_l1, avg_voltage_l2, avg_voltage_l3,
	avg_power_l1, avg_power_l2, avg_power_l3,
	energy_kwh, energy_reset, events_count
FROM hourly_stats
WHERE device_id = ?
	AND unix_time >= ?
	AND unix_time < ?
ORDER BY unix_time ASC, id ASC`)
	rows, err := s.conn.QueryContext(ctx, query, deviceID, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []statistic.HourlyReport
	for rows.Next() {
		var (
			r         statistic.HourlyReport
			timestamp string
		)
		if err := rows.Scan(
			&r.ID, &r.DeviceID, &timestamp,
			&r.AvgVoltage[0], &r.AvgVoltage[1], &r.AvgVoltage[2],
			&r.AvgPower[0], &r.AvgPower[1], &r.AvgPower[2],
			&r.EnergyKWh, &r.EnergyReset, &r.EventsCount,
		); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("hourly report %d timestamp: %w", r.ID, err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
