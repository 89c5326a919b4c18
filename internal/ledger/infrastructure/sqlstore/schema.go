package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// migrations are applied in order; applied versions are tracked in
// schema_versions. {{ID}} expands to the dialect's auto-increment key.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS devices (
    id          {{ID}},
    name        TEXT NOT NULL,
    address     TEXT NOT NULL UNIQUE,
    model       TEXT NOT NULL DEFAULT '',
    hostname    TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id          {{ID}},
    device_id   BIGINT NOT NULL REFERENCES devices(id),
    event_type  TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT '{}',
    timestamp   TEXT NOT NULL,
    unix_time   BIGINT NOT NULL,
    notified    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_events_unnotified ON events(notified, unix_time, timestamp, id);
CREATE INDEX IF NOT EXISTS idx_events_device_time ON events(device_id, unix_time);

CREATE TABLE IF NOT EXISTS hourly_stats (
    id                 {{ID}},
    device_id          BIGINT NOT NULL REFERENCES devices(id),
    timestamp          TEXT NOT NULL,
    unix_time          BIGINT NOT NULL,
    avg_voltage_l1     DOUBLE PRECISION NOT NULL,
    avg_voltage_l2     DOUBLE PRECISION NOT NULL,
    avg_voltage_l3     DOUBLE PRECISION NOT NULL,
    avg_power_l1       DOUBLE PRECISION NOT NULL,
    avg_power_l2       DOUBLE PRECISION NOT NULL,
    avg_power_l3       DOUBLE PRECISION NOT NULL,
    energy_kwh         DOUBLE PRECISION NOT NULL,
    energy_reset       BOOLEAN NOT NULL DEFAULT FALSE,
    events_count       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_hourly_stats_device_time ON hourly_stats(device_id, unix_time);

CREATE TABLE IF NOT EXISTS daily_stats (
    id                 {{ID}},
    device_id          BIGINT NOT NULL REFERENCES devices(id),
    timestamp          TEXT NOT NULL,
    unix_time          BIGINT NOT NULL,
    avg_voltage_l1     DOUBLE PRECISION NOT NULL,
    avg_voltage_l2     DOUBLE PRECISION NOT NULL,
    avg_voltage_l3     DOUBLE PRECISION NOT NULL,
    avg_power_l1       DOUBLE PRECISION NOT NULL,
    avg_power_l2       DOUBLE PRECISION NOT NULL,
    avg_power_l3       DOUBLE PRECISION NOT NULL,
    min_voltage_l1     DOUBLE PRECISION NOT NULL,
    min_voltage_l2     DOUBLE PRECISION NOT NULL,
    min_voltage_l3     DOUBLE PRECISION NOT NULL,
    max_voltage_l1     DOUBLE PRECISION NOT NULL,
    max_voltage_l2     DOUBLE PRECISION NOT NULL,
    max_voltage_l3     DOUBLE PRECISION NOT NULL,
    energy_kwh         DOUBLE PRECISION NOT NULL,
    energy_reset       BOOLEAN NOT NULL DEFAULT FALSE,
    voltage_spikes     INTEGER NOT NULL DEFAULT 0,
    phase_imbalances   INTEGER NOT NULL DEFAULT 0,
    current_imbalances INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_daily_stats_device_time ON daily_stats(device_id, unix_time);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS measurements (
    id           {{ID}},
    device_id    BIGINT NOT NULL REFERENCES devices(id),
    timestamp    TEXT NOT NULL,
    unix_time    BIGINT NOT NULL,
    received_at  TEXT NOT NULL,
    u1 DOUBLE PRECISION NOT NULL, i1 DOUBLE PRECISION NOT NULL, w1 DOUBLE PRECISION NOT NULL, kwh1 DOUBLE PRECISION NOT NULL,
    u2 DOUBLE PRECISION NOT NULL, i2 DOUBLE PRECISION NOT NULL, w2 DOUBLE PRECISION NOT NULL, kwh2 DOUBLE PRECISION NOT NULL,
    u3 DOUBLE PRECISION NOT NULL, i3 DOUBLE PRECISION NOT NULL, w3 DOUBLE PRECISION NOT NULL, kwh3 DOUBLE PRECISION NOT NULL,
    u0 DOUBLE PRECISION NOT NULL, i0 DOUBLE PRECISION NOT NULL, w0 DOUBLE PRECISION NOT NULL, kwh0 DOUBLE PRECISION NOT NULL,
    temperature  DOUBLE PRECISION NOT NULL,
    humidity     DOUBLE PRECISION NOT NULL,
    wifi_signal  DOUBLE PRECISION NOT NULL,
    uptime       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurements_device_time ON measurements(device_id, unix_time);
`,
	},
}

// Migrate creates or upgrades the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		for _, stmt := range splitStatements(strings.ReplaceAll(m.sql, "{{ID}}", s.dialect.autoID())) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// splitStatements breaks a migration script into single statements.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
