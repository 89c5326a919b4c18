// Package ledgertest holds behaviour checks shared by every ledger.Store.
package ledgertest

import (
	"context"
	"testing"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger"
	masterdata "powerwatch/internal/masterdata/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

// Run exercises store against the ledger contract. newStore must return an
// empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("DeviceGetOrCreate", func(t *testing.T) { testDevice(t, newStore(t)) })
	t.Run("FetchOrderAndExclusion", func(t *testing.T) { testFetchOrder(t, newStore(t)) })
	t.Run("MarkNotifiedIdempotent", func(t *testing.T) { testMarkIdempotent(t, newStore(t)) })
	t.Run("SuppressUnnotified", func(t *testing.T) { testSuppress(t, newStore(t)) })
	t.Run("HourlyReports", func(t *testing.T) { testHourlyReports(t, newStore(t)) })
	t.Run("ClosedSession", func(t *testing.T) { testClosedSession(t, newStore(t)) })
}

func openSession(t *testing.T, store ledger.Store) ledger.Session {
	t.Helper()
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func seedDevice(t *testing.T, sess ledger.Session) masterdata.Device {
	t.Helper()
	device, err := sess.GetOrCreateDevice(context.Background(), masterdata.Device{Address: "192.168.1.25"})
	if err != nil {
		t.Fatalf("get or create device: %v", err)
	}
	return device
}

func event(deviceID int64, typ alarms.EventType, unix int64, phase int) alarms.AnomalyEvent {
	return alarms.AnomalyEvent{
		DeviceID:   deviceID,
		Type:       typ,
		Details:    alarms.EventDetails{Phase: phase, Parameter: "voltage", Value: 180, MinThreshold: 207, MaxThreshold: 253},
		SourceTime: time.Unix(unix, 0).UTC(),
		SourceUnix: unix,
	}
}

func testDevice(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	sess := openSession(t, store)
	first := seedDevice(t, sess)
	if first.ID == 0 || first.Name != masterdata.DefaultDeviceName || first.Model != masterdata.DefaultDeviceModel {
		t.Fatalf("unexpected device %+v", first)
	}
	again := seedDevice(t, sess)
	if again.ID != first.ID {
		t.Fatalf("expected same device id, got %d and %d", first.ID, again.ID)
	}
	if err := sess.UpdateDeviceHostname(ctx, first.ID, "PM3F-01"); err != nil {
		t.Fatalf("update hostname: %v", err)
	}
	updated := seedDevice(t, sess)
	if updated.Hostname != "PM3F-01" {
		t.Fatalf("expected hostname PM3F-01, got %q", updated.Hostname)
	}
}

func testFetchOrder(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	sess := openSession(t, store)
	device := seedDevice(t, sess)

	// Inserted out of source-time order on purpose.
	_, err := sess.RecordEvents(ctx, []alarms.AnomalyEvent{
		event(device.ID, alarms.EventVoltageSpike, 1700000300, 1),
		event(device.ID, alarms.EventCurrentImbalance, 1700000050, 0),
		event(device.ID, alarms.EventVoltageRestored, 1700000100, 2),
	})
	if err != nil {
		t.Fatalf("record events: %v", err)
	}
	if _, err := sess.RecordEvents(ctx, []alarms.AnomalyEvent{event(device.ID, alarms.EventPhaseImbalance, 1700000000, 0)}); err != nil {
		t.Fatalf("record events: %v", err)
	}

	got, err := sess.FetchUnnotified(ctx, []alarms.EventType{alarms.EventCurrentImbalance})
	if err != nil {
		t.Fatalf("fetch unnotified: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, evt := range got {
		if evt.Type == alarms.EventCurrentImbalance {
			t.Fatalf("excluded type returned: %+v", evt)
		}
		if i > 0 && evt.SourceUnix < got[i-1].SourceUnix {
			t.Fatalf("events out of order: %d before %d", got[i-1].SourceUnix, evt.SourceUnix)
		}
	}
	if got[0].Type != alarms.EventPhaseImbalance || got[2].Type != alarms.EventVoltageSpike {
		t.Fatalf("unexpected order %s, %s, %s", got[0].Type, got[1].Type, got[2].Type)
	}
	if got[1].Details.Phase != 2 || got[2].Details.MinThreshold != 207 {
		t.Fatalf("details not round-tripped: %+v", got[2].Details)
	}
	if !got[0].SourceTime.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected source time %s", got[0].SourceTime)
	}
}

func testMarkIdempotent(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	sess := openSession(t, store)
	device := seedDevice(t, sess)
	ids, err := sess.RecordEvents(ctx, []alarms.AnomalyEvent{
		event(device.ID, alarms.EventVoltageSpike, 1700000000, 1),
		event(device.ID, alarms.EventVoltageSpike, 1700000001, 2),
	})
	if err != nil || len(ids) != 2 {
		t.Fatalf("record events: %v (%v)", err, ids)
	}

	n, err := sess.MarkNotified(ctx, ids[:1])
	if err != nil || n != 1 {
		t.Fatalf("mark notified: n=%d err=%v", n, err)
	}
	n, err = sess.MarkNotified(ctx, ids[:1])
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent mark, n=%d err=%v", n, err)
	}
	got, err := sess.FetchUnnotified(ctx, nil)
	if err != nil {
		t.Fatalf("fetch unnotified: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("expected only second event unnotified, got %+v", got)
	}
	count, err := sess.CountUnnotified(ctx)
	if err != nil || count != 1 {
		t.Fatalf("count unnotified: %d %v", count, err)
	}
}

func testSuppress(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	sess := openSession(t, store)
	device := seedDevice(t, sess)
	if _, err := sess.RecordEvents(ctx, []alarms.AnomalyEvent{
		event(device.ID, alarms.EventCurrentImbalance, 1700000000, 0),
		event(device.ID, alarms.EventCurrentImbalance, 1700000001, 0),
		event(device.ID, alarms.EventVoltageSpike, 1700000002, 3),
	}); err != nil {
		t.Fatalf("record events: %v", err)
	}
	n, err := sess.SuppressUnnotified(ctx, []alarms.EventType{alarms.EventCurrentImbalance})
	if err != nil || n != 2 {
		t.Fatalf("suppress: n=%d err=%v", n, err)
	}
	got, err := sess.FetchUnnotified(ctx, nil)
	if err != nil {
		t.Fatalf("fetch unnotified: %v", err)
	}
	if len(got) != 1 || got[0].Type != alarms.EventVoltageSpike {
		t.Fatalf("expected only the spike left, got %+v", got)
	}
}

func testHourlyReports(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	sess := openSession(t, store)
	device := seedDevice(t, sess)
	base := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := sess.RecordHourlyReport(ctx, statistic.HourlyReport{
			DeviceID:    device.ID,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			AvgVoltage:  statistic.PhaseTriple{229, 230, 231},
			EnergyKWh:   float64(i) + 0.5,
			EnergyReset: i == 2,
			EventsCount: i,
		})
		if err != nil {
			t.Fatalf("record hourly: %v", err)
		}
	}
	if _, err := sess.RecordDailyReport(ctx, statistic.DailyReport{
		DeviceID:   device.ID,
		CreatedAt:  base.Add(24 * time.Hour),
		MinVoltage: statistic.PhaseTriple{200, 201, 202},
		MaxVoltage: statistic.PhaseTriple{240, 241, 242},
	}); err != nil {
		t.Fatalf("record daily: %v", err)
	}
	m := telemetry.Measurement{DeviceUnix: base.Unix(), ReceivedAt: base}
	if err := sess.RecordMeasurement(ctx, device.ID, m); err != nil {
		t.Fatalf("record measurement: %v", err)
	}

	got, err := sess.ListHourlyReports(ctx, device.ID, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("list hourly: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reports in range, got %d", len(got))
	}
	if got[0].EnergyKWh != 1.5 || got[1].EventsCount != 2 || !got[1].EnergyReset {
		t.Fatalf("unexpected reports %+v", got)
	}
	if !got[0].CreatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected created at %s", got[0].CreatedAt)
	}
}

func testClosedSession(t *testing.T, store ledger.Store) {
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := sess.FetchUnnotified(context.Background(), nil); err != ledger.ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
