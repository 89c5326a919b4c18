package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	analytics "powerwatch/internal/analytics/application"
	"powerwatch/internal/analytics/application/events"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger/infrastructure/memory"
	masterdata "powerwatch/internal/masterdata/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type step struct {
	voltages [3]float64
	energy   float64
	hostname string
	err      error
}

type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFetcher) Fetch(context.Context) (telemetry.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		return telemetry.Measurement{}, errors.New("no more samples")
	}
	st := f.steps[0]
	f.steps = f.steps[1:]
	f.calls++
	if st.err != nil {
		return telemetry.Measurement{}, st.err
	}
	m := telemetry.Measurement{Hostname: st.hostname}
	for i := range m.Phases {
		m.Phases[i] = telemetry.PhaseReading{Voltage: st.voltages[i], Current: 1, Power: 100}
	}
	m.Totals.EnergyKWh = st.energy
	m.DeviceUnix = 1769415330 + int64(f.calls)
	m.DeviceTime = time.Unix(m.DeviceUnix, 0).UTC()
	return m, nil
}

type recordingSink struct {
	hourly []events.HourlyReportCreated
	daily  []events.DailyReportCreated
}

func (s *recordingSink) PublishHourly(_ context.Context, e events.HourlyReportCreated) error {
	s.hourly = append(s.hourly, e)
	return nil
}

func (s *recordingSink) PublishDaily(_ context.Context, e events.DailyReportCreated) error {
	s.daily = append(s.daily, e)
	return nil
}

type fixture struct {
	sampler    *Sampler
	store      *memory.Store
	aggregator *statistic.Aggregator
	sink       *recordingSink
	clock      *fakeClock
	deviceID   int64
}

func newFixture(t *testing.T, fetcher Fetcher, opts ...SamplerOption) *fixture {
	t.Helper()
	store := memory.NewStore()
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	device, err := sess.GetOrCreateDevice(context.Background(), masterdata.Device{Address: "192.168.1.25"})
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	sess.Close()

	evaluator, err := alarms.NewEvaluator(alarms.DefaultTolerances())
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	aggregator, err := statistic.NewAggregator(16)
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, time.January, 26, 8, 0, 0, 0, time.UTC)}
	scheduler, err := analytics.NewReportScheduler(aggregator, device.ID, analytics.WithClock(clock))
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	sink := &recordingSink{}
	opts = append([]SamplerOption{WithClock(clock), WithReportSink(sink)}, opts...)
	sampler, err := NewSampler(fetcher, evaluator, aggregator, scheduler, store, device.ID, opts...)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	return &fixture{sampler: sampler, store: store, aggregator: aggregator, sink: sink, clock: clock, deviceID: device.ID}
}

func balanced(v float64) [3]float64 { return [3]float64{v, v, v} }

func TestTickFetchFailureIsNoop(t *testing.T) {
	f := newFixture(t, &scriptedFetcher{steps: []step{{err: errors.New("timeout")}}})
	res, err := f.sampler.Tick(context.Background())
	if err == nil || res.Sampled {
		t.Fatalf("expected failed tick, got %+v err=%v", res, err)
	}
	if f.aggregator.PhaseSnapshot().Known[0] {
		t.Fatal("expected snapshot untouched")
	}
	if len(f.store.Events()) != 0 {
		t.Fatal("expected no events recorded")
	}
}

func TestTickRestoredAfterOutage(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{voltages: [3]float64{5, 230, 230}},
		{voltages: [3]float64{5, 230, 230}},
		{voltages: [3]float64{240, 230, 230}},
	}}
	f := newFixture(t, fetcher)
	for i := 0; i < 3; i++ {
		if _, err := f.sampler.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	restored := 0
	for _, evt := range f.store.Events() {
		if evt.ID == 0 || evt.DeviceID != f.deviceID || evt.Notified {
			t.Fatalf("unexpected stored event %+v", evt)
		}
		if evt.Type == alarms.EventVoltageRestored {
			restored++
		}
	}
	if restored != 1 {
		t.Fatalf("expected exactly one restore, got %d", restored)
	}
}

func TestTickFiresHourlyReport(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{voltages: balanced(230), energy: 10},
		{voltages: balanced(232), energy: 11.5},
	}}
	f := newFixture(t, fetcher)
	if _, err := f.sampler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	f.clock.now = f.clock.now.Add(time.Hour)
	res, err := f.sampler.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Hourly == nil || res.Daily != nil {
		t.Fatalf("expected only hourly report, got %+v", res)
	}
	stored := f.store.HourlyReports()
	if len(stored) != 1 || stored[0].DeviceID != f.deviceID {
		t.Fatalf("unexpected stored hourly %+v", stored)
	}
	if stored[0].EnergyKWh != 1.5 || stored[0].AvgVoltage[0] != 231 {
		t.Fatalf("unexpected hourly values %+v", stored[0])
	}
	if len(f.sink.hourly) != 1 || !f.sink.hourly[0].Persisted || f.sink.hourly[0].Report.ID != stored[0].ID {
		t.Fatalf("unexpected published hourly %+v", f.sink.hourly)
	}
}

func TestTickPublishesWhenReportPersistFails(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{voltages: balanced(230)}, {voltages: balanced(230)}}}
	f := newFixture(t, fetcher)
	if _, err := f.sampler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	f.store.FailReports = errors.New("disk full")
	f.clock.now = f.clock.now.Add(25 * time.Hour)
	if _, err := f.sampler.Tick(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
	if len(f.sink.hourly) != 1 || len(f.sink.daily) != 1 {
		t.Fatalf("expected both reports published, got %d/%d", len(f.sink.hourly), len(f.sink.daily))
	}
	if f.sink.hourly[0].Persisted || f.sink.daily[0].Persisted {
		t.Fatal("expected reports flagged unpersisted")
	}
}

func TestTickUpdatesHostnameOnChange(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{voltages: balanced(230), hostname: "PM3F-01"},
		{voltages: balanced(230), hostname: "PM3F-01"},
		{voltages: balanced(230), hostname: "PM3F-02"},
	}}
	f := newFixture(t, fetcher, WithMeasurementStorage(true))
	for i := 0; i < 3; i++ {
		if _, err := f.sampler.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	devices := f.store.Devices()
	if len(devices) != 1 || devices[0].Hostname != "PM3F-02" {
		t.Fatalf("unexpected devices %+v", devices)
	}
	if n := len(f.store.Measurements()); n != 3 {
		t.Fatalf("expected 3 stored measurements, got %d", n)
	}
}

func TestTickEventPersistFailureStillAdvancesState(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{voltages: [3]float64{0, 230, 230}}}}
	f := newFixture(t, fetcher)
	f.store.FailEvents = errors.New("locked")
	res, err := f.sampler.Tick(context.Background())
	if err == nil {
		t.Fatal("expected persist error")
	}
	if len(res.Events) == 0 {
		t.Fatal("expected detections returned")
	}
	snap := f.aggregator.PhaseSnapshot()
	if !snap.Known[0] || snap.Voltage[0] != 0 {
		t.Fatalf("expected snapshot committed, got %+v", snap)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{voltages: balanced(230)}, {voltages: balanced(230)}}}
	f := newFixture(t, fetcher, WithInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sampler.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestNewSamplerGuards(t *testing.T) {
	if _, err := NewSampler(nil, nil, nil, nil, nil, 1); err == nil {
		t.Fatal("expected error for nil collaborators")
	}
}
