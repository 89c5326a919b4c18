package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/application/events"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger/infrastructure/memory"
)

type sentMessage struct {
	recipient string
	content   string
	document  string
}

type recordingChannel struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
}

func (c *recordingChannel) SendText(_ context.Context, recipient, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[recipient]; err != nil {
		return err
	}
	c.sent = append(c.sent, sentMessage{recipient: recipient, content: content})
	return nil
}

func (c *recordingChannel) SendDocument(_ context.Context, recipient string, doc Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[recipient]; err != nil {
		return err
	}
	c.sent = append(c.sent, sentMessage{recipient: recipient, document: doc.Name})
	return nil
}

func (c *recordingChannel) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *recordingChannel) countFor(recipient string) int {
	n := 0
	for _, m := range c.messages() {
		if m.recipient == recipient {
			n++
		}
	}
	return n
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

var baseTime = time.Date(2026, time.January, 26, 8, 0, 0, 0, time.UTC)

func spike(value float64, offset int) alarms.AnomalyEvent {
	at := baseTime.Add(time.Duration(offset) * time.Second)
	return alarms.AnomalyEvent{
		DeviceID:   1,
		Type:       alarms.EventVoltageSpike,
		Details:    alarms.EventDetails{Phase: 1, Parameter: "voltage", Value: value, MinThreshold: 207, MaxThreshold: 253},
		SourceTime: at,
		SourceUnix: at.Unix(),
	}
}

func seed(t *testing.T, store *memory.Store, evts ...alarms.AnomalyEvent) {
	t.Helper()
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sess.Close()
	if _, err := sess.RecordEvents(context.Background(), evts); err != nil {
		t.Fatalf("record events: %v", err)
	}
}

func unnotified(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sess.Close()
	n, err := sess.CountUnnotified(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestDispatcherRoutesByCriticality(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, spike(270, 0), spike(0, 1))
	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", []string{"u1", "u2"}, WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Fetched != 2 || res.Marked != 2 || res.Delivered != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := channel.countFor("admin"); got != 2 {
		t.Fatalf("expected admin to receive both events, got %d", got)
	}
	if channel.countFor("u1") != 1 || channel.countFor("u2") != 1 {
		t.Fatalf("expected recipients to receive only the outage, got %+v", channel.messages())
	}
	if n := unnotified(t, store); n != 0 {
		t.Fatalf("expected all events marked, %d left", n)
	}

	res, err = d.RunOnce(context.Background())
	if err != nil || res.Fetched != 0 || len(channel.messages()) != 4 {
		t.Fatalf("expected no redelivery, got %+v err=%v", res, err)
	}
}

func TestDispatcherSuppressesConfiguredTypes(t *testing.T) {
	store := memory.NewStore()
	imbalance := spike(0, 2)
	imbalance.Type = alarms.EventCurrentImbalance
	imbalance.Details = alarms.EventDetails{Phases: []int{1, 2}, Parameter: "current_imbalance", Value: 40, Threshold: 30}
	seed(t, store, imbalance, spike(270, 3))

	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", nil, WithSuppressedTypes(alarms.EventCurrentImbalance))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Suppressed != 1 || res.Fetched != 1 || res.Delivered != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, evt := range store.Events() {
		if !evt.Notified {
			t.Fatalf("expected every event notified, got %+v", evt)
		}
	}
}

func TestDispatcherMarkFailureDeliversNothing(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, spike(0, 0))
	store.FailMark = errors.New("disk full")
	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", []string{"u1"})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := d.RunOnce(context.Background()); err == nil {
		t.Fatal("expected mark error")
	}
	if len(channel.messages()) != 0 {
		t.Fatalf("expected no deliveries, got %+v", channel.messages())
	}
	if n := unnotified(t, store); n != 1 {
		t.Fatalf("expected event to stay unnotified, got %d", n)
	}
}

func TestDispatcherRecipientFailureIsIsolated(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, spike(0, 0))
	channel := &recordingChannel{failFor: map[string]error{"u1": errors.New("blocked")}}
	d, err := NewDispatcher(store, channel, "admin", []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if channel.countFor("admin") != 1 || channel.countFor("u2") != 1 {
		t.Fatalf("expected admin and u2 delivered, got %+v", channel.messages())
	}
	if n := unnotified(t, store); n != 0 {
		t.Fatalf("expected event marked despite failure, got %d", n)
	}
}

func TestDispatcherCooldownThrottles(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: baseTime}
	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", nil, WithCooldown(time.Minute), WithClock(clock))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	seed(t, store, spike(270, 0), spike(271, 1))
	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Delivered != 1 || res.Throttled != 1 || res.Marked != 2 {
		t.Fatalf("expected second spike throttled, got %+v", res)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	seed(t, store, spike(272, 2))
	res, err = d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Delivered != 1 || res.Throttled != 0 {
		t.Fatalf("expected delivery after cooldown, got %+v", res)
	}
}

func TestDispatcherCooldownNeverThrottlesOutage(t *testing.T) {
	store := memory.NewStore()
	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", []string{"family"},
		WithCooldown(time.Minute), WithClock(&fakeClock{now: baseTime}))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	seed(t, store, spike(270, 0), spike(0, 1), spike(0, 2))
	res, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Throttled != 0 || res.Marked != 3 {
		t.Fatalf("expected no throttling, got %+v", res)
	}
	if got := channel.countFor("admin"); got != 3 {
		t.Fatalf("expected 3 admin messages, got %d", got)
	}
	if got := channel.countFor("family"); got != 2 {
		t.Fatalf("expected both outages to reach family, got %d", got)
	}

	seed(t, store, spike(271, 3))
	res, err = d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Throttled != 1 {
		t.Fatalf("expected non-critical spike still throttled, got %+v", res)
	}
}

func TestNewDispatcherGuards(t *testing.T) {
	if _, err := NewDispatcher(nil, &recordingChannel{}, "admin", nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewDispatcher(memory.NewStore(), nil, "admin", nil); err == nil {
		t.Fatal("expected error for nil channel")
	}
	if _, err := NewDispatcher(memory.NewStore(), &recordingChannel{}, " ", nil); err == nil {
		t.Fatal("expected error for empty admin")
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, spike(270, 0))
	channel := &recordingChannel{}
	d, err := NewDispatcher(store, channel, "admin", nil, WithPollInterval(time.Hour))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for channel.countFor("admin") == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
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

func hourlyReport(at time.Time) statistic.HourlyReport {
	return statistic.HourlyReport{
		DeviceID:    1,
		CreatedAt:   at,
		AvgVoltage:  statistic.PhaseTriple{230, 231, 229},
		AvgPower:    statistic.PhaseTriple{100, 200, 300},
		EnergyKWh:   1.25,
		EventsCount: 2,
	}
}

func TestPublishHourlyGoesToAdminOnly(t *testing.T) {
	channel := &recordingChannel{}
	p, err := NewReportPublisher(nil, channel, "admin", []string{"u1"}, WithPublisherLocation(time.UTC))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := p.PublishHourly(context.Background(), events.HourlyReportCreated{Report: hourlyReport(baseTime)}); err != nil {
		t.Fatalf("publish hourly: %v", err)
	}
	msgs := channel.messages()
	if len(msgs) != 1 || msgs[0].recipient != "admin" {
		t.Fatalf("expected one admin message, got %+v", msgs)
	}
}

func TestPublishDailyAttachesDocuments(t *testing.T) {
	store := memory.NewStore()
	sess, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := sess.RecordHourlyReport(context.Background(), hourlyReport(baseTime.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("record hourly: %v", err)
		}
	}
	sess.Close()

	channel := &recordingChannel{}
	p, err := NewReportPublisher(store, channel, "admin", []string{"u1"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	daily := statistic.DailyReport{
		DeviceID:   1,
		CreatedAt:  baseTime.Add(2 * time.Hour),
		AvgVoltage: statistic.PhaseTriple{230, 230, 230},
		MinVoltage: statistic.PhaseTriple{220, 221, 222},
		MaxVoltage: statistic.PhaseTriple{240, 241, 242},
	}
	if err := p.PublishDaily(context.Background(), events.DailyReportCreated{Report: daily}); err != nil {
		t.Fatalf("publish daily: %v", err)
	}
	for _, who := range []string{"admin", "u1"} {
		var text, docs int
		for _, m := range channel.messages() {
			if m.recipient != who {
				continue
			}
			if m.document != "" {
				docs++
			} else {
				text++
			}
		}
		if text != 1 || docs != 2 {
			t.Fatalf("%s: expected 1 text and 2 documents, got %d/%d", who, text, docs)
		}
	}
}

func TestPublishDailyJoinsFailures(t *testing.T) {
	channel := &recordingChannel{failFor: map[string]error{"u1": errors.New("blocked")}}
	p, err := NewReportPublisher(nil, channel, "admin", []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	err = p.PublishDaily(context.Background(), events.DailyReportCreated{Report: statistic.DailyReport{CreatedAt: baseTime}})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if channel.countFor("u2") == 0 {
		t.Fatal("expected u2 delivered despite u1 failure")
	}
}
