package application

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "powerwatch/internal/alarms/domain"
	analytics "powerwatch/internal/analytics/application"
	"powerwatch/internal/analytics/application/events"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger"
	"powerwatch/internal/observability/metrics"
	telemetry "powerwatch/internal/telemetry/domain"
)

const DefaultSampleInterval = time.Second

// Fetcher acquires one measurement from the meter.
type Fetcher interface {
	Fetch(ctx context.Context) (telemetry.Measurement, error)
}

// ReportSink receives reports as soon as they are materialized.
type ReportSink interface {
	PublishHourly(ctx context.Context, event events.HourlyReportCreated) error
	PublishDaily(ctx context.Context, event events.DailyReportCreated) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TickResult summarizes one sampling tick.
type TickResult struct {
	Sampled bool
	Events  []alarms.AnomalyEvent
	Hourly  *statistic.HourlyReport
	Daily   *statistic.DailyReport
}

// Sampler runs the sampling loop: acquire, evaluate, aggregate, persist
// events, then fire any due reports. It owns the aggregator and scheduler and
// must only be driven from one goroutine.
type Sampler struct {
	fetcher    Fetcher
	evaluator  *alarms.Evaluator
	aggregator *statistic.Aggregator
	scheduler  *analytics.ReportScheduler
	store      ledger.Store
	sink       ReportSink
	deviceID   int64

	interval          time.Duration
	storeMeasurements bool
	hostname          string
	clock             Clock
	logger            *zap.Logger
}

// SamplerOption configures the sampler.
type SamplerOption func(*Sampler)

// WithInterval sets the target tick period.
func WithInterval(interval time.Duration) SamplerOption {
	return func(s *Sampler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithReportSink sets where materialized reports are pushed.
func WithReportSink(sink ReportSink) SamplerOption {
	return func(s *Sampler) {
		s.sink = sink
	}
}

// WithMeasurementStorage enables raw measurement persistence.
func WithMeasurementStorage(enabled bool) SamplerOption {
	return func(s *Sampler) {
		s.storeMeasurements = enabled
	}
}

// WithKnownHostname seeds the last-seen hostname so an unchanged one is not rewritten.
func WithKnownHostname(hostname string) SamplerOption {
	return func(s *Sampler) {
		s.hostname = hostname
	}
}

// WithClock overrides the clock handed to the report scheduler.
func WithClock(clock Clock) SamplerOption {
	return func(s *Sampler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SamplerOption {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSampler constructs a sampler for one device.
func NewSampler(
	fetcher Fetcher,
	evaluator *alarms.Evaluator,
	aggregator *statistic.Aggregator,
	scheduler *analytics.ReportScheduler,
	store ledger.Store,
	deviceID int64,
	opts ...SamplerOption,
) (*Sampler, error) {
	if fetcher == nil {
		return nil, errors.New("sampler: nil fetcher")
	}
	if evaluator == nil {
		return nil, errors.New("sampler: nil evaluator")
	}
	if aggregator == nil {
		return nil, errors.New("sampler: nil aggregator")
	}
	if scheduler == nil {
		return nil, errors.New("sampler: nil scheduler")
	}
	if store == nil {
		return nil, errors.New("sampler: nil store")
	}
	s := &Sampler{
		fetcher:    fetcher,
		evaluator:  evaluator,
		aggregator: aggregator,
		scheduler:  scheduler,
		store:      store,
		deviceID:   deviceID,
		interval:   DefaultSampleInterval,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run ticks until ctx is cancelled. The sleep between ticks is the period
// minus the last tick's latency, never negative; ticks never overlap and a
// tick in progress always completes.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		start := time.Now()
		s.safeTick(ctx)
		wait := s.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Sampler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveTick(metrics.ResultError, 0)
			s.logger.Error("sampling tick panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	_, _ = s.Tick(context.WithoutCancel(ctx))
}

// Tick performs one sampling cycle. A failed acquisition leaves every piece
// of state untouched. Storage failures are logged; detection state and
// counters still advance so the next tick does not re-fire the same events.
func (s *Sampler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	start := time.Now()
	logger := s.logger.With(zap.String("cycle_id", uuid.NewString()))

	m, err := s.fetcher.Fetch(ctx)
	if err != nil {
		metrics.ObserveTick(metrics.TickResultNoSample, time.Since(start))
		logger.Warn("acquire measurement failed", zap.Error(err))
		return res, err
	}
	res.Sampled = true

	snapshot := s.aggregator.PhaseSnapshot()
	detections := s.evaluator.Evaluate(m, &snapshot)
	s.aggregator.Update(m, snapshot)
	for i, phase := range m.Phases {
		metrics.SetPhaseVoltage(i+1, phase.Voltage)
	}

	types := make([]alarms.EventType, 0, len(detections))
	for _, d := range detections {
		res.Events = append(res.Events, alarms.NewAnomalyEvent(s.deviceID, d, m))
		types = append(types, d.Type)
		metrics.IncAnomalyEvent(string(d.Type))
	}
	s.aggregator.RecordEvents(types)

	due := s.scheduler.Check(s.clock.Now())
	res.Hourly, res.Daily = due.Hourly, due.Daily

	var persistErr error
	hourlyPersisted, dailyPersisted := false, false
	if sess, err := s.store.Session(ctx); err != nil {
		persistErr = err
		logger.Error("open ledger session failed", zap.Error(err))
	} else {
		persistErr = s.persist(ctx, logger, sess, m, &res)
		hourlyPersisted = res.Hourly != nil && res.Hourly.ID > 0
		dailyPersisted = res.Daily != nil && res.Daily.ID > 0
		_ = sess.Close()
	}

	s.publish(ctx, logger, res, hourlyPersisted, dailyPersisted)

	result := metrics.ResultSuccess
	if persistErr != nil {
		result = metrics.ResultError
	}
	metrics.ObserveTick(result, time.Since(start))
	if len(res.Events) > 0 {
		logger.Info("anomalies detected", zap.Int("count", len(res.Events)), zap.Int64s("event_ids", eventIDs(res.Events)))
	}
	return res, persistErr
}

func (s *Sampler) persist(ctx context.Context, logger *zap.Logger, sess ledger.Session, m telemetry.Measurement, res *TickResult) error {
	var errs []error
	if len(res.Events) > 0 {
		ids, err := sess.RecordEvents(ctx, res.Events)
		if err != nil {
			logger.Error("record events failed", zap.Int("count", len(res.Events)), zap.Error(err))
			errs = append(errs, err)
		} else {
			for i := range ids {
				res.Events[i].ID = ids[i]
			}
		}
	}

	if s.storeMeasurements {
		if err := sess.RecordMeasurement(ctx, s.deviceID, m); err != nil {
			logger.Warn("record measurement failed", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if m.Hostname != "" && m.Hostname != s.hostname {
		if err := sess.UpdateDeviceHostname(ctx, s.deviceID, m.Hostname); err != nil {
			logger.Warn("update hostname failed", zap.String("hostname", m.Hostname), zap.Error(err))
			errs = append(errs, err)
		} else {
			logger.Info("device hostname changed", zap.String("from", s.hostname), zap.String("to", m.Hostname))
			s.hostname = m.Hostname
		}
	}

	if res.Hourly != nil {
		id, err := sess.RecordHourlyReport(ctx, *res.Hourly)
		if err != nil {
			metrics.IncReport(string(statistic.GranularityHour), metrics.ResultError)
			logger.Error("record hourly report failed", zap.Error(err))
			errs = append(errs, err)
		} else {
			metrics.IncReport(string(statistic.GranularityHour), metrics.ResultSuccess)
			res.Hourly.ID = id
		}
	}
	if res.Daily != nil {
		id, err := sess.RecordDailyReport(ctx, *res.Daily)
		if err != nil {
			metrics.IncReport(string(statistic.GranularityDay), metrics.ResultError)
			logger.Error("record daily report failed", zap.Error(err))
			errs = append(errs, err)
		} else {
			metrics.IncReport(string(statistic.GranularityDay), metrics.ResultSuccess)
			res.Daily.ID = id
		}
	}
	return errors.Join(errs...)
}

// publish pushes fresh reports even when persisting them failed; delivery is
// best effort and never blocks the next tick on a retry.
func (s *Sampler) publish(ctx context.Context, logger *zap.Logger, res TickResult, hourlyPersisted, dailyPersisted bool) {
	if s.sink == nil {
		return
	}
	now := s.clock.Now()
	if res.Hourly != nil {
		event := events.HourlyReportCreated{Report: *res.Hourly, Persisted: hourlyPersisted, OccurredAt: now}
		if err := s.sink.PublishHourly(ctx, event); err != nil {
			logger.Warn("publish hourly report failed", zap.Error(err))
		}
	}
	if res.Daily != nil {
		event := events.DailyReportCreated{Report: *res.Daily, Persisted: dailyPersisted, OccurredAt: now}
		if err := s.sink.PublishDaily(ctx, event); err != nil {
			logger.Warn("publish daily report failed", zap.Error(err))
		}
	}
}

func eventIDs(evts []alarms.AnomalyEvent) []int64 {
	ids := make([]int64, 0, len(evts))
	for _, evt := range evts {
		ids = append(ids, evt.ID)
	}
	return ids
}
