package application

import (
	"errors"
	"time"

	"powerwatch/internal/analytics/domain/statistic"
)

const (
	DefaultHourlyInterval = time.Hour
	DefaultDailyInterval  = 24 * time.Hour
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Rollup is the aggregator surface the scheduler drives.
type Rollup interface {
	SnapshotHourly() (statistic.HourlyReport, error)
	SnapshotDaily() (statistic.DailyReport, error)
	ResetHourlyCounters()
	ResetDailyCounters()
}

// Due carries the reports materialized by one Check. A nil field means the
// window was not due or had no data.
type Due struct {
	Hourly *statistic.HourlyReport
	Daily  *statistic.DailyReport
}

// Empty reports whether nothing was materialized.
func (d Due) Empty() bool { return d.Hourly == nil && d.Daily == nil }

// ReportScheduler decides when hourly and daily rollups fire. Intervals are
// measured from the last fire time, so cadence drifts with tick latency and
// missed windows are never backfilled.
type ReportScheduler struct {
	rollup         Rollup
	deviceID       int64
	hourlyInterval time.Duration
	dailyInterval  time.Duration
	lastHourlyAt   time.Time
	lastDailyAt    time.Time
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*schedulerConfig)

type schedulerConfig struct {
	clock  Clock
	hourly time.Duration
	daily  time.Duration
}

// WithClock sets the clock used to seed the first window.
func WithClock(clock Clock) SchedulerOption {
	return func(c *schedulerConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIntervals overrides the hourly and daily intervals. Non-positive values keep the defaults.
func WithIntervals(hourly, daily time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		if hourly > 0 {
			c.hourly = hourly
		}
		if daily > 0 {
			c.daily = daily
		}
	}
}

// NewReportScheduler constructs a scheduler whose first windows start now.
func NewReportScheduler(rollup Rollup, deviceID int64, opts ...SchedulerOption) (*ReportScheduler, error) {
	if rollup == nil {
		return nil, errors.New("report scheduler: nil rollup")
	}
	cfg := schedulerConfig{
		clock:  SystemClock{},
		hourly: DefaultHourlyInterval,
		daily:  DefaultDailyInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	start := cfg.clock.Now()
	return &ReportScheduler{
		rollup:         rollup,
		deviceID:       deviceID,
		hourlyInterval: cfg.hourly,
		dailyInterval:  cfg.daily,
		lastHourlyAt:   start,
		lastDailyAt:    start,
	}, nil
}

// Check fires whichever windows are due at now, hourly first. Counters and
// daily extremes are reset on fire even when the window had no data.
func (s *ReportScheduler) Check(now time.Time) Due {
	var due Due
	if now.Sub(s.lastHourlyAt) >= s.hourlyInterval {
		if report, err := s.rollup.SnapshotHourly(); err == nil {
			report.DeviceID = s.deviceID
			report.CreatedAt = now
			due.Hourly = &report
		}
		s.rollup.ResetHourlyCounters()
		s.lastHourlyAt = now
	}
	if now.Sub(s.lastDailyAt) >= s.dailyInterval {
		if report, err := s.rollup.SnapshotDaily(); err == nil {
			report.DeviceID = s.deviceID
			report.CreatedAt = now
			due.Daily = &report
		}
		s.rollup.ResetDailyCounters()
		s.lastDailyAt = now
	}
	return due
}
