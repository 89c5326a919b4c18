package events

import (
	"time"

	"powerwatch/internal/analytics/domain/statistic"
)

// HourlyReportCreated is raised once an hourly rollup has been materialized.
type HourlyReportCreated struct {
	Report     statistic.HourlyReport
	Persisted  bool
	OccurredAt time.Time
}

// DailyReportCreated is raised once a daily rollup has been materialized.
type DailyReportCreated struct {
	Report     statistic.DailyReport
	Persisted  bool
	OccurredAt time.Time
}
