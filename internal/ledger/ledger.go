// Package ledger defines the durable event and report record shared by the
// sampling and notification loops. It is the single writer of the notified
// flag.
package ledger

import (
	"context"
	"errors"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
	masterdata "powerwatch/internal/masterdata/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

var (
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("ledger: session closed")
	// ErrDeviceNotFound is returned when a device id does not exist.
	ErrDeviceNotFound = errors.New("ledger: device not found")
)

// Store hands out per-cycle sessions. A Store is safe for concurrent use; a
// Session is not and must be closed by the cycle that opened it.
type Store interface {
	Session(ctx context.Context) (Session, error)
	Close() error
}

// Session is a scoped handle used by exactly one cycle.
type Session interface {
	GetOrCreateDevice(ctx context.Context, device masterdata.Device) (masterdata.Device, error)
	UpdateDeviceHostname(ctx context.Context, deviceID int64, hostname string) error

	// RecordEvents persists events atomically and returns their ids in order.
	RecordEvents(ctx context.Context, events []alarms.AnomalyEvent) ([]int64, error)
	RecordHourlyReport(ctx context.Context, report statistic.HourlyReport) (int64, error)
	RecordDailyReport(ctx context.Context, report statistic.DailyReport) (int64, error)
	RecordMeasurement(ctx context.Context, deviceID int64, m telemetry.Measurement) error

	// FetchUnnotified returns unnotified events whose type is not excluded,
	// oldest source time first.
	FetchUnnotified(ctx context.Context, exclude []alarms.EventType) ([]alarms.AnomalyEvent, error)
	// MarkNotified flips the flag for the given ids and returns how many rows
	// changed. Already-notified ids are ignored.
	MarkNotified(ctx context.Context, ids []int64) (int64, error)
	// SuppressUnnotified marks every unnotified event of the given types
	// notified without delivery.
	SuppressUnnotified(ctx context.Context, types []alarms.EventType) (int64, error)
	CountUnnotified(ctx context.Context) (int64, error)

	ListHourlyReports(ctx context.Context, deviceID int64, from, to time.Time) ([]statistic.HourlyReport, error)

	Close() error
}
