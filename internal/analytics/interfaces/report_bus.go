package interfaces

import (
	"context"
	"errors"
	"sync"

	"powerwatch/internal/analytics/application/events"
)

// ReportBus is an in-process, synchronous bus for materialized reports. Every
// handler runs even when an earlier one fails; the errors are joined.
type ReportBus struct {
	mu sync.RWMutex

	hourlyHandlers []func(context.Context, events.HourlyReportCreated) error
	dailyHandlers  []func(context.Context, events.DailyReportCreated) error
}

// NewReportBus constructs a new bus.
func NewReportBus() *ReportBus {
	return &ReportBus{}
}

// SubscribeHourly registers a handler for hourly reports.
func (b *ReportBus) SubscribeHourly(handler func(context.Context, events.HourlyReportCreated) error) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hourlyHandlers = append(b.hourlyHandlers, handler)
}

// SubscribeDaily registers a handler for daily reports.
func (b *ReportBus) SubscribeDaily(handler func(context.Context, events.DailyReportCreated) error) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyHandlers = append(b.dailyHandlers, handler)
}

// PublishHourly delivers an hourly report to every subscriber.
func (b *ReportBus) PublishHourly(ctx context.Context, event events.HourlyReportCreated) error {
	b.mu.RLock()
	handlers := append([]func(context.Context, events.HourlyReportCreated) error(nil), b.hourlyHandlers...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishDaily delivers a daily report to every subscriber.
func (b *ReportBus) PublishDaily(ctx context.Context, event events.DailyReportCreated) error {
	b.mu.RLock()
	handlers := append([]func(context.Context, events.DailyReportCreated) error(nil), b.dailyHandlers...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
