package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"powerwatch/internal/analytics/application/events"
	"powerwatch/internal/analytics/domain/statistic"
	analytics "powerwatch/internal/analytics/interfaces"
	"powerwatch/internal/ledger"
	"powerwatch/internal/observability/metrics"
)

const (
	reportKindHourly = "hourly_report"
	reportKindDaily  = "daily_report"

	dailyHistoryWindow = 24 * time.Hour
)

// ReportPublisher delivers materialized reports. Hourly reports go to the
// admin only; daily reports go to everyone, with a PDF summary and an XLSX of
// the last day of hourly reports attached.
type ReportPublisher struct {
	store      ledger.Store
	channel    Channel
	templates  *Templates
	admin      string
	recipients []string

	deviceName     string
	location       *time.Location
	requestTimeout time.Duration
	logger         *zap.Logger
}

// PublisherOption configures the report publisher.
type PublisherOption func(*ReportPublisher)

// WithPublisherTemplates overrides the report templates.
func WithPublisherTemplates(t *Templates) PublisherOption {
	return func(p *ReportPublisher) {
		if t != nil {
			p.templates = t
		}
	}
}

// WithPublisherDeviceName sets the device label used in reports.
func WithPublisherDeviceName(name string) PublisherOption {
	return func(p *ReportPublisher) {
		if name != "" {
			p.deviceName = name
		}
	}
}

// WithPublisherLocation sets the zone report timestamps are shown in.
func WithPublisherLocation(loc *time.Location) PublisherOption {
	return func(p *ReportPublisher) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithPublisherRequestTimeout bounds each delivery call.
func WithPublisherRequestTimeout(timeout time.Duration) PublisherOption {
	return func(p *ReportPublisher) {
		if timeout > 0 {
			p.requestTimeout = timeout
		}
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *ReportPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewReportPublisher constructs a publisher. store may be nil, in which case
// daily reports carry no hourly history.
func NewReportPublisher(store ledger.Store, channel Channel, admin string, recipients []string, opts ...PublisherOption) (*ReportPublisher, error) {
	if channel == nil {
		return nil, errors.New("report publisher: nil channel")
	}
	if strings.TrimSpace(admin) == "" {
		return nil, errors.New("report publisher: empty admin recipient")
	}
	p := &ReportPublisher{
		store:          store,
		channel:        channel,
		templates:      DefaultTemplates(),
		admin:          admin,
		recipients:     append([]string(nil), recipients...),
		deviceName:     "power meter",
		location:       time.Local,
		requestTimeout: defaultRequestTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishHourly sends an hourly report to the admin.
func (p *ReportPublisher) PublishHourly(ctx context.Context, event events.HourlyReportCreated) error {
	content, err := p.templates.Hourly.Render(buildHourlyData(p.deviceName, event.Report, p.location))
	if err != nil {
		return fmt.Errorf("render hourly report: %w", err)
	}
	return p.sendText(ctx, reportKindHourly, RoleAdmin, p.admin, content)
}

// PublishDaily sends a daily report to the admin and every recipient. A
// failed attachment build is logged and the text is still sent.
func (p *ReportPublisher) PublishDaily(ctx context.Context, event events.DailyReportCreated) error {
	report := event.Report
	content, err := p.templates.Daily.Render(buildDailyData(p.deviceName, report, p.location))
	if err != nil {
		return fmt.Errorf("render daily report: %w", err)
	}
	docs := p.dailyDocuments(ctx, report)

	var errs []error
	targets := append([]string{p.admin}, p.recipients...)
	for i, target := range targets {
		role := RoleRecipient
		if i == 0 {
			role = RoleAdmin
		}
		if err := p.sendText(ctx, reportKindDaily, role, target, content); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, doc := range docs {
			if err := p.sendDocument(ctx, reportKindDaily, role, target, doc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *ReportPublisher) dailyDocuments(ctx context.Context, report statistic.DailyReport) []Document {
	hourly := p.hourlyHistory(ctx, report)
	stamp := report.CreatedAt.In(p.location).Format("2006-01-02")
	caption := fmt.Sprintf("Daily report %s", report.CreatedAt.In(p.location).Format(messageTimeLayout))

	var docs []Document
	if pdf, err := analytics.BuildDailyReportPDF(p.deviceName, report, hourly); err != nil {
		p.logger.Warn("build daily pdf failed", zap.Error(err))
	} else {
		docs = append(docs, Document{Name: "daily_report_" + stamp + ".pdf", Data: pdf, Caption: caption})
	}
	if len(hourly) > 0 {
		if xlsx, err := analytics.BuildHourlyReportsXLSX(hourly); err != nil {
			p.logger.Warn("build hourly xlsx failed", zap.Error(err))
		} else {
			docs = append(docs, Document{Name: "hourly_reports_" + stamp + ".xlsx", Data: xlsx, Caption: "Hourly reports, last 24 h"})
		}
	}
	return docs
}

func (p *ReportPublisher) hourlyHistory(ctx context.Context, report statistic.DailyReport) []statistic.HourlyReport {
	if p.store == nil {
		return nil
	}
	sess, err := p.store.Session(ctx)
	if err != nil {
		p.logger.Warn("open ledger session for report history failed", zap.Error(err))
		return nil
	}
	defer sess.Close()
	// The hourly report fired on the same tick shares CreatedAt; include it.
	to := report.CreatedAt.Add(time.Second)
	hourly, err := sess.ListHourlyReports(ctx, report.DeviceID, to.Add(-dailyHistoryWindow), to)
	if err != nil {
		p.logger.Warn("list hourly reports failed", zap.Error(err))
		return nil
	}
	return hourly
}

func (p *ReportPublisher) sendText(ctx context.Context, kind, role, target, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	err := p.channel.SendText(sendCtx, target, content)
	p.observe(kind, role, target, err)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, role, err)
	}
	return nil
}

func (p *ReportPublisher) sendDocument(ctx context.Context, kind, role, target string, doc Document) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	err := p.channel.SendDocument(sendCtx, target, doc)
	p.observe(kind, role, target, err)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", doc.Name, role, err)
	}
	return nil
}

func (p *ReportPublisher) observe(kind, role, target string, err error) {
	if err != nil {
		metrics.IncNotification(kind, role, metrics.DeliveryFailed)
		p.logger.Warn("deliver report failed",
			zap.String("kind", kind),
			zap.String("role", role),
			zap.String("recipient", target),
			zap.Error(err),
		)
		return
	}
	metrics.IncNotification(kind, role, metrics.DeliverySent)
}
