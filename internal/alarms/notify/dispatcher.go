package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/ledger"
	"powerwatch/internal/observability/metrics"
)

const (
	DefaultPollInterval   = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	Suppressed int64
	Fetched    int
	Marked     int64
	Delivered  int
	Failed     int
	Throttled  int
}

// Dispatcher polls the ledger for unnotified events and fans them out: every
// event to the admin, critical events to every recipient as well.
type Dispatcher struct {
	store      ledger.Store
	channel    Channel
	templates  *Templates
	admin      string
	recipients []string

	suppressed     []alarms.EventType
	outageFloor    float64
	interval       time.Duration
	cooldown       time.Duration
	requestTimeout time.Duration
	deviceName     string
	location       *time.Location
	clock          Clock
	logger         *zap.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets the Run poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithCooldown sets a minimum interval between deliveries of the same event
// type on the same phase. Throttled events are still marked notified.
func WithCooldown(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.cooldown = interval
		}
	}
}

// WithSuppressedTypes marks these types notified without ever delivering them.
func WithSuppressedTypes(types ...alarms.EventType) Option {
	return func(d *Dispatcher) {
		d.suppressed = append([]alarms.EventType(nil), types...)
	}
}

// WithOutageFloor sets the voltage under which a spike is critical.
func WithOutageFloor(floor float64) Option {
	return func(d *Dispatcher) {
		if floor >= 0 {
			d.outageFloor = floor
		}
	}
}

// WithRequestTimeout bounds each delivery call.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

// WithTemplates overrides the message templates.
func WithTemplates(t *Templates) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.templates = t
		}
	}
}

// WithDeviceName sets the device label used in messages.
func WithDeviceName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.deviceName = name
		}
	}
}

// WithLocation sets the zone message timestamps are shown in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(store ledger.Store, channel Channel, admin string, recipients []string, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("notification dispatcher: nil store")
	}
	if channel == nil {
		return nil, errors.New("notification dispatcher: nil channel")
	}
	if strings.TrimSpace(admin) == "" {
		return nil, errors.New("notification dispatcher: empty admin recipient")
	}
	d := &Dispatcher{
		store:          store,
		channel:        channel,
		templates:      DefaultTemplates(),
		admin:          admin,
		recipients:     append([]string(nil), recipients...),
		outageFloor:    alarms.DefaultTolerances().OutageFloor,
		interval:       DefaultPollInterval,
		requestTimeout: defaultRequestTimeout,
		deviceName:     "power meter",
		location:       time.Local,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		sent:           make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run polls until ctx is cancelled. A cycle in progress is never interrupted.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	logger := d.logger.With(zap.String("cycle_id", uuid.NewString()))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveDispatch(metrics.ResultError, time.Since(start))
			logger.Error("dispatch cycle panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	res, err := d.RunOnce(context.WithoutCancel(ctx))
	if err != nil {
		metrics.ObserveDispatch(metrics.ResultError, time.Since(start))
		logger.Error("dispatch cycle failed", zap.Error(err))
		return
	}
	metrics.ObserveDispatch(metrics.ResultSuccess, time.Since(start))
	if res.Fetched > 0 || res.Suppressed > 0 {
		logger.Info("dispatch cycle",
			zap.Int64("suppressed", res.Suppressed),
			zap.Int("fetched", res.Fetched),
			zap.Int64("marked", res.Marked),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed),
			zap.Int("throttled", res.Throttled),
		)
	}
}

// RunOnce performs one dispatch cycle.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	events, err := d.claim(ctx, &res)
	if err != nil || len(events) == 0 {
		return res, err
	}

	for _, evt := range events {
		critical := evt.IsCritical(d.outageFloor)
		data := buildEventData(d.deviceName, evt, critical, d.location)
		content, err := d.templates.Event.Render(data)
		if err != nil {
			d.logger.Error("render event", zap.Int64("event_id", evt.ID), zap.Error(err))
			res.Failed++
			continue
		}
		// Critical events are never throttled.
		key := cooldownKey(evt)
		if !critical && !d.shouldSend(key) {
			metrics.IncNotification(string(evt.Type), RoleAdmin, metrics.DeliveryThrottled)
			res.Throttled++
			continue
		}
		d.deliver(ctx, &res, evt, RoleAdmin, d.admin, content)
		if !critical {
			d.markSent(key)
			continue
		}
		for _, recipient := range d.recipients {
			d.deliver(ctx, &res, evt, RoleRecipient, recipient, content)
		}
	}
	return res, nil
}

// claim suppresses the configured types, fetches the rest and marks them
// notified, all on one session that is released before any delivery.
func (d *Dispatcher) claim(ctx context.Context, res *DispatchResult) ([]alarms.AnomalyEvent, error) {
	sess, err := d.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if len(d.suppressed) > 0 {
		n, err := sess.SuppressUnnotified(ctx, d.suppressed)
		if err != nil {
			d.logger.Warn("suppress events failed", zap.Error(err))
		} else {
			res.Suppressed = n
			metrics.AddSuppressed(n)
		}
	}

	events, err := sess.FetchUnnotified(ctx, d.suppressed)
	if err != nil {
		return nil, fmt.Errorf("fetch unnotified: %w", err)
	}
	res.Fetched = len(events)
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(events))
	for _, evt := range events {
		ids = append(ids, evt.ID)
	}
	// Marked before delivery: a crash or channel outage after this point drops
	// these alerts, but no recipient ever receives one twice.
	marked, err := sess.MarkNotified(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("mark notified: %w", err)
	}
	res.Marked = marked
	return events, nil
}

func (d *Dispatcher) deliver(ctx context.Context, res *DispatchResult, evt alarms.AnomalyEvent, role, recipient, content string) {
	sendCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()
	if err := d.channel.SendText(sendCtx, recipient, content); err != nil {
		res.Failed++
		metrics.IncNotification(string(evt.Type), role, metrics.DeliveryFailed)
		d.logger.Warn("deliver event failed",
			zap.Int64("event_id", evt.ID),
			zap.String("role", role),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return
	}
	res.Delivered++
	metrics.IncNotification(string(evt.Type), role, metrics.DeliverySent)
}

func (d *Dispatcher) shouldSend(key string) bool {
	if d.cooldown <= 0 {
		return true
	}
	d.mu.Lock()
	last, ok := d.sent[key]
	d.mu.Unlock()
	return !ok || d.clock.Now().Sub(last) >= d.cooldown
}

func (d *Dispatcher) markSent(key string) {
	if d.cooldown <= 0 {
		return
	}
	d.mu.Lock()
	d.sent[key] = d.clock.Now()
	d.mu.Unlock()
}

func cooldownKey(evt alarms.AnomalyEvent) string {
	if len(evt.Details.Phases) == 2 {
		return fmt.Sprintf("%s|%d-%d", evt.Type, evt.Details.Phases[0], evt.Details.Phases[1])
	}
	return fmt.Sprintf("%s|%d", evt.Type, evt.Details.Phase)
}
