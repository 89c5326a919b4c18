package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "powerwatch/internal/alarms/domain"
	alarmnotify "powerwatch/internal/alarms/notify"
	analytics "powerwatch/internal/analytics/application"
	"powerwatch/internal/analytics/domain/statistic"
	analyticsinterfaces "powerwatch/internal/analytics/interfaces"
	"powerwatch/internal/config"
	"powerwatch/internal/ledger"
	"powerwatch/internal/ledger/infrastructure/sqlstore"
	"powerwatch/internal/logging"
	masterdata "powerwatch/internal/masterdata/domain"
	"powerwatch/internal/meteradapter"
	monitor "powerwatch/internal/monitor/application"
	"powerwatch/internal/observability/metrics"
)

const exportTimeLayout = "2006-01-02"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
	closeLog   func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "powerwatch",
		Short:         "Three-phase power meter monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.closeLog != nil {
				a.closeLog()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config (default $"+config.EnvConfigPath+")")
	root.AddCommand(newRunCmd(a), newMigrateCmd(a), newExportCmd(a))
	return root
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sample the meter and deliver notifications until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			a.logger.Info("ledger schema up to date", zap.String("driver", a.cfg.Storage.Driver))
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored reports",
	}
	var from, to, out string
	hourly := &cobra.Command{
		Use:   "hourly",
		Short: "Write hourly reports in [from, to) to an XLSX file",
		Example: `  powerwatch export hourly --from 2026-01-01 --to 2026-02-01 --out january.xlsx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			end := time.Now()
			start := end.Add(-24 * time.Hour)
			var err error
			if from != "" {
				if start, err = time.ParseInLocation(exportTimeLayout, from, time.Local); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if end, err = time.ParseInLocation(exportTimeLayout, to, time.Local); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			if !end.After(start) {
				return errors.New("--to must be after --from")
			}
			return a.exportHourly(cmd.Context(), start, end, out)
		},
	}
	hourly.Flags().StringVar(&from, "from", "", "start date, YYYY-MM-DD (default 24h ago)")
	hourly.Flags().StringVar(&to, "to", "", "end date, exclusive, YYYY-MM-DD (default now)")
	hourly.Flags().StringVar(&out, "out", "hourly_reports.xlsx", "output file")
	cmd.AddCommand(hourly)
	return cmd
}

func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	dialect, err := sqlstore.ParseDialect(a.cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, dialect, a.cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (a *app) exportHourly(ctx context.Context, from, to time.Time, out string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	sess, err := store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	device, err := sess.GetOrCreateDevice(ctx, a.cfg.DeviceRecord())
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	reports, err := sess.ListHourlyReports(ctx, device.ID, from, to)
	if err != nil {
		return err
	}
	data, err := analyticsinterfaces.BuildHourlyReportsXLSX(reports)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	a.logger.Info("hourly reports exported", zap.Int("count", len(reports)), zap.String("file", out))
	return nil
}

func (a *app) run(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateDelivery(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	suppressed, err := cfg.SuppressedTypes()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	device, err := bootstrapDevice(ctx, store, cfg)
	if err != nil {
		return err
	}
	logger = logger.With(zap.Int64("device_id", device.ID), zap.String("device", device.Name))
	logger.Info("device ready", zap.String("address", device.Address), zap.String("hostname", device.Hostname))

	metrics.Init(unnotifiedCounter(store), logger)

	evaluator, err := alarms.NewEvaluator(cfg.Tolerances())
	if err != nil {
		return err
	}
	aggregator, err := statistic.NewAggregator(cfg.BufferCapacity)
	if err != nil {
		return err
	}
	scheduler, err := analytics.NewReportScheduler(aggregator, device.ID, analytics.WithIntervals(cfg.HourlyInterval, cfg.DailyInterval))
	if err != nil {
		return err
	}
	meter, err := meteradapter.NewClient(cfg.Device.Address, cfg.Device.Timeout, meteradapter.WithLocation(loc))
	if err != nil {
		return err
	}

	channel, err := buildChannel(cfg)
	if err != nil {
		return err
	}
	templates, err := alarmnotify.NewTemplates(cfg.Templates.Event, cfg.Templates.Hourly, cfg.Templates.Daily)
	if err != nil {
		return err
	}

	publisher, err := alarmnotify.NewReportPublisher(store, channel, cfg.AdminRecipient, cfg.Recipients,
		alarmnotify.WithPublisherTemplates(templates),
		alarmnotify.WithPublisherDeviceName(device.Name),
		alarmnotify.WithPublisherLocation(loc),
		alarmnotify.WithPublisherRequestTimeout(cfg.NotifyTimeout),
		alarmnotify.WithPublisherLogger(logger.Named("reports")),
	)
	if err != nil {
		return err
	}
	bus := analyticsinterfaces.NewReportBus()
	bus.SubscribeHourly(publisher.PublishHourly)
	bus.SubscribeDaily(publisher.PublishDaily)

	sampler, err := monitor.NewSampler(meter, evaluator, aggregator, scheduler, store, device.ID,
		monitor.WithInterval(cfg.MeasurementInterval),
		monitor.WithReportSink(bus),
		monitor.WithMeasurementStorage(cfg.StoreMeasurements),
		monitor.WithKnownHostname(device.Hostname),
		monitor.WithLogger(logger.Named("sampler")),
	)
	if err != nil {
		return err
	}

	dispatcher, err := alarmnotify.NewDispatcher(store, channel, cfg.AdminRecipient, cfg.Recipients,
		alarmnotify.WithPollInterval(cfg.NotifyInterval),
		alarmnotify.WithCooldown(cfg.NotifyCooldown),
		alarmnotify.WithSuppressedTypes(suppressed...),
		alarmnotify.WithOutageFloor(cfg.OutageFloor),
		alarmnotify.WithRequestTimeout(cfg.NotifyTimeout),
		alarmnotify.WithTemplates(templates),
		alarmnotify.WithDeviceName(device.Name),
		alarmnotify.WithLocation(loc),
		alarmnotify.WithLogger(logger.Named("dispatcher")),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	if cfg.MetricsAddr != "" {
		server := newMetricsServer(cfg.MetricsAddr, logger)
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("monitor started",
		zap.Duration("measurement_interval", cfg.MeasurementInterval),
		zap.Duration("notify_interval", cfg.NotifyInterval),
		zap.String("channel", cfg.Channel.Kind),
		zap.Int("recipients", len(cfg.Recipients)),
	)
	err = g.Wait()
	logger.Info("monitor stopped", zap.Error(err))
	return err
}

func bootstrapDevice(ctx context.Context, store ledger.Store, cfg config.Config) (masterdata.Device, error) {
	sess, err := store.Session(ctx)
	if err != nil {
		return masterdata.Device{}, err
	}
	defer sess.Close()
	device, err := sess.GetOrCreateDevice(ctx, cfg.DeviceRecord())
	if err != nil {
		return masterdata.Device{}, fmt.Errorf("device bootstrap: %w", err)
	}
	return device, nil
}

func buildChannel(cfg config.Config) (alarmnotify.Channel, error) {
	switch cfg.Channel.Kind {
	case config.ChannelWebhook:
		return alarmnotify.NewWebhookChannel(cfg.Channel.BaseURL)
	default:
		var opts []alarmnotify.TelegramOption
		if cfg.Channel.BaseURL != "" {
			opts = append(opts, alarmnotify.WithTelegramBaseURL(cfg.Channel.BaseURL))
		}
		return alarmnotify.NewTelegramChannel(cfg.Channel.Token, opts...)
	}
}

func unnotifiedCounter(store ledger.Store) metrics.UnnotifiedCounter {
	return func(ctx context.Context) (int64, error) {
		sess, err := store.Session(ctx)
		if err != nil {
			return 0, err
		}
		defer sess.Close()
		return sess.CountUnnotified(ctx)
	}
}

func newMetricsServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux, logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
