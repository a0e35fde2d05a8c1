package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookslot/internal/api"
	"bookslot/internal/bot"
	"bookslot/internal/config"
	"bookslot/internal/database"
	"bookslot/internal/domain"
	"bookslot/internal/events"
	"bookslot/internal/export"
	"bookslot/internal/google"
	"bookslot/internal/logging"
	"bookslot/internal/metrics"
	"bookslot/internal/notify"
	"bookslot/internal/payment"
	"bookslot/internal/repository"
	"bookslot/internal/service"
	"bookslot/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// app holds the optional integrations. Unconfigured ones stay nil
// interfaces so the services can test them against nil.
type app struct {
	cfg       *config.Config
	logger    *zerolog.Logger
	db        *database.DB
	redis     *redis.Client
	guard     domain.GuardStore
	calendars domain.CalendarProvider
	payments  domain.PaymentProvider
	notifier  domain.Notifier
	telegram  *tgbotapi.BotAPI
	sheets    *worker.SheetsWorker
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	a := &app{cfg: cfg, logger: logger, db: db}
	a.redis = initRedis(ctx, cfg, logger)
	if a.redis != nil {
		defer a.redis.Close()
	}
	a.initGuard()
	a.initCalendar()
	a.initPayments()
	if err := a.initNotifier(); err != nil {
		return err
	}
	a.initSheets(ctx)

	settings := service.NewSettings(cfg)
	bus := events.NewEventBus(logger)
	var syncWorker domain.SyncWorker
	if a.sheets != nil {
		syncWorker = a.sheets
	}
	service.RegisterBookingSubscribers(ctx, bus, syncWorker, logger)

	slots := service.NewSlotService(db, a.calendars, settings, logger)
	bookings := service.NewBookingService(service.BookingDeps{
		Repo:      db,
		Calendars: a.calendars,
		Payments:  a.payments,
		Notifier:  a.notifier,
		Guard:     a.guard,
		EventBus:  bus,
	}, slots, settings, logger)
	reminders := service.NewReminderService(db, a.notifier, settings, logger)
	hosts := service.NewHostService(db, export.NewExporter(cfg.Exports.Path, logger), settings, logger)

	svc := api.Services{
		Slots:     slots,
		Bookings:  bookings,
		Hosts:     hosts,
		Reminders: reminders,
		Ready:     a.readinessChecks(),
	}
	if a.payments != nil {
		svc.Checkout = service.NewCheckoutService(db, bookings, a.payments, settings, logger)
	}

	if err := a.startBackground(ctx, reminders); err != nil {
		return err
	}
	if a.telegram != nil && cfg.Telegram.Commands {
		go bot.NewBot(a.telegram, cfg.Telegram.ChatID, hosts, bookings, reminders, logger).Start(ctx)
	}
	startMetrics(ctx, cfg, logger)

	return startServers(ctx, cfg, svc, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initGuard prefers Redis for slot locks and rate limits and falls back to
// process memory when Redis is absent or failing.
func (a *app) initGuard() {
	memory := repository.NewMemoryGuardStore()
	if a.redis == nil {
		a.guard = memory
		return
	}
	a.guard = repository.NewFailoverGuardStore(repository.NewRedisGuardStore(a.redis), memory, a.logger)
}

func (a *app) initCalendar() {
	if a.cfg.Google.OAuthClientFile == "" {
		a.logger.Info().Msg("google calendar not configured")
		return
	}
	provider, err := google.NewCalendarProvider(a.cfg.Google.OAuthClientFile, a.db, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("google calendar init failed, continuing without calendar")
		return
	}
	a.calendars = provider
}

func (a *app) initPayments() {
	if !a.cfg.Payment.Enabled() {
		a.logger.Info().Msg("payments not configured")
		return
	}
	provider, err := payment.NewStripeProvider(a.cfg.Payment)
	if err != nil {
		a.logger.Warn().Err(err).Msg("stripe init failed, paid event types cannot be booked")
		return
	}
	a.payments = provider
}

func (a *app) initNotifier() error {
	var email *notify.EmailNotifier
	if a.cfg.Email.Enabled() {
		n, err := notify.NewEmailNotifier(a.cfg.Email, a.logger)
		if err != nil {
			return fmt.Errorf("init email: %w", err)
		}
		email = n
	}

	var telegram *notify.TelegramNotifier
	if a.cfg.Telegram.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(a.cfg.Telegram.BotToken)
		if err != nil {
			a.logger.Warn().Err(err).Msg("telegram init failed, host chat notifications disabled")
		} else {
			botAPI.Debug = a.cfg.Telegram.Debug
			a.telegram = botAPI
			telegram = notify.NewTelegramNotifier(botAPI, a.cfg.Telegram.ChatID)
		}
	}

	a.notifier = notify.NewDispatcher(email, telegram)
	return nil
}

func (a *app) initSheets(ctx context.Context) {
	if a.cfg.Google.GoogleCredentialsFile == "" || a.cfg.Google.BookingSpreadSheetID == "" {
		return
	}

	sheets, err := google.NewSheetsService(ctx, a.cfg.Google.GoogleCredentialsFile, a.cfg.Google.BookingSpreadSheetID, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return
	}
	go sheets.RunCacheRefresh(ctx, 10*time.Minute)

	a.sheets = worker.NewSheetsWorker(a.db, sheets, a.redis, worker.RetryPolicy{}, a.logger)
	a.logger.Info().Msg("google sheets connected")
}

func (a *app) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{
		"database": func(ctx context.Context) error { return a.db.PingContext(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, a.redis) }
	}
	return checks
}

func (a *app) startBackground(ctx context.Context, reminders *service.ReminderService) error {
	if a.sheets != nil {
		go a.sheets.Start(ctx)
	}

	if a.cfg.Backup.Enabled {
		go database.NewBackupService(a.db, a.cfg.Backup, a.logger).Start(ctx)
	}

	scheduler, err := worker.NewReminderScheduler(func(ctx context.Context) error {
		_, err := reminders.SendTodayReminders(ctx)
		return err
	}, a.cfg.Scheduler.ReminderTimezone, a.cfg.Scheduler.ReminderTime, a.logger)
	if err != nil {
		return fmt.Errorf("init reminder scheduler: %w", err)
	}
	go scheduler.Start(ctx)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(ctx context.Context, cfg *config.Config, svc api.Services, logger *zerolog.Logger) error {
	httpServer := api.NewHTTPServer(cfg.API, svc, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		srv, err := api.NewGRPCServer(&cfg.API, svc.Ready, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer = srv
		go func() {
			if err := grpcServer.Serve(ctx, 15*time.Second); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("bookslot started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("bookslot stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
