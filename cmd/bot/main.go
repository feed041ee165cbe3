package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cityshift/internal/bot"
	"cityshift/internal/chart"
	"cityshift/internal/config"
	"cityshift/internal/database"
	"cityshift/internal/events"
	"cityshift/internal/export"
	"cityshift/internal/health"
	"cityshift/internal/metrics"
	"cityshift/internal/occupancy"
	"cityshift/internal/repository"
	"cityshift/internal/service"
	"cityshift/shared/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("BOT_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn().Str("level", cfg.Logging.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conversation state and the fired-minute marker live in Redis when it
	// is configured; otherwise both stay in process.
	var rdb *redis.Client
	var stateRepo repository.StateRepository = repository.NewMemoryStateRepository(cfg.StateTTL())
	var marker scheduler.Marker = scheduler.NewMemoryMarker()
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		stateRepo = repository.NewFailoverStateRepository(
			repository.NewRedisStateRepository(rdb, cfg.StateTTL()),
			stateRepo,
			&logger,
		)
		marker = scheduler.NewRedisMarker(rdb, "", 0)
	}

	bus := events.NewEventBus(&logger)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(bus)
	}
	var sheets *export.SheetsExporter
	if cfg.Export.SheetsEnabled {
		sheets, err = export.NewSheetsExporter(ctx, cfg.Export.CredentialsFile, cfg.Export.SpreadsheetID, cfg.Export.SheetName, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("google sheets export disabled")
			sheets = nil
		} else {
			sheets.Subscribe(bus)
		}
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram auth error")
	}
	api.Debug = cfg.Telegram.Debug

	var schedMetrics *scheduler.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		schedMetrics = scheduler.NewMetrics("cityshift", prometheus.DefaultRegisterer)
	}
	schedLogger := scheduler.NewZerologLogger(logger)
	sched, err := scheduler.New(scheduler.Config{
		Timezone:      cfg.Scheduler.Timezone,
		CheckInterval: cfg.CheckInterval(),
		SendTimeout:   cfg.SendTimeout(),
	}, marker, schedMetrics, schedLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create scheduler error")
	}

	window := occupancy.Window{MinHour: cfg.Report.MinHour, MaxHour: cfg.Report.MaxHour}
	schedules := service.NewScheduleService(db, bus, sched.Location(), window, &logger)
	states := service.NewStateService(stateRepo, &logger)

	retry := scheduler.DefaultRetryConfig()
	retry.MaxRetries = cfg.Retries()
	deliverer := scheduler.NewDeliverer(scheduler.DelivererConfig{
		RatePerSecond: cfg.Scheduler.RatePerSecond,
		Burst:         cfg.Scheduler.Burst,
		Retry:         retry,
	}, schedMetrics, schedLogger)

	sender := bot.NewSender(api)
	sched.Add(scheduler.MidnightTrigger, service.NewNotifyJob(db, sender, deliverer))
	sched.Add(scheduler.ReportTrigger, service.NewReportJob(
		schedules, chart.NewRenderer(), sender, deliverer, bus, cfg.Telegram.AdminIDs, &logger,
	))

	b, err := bot.New(api, bot.Config{
		Cities:   cfg.Cities,
		AdminIDs: cfg.Telegram.AdminIDs,
	}, schedules, states, sched, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}

	checker := health.NewChecker(&logger)
	checker.Add("db", db.PingContext)
	if rdb != nil {
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	go health.ServeHTTP(ctx, cfg.Monitoring.HealthCheckPort, checker.Handler(), &logger)
	if cfg.Monitoring.GRPCHealthPort != 0 {
		go checker.Watch(ctx, 15*time.Second)
		go func() {
			if err := checker.ServeGRPC(ctx, cfg.Monitoring.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go health.ServeHTTP(ctx, cfg.Monitoring.PrometheusPort, mux, &logger)
	}

	// Workers that must finish before the store and Redis are closed.
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}()
	go func() {
		defer workers.Done()
		sched.Start(ctx)
	}()

	// The exporter outlives the workers so rows they publish while
	// stopping are still appended.
	sheetsCtx, stopSheets := context.WithCancel(context.Background())
	defer stopSheets()
	sheetsDone := make(chan struct{})
	if sheets != nil {
		go func() {
			defer close(sheetsDone)
			sheets.Run(sheetsCtx)
		}()
	} else {
		close(sheetsDone)
	}

	logger.Info().
		Str("timezone", cfg.Scheduler.Timezone).
		Int("cities", len(cfg.Cities)).
		Int("admins", len(cfg.Telegram.AdminIDs)).
		Msg("bot started")
	b.Start(ctx)
	stop()

	logger.Info().Msg("waiting for scheduled work to finish")
	workers.Wait()
	stopSheets()
	<-sheetsDone
	logger.Info().Msg("bot stopped")
}
