package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral-core/internal/api"
	"referral-core/internal/attribution"
	"referral-core/internal/codes"
	"referral-core/internal/config"
	"referral-core/internal/ledger"
	"referral-core/internal/metrics"
	"referral-core/internal/migrations"
	"referral-core/internal/milestone"
	"referral-core/internal/notify"
	"referral-core/internal/payout"
	"referral-core/internal/scheduler"
	"referral-core/internal/store"
	"referral-core/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск сервиса реферальных комиссий")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Инициализация базы данных
	store, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer store.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация клиента платежного шлюза
	gatewayClient := payout.NewGatewayClient(
		cfg.Gateway.BaseURL,
		cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second,
		cfg.Gateway.TestMode,
		logger,
	)
	logger.Info("клиент платежного шлюза инициализирован",
		zap.String("base_url", cfg.Gateway.BaseURL),
		zap.Bool("test_mode", cfg.Gateway.TestMode))

	// Инициализация нотификатора операторов
	var notifier payout.Notifier = notify.NoopNotifier{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.OpsChatID != 0 {
		tgNotifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, logger)
		if err != nil {
			logger.Fatal("ошибка инициализации Telegram-нотификатора", zap.Error(err))
		}
		notifier = tgNotifier
	} else {
		logger.Info("Telegram-оповещения отключены")
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация сервисов
	codesService := codes.NewService(store.Codes(), logger)
	attributionService := attribution.NewService(
		store.Codes(), store.Ledger(), store.Tiers(),
		cfg.Referral.FlatCredit, cfg.Referral.DefaultRate, cfg.Referral.WindowDays, logger)
	ledgerService := ledger.NewService(store.Ledger(), metricsSystem, cfg.Referral.HoldDays, logger)
	milestoneService := milestone.NewService(store.Ledger(), store.Milestones(), store.Tiers(), metricsSystem, logger)
	payoutService := payout.NewService(
		store.Payouts(), store.Settings(), gatewayClient, notifier, metricsSystem,
		cfg.Payout.MinAmount, cfg.Referral.Currency, logger)

	// Инициализация HTTP-обработчиков
	apiHandler := api.NewHandler(codesService, ledgerService, milestoneService, payoutService, logger)
	storeWebhook := webhook.NewStoreWebhookHandler(attributionService, ledgerService, metricsSystem, cfg.Webhook.Secret, logger)
	router := api.NewRouter(apiHandler, storeWebhook, metricsHandler, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewClearingJob(ledgerService, milestoneService, logger))
	taskScheduler.AddJob(scheduler.NewReconcileJob(payoutService, logger))
	if cfg.Payout.BatchEnabled {
		taskScheduler.AddJob(scheduler.NewPayoutBatchJob(payoutService, logger))
	}

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", zap.Int("port", cfg.App.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Запуск планировщика задач
	go taskScheduler.Start(ctx, time.Duration(cfg.App.SchedulerMinutes)*time.Minute)

	logger.Info("сервис запущен и готов к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
	)

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка остановки HTTP сервера", zap.Error(err))
	}

	logger.Info("сервис завершен")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	// В продакшене можно использовать JSON формат
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}
