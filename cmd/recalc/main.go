package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"referral-core/internal/config"
	"referral-core/internal/ledger"
	"referral-core/internal/metrics"
	"referral-core/internal/milestone"
	"referral-core/internal/store"

	"go.uber.org/zap"
)

func main() {
	var (
		ownerID  = flag.Int64("owner", 0, "ID владельца для пересчета (0 = все владельцы)")
		clearing = flag.Bool("clearing", false, "Сначала выполнить клиринг отлежавших записей")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Подключение к базе данных
	store, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer store.Close()

	metricsSystem := metrics.New(logger)
	ledgerService := ledger.NewService(store.Ledger(), metricsSystem, cfg.Referral.HoldDays, logger)
	milestoneService := milestone.NewService(store.Ledger(), store.Milestones(), store.Tiers(), metricsSystem, logger)

	ctx := context.Background()

	if *clearing {
		if err := runClearing(ctx, ledgerService, logger); err != nil {
			logger.Fatal("Ошибка клиринга", zap.Error(err))
		}
	}

	if *ownerID > 0 {
		err = milestoneService.Evaluate(ctx, *ownerID)
	} else {
		err = milestoneService.EvaluateAll(ctx)
	}

	if err != nil {
		logger.Fatal("Ошибка пересчета рубежей", zap.Error(err))
	}

	logger.Info("Пересчет рубежей завершен успешно")
}

func runClearing(ctx context.Context, ledgerService *ledger.Service, logger *zap.Logger) error {
	owners, err := ledgerService.RunClearing(ctx)
	if err != nil {
		return fmt.Errorf("ошибка клиринга: %w", err)
	}

	logger.Info("Клиринг выполнен", zap.Int("owners", len(owners)))
	return nil
}
