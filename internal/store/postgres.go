package store

import (
	"context"
	"fmt"
	"time"

	"referral-core/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Codes() CodeRepository
	Ledger() LedgerRepository
	Payouts() PayoutRepository
	Milestones() MilestoneRepository
	Settings() SettingsRepository
	Tiers() TierRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db         *pgxpool.Pool
	logger     *zap.Logger
	codes      CodeRepository
	ledger     LedgerRepository
	payouts    PayoutRepository
	milestones MilestoneRepository
	settings   SettingsRepository
	tiers      TierRepository
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// Создание пула
	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.codes = NewCodeRepository(db, logger)
	s.ledger = NewLedgerRepository(db, logger)
	s.payouts = NewPayoutRepository(db, logger)
	s.milestones = NewMilestoneRepository(db, logger)
	s.settings = NewSettingsRepository(db, logger)
	s.tiers = NewTierRepository(db, logger)

	return s, nil
}

// Codes возвращает репозиторий реферальных кодов
func (s *store) Codes() CodeRepository {
	return s.codes
}

// Ledger возвращает репозиторий леджера
func (s *store) Ledger() LedgerRepository {
	return s.ledger
}

// Payouts возвращает репозиторий выплат
func (s *store) Payouts() PayoutRepository {
	return s.payouts
}

// Milestones возвращает репозиторий реферальных порогов
func (s *store) Milestones() MilestoneRepository {
	return s.milestones
}

// Settings возвращает репозиторий настроек выплат
func (s *store) Settings() SettingsRepository {
	return s.settings
}

// Tiers возвращает репозиторий уровней партнеров
func (s *store) Tiers() TierRepository {
	return s.tiers
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}
