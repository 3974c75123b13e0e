package milestone

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"referral-core/internal/metrics"
	"referral-core/pkg/models"
)

// Service представляет сервис начисления бонусов за реферальные рубежи
// и автоматического повышения уровня партнеров
type Service struct {
	ledgerRepo    LedgerRepository
	milestoneRepo MilestoneRepository
	tierRepo      TierRepository
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// LedgerRepository интерфейс для работы с леджером
type LedgerRepository interface {
	CountCompletedReferrals(ctx context.Context, ownerID int64) (int, error)
	CountClearedAffiliate(ctx context.Context, ownerID int64) (int, error)
	OwnersWithCleared(ctx context.Context) ([]int64, error)
}

// MilestoneRepository интерфейс для работы с бонусами за рубежи
type MilestoneRepository interface {
	ListGranted(ctx context.Context, ownerID int64) ([]int, error)
	Grant(ctx context.Context, ownerID int64, threshold int, bonus float64) (bool, error)
}

// TierRepository интерфейс для работы с уровнями партнеров
type TierRepository interface {
	UpgradeToActive(ctx context.Context, ownerID int64) (bool, error)
}

// NewService создает новый сервис рубежей
func NewService(ledgerRepo LedgerRepository, milestoneRepo MilestoneRepository, tierRepo TierRepository, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		ledgerRepo:    ledgerRepo,
		milestoneRepo: milestoneRepo,
		tierRepo:      tierRepo,
		metrics:       m,
		logger:        logger,
	}
}

// Evaluate пересчитывает прогресс владельца и выдает все достигнутые,
// но еще не выданные бонусы. Вызов идемпотентен: прогресс всегда
// считается из леджера, выдача защищена отметкой в milestone_rewards.
func (s *Service) Evaluate(ctx context.Context, ownerID int64) error {
	count, err := s.ledgerRepo.CountCompletedReferrals(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка подсчета завершенных рефералов: %w", err)
	}

	granted, err := s.milestoneRepo.ListGranted(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка получения выданных бонусов: %w", err)
	}

	grantedSet := make(map[int]bool, len(granted))
	for _, t := range granted {
		grantedSet[t] = true
	}

	for _, m := range models.Milestones {
		if count < m.Threshold || grantedSet[m.Threshold] {
			continue
		}

		ok, err := s.milestoneRepo.Grant(ctx, ownerID, m.Threshold, m.Bonus)
		if err != nil {
			return fmt.Errorf("ошибка выдачи бонуса за порог %d: %w", m.Threshold, err)
		}
		if ok {
			s.metrics.RecordMilestone()
			s.metrics.RecordLedgerEntry(models.EntryKindMilestoneBonus, m.Bonus)
			s.logger.Info("достигнут реферальный рубеж",
				zap.Int64("owner_id", ownerID),
				zap.Int("threshold", m.Threshold),
				zap.Float64("bonus", m.Bonus))
		}
	}

	return s.evaluateTier(ctx, ownerID)
}

// EvaluateAll пересчитывает рубежи всех владельцев с cleared-записями
func (s *Service) EvaluateAll(ctx context.Context) error {
	owners, err := s.ledgerRepo.OwnersWithCleared(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения владельцев: %w", err)
	}

	for _, ownerID := range owners {
		if err := s.Evaluate(ctx, ownerID); err != nil {
			s.logger.Error("ошибка пересчета рубежей владельца",
				zap.Int64("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return nil
}

// GetProgress возвращает прогресс владельца по рубежам
func (s *Service) GetProgress(ctx context.Context, ownerID int64) (*models.MilestoneProgress, error) {
	count, err := s.ledgerRepo.CountCompletedReferrals(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета завершенных рефералов: %w", err)
	}

	granted, err := s.milestoneRepo.ListGranted(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выданных бонусов: %w", err)
	}

	return &models.MilestoneProgress{
		OwnerID:        ownerID,
		CompletedCount: count,
		RewardsGranted: granted,
	}, nil
}

// evaluateTier повышает партнера до активного уровня при достижении
// нужного числа завершенных партнерских продаж
func (s *Service) evaluateTier(ctx context.Context, ownerID int64) error {
	sales, err := s.ledgerRepo.CountClearedAffiliate(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка подсчета партнерских продаж: %w", err)
	}

	if sales < models.TierActiveThreshold {
		return nil
	}

	upgraded, err := s.tierRepo.UpgradeToActive(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка повышения уровня: %w", err)
	}
	if upgraded {
		s.logger.Info("партнер повышен до активного уровня",
			zap.Int64("owner_id", ownerID),
			zap.Int("cleared_sales", sales))
	}

	return nil
}
