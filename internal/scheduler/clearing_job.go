package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"referral-core/internal/ledger"
	"referral-core/internal/milestone"
)

// ClearingJob отвечает за клиринг записей, отлежавших период удержания.
// После клиринга сразу пересчитываются рубежи затронутых владельцев:
// новые cleared-записи могут открыть бонус или повышение уровня.
type ClearingJob struct {
	ledgerService    *ledger.Service
	milestoneService *milestone.Service
	logger           *zap.Logger
}

// NewClearingJob создает новую джобу клиринга
func NewClearingJob(ledgerService *ledger.Service, milestoneService *milestone.Service, logger *zap.Logger) *ClearingJob {
	return &ClearingJob{
		ledgerService:    ledgerService,
		milestoneService: milestoneService,
		logger:           logger,
	}
}

// Name возвращает имя джобы
func (j *ClearingJob) Name() string {
	return "clearing"
}

// Run запускает клиринг
func (j *ClearingJob) Run(ctx context.Context) error {
	owners, err := j.ledgerService.RunClearing(ctx)
	if err != nil {
		return fmt.Errorf("ошибка клиринга: %w", err)
	}

	for _, ownerID := range owners {
		if err := j.milestoneService.Evaluate(ctx, ownerID); err != nil {
			j.logger.Error("ошибка пересчета рубежей после клиринга",
				zap.Int64("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return nil
}
