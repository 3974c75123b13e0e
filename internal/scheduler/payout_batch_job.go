package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"referral-core/internal/payout"
)

// PayoutBatchJob отвечает за пакетные выплаты владельцам, чей доступный
// баланс достиг минимального порога. Включается настройкой.
type PayoutBatchJob struct {
	payoutService *payout.Service
	logger        *zap.Logger
}

// NewPayoutBatchJob создает новую джобу пакетных выплат
func NewPayoutBatchJob(payoutService *payout.Service, logger *zap.Logger) *PayoutBatchJob {
	return &PayoutBatchJob{
		payoutService: payoutService,
		logger:        logger,
	}
}

// Name возвращает имя джобы
func (j *PayoutBatchJob) Name() string {
	return "payout_batch"
}

// Run запускает пакетные выплаты
func (j *PayoutBatchJob) Run(ctx context.Context) error {
	if err := j.payoutService.RunBatch(ctx); err != nil {
		return fmt.Errorf("ошибка пакетных выплат: %w", err)
	}
	return nil
}
