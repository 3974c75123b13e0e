package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"referral-core/internal/payout"
)

// staleAfter определяет, сколько выплата может находиться в processing,
// прежде чем сверка спросит шлюз о ее судьбе
const staleAfter = 15 * time.Minute

// ReconcileJob отвечает за сверку зависших выплат с платежным шлюзом
type ReconcileJob struct {
	payoutService *payout.Service
	logger        *zap.Logger
}

// NewReconcileJob создает новую джобу сверки выплат
func NewReconcileJob(payoutService *payout.Service, logger *zap.Logger) *ReconcileJob {
	return &ReconcileJob{
		payoutService: payoutService,
		logger:        logger,
	}
}

// Name возвращает имя джобы
func (j *ReconcileJob) Name() string {
	return "payout_reconcile"
}

// Run запускает сверку выплат
func (j *ReconcileJob) Run(ctx context.Context) error {
	if err := j.payoutService.Reconcile(ctx, staleAfter); err != nil {
		return fmt.Errorf("ошибка сверки выплат: %w", err)
	}
	return nil
}
