package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"referral-core/internal/metrics"
	"referral-core/pkg/models"
)

// Service представляет сервис обработки выплат
type Service struct {
	payoutRepo   PayoutRepository
	settingsRepo SettingsRepository
	gateway      GatewayClient
	notifier     Notifier
	metrics      *metrics.Metrics
	logger       *zap.Logger

	minAmount float64
	currency  string
}

// PayoutRepository интерфейс для работы с запросами на выплату
type PayoutRepository interface {
	CreateWithLink(ctx context.Context, ownerID int64, method, destination string, minAmount float64) (*models.PayoutRequest, error)
	GetByID(ctx context.Context, id int64) (*models.PayoutRequest, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.PayoutStatus, reason *string) error
	Complete(ctx context.Context, id int64) (int, error)
	Reject(ctx context.Context, id int64, reason string) error
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.PayoutRequest, error)
	CountProcessing(ctx context.Context) (int, error)
	OwnersAboveThreshold(ctx context.Context, minAmount float64) ([]int64, error)
}

// SettingsRepository интерфейс для работы с настройками выплат
type SettingsRepository interface {
	Get(ctx context.Context, ownerID int64) (*models.PayoutSettings, error)
	Upsert(ctx context.Context, settings *models.PayoutSettings) error
}

// GatewayClient интерфейс для работы с платежным шлюзом
type GatewayClient interface {
	CreateDisbursement(ctx context.Context, idempotencyKey string, amount float64, currency, method, destination string) (*DisbursementResponse, error)
	CheckDisbursementStatus(ctx context.Context, idempotencyKey string) (string, error)
}

// Notifier интерфейс для уведомления операторов
type Notifier interface {
	PayoutRejected(ctx context.Context, req *models.PayoutRequest, reason string)
}

// NewService создает новый сервис выплат
func NewService(payoutRepo PayoutRepository, settingsRepo SettingsRepository, gateway GatewayClient, notifier Notifier, m *metrics.Metrics, minAmount float64, currency string, logger *zap.Logger) *Service {
	return &Service{
		payoutRepo:   payoutRepo,
		settingsRepo: settingsRepo,
		gateway:      gateway,
		notifier:     notifier,
		metrics:      m,
		logger:       logger,
		minAmount:    minAmount,
		currency:     currency,
	}
}

// RequestPayout создает запрос на выплату всего доступного баланса владельца
// и сразу отправляет его в шлюз. Возвращает models.ErrNoPayoutMethod,
// если настройки выплат не заданы, и models.ErrInsufficientBalance,
// если доступный баланс меньше минимального порога.
func (s *Service) RequestPayout(ctx context.Context, ownerID int64) (*models.PayoutRequest, error) {
	settings, err := s.settingsRepo.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	req, err := s.payoutRepo.CreateWithLink(ctx, ownerID, settings.Method, settings.Destination, s.minAmount)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPayout("created", req.Amount)

	if err := s.Dispatch(ctx, req); err != nil {
		// Запрос уже создан, отправку повторит сверка
		s.logger.Error("ошибка отправки выплаты в шлюз",
			zap.Int64("payout_id", req.ID),
			zap.Error(err))
	}

	return s.payoutRepo.GetByID(ctx, req.ID)
}

// Dispatch отправляет выплату в шлюз. Переход pending -> processing
// выполняется до обращения к шлюзу: упавший процесс оставит запрос
// в processing, и его добьет сверка по ключу идемпотентности.
func (s *Service) Dispatch(ctx context.Context, req *models.PayoutRequest) error {
	if err := s.payoutRepo.UpdateStatus(ctx, req.ID, models.PayoutStatusPending, models.PayoutStatusProcessing, nil); err != nil {
		return err
	}
	s.refreshProcessingGauge(ctx)

	start := time.Now()
	resp, err := s.gateway.CreateDisbursement(ctx, req.IdempotencyKey, req.Amount, s.currency, req.Method, req.Destination)
	s.metrics.ObserveDisbursement(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("ошибка создания перевода: %w", err)
	}

	reason := resp.Reason
	if reason == "" {
		reason = "перевод отклонен шлюзом"
	}

	return s.applyGatewayStatus(ctx, req, resp.Status, reason)
}

// Reconcile выясняет у шлюза судьбу выплат, зависших в processing
// дольше заданного срока
func (s *Service) Reconcile(ctx context.Context, staleAfter time.Duration) error {
	olderThan := time.Now().Add(-staleAfter)

	requests, err := s.payoutRepo.ListStaleProcessing(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("ошибка получения зависших выплат: %w", err)
	}

	for _, req := range requests {
		status, err := s.gateway.CheckDisbursementStatus(ctx, req.IdempotencyKey)
		if err != nil {
			s.logger.Error("ошибка проверки статуса перевода",
				zap.Int64("payout_id", req.ID),
				zap.Error(err))
			continue
		}

		if err := s.applyGatewayStatus(ctx, req, status, "перевод не прошел"); err != nil {
			s.logger.Error("ошибка применения статуса перевода",
				zap.Int64("payout_id", req.ID),
				zap.String("gateway_status", status),
				zap.Error(err))
		}
	}

	if len(requests) > 0 {
		s.logger.Info("сверка выплат выполнена", zap.Int("requests", len(requests)))
	}

	return nil
}

// RunBatch создает выплаты всем владельцам, чей доступный баланс достиг
// минимального порога. Владельцы без настроенного способа выплаты пропускаются.
func (s *Service) RunBatch(ctx context.Context) error {
	owners, err := s.payoutRepo.OwnersAboveThreshold(ctx, s.minAmount)
	if err != nil {
		return fmt.Errorf("ошибка получения владельцев для выплат: %w", err)
	}

	for _, ownerID := range owners {
		_, err := s.RequestPayout(ctx, ownerID)
		if err != nil {
			if errors.Is(err, models.ErrNoPayoutMethod) || errors.Is(err, models.ErrInsufficientBalance) {
				continue
			}
			s.logger.Error("ошибка пакетной выплаты",
				zap.Int64("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return nil
}

// GetPayout получает запрос на выплату по ID
func (s *Service) GetPayout(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	return s.payoutRepo.GetByID(ctx, id)
}

// GetSettings получает настройки выплат владельца
func (s *Service) GetSettings(ctx context.Context, ownerID int64) (*models.PayoutSettings, error) {
	return s.settingsRepo.Get(ctx, ownerID)
}

// UpdateSettings сохраняет способ выплаты владельца
func (s *Service) UpdateSettings(ctx context.Context, ownerID int64, method, destination string) (*models.PayoutSettings, error) {
	if !models.IsValidPayoutMethod(method) {
		return nil, models.ErrInvalidPayoutMethod
	}
	if destination == "" {
		return nil, fmt.Errorf("не указан адрес получателя: %w", models.ErrInvalidPayoutMethod)
	}

	settings := &models.PayoutSettings{
		OwnerID:     ownerID,
		Method:      method,
		Destination: destination,
	}

	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// applyGatewayStatus переводит запрос в конечное состояние по ответу шлюза.
// Статус accepted оставляет запрос в processing до следующей сверки.
func (s *Service) applyGatewayStatus(ctx context.Context, req *models.PayoutRequest, status, failReason string) error {
	switch status {
	case GatewayStatusCompleted:
		paid, err := s.payoutRepo.Complete(ctx, req.ID)
		if err != nil {
			return err
		}
		for i := 0; i < paid; i++ {
			s.metrics.RecordTransition(string(models.EntryStatusPaid))
		}
		s.metrics.RecordPayout("completed", req.Amount)
		s.refreshProcessingGauge(ctx)
		return nil
	case GatewayStatusFailed:
		if err := s.payoutRepo.Reject(ctx, req.ID, failReason); err != nil {
			return err
		}
		s.metrics.RecordPayout("rejected", req.Amount)
		s.refreshProcessingGauge(ctx)
		if s.notifier != nil {
			s.notifier.PayoutRejected(ctx, req, failReason)
		}
		return nil
	case GatewayStatusAccepted:
		return nil
	default:
		return fmt.Errorf("неизвестный статус шлюза: %s", status)
	}
}

// refreshProcessingGauge обновляет gauge выплат в обработке
func (s *Service) refreshProcessingGauge(ctx context.Context) {
	count, err := s.payoutRepo.CountProcessing(ctx)
	if err != nil {
		s.logger.Warn("ошибка подсчета выплат в обработке", zap.Error(err))
		return
	}
	s.metrics.SetGauge("payouts_processing", float64(count))
}
