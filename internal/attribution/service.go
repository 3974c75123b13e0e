package attribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// Service представляет сервис атрибуции заказов.
// По событию заказа он определяет, кому и сколько комиссии начислить,
// и создает pending-запись в леджере. Отказ в атрибуции не является
// ошибкой: результат с заполненным Reason означает "заказ без комиссии".
type Service struct {
	codeRepo   CodeRepository
	ledgerRepo LedgerRepository
	tierRepo   TierRepository
	logger     *zap.Logger

	flatCredit  float64
	defaultRate float64
	windowDays  int
}

// CodeRepository интерфейс для работы с кодами
type CodeRepository interface {
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetLatestEntryWithin(ctx context.Context, buyerID int64, notBefore time.Time) (*models.CodeEntry, *models.ReferralCode, error)
}

// LedgerRepository интерфейс для работы с леджером
type LedgerRepository interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	GetByOrder(ctx context.Context, orderID string, ownerID int64, kind string) (*models.LedgerEntry, error)
}

// TierRepository интерфейс для работы с уровнями партнеров
type TierRepository interface {
	Get(ctx context.Context, ownerID int64) (*models.AffiliateTier, error)
}

// NewService создает новый сервис атрибуции
func NewService(codeRepo CodeRepository, ledgerRepo LedgerRepository, tierRepo TierRepository, flatCredit, defaultRate float64, windowDays int, logger *zap.Logger) *Service {
	return &Service{
		codeRepo:    codeRepo,
		ledgerRepo:  ledgerRepo,
		tierRepo:    tierRepo,
		logger:      logger,
		flatCredit:  flatCredit,
		defaultRate: defaultRate,
		windowDays:  windowDays,
	}
}

// Resolve атрибутирует заказ. Код, переданный на чекауте, имеет приоритет;
// иначе берется последний действительный код, введенный покупателем в
// пределах окна атрибуции. Повторная доставка того же заказа возвращает
// уже существующую запись с Duplicate = true.
func (s *Service) Resolve(ctx context.Context, event *models.OrderEvent) (*models.AttributionResult, error) {
	code, reason, err := s.findCode(ctx, event)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.logger.Info("заказ без атрибуции",
			zap.String("order_id", event.OrderID),
			zap.String("reason", reason))
		return &models.AttributionResult{Reason: reason}, nil
	}

	if code.OwnerID == event.BuyerID {
		s.logger.Warn("попытка самореферала",
			zap.String("order_id", event.OrderID),
			zap.Int64("buyer_id", event.BuyerID))
		return &models.AttributionResult{Reason: models.AttributionReasonSelfReferral}, nil
	}

	var kind string
	var commission float64

	switch models.CodeKind(code.Kind) {
	case models.CodeKindCustomerReferral:
		// Фиксированный кредит начисляется только за первый заказ приглашенного
		if event.PriorOrders > 0 {
			return &models.AttributionResult{Reason: models.AttributionReasonNotFirstOrder}, nil
		}
		kind = models.EntryKindCustomerReferral
		commission = s.flatCredit
	case models.CodeKindAffiliate:
		tier, err := s.tierRepo.Get(ctx, code.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения уровня партнера: %w", err)
		}
		kind = models.EntryKindAffiliate
		commission = roundCents(event.OrderAmount * tier.Rate(s.defaultRate))
	default:
		return nil, fmt.Errorf("неизвестный тип кода: %s", code.Kind)
	}

	entry := &models.LedgerEntry{
		OwnerID:          code.OwnerID,
		CodeID:           &code.ID,
		OrderID:          &event.OrderID,
		Kind:             kind,
		OrderAmount:      event.OrderAmount,
		CommissionAmount: commission,
		Status:           string(models.EntryStatusPending),
		CreatedAt:        time.Now(),
	}

	inserted, err := s.ledgerRepo.Insert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания записи леджера: %w", err)
	}

	if !inserted {
		existing, err := s.ledgerRepo.GetByOrder(ctx, event.OrderID, code.OwnerID, kind)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения существующей записи: %w", err)
		}
		return &models.AttributionResult{Entry: existing, Duplicate: true}, nil
	}

	s.logger.Info("заказ атрибутирован",
		zap.String("order_id", event.OrderID),
		zap.Int64("owner_id", code.OwnerID),
		zap.String("kind", kind),
		zap.Float64("commission", commission))

	return &models.AttributionResult{Entry: entry}, nil
}

// findCode выбирает код для атрибуции: явный код с чекаута или последний
// введенный покупателем в пределах окна
func (s *Service) findCode(ctx context.Context, event *models.OrderEvent) (*models.ReferralCode, string, error) {
	if event.ReferralCode != "" {
		code, err := s.codeRepo.GetByCode(ctx, event.ReferralCode)
		if err != nil {
			if errors.Is(err, models.ErrCodeNotFound) {
				return nil, models.AttributionReasonInvalidCode, nil
			}
			return nil, "", fmt.Errorf("ошибка поиска кода: %w", err)
		}
		if !code.Active {
			return nil, models.AttributionReasonInvalidCode, nil
		}
		return code, "", nil
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	notBefore := ts.AddDate(0, 0, -s.windowDays)

	_, code, err := s.codeRepo.GetLatestEntryWithin(ctx, event.BuyerID, notBefore)
	if err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			return nil, models.AttributionReasonNoCode, nil
		}
		return nil, "", fmt.Errorf("ошибка поиска введенного кода: %w", err)
	}

	// Активность кода проверялась в момент ввода. Деактивация после ввода
	// не отменяет уже сделанный ввод, пока он в пределах окна атрибуции.
	return code, "", nil
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}
