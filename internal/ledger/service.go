package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"referral-core/internal/metrics"
	"referral-core/pkg/models"
)

// clearingBatchSize ограничивает размер одной итерации клиринга
const clearingBatchSize = 500

// Service представляет сервис для работы с леджером комиссий
type Service struct {
	ledgerRepo LedgerRepository
	metrics    *metrics.Metrics
	logger     *zap.Logger

	holdDays int
}

// LedgerRepository интерфейс для работы с записями леджера
type LedgerRepository interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*models.LedgerEntry, error)
	GetReversalFor(ctx context.Context, originalEntryID int64) (*models.LedgerEntry, error)
	Clear(ctx context.Context, entryID int64, clearedAt time.Time) error
	Void(ctx context.Context, entryID int64, reason string) error
	Balance(ctx context.Context, ownerID int64, status string) (float64, error)
	ClearedUnlinkedBalance(ctx context.Context, ownerID int64) (float64, error)
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.LedgerEntry, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.LedgerEntry, error)
}

// NewService создает новый сервис леджера
func NewService(ledgerRepo LedgerRepository, m *metrics.Metrics, holdDays int, logger *zap.Logger) *Service {
	return &Service{
		ledgerRepo: ledgerRepo,
		metrics:    m,
		logger:     logger,
		holdDays:   holdDays,
	}
}

// GetEntry получает запись леджера по ID
func (s *Service) GetEntry(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	return s.ledgerRepo.GetByID(ctx, entryID)
}

// ListEntries получает последние записи леджера владельца
func (s *Service) ListEntries(ctx context.Context, ownerID int64, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledgerRepo.ListByOwner(ctx, ownerID, limit)
}

// GetBalance получает сводку баланса владельца по статусам
func (s *Service) GetBalance(ctx context.Context, ownerID int64) (*models.BalanceSummary, error) {
	summary := &models.BalanceSummary{OwnerID: ownerID}

	var err error
	if summary.Pending, err = s.ledgerRepo.Balance(ctx, ownerID, string(models.EntryStatusPending)); err != nil {
		return nil, fmt.Errorf("ошибка подсчета pending баланса: %w", err)
	}
	if summary.Cleared, err = s.ledgerRepo.Balance(ctx, ownerID, string(models.EntryStatusCleared)); err != nil {
		return nil, fmt.Errorf("ошибка подсчета cleared баланса: %w", err)
	}
	if summary.Paid, err = s.ledgerRepo.Balance(ctx, ownerID, string(models.EntryStatusPaid)); err != nil {
		return nil, fmt.Errorf("ошибка подсчета paid баланса: %w", err)
	}
	if summary.Available, err = s.ledgerRepo.ClearedUnlinkedBalance(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("ошибка подсчета доступного баланса: %w", err)
	}

	return summary, nil
}

// RunClearing переводит в cleared записи, отлежавшие период удержания.
// Возвращает список владельцев, у которых появились новые cleared-записи.
func (s *Service) RunClearing(ctx context.Context) ([]int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.holdDays)

	entries, err := s.ledgerRepo.ListPendingOlderThan(ctx, cutoff, clearingBatchSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей для клиринга: %w", err)
	}

	now := time.Now()
	seen := make(map[int64]bool)
	var owners []int64

	for _, entry := range entries {
		if err := s.ledgerRepo.Clear(ctx, entry.ID, now); err != nil {
			// Запись могла быть аннулирована возвратом между выборкой и переходом
			if errors.Is(err, models.ErrInvalidTransition) {
				continue
			}
			return owners, fmt.Errorf("ошибка клиринга записи %d: %w", entry.ID, err)
		}
		s.metrics.RecordTransition(string(models.EntryStatusCleared))
		if !seen[entry.OwnerID] {
			seen[entry.OwnerID] = true
			owners = append(owners, entry.OwnerID)
		}
	}

	if len(entries) > 0 {
		s.logger.Info("клиринг выполнен",
			zap.Int("entries", len(entries)),
			zap.Int("owners", len(owners)))
	}

	return owners, nil
}

// ProcessRefund обрабатывает возврат или чарджбэк по заказу.
// Невыплаченные записи аннулируются, по выплаченным создается
// компенсирующая запись с отрицательной суммой. Повторная доставка
// события не создает второй компенсации.
func (s *Service) ProcessRefund(ctx context.Context, event *models.RefundEvent) error {
	entries, err := s.ledgerRepo.GetByOrderID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("ошибка поиска записей по заказу: %w", err)
	}

	reason := models.VoidReasonRefunded
	if event.Type == models.RefundTypeChargeback {
		reason = models.VoidReasonChargeback
	}

	for _, entry := range entries {
		if entry.Kind == models.EntryKindReversal {
			continue
		}

		switch models.EntryStatus(entry.Status) {
		case models.EntryStatusPending, models.EntryStatusCleared:
			if err := s.ledgerRepo.Void(ctx, entry.ID, reason); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					continue
				}
				return fmt.Errorf("ошибка аннулирования записи %d: %w", entry.ID, err)
			}
			s.metrics.RecordTransition(string(models.EntryStatusVoided))
			s.logger.Info("запись аннулирована",
				zap.Int64("entry_id", entry.ID),
				zap.String("reason", reason))

		case models.EntryStatusPaid:
			if err := s.reverse(ctx, entry); err != nil {
				return err
			}

		case models.EntryStatusVoided:
			// Уже обработано предыдущей доставкой события
		}
	}

	return nil
}

// reverse создает компенсирующую запись по выплаченной комиссии
func (s *Service) reverse(ctx context.Context, original *models.LedgerEntry) error {
	existing, err := s.ledgerRepo.GetReversalFor(ctx, original.ID)
	if err != nil && !errors.Is(err, models.ErrEntryNotFound) {
		return fmt.Errorf("ошибка поиска компенсации для записи %d: %w", original.ID, err)
	}
	if existing != nil {
		return nil
	}

	// Компенсация наследует заказ исходной записи: уникальный индекс по
	// (order_id, owner_id, kind) дедуплицирует конкурентные доставки
	// одного события возврата
	now := time.Now()
	reversal := &models.LedgerEntry{
		OwnerID:          original.OwnerID,
		CodeID:           original.CodeID,
		OrderID:          original.OrderID,
		Kind:             models.EntryKindReversal,
		OrderAmount:      original.OrderAmount,
		CommissionAmount: -original.CommissionAmount,
		Status:           string(models.EntryStatusCleared),
		CreatedAt:        now,
		ClearedAt:        &now,
		OriginalEntryID:  &original.ID,
	}

	inserted, err := s.ledgerRepo.Insert(ctx, reversal)
	if err != nil {
		return fmt.Errorf("ошибка создания компенсирующей записи: %w", err)
	}
	if !inserted {
		// Конкурентная доставка того же возврата уже создала компенсацию
		return nil
	}

	s.metrics.RecordLedgerEntry(models.EntryKindReversal, original.CommissionAmount)
	s.logger.Info("создана компенсирующая запись",
		zap.Int64("original_entry_id", original.ID),
		zap.Float64("amount", reversal.CommissionAmount))

	return nil
}
