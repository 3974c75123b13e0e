package store

import (
	"context"
	"fmt"
	"time"

	"referral-core/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MilestoneRepository определяет интерфейс для работы с бонусами за рубежи
type MilestoneRepository interface {
	ListGranted(ctx context.Context, ownerID int64) ([]int, error)
	Grant(ctx context.Context, ownerID int64, threshold int, bonus float64) (bool, error)
}

// PostgresMilestoneRepository реализует MilestoneRepository для PostgreSQL
type PostgresMilestoneRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewMilestoneRepository создает новый репозиторий бонусов за рубежи
func NewMilestoneRepository(db *pgxpool.Pool, logger *zap.Logger) MilestoneRepository {
	return &PostgresMilestoneRepository{
		db:     db,
		logger: logger,
	}
}

// ListGranted получает уже выданные владельцу пороги
func (r *PostgresMilestoneRepository) ListGranted(ctx context.Context, ownerID int64) ([]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT threshold FROM milestone_rewards WHERE owner_id = $1 ORDER BY threshold ASC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выданных бонусов: %w", err)
	}
	defer rows.Close()

	var thresholds []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("ошибка сканирования порога: %w", err)
		}
		thresholds = append(thresholds, t)
	}

	return thresholds, nil
}

// Grant выдает бонус за достигнутый порог: отметка о выдаче и запись в
// леджере создаются в одной транзакции. Первичный ключ (owner_id, threshold)
// гарантирует не больше одной выдачи на порог, повтор возвращает false.
func (r *PostgresMilestoneRepository) Grant(ctx context.Context, ownerID int64, threshold int, bonus float64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		INSERT INTO milestone_rewards (owner_id, threshold, bonus_amount, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, threshold) DO NOTHING`,
		ownerID, threshold, bonus, time.Now())
	if err != nil {
		return false, fmt.Errorf("ошибка выдачи бонуса: %w", err)
	}

	if result.RowsAffected() == 0 {
		return false, nil
	}

	// Бонус не связан с заказом и не проходит клиринг, сразу доступен к выплате
	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (owner_id, kind, commission_amount, status, created_at, cleared_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		ownerID, models.EntryKindMilestoneBonus, bonus, string(models.EntryStatusCleared), now)
	if err != nil {
		return false, fmt.Errorf("ошибка создания записи бонуса в леджере: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации выдачи бонуса: %w", err)
	}

	r.logger.Info("бонус за рубеж выдан",
		zap.Int64("owner_id", ownerID),
		zap.Int("threshold", threshold),
		zap.Float64("bonus", bonus))

	return true, nil
}
