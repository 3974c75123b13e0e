package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-core/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TierRepository определяет интерфейс для работы с уровнями партнеров
type TierRepository interface {
	Get(ctx context.Context, ownerID int64) (*models.AffiliateTier, error)
	Upsert(ctx context.Context, tier *models.AffiliateTier) error
	UpgradeToActive(ctx context.Context, ownerID int64) (bool, error)
}

// PostgresTierRepository реализует TierRepository для PostgreSQL
type PostgresTierRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTierRepository создает новый репозиторий уровней партнеров
func NewTierRepository(db *pgxpool.Pool, logger *zap.Logger) TierRepository {
	return &PostgresTierRepository{
		db:     db,
		logger: logger,
	}
}

// Get получает уровень партнера.
// Для партнера без записи возвращается стартовый уровень.
func (r *PostgresTierRepository) Get(ctx context.Context, ownerID int64) (*models.AffiliateTier, error) {
	query := `
		SELECT owner_id, tier, rate_override, updated_at
		FROM affiliate_tiers
		WHERE owner_id = $1`

	tier := &models.AffiliateTier{}
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&tier.OwnerID,
		&tier.Tier,
		&tier.RateOverride,
		&tier.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.AffiliateTier{
				OwnerID: ownerID,
				Tier:    models.TierStarter,
			}, nil
		}
		return nil, fmt.Errorf("ошибка получения уровня партнера: %w", err)
	}

	return tier, nil
}

// Upsert сохраняет уровень партнера
func (r *PostgresTierRepository) Upsert(ctx context.Context, tier *models.AffiliateTier) error {
	now := time.Now()
	tier.UpdatedAt = &now

	query := `
		INSERT INTO affiliate_tiers (owner_id, tier, rate_override, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			rate_override = EXCLUDED.rate_override,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		tier.OwnerID, tier.Tier, tier.RateOverride, tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уровня партнера: %w", err)
	}

	r.logger.Info("уровень партнера обновлен",
		zap.Int64("owner_id", tier.OwnerID),
		zap.String("tier", tier.Tier))

	return nil
}

// UpgradeToActive переводит партнера со стартового уровня на активный.
// Возвращает false, если партнер уже на активном или более высоком уровне.
func (r *PostgresTierRepository) UpgradeToActive(ctx context.Context, ownerID int64) (bool, error) {
	now := time.Now()

	// Запись создается стартовой, если ее еще нет, и повышается только
	// со стартового уровня: ручные повышения и оверрайды не затираются
	query := `
		INSERT INTO affiliate_tiers (owner_id, tier, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
		WHERE affiliate_tiers.tier = $4`

	result, err := r.db.Exec(ctx, query,
		ownerID, models.TierActive, now, models.TierStarter)
	if err != nil {
		return false, fmt.Errorf("ошибка повышения уровня партнера: %w", err)
	}

	if result.RowsAffected() == 0 {
		return false, nil
	}

	r.logger.Info("партнер переведен на активный уровень",
		zap.Int64("owner_id", ownerID))

	return true, nil
}
