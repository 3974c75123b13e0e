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

// SettingsRepository определяет интерфейс для работы с настройками выплат
type SettingsRepository interface {
	Get(ctx context.Context, ownerID int64) (*models.PayoutSettings, error)
	Upsert(ctx context.Context, settings *models.PayoutSettings) error
}

// PostgresSettingsRepository реализует SettingsRepository для PostgreSQL
type PostgresSettingsRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSettingsRepository создает новый репозиторий настроек выплат
func NewSettingsRepository(db *pgxpool.Pool, logger *zap.Logger) SettingsRepository {
	return &PostgresSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// Get получает настройки выплат владельца.
// Возвращает models.ErrNoPayoutMethod, если настройки не заданы.
func (r *PostgresSettingsRepository) Get(ctx context.Context, ownerID int64) (*models.PayoutSettings, error) {
	query := `
		SELECT owner_id, method, destination, updated_at
		FROM payout_settings
		WHERE owner_id = $1`

	settings := &models.PayoutSettings{}
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&settings.OwnerID,
		&settings.Method,
		&settings.Destination,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNoPayoutMethod
		}
		return nil, fmt.Errorf("ошибка получения настроек выплат: %w", err)
	}

	return settings, nil
}

// Upsert сохраняет настройки выплат владельца
func (r *PostgresSettingsRepository) Upsert(ctx context.Context, settings *models.PayoutSettings) error {
	settings.UpdatedAt = time.Now()

	query := `
		INSERT INTO payout_settings (owner_id, method, destination, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			method = EXCLUDED.method,
			destination = EXCLUDED.destination,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		settings.OwnerID, settings.Method, settings.Destination, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настроек выплат: %w", err)
	}

	r.logger.Info("настройки выплат обновлены",
		zap.Int64("owner_id", settings.OwnerID),
		zap.String("method", settings.Method))

	return nil
}
