package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-core/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// CodeRepository определяет интерфейс для работы с реферальными кодами
type CodeRepository interface {
	CreateCode(ctx context.Context, code *models.ReferralCode) error
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetByID(ctx context.Context, id int64) (*models.ReferralCode, error)
	GetActiveByOwner(ctx context.Context, ownerID int64, kind string) (*models.ReferralCode, error)
	Deactivate(ctx context.Context, codeID int64) error
	CreateEntry(ctx context.Context, entry *models.CodeEntry) error
	GetLatestEntryWithin(ctx context.Context, buyerID int64, notBefore time.Time) (*models.CodeEntry, *models.ReferralCode, error)
}

// PostgresCodeRepository реализует CodeRepository для PostgreSQL
type PostgresCodeRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewCodeRepository создает новый репозиторий реферальных кодов
func NewCodeRepository(db *pgxpool.Pool, logger *zap.Logger) CodeRepository {
	return &PostgresCodeRepository{
		db:     db,
		logger: logger,
	}
}

// CreateCode сохраняет новый реферальный код
func (r *PostgresCodeRepository) CreateCode(ctx context.Context, code *models.ReferralCode) error {
	query := `
		INSERT INTO referral_codes (code, owner_id, kind, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	err := r.db.QueryRow(
		ctx, query,
		code.Code,
		code.OwnerID,
		code.Kind,
		code.Active,
		code.CreatedAt,
	).Scan(&code.ID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrCodeConflict
		}
		return fmt.Errorf("ошибка создания реферального кода: %w", err)
	}

	r.logger.Info("реферальный код создан",
		zap.Int64("code_id", code.ID),
		zap.Int64("owner_id", code.OwnerID),
		zap.String("kind", code.Kind))

	return nil
}

// GetByCode получает код без учета регистра
func (r *PostgresCodeRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	query := `
		SELECT id, code, owner_id, kind, active, created_at
		FROM referral_codes
		WHERE UPPER(code) = UPPER($1)`

	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, code).Scan(
		&rc.ID,
		&rc.Code,
		&rc.OwnerID,
		&rc.Kind,
		&rc.Active,
		&rc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка получения реферального кода: %w", err)
	}

	return rc, nil
}

// GetByID получает код по ID
func (r *PostgresCodeRepository) GetByID(ctx context.Context, id int64) (*models.ReferralCode, error) {
	query := `
		SELECT id, code, owner_id, kind, active, created_at
		FROM referral_codes
		WHERE id = $1`

	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rc.ID,
		&rc.Code,
		&rc.OwnerID,
		&rc.Kind,
		&rc.Active,
		&rc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка получения реферального кода по ID: %w", err)
	}

	return rc, nil
}

// GetActiveByOwner получает действующий код владельца указанного типа
func (r *PostgresCodeRepository) GetActiveByOwner(ctx context.Context, ownerID int64, kind string) (*models.ReferralCode, error) {
	query := `
		SELECT id, code, owner_id, kind, active, created_at
		FROM referral_codes
		WHERE owner_id = $1 AND kind = $2 AND active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`

	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, ownerID, kind).Scan(
		&rc.ID,
		&rc.Code,
		&rc.OwnerID,
		&rc.Kind,
		&rc.Active,
		&rc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка получения кода владельца: %w", err)
	}

	return rc, nil
}

// Deactivate деактивирует код. Идемпотентна: повторный вызов не ошибка.
// Исторические записи леджера не затрагиваются.
func (r *PostgresCodeRepository) Deactivate(ctx context.Context, codeID int64) error {
	query := `UPDATE referral_codes SET active = FALSE WHERE id = $1`

	result, err := r.db.Exec(ctx, query, codeID)
	if err != nil {
		return fmt.Errorf("ошибка деактивации кода: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrCodeNotFound
	}

	r.logger.Info("реферальный код деактивирован", zap.Int64("code_id", codeID))
	return nil
}

// CreateEntry сохраняет событие ввода кода покупателем
func (r *PostgresCodeRepository) CreateEntry(ctx context.Context, entry *models.CodeEntry) error {
	query := `
		INSERT INTO code_entries (code_id, buyer_id, entered_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now()
	}

	err := r.db.QueryRow(ctx, query, entry.CodeID, entry.BuyerID, entry.EnteredAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения события ввода кода: %w", err)
	}

	return nil
}

// GetLatestEntryWithin получает самое свежее событие ввода кода покупателем
// не раньше notBefore вместе с самим кодом. Правило "последний валидный код
// побеждает": если покупатель вводил несколько кодов, действует самый свежий.
func (r *PostgresCodeRepository) GetLatestEntryWithin(ctx context.Context, buyerID int64, notBefore time.Time) (*models.CodeEntry, *models.ReferralCode, error) {
	query := `
		SELECT e.id, e.code_id, e.buyer_id, e.entered_at,
		       c.id, c.code, c.owner_id, c.kind, c.active, c.created_at
		FROM code_entries e
		JOIN referral_codes c ON c.id = e.code_id
		WHERE e.buyer_id = $1 AND e.entered_at >= $2
		ORDER BY e.entered_at DESC
		LIMIT 1`

	entry := &models.CodeEntry{}
	code := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, buyerID, notBefore).Scan(
		&entry.ID,
		&entry.CodeID,
		&entry.BuyerID,
		&entry.EnteredAt,
		&code.ID,
		&code.Code,
		&code.OwnerID,
		&code.Kind,
		&code.Active,
		&code.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, models.ErrCodeNotFound
		}
		return nil, nil, fmt.Errorf("ошибка получения события ввода кода: %w", err)
	}

	return entry, code, nil
}
