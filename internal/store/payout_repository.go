package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-core/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PayoutRepository определяет интерфейс для работы с запросами на выплату.
// Привязка и отвязка записей леджера выполняются в одной транзакции с
// изменением статуса запроса: два конкурентных запроса одного владельца
// не могут захватить одни и те же записи.
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

// PostgresPayoutRepository реализует PayoutRepository для PostgreSQL
type PostgresPayoutRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPayoutRepository создает новый репозиторий выплат
func NewPayoutRepository(db *pgxpool.Pool, logger *zap.Logger) PayoutRepository {
	return &PostgresPayoutRepository{
		db:     db,
		logger: logger,
	}
}

const payoutColumns = `id, owner_id, amount, method, destination, status, reason,
	       idempotency_key, requested_at, processed_at`

func scanPayout(row pgx.Row) (*models.PayoutRequest, error) {
	req := &models.PayoutRequest{}
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.Amount,
		&req.Method,
		&req.Destination,
		&req.Status,
		&req.Reason,
		&req.IdempotencyKey,
		&req.RequestedAt,
		&req.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CreateWithLink атомарно захватывает все прошедшие клиринг непривязанные
// записи владельца и создает запрос на выплату на их сумму. Возвращает
// models.ErrInsufficientBalance, если сумма ниже минимального порога.
func (r *PostgresPayoutRepository) CreateWithLink(ctx context.Context, ownerID int64, method, destination string, minAmount float64) (*models.PayoutRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем отбираемые записи: конкурентный запрос того же владельца
	// будет ждать и увидит их уже привязанными
	rows, err := tx.Query(ctx, `
		SELECT id, commission_amount
		FROM ledger_entries
		WHERE owner_id = $1 AND status = $2 AND payout_request_id IS NULL
		FOR UPDATE`,
		ownerID, string(models.EntryStatusCleared))
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей для выплаты: %w", err)
	}

	var entryIDs []int64
	var total float64
	for rows.Next() {
		var id int64
		var amount float64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования записи для выплаты: %w", err)
		}
		entryIDs = append(entryIDs, id)
		total += amount
	}
	rows.Close()

	if total < minAmount {
		return nil, models.ErrInsufficientBalance
	}

	req := &models.PayoutRequest{
		OwnerID:        ownerID,
		Amount:         total,
		Method:         method,
		Destination:    destination,
		Status:         string(models.PayoutStatusPending),
		IdempotencyKey: uuid.NewString(),
		RequestedAt:    time.Now(),
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO payout_requests (owner_id, amount, method, destination, status, idempotency_key, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		req.OwnerID, req.Amount, req.Method, req.Destination, req.Status,
		req.IdempotencyKey, req.RequestedAt,
	).Scan(&req.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса на выплату: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_entries SET payout_request_id = $1 WHERE id = ANY($2)`,
		req.ID, entryIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка привязки записей к выплате: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции выплаты: %w", err)
	}

	r.logger.Info("запрос на выплату создан",
		zap.Int64("payout_id", req.ID),
		zap.Int64("owner_id", ownerID),
		zap.Float64("amount", total),
		zap.Int("entries_linked", len(entryIDs)))

	return req, nil
}

// GetByID получает запрос на выплату по ID
func (r *PostgresPayoutRepository) GetByID(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1`

	req, err := scanPayout(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("ошибка получения запроса на выплату: %w", err)
	}

	return req, nil
}

// UpdateStatus выполняет переход статуса запроса с проверкой исходного состояния
func (r *PostgresPayoutRepository) UpdateStatus(ctx context.Context, id int64, from, to models.PayoutStatus, reason *string) error {
	query := `
		UPDATE payout_requests
		SET status = $2, reason = COALESCE($3, reason)
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(ctx, query, id, string(to), reason, string(from))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса выплаты: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	r.logger.Info("статус выплаты обновлен",
		zap.Int64("payout_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return nil
}

// Complete завершает выплату: запрос processing -> completed и все
// привязанные записи cleared -> paid в одной транзакции. Возвращает
// количество оплаченных записей.
func (r *PostgresPayoutRepository) Complete(ctx context.Context, id int64) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	result, err := tx.Exec(ctx, `
		UPDATE payout_requests
		SET status = $2, processed_at = $3
		WHERE id = $1 AND status = $4`,
		id, string(models.PayoutStatusCompleted), now, string(models.PayoutStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("ошибка завершения выплаты: %w", err)
	}
	if result.RowsAffected() == 0 {
		return 0, models.ErrInvalidTransition
	}

	entries, err := tx.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $2, paid_at = $3
		WHERE payout_request_id = $1 AND status = $4`,
		id, string(models.EntryStatusPaid), now, string(models.EntryStatusCleared))
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки записей оплаченными: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации завершения выплаты: %w", err)
	}

	paid := int(entries.RowsAffected())
	r.logger.Info("выплата завершена",
		zap.Int64("payout_id", id),
		zap.Int("entries_paid", paid))
	return paid, nil
}

// Reject отклоняет выплату: запрос processing -> rejected, привязанные
// записи отвязываются и остаются cleared для следующей попытки
func (r *PostgresPayoutRepository) Reject(ctx context.Context, id int64, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	result, err := tx.Exec(ctx, `
		UPDATE payout_requests
		SET status = $2, reason = $3, processed_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(models.PayoutStatusRejected), reason, now, string(models.PayoutStatusProcessing))
	if err != nil {
		return fmt.Errorf("ошибка отклонения выплаты: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_entries
		SET payout_request_id = NULL
		WHERE payout_request_id = $1 AND status = $2`,
		id, string(models.EntryStatusCleared))
	if err != nil {
		return fmt.Errorf("ошибка отвязки записей выплаты: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации отклонения выплаты: %w", err)
	}

	r.logger.Info("выплата отклонена",
		zap.Int64("payout_id", id),
		zap.String("reason", reason))

	return nil
}

// ListStaleProcessing получает зависшие в processing запросы для сверки
func (r *PostgresPayoutRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests
		WHERE status = $1 AND requested_at < $2
		ORDER BY requested_at ASC`

	rows, err := r.db.Query(ctx, query, string(models.PayoutStatusProcessing), olderThan)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зависших выплат: %w", err)
	}
	defer rows.Close()

	var requests []*models.PayoutRequest
	for rows.Next() {
		req, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования запроса на выплату: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, nil
}

// CountProcessing подсчитывает выплаты в статусе processing
func (r *PostgresPayoutRepository) CountProcessing(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payout_requests WHERE status = $1`,
		string(models.PayoutStatusProcessing)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета выплат в обработке: %w", err)
	}
	return count, nil
}

// OwnersAboveThreshold получает владельцев с доступным балансом не ниже порога
func (r *PostgresPayoutRepository) OwnersAboveThreshold(ctx context.Context, minAmount float64) ([]int64, error) {
	query := `
		SELECT owner_id
		FROM ledger_entries
		WHERE status = $1 AND payout_request_id IS NULL
		GROUP BY owner_id
		HAVING SUM(commission_amount) >= $2`

	rows, err := r.db.Query(ctx, query, string(models.EntryStatusCleared), minAmount)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения владельцев для выплат: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var ownerID int64
		if err := rows.Scan(&ownerID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования владельца: %w", err)
		}
		owners = append(owners, ownerID)
	}

	return owners, nil
}
