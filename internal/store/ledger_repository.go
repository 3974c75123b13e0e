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

// LedgerRepository определяет интерфейс для работы с леджером комиссий.
// Все переходы статусов выполняются одиночными UPDATE с проверкой текущего
// статуса: ноль затронутых строк означает, что конкурирующий переход уже
// произошел, и вызывающий получает models.ErrInvalidTransition.
type LedgerRepository interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error)
	GetByOrder(ctx context.Context, orderID string, ownerID int64, kind string) (*models.LedgerEntry, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*models.LedgerEntry, error)
	GetReversalFor(ctx context.Context, originalEntryID int64) (*models.LedgerEntry, error)
	Clear(ctx context.Context, entryID int64, clearedAt time.Time) error
	MarkPaid(ctx context.Context, entryID, payoutRequestID int64, paidAt time.Time) error
	Void(ctx context.Context, entryID int64, reason string) error
	Balance(ctx context.Context, ownerID int64, status string) (float64, error)
	ClearedUnlinkedBalance(ctx context.Context, ownerID int64) (float64, error)
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.LedgerEntry, error)
	ListByPayoutRequest(ctx context.Context, payoutRequestID int64) ([]*models.LedgerEntry, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.LedgerEntry, error)
	CountCompletedReferrals(ctx context.Context, ownerID int64) (int, error)
	CountClearedAffiliate(ctx context.Context, ownerID int64) (int, error)
	OwnersWithCleared(ctx context.Context) ([]int64, error)
}

// PostgresLedgerRepository реализует LedgerRepository для PostgreSQL
type PostgresLedgerRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewLedgerRepository создает новый репозиторий леджера
func NewLedgerRepository(db *pgxpool.Pool, logger *zap.Logger) LedgerRepository {
	return &PostgresLedgerRepository{
		db:     db,
		logger: logger,
	}
}

const entryColumns = `id, owner_id, code_id, order_id, kind, order_amount, commission_amount,
	       status, created_at, cleared_at, paid_at, void_reason, payout_request_id, original_entry_id`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	err := row.Scan(
		&entry.ID,
		&entry.OwnerID,
		&entry.CodeID,
		&entry.OrderID,
		&entry.Kind,
		&entry.OrderAmount,
		&entry.CommissionAmount,
		&entry.Status,
		&entry.CreatedAt,
		&entry.ClearedAt,
		&entry.PaidAt,
		&entry.VoidReason,
		&entry.PayoutRequestID,
		&entry.OriginalEntryID,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Insert создает новую запись леджера. Возвращает false без ошибки, если
// запись по (order_id, owner_id, kind) уже существует: конкурирующая
// доставка того же события заказа не является ошибкой.
func (r *PostgresLedgerRepository) Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	query := `
		INSERT INTO ledger_entries (owner_id, code_id, order_id, kind, order_amount,
		                            commission_amount, status, created_at, cleared_at, original_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id, owner_id, kind) WHERE order_id IS NOT NULL DO NOTHING
		RETURNING id`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	err := r.db.QueryRow(
		ctx, query,
		entry.OwnerID,
		entry.CodeID,
		entry.OrderID,
		entry.Kind,
		entry.OrderAmount,
		entry.CommissionAmount,
		entry.Status,
		entry.CreatedAt,
		entry.ClearedAt,
		entry.OriginalEntryID,
	).Scan(&entry.ID)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Конфликт уникальности: запись уже создана
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания записи леджера: %w", err)
	}

	r.logger.Info("запись леджера создана",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("owner_id", entry.OwnerID),
		zap.String("kind", entry.Kind),
		zap.Float64("commission_amount", entry.CommissionAmount))

	return true, nil
}

// GetByID получает запись леджера по ID
func (r *PostgresLedgerRepository) GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`

	entry, err := scanEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrEntryNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи леджера: %w", err)
	}

	return entry, nil
}

// GetByOrder получает запись по ключу идемпотентности (order_id, owner_id, kind)
func (r *PostgresLedgerRepository) GetByOrder(ctx context.Context, orderID string, ownerID int64, kind string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE order_id = $1 AND owner_id = $2 AND kind = $3`

	entry, err := scanEntry(r.db.QueryRow(ctx, query, orderID, ownerID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrEntryNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи по заказу: %w", err)
	}

	return entry, nil
}

// GetByOrderID получает все записи по заказу (для обработки возвратов)
func (r *PostgresLedgerRepository) GetByOrderID(ctx context.Context, orderID string) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE order_id = $1`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей по заказу: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// GetReversalFor получает компенсирующую запись для исходной, если она уже создана
func (r *PostgresLedgerRepository) GetReversalFor(ctx context.Context, originalEntryID int64) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE original_entry_id = $1 AND kind = $2`

	entry, err := scanEntry(r.db.QueryRow(ctx, query, originalEntryID, models.EntryKindReversal))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrEntryNotFound
		}
		return nil, fmt.Errorf("ошибка получения компенсирующей записи: %w", err)
	}

	return entry, nil
}

// Clear переводит запись pending -> cleared
func (r *PostgresLedgerRepository) Clear(ctx context.Context, entryID int64, clearedAt time.Time) error {
	query := `
		UPDATE ledger_entries
		SET status = $2, cleared_at = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(ctx, query, entryID,
		string(models.EntryStatusCleared), clearedAt, string(models.EntryStatusPending))
	if err != nil {
		return fmt.Errorf("ошибка клиринга записи: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

// MarkPaid переводит запись cleared -> paid. Разрешено только для записи,
// привязанной именно к этому запросу на выплату.
func (r *PostgresLedgerRepository) MarkPaid(ctx context.Context, entryID, payoutRequestID int64, paidAt time.Time) error {
	query := `
		UPDATE ledger_entries
		SET status = $2, paid_at = $3
		WHERE id = $1 AND status = $4 AND payout_request_id = $5`

	result, err := r.db.Exec(ctx, query, entryID,
		string(models.EntryStatusPaid), paidAt, string(models.EntryStatusCleared), payoutRequestID)
	if err != nil {
		return fmt.Errorf("ошибка отметки записи оплаченной: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	return nil
}

// Void переводит запись pending|cleared -> voided. Переход из paid запрещен:
// оплаченные записи компенсируются отрицательной записью, а не аннулируются.
func (r *PostgresLedgerRepository) Void(ctx context.Context, entryID int64, reason string) error {
	query := `
		UPDATE ledger_entries
		SET status = $2, void_reason = $3, payout_request_id = NULL
		WHERE id = $1 AND status IN ($4, $5)`

	result, err := r.db.Exec(ctx, query, entryID,
		string(models.EntryStatusVoided), reason,
		string(models.EntryStatusPending), string(models.EntryStatusCleared))
	if err != nil {
		return fmt.Errorf("ошибка аннулирования записи: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	r.logger.Info("запись леджера аннулирована",
		zap.Int64("entry_id", entryID),
		zap.String("reason", reason))

	return nil
}

// Balance возвращает сумму комиссий владельца в указанном статусе.
// Живая агрегация по записям: кэшируемого счетчика баланса нет.
func (r *PostgresLedgerRepository) Balance(ctx context.Context, ownerID int64, status string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(commission_amount), 0)
		FROM ledger_entries
		WHERE owner_id = $1 AND status = $2`

	var balance float64
	err := r.db.QueryRow(ctx, query, ownerID, status).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	return balance, nil
}

// ClearedUnlinkedBalance возвращает прошедший клиринг баланс, еще не
// привязанный к запросу на выплату
func (r *PostgresLedgerRepository) ClearedUnlinkedBalance(ctx context.Context, ownerID int64) (float64, error) {
	query := `
		SELECT COALESCE(SUM(commission_amount), 0)
		FROM ledger_entries
		WHERE owner_id = $1 AND status = $2 AND payout_request_id IS NULL`

	var balance float64
	err := r.db.QueryRow(ctx, query, ownerID, string(models.EntryStatusCleared)).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения доступного баланса: %w", err)
	}

	return balance, nil
}

// ListByOwner получает записи владельца, новые первыми
func (r *PostgresLedgerRepository) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей владельца: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ListByPayoutRequest получает записи, привязанные к запросу на выплату
func (r *PostgresLedgerRepository) ListByPayoutRequest(ctx context.Context, payoutRequestID int64) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE payout_request_id = $1`

	rows, err := r.db.Query(ctx, query, payoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей выплаты: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ListPendingOlderThan получает pending-записи старше cutoff для клирингового прохода
func (r *PostgresLedgerRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, string(models.EntryStatusPending), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей для клиринга: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CountCompletedReferrals подсчитывает завершенные реферальные начисления
// владельца для реферальных порогов (cleared и paid, без аннулированных)
func (r *PostgresLedgerRepository) CountCompletedReferrals(ctx context.Context, ownerID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE owner_id = $1 AND kind = $2 AND status IN ($3, $4)`

	var count int
	err := r.db.QueryRow(ctx, query, ownerID, models.EntryKindCustomerReferral,
		string(models.EntryStatusCleared), string(models.EntryStatusPaid)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета завершенных рефералов: %w", err)
	}

	return count, nil
}

// CountClearedAffiliate подсчитывает завершенные партнерские продажи владельца
func (r *PostgresLedgerRepository) CountClearedAffiliate(ctx context.Context, ownerID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE owner_id = $1 AND kind = $2 AND status IN ($3, $4)`

	var count int
	err := r.db.QueryRow(ctx, query, ownerID, models.EntryKindAffiliate,
		string(models.EntryStatusCleared), string(models.EntryStatusPaid)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета партнерских продаж: %w", err)
	}

	return count, nil
}

// OwnersWithCleared получает владельцев, у которых есть записи после клиринга
func (r *PostgresLedgerRepository) OwnersWithCleared(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT owner_id
		FROM ledger_entries
		WHERE status = $1`

	rows, err := r.db.Query(ctx, query, string(models.EntryStatusCleared))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения владельцев: %w", err)
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
