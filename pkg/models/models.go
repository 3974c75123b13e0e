package models

import (
	"time"
)

// ReferralCode представляет реферальный или партнерский код владельца
type ReferralCode struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Kind      string    `json:"kind" db:"kind"` // customer-referral, affiliate
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CodeKind представляет тип реферального кода
type CodeKind string

const (
	CodeKindCustomerReferral CodeKind = "customer-referral"
	CodeKindAffiliate        CodeKind = "affiliate"
)

// IsValid проверяет валидность типа кода
func (ck CodeKind) IsValid() bool {
	switch ck {
	case CodeKindCustomerReferral, CodeKindAffiliate:
		return true
	default:
		return false
	}
}

// CodeEntry представляет событие ввода кода покупателем (клик по ссылке или ввод на чекауте).
// Окно атрибуции отсчитывается от EnteredAt, а не от времени заказа.
type CodeEntry struct {
	ID        int64     `json:"id" db:"id"`
	CodeID    int64     `json:"code_id" db:"code_id"`
	BuyerID   int64     `json:"buyer_id" db:"buyer_id"`
	EnteredAt time.Time `json:"entered_at" db:"entered_at"`
}

// LedgerEntry представляет запись в леджере комиссий.
// Леджер append-only: записи никогда не удаляются, корректировки
// оформляются компенсирующими записями (kind = reversal).
type LedgerEntry struct {
	ID               int64      `json:"id" db:"id"`
	OwnerID          int64      `json:"owner_id" db:"owner_id"`
	CodeID           *int64     `json:"code_id,omitempty" db:"code_id"`
	OrderID          *string    `json:"order_id,omitempty" db:"order_id"`
	Kind             string     `json:"kind" db:"kind"`
	OrderAmount      float64    `json:"order_amount" db:"order_amount"`
	CommissionAmount float64    `json:"commission_amount" db:"commission_amount"`
	Status           string     `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ClearedAt        *time.Time `json:"cleared_at,omitempty" db:"cleared_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	VoidReason       *string    `json:"void_reason,omitempty" db:"void_reason"`
	PayoutRequestID  *int64     `json:"payout_request_id,omitempty" db:"payout_request_id"`
	OriginalEntryID  *int64     `json:"original_entry_id,omitempty" db:"original_entry_id"`
}

// EntryStatus представляет статус записи леджера
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusCleared EntryStatus = "cleared"
	EntryStatusPaid    EntryStatus = "paid"
	EntryStatusVoided  EntryStatus = "voided"
)

// IsValid проверяет валидность статуса записи
func (es EntryStatus) IsValid() bool {
	switch es {
	case EntryStatusPending, EntryStatusCleared, EntryStatusPaid, EntryStatusVoided:
		return true
	default:
		return false
	}
}

// Constants для типов записей леджера
const (
	EntryKindCustomerReferral = "customer-referral"
	EntryKindAffiliate        = "affiliate"
	EntryKindMilestoneBonus   = "milestone-bonus"
	EntryKindReversal         = "reversal"
)

// Constants для причин аннулирования записей
const (
	VoidReasonRefunded   = "refunded"
	VoidReasonChargeback = "chargeback"
	VoidReasonFraud      = "fraud"
)

// PayoutRequest представляет запрос на выплату накопленного баланса
type PayoutRequest struct {
	ID             int64      `json:"id" db:"id"`
	OwnerID        int64      `json:"owner_id" db:"owner_id"`
	Amount         float64    `json:"amount" db:"amount"`
	Method         string     `json:"method" db:"method"`
	Destination    string     `json:"destination" db:"destination"`
	Status         string     `json:"status" db:"status"`
	Reason         *string    `json:"reason,omitempty" db:"reason"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	RequestedAt    time.Time  `json:"requested_at" db:"requested_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// PayoutStatus представляет статус запроса на выплату
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusRejected   PayoutStatus = "rejected"
)

// IsValid проверяет валидность статуса выплаты
func (ps PayoutStatus) IsValid() bool {
	switch ps {
	case PayoutStatusPending, PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusRejected:
		return true
	default:
		return false
	}
}

// Constants для способов выплаты
const (
	PayoutMethodPayPal        = "paypal"
	PayoutMethodDirectDeposit = "direct-deposit"
	PayoutMethodCheck         = "check"
)

// IsValidPayoutMethod проверяет корректность способа выплаты
func IsValidPayoutMethod(method string) bool {
	switch method {
	case PayoutMethodPayPal, PayoutMethodDirectDeposit, PayoutMethodCheck:
		return true
	default:
		return false
	}
}

// PayoutSettings представляет настройки выплат владельца
type PayoutSettings struct {
	OwnerID     int64     `json:"owner_id" db:"owner_id"`
	Method      string    `json:"method" db:"method"`
	Destination string    `json:"destination" db:"destination"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// AffiliateTier представляет уровень партнера и его комиссионную ставку
type AffiliateTier struct {
	OwnerID      int64      `json:"owner_id" db:"owner_id"`
	Tier         string     `json:"tier" db:"tier"`
	RateOverride *float64   `json:"rate_override,omitempty" db:"rate_override"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Constants для уровней партнеров
const (
	TierStarter = "starter"
	TierActive  = "active"
	TierPartner = "partner"
)

// Constants для комиссионных ставок по уровням
const (
	RateStarter = 0.20
	RateActive  = 0.25
	RatePartner = 0.30
)

// TierActiveThreshold определяет количество завершенных партнерских
// продаж для перехода на уровень active
const TierActiveThreshold = 3

// Rate возвращает действующую ставку партнера: индивидуальное
// переопределение, иначе ставка уровня. Для стартового уровня действует
// ставка по умолчанию из конфигурации.
func (t *AffiliateTier) Rate(defaultStarter float64) float64 {
	if t.RateOverride != nil {
		return *t.RateOverride
	}
	switch t.Tier {
	case TierActive:
		return RateActive
	case TierPartner:
		return RatePartner
	default:
		return defaultStarter
	}
}

// OrderEvent представляет событие оформления заказа от магазина.
// Доставляется at-least-once: повторная доставка не должна приводить
// к двойному начислению.
type OrderEvent struct {
	OrderID      string    `json:"order_id"`
	BuyerID      int64     `json:"buyer_id"`
	OrderAmount  float64   `json:"order_amount"`
	ReferralCode string    `json:"referral_code,omitempty"`
	PriorOrders  int       `json:"prior_orders"`
	Timestamp    time.Time `json:"timestamp"`
}

// RefundEvent представляет событие возврата или чарджбэка по заказу
type RefundEvent struct {
	OrderID string `json:"order_id"`
	Type    string `json:"type"` // refund, chargeback
}

// Constants для типов событий возврата
const (
	RefundTypeRefund     = "refund"
	RefundTypeChargeback = "chargeback"
)

// AttributionResult представляет результат атрибуции заказа
type AttributionResult struct {
	Entry     *LedgerEntry `json:"entry,omitempty"`
	Duplicate bool         `json:"duplicate"`
	Reason    string       `json:"reason,omitempty"`
}

// Constants для причин отказа в атрибуции (заказ при этом проходит успешно)
const (
	AttributionReasonNoCode        = "no_code"
	AttributionReasonInvalidCode   = "invalid_code"
	AttributionReasonSelfReferral  = "self_referral"
	AttributionReasonNotFirstOrder = "not_first_order"
	AttributionReasonOutsideWindow = "outside_window"
)

// Attributed сообщает, была ли создана или найдена запись леджера
func (r *AttributionResult) Attributed() bool {
	return r.Entry != nil
}

// BalanceSummary представляет сводку баланса владельца по статусам.
// Available — прошедшая клиринг сумма, еще не захваченная выплатой.
type BalanceSummary struct {
	OwnerID   int64   `json:"owner_id"`
	Pending   float64 `json:"pending"`
	Cleared   float64 `json:"cleared"`
	Paid      float64 `json:"paid"`
	Available float64 `json:"available"`
}
