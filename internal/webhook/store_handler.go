package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"referral-core/internal/attribution"
	"referral-core/internal/ledger"
	"referral-core/internal/metrics"
	"referral-core/pkg/models"

	"go.uber.org/zap"
)

// StoreWebhookHandler обрабатывает вебхуки магазина о заказах и возвратах.
// Ошибки атрибуции не возвращаются магазину как сбои: чекаут покупателя
// не должен падать из-за реферальной программы.
type StoreWebhookHandler struct {
	attributionService *attribution.Service
	ledgerService      *ledger.Service
	metrics            *metrics.Metrics
	logger             *zap.Logger
	secretKey          string
}

// NewStoreWebhookHandler создает новый обработчик вебхуков магазина
func NewStoreWebhookHandler(attributionService *attribution.Service, ledgerService *ledger.Service, m *metrics.Metrics, secretKey string, logger *zap.Logger) *StoreWebhookHandler {
	return &StoreWebhookHandler{
		attributionService: attributionService,
		ledgerService:      ledgerService,
		metrics:            m,
		logger:             logger,
		secretKey:          secretKey,
	}
}

// HandleOrder обрабатывает событие оформления заказа
func (h *StoreWebhookHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, "order")
	if !ok {
		return
	}

	var event models.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("ошибка парсинга события заказа", zap.Error(err))
		h.metrics.RecordWebhook("order", "bad_payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if event.OrderID == "" || event.BuyerID == 0 {
		h.logger.Warn("событие заказа без обязательных полей",
			zap.String("order_id", event.OrderID))
		h.metrics.RecordWebhook("order", "bad_payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	result, err := h.attributionService.Resolve(context.Background(), &event)
	if err != nil {
		h.logger.Error("ошибка атрибуции заказа",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordWebhook("order", "ok")
	switch {
	case result.Duplicate:
		h.metrics.RecordAttribution("duplicate")
	case result.Attributed():
		h.metrics.RecordAttribution("attributed")
		h.metrics.RecordLedgerEntry(result.Entry.Kind, result.Entry.CommissionAmount)
	default:
		h.metrics.RecordAttribution(result.Reason)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// HandleRefund обрабатывает событие возврата или чарджбэка
func (h *StoreWebhookHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, "refund")
	if !ok {
		return
	}

	var event models.RefundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("ошибка парсинга события возврата", zap.Error(err))
		h.metrics.RecordWebhook("refund", "bad_payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if event.OrderID == "" {
		h.metrics.RecordWebhook("refund", "bad_payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := h.ledgerService.ProcessRefund(context.Background(), &event); err != nil {
		h.logger.Error("ошибка обработки возврата",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordWebhook("refund", "ok")
	h.logger.Info("возврат обработан",
		zap.String("order_id", event.OrderID),
		zap.String("type", event.Type))

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readVerified читает тело запроса и проверяет подпись
func (h *StoreWebhookHandler) readVerified(w http.ResponseWriter, r *http.Request, eventType string) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get("X-Store-Signature"), body) {
		h.logger.Warn("неверная подпись вебхука", zap.String("type", eventType))
		h.metrics.RecordWebhook(eventType, "invalid_signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return body, true
}

// verifySignature проверяет HMAC-SHA256 подпись тела запроса
func (h *StoreWebhookHandler) verifySignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}

	h256 := hmac.New(sha256.New, []byte(h.secretKey))
	h256.Write(body)
	expected := hex.EncodeToString(h256.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
