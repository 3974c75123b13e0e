package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"referral-core/internal/codes"
	"referral-core/internal/ledger"
	"referral-core/internal/milestone"
	"referral-core/internal/payout"
	"referral-core/pkg/models"
)

// IssueCodeRequest представляет запрос на выдачу кода
type IssueCodeRequest struct {
	OwnerID int64  `json:"owner_id"`
	Kind    string `json:"kind"`
}

// ResolveCodeRequest представляет запрос на фиксацию ввода кода покупателем
type ResolveCodeRequest struct {
	Code    string `json:"code"`
	BuyerID int64  `json:"buyer_id"`
}

// RequestPayoutRequest представляет запрос на выплату
type RequestPayoutRequest struct {
	OwnerID int64 `json:"owner_id"`
}

// UpdateSettingsRequest представляет запрос на изменение настроек выплат
type UpdateSettingsRequest struct {
	Method      string `json:"method"`
	Destination string `json:"destination"`
}

// Handler обрабатывает HTTP запросы к сервису
type Handler struct {
	codesService     *codes.Service
	ledgerService    *ledger.Service
	milestoneService *milestone.Service
	payoutService    *payout.Service
	logger           *zap.Logger
}

// NewHandler создает новый HTTP-обработчик
func NewHandler(codesService *codes.Service, ledgerService *ledger.Service, milestoneService *milestone.Service, payoutService *payout.Service, logger *zap.Logger) *Handler {
	return &Handler{
		codesService:     codesService,
		ledgerService:    ledgerService,
		milestoneService: milestoneService,
		payoutService:    payoutService,
		logger:           logger,
	}
}

// IssueCode выдает владельцу реферальный или партнерский код
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req IssueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.OwnerID == 0 || !models.CodeKind(req.Kind).IsValid() {
		writeError(w, http.StatusBadRequest, "не указан владелец или тип кода")
		return
	}

	code, err := h.codesService.IssueCode(r.Context(), req.OwnerID, models.CodeKind(req.Kind))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, code)
}

// GetCode получает активный код владельца
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	kind := models.CodeKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.CodeKindCustomerReferral
	}

	code, err := h.codesService.GetCode(r.Context(), ownerID, kind)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, code)
}

// DeactivateCode отключает код
func (h *Handler) DeactivateCode(w http.ResponseWriter, r *http.Request) {
	codeID, err := parseID(chi.URLParam(r, "codeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID кода")
		return
	}

	if err := h.codesService.Deactivate(r.Context(), codeID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResolveCode фиксирует ввод кода покупателем
func (h *Handler) ResolveCode(w http.ResponseWriter, r *http.Request) {
	var req ResolveCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.Code == "" || req.BuyerID == 0 {
		writeError(w, http.StatusBadRequest, "не указан код или покупатель")
		return
	}

	entry, err := h.codesService.RecordEntry(r.Context(), req.Code, req.BuyerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// GetBalance получает сводку баланса владельца
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	summary, err := h.ledgerService.GetBalance(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListEntries получает записи леджера владельца
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.ledgerService.ListEntries(r.Context(), ownerID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// GetMilestoneProgress получает прогресс владельца по рубежам
func (h *Handler) GetMilestoneProgress(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	progress, err := h.milestoneService.GetProgress(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

// RequestPayout создает запрос на выплату доступного баланса
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req RequestPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.OwnerID == 0 {
		writeError(w, http.StatusBadRequest, "не указан владелец")
		return
	}

	payoutReq, err := h.payoutService.RequestPayout(r.Context(), req.OwnerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, payoutReq)
}

// GetPayout получает запрос на выплату
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID, err := parseID(chi.URLParam(r, "payoutID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID выплаты")
		return
	}

	payoutReq, err := h.payoutService.GetPayout(r.Context(), payoutID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, payoutReq)
}

// GetPayoutSettings получает настройки выплат владельца
func (h *Handler) GetPayoutSettings(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	settings, err := h.payoutService.GetSettings(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// UpdatePayoutSettings сохраняет способ выплаты владельца
func (h *Handler) UpdatePayoutSettings(w http.ResponseWriter, r *http.Request) {
	ownerID, err := parseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный ID владельца")
		return
	}

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}

	settings, err := h.payoutService.UpdateSettings(r.Context(), ownerID, req.Method, req.Destination)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// writeServiceError преобразует доменную ошибку в HTTP-статус
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrCodeNotFound),
		errors.Is(err, models.ErrEntryNotFound),
		errors.Is(err, models.ErrPayoutNotFound),
		errors.Is(err, models.ErrNoPayoutMethod):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidCode),
		errors.Is(err, models.ErrInvalidPayoutMethod):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("внутренняя ошибка обработчика", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка сервиса")
	}
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
