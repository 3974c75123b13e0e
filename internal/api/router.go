package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"referral-core/internal/metrics"
	"referral-core/internal/webhook"
)

// NewRouter собирает HTTP-роутер сервиса
func NewRouter(h *Handler, storeWebhook *webhook.StoreWebhookHandler, metricsHandler *metrics.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))

	// Реферальные коды и атрибуция
	r.Route("/referral", func(r chi.Router) {
		r.Post("/codes", h.IssueCode)
		r.Get("/codes/{ownerID}", h.GetCode)
		r.Delete("/codes/{codeID}", h.DeactivateCode)
		r.Post("/resolve", h.ResolveCode)
	})

	// Леджер комиссий
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/balance/{ownerID}", h.GetBalance)
		r.Get("/entries/{ownerID}", h.ListEntries)
	})

	// Прогресс по рубежам
	r.Get("/milestones/{ownerID}", h.GetMilestoneProgress)

	// Выплаты
	r.Route("/payouts", func(r chi.Router) {
		r.Post("/", h.RequestPayout)
		r.Get("/{payoutID}", h.GetPayout)
		r.Get("/settings/{ownerID}", h.GetPayoutSettings)
		r.Put("/settings/{ownerID}", h.UpdatePayoutSettings)
	})

	// Вебхуки магазина
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/order", storeWebhook.HandleOrder)
		r.Post("/refund", storeWebhook.HandleRefund)
	})

	r.Get("/metrics", metricsHandler.MetricsHandler().ServeHTTP)
	r.Get("/health", metricsHandler.HealthHandler)

	return r
}

// requestLogger логирует входящие запросы
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			logger.Debug("http запрос",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}
