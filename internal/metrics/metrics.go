package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	ordersAttributed  *prometheus.CounterVec
	ledgerEntries     *prometheus.CounterVec
	entryTransitions  *prometheus.CounterVec
	payoutRequests    *prometheus.CounterVec
	milestonesGranted prometheus.Counter
	webhookEvents     *prometheus.CounterVec

	// Гистограммы
	commissionAmount     *prometheus.HistogramVec
	payoutAmount         prometheus.Histogram
	disbursementDuration prometheus.Histogram

	// Gauge метрики
	payoutsProcessing prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		// Счетчики атрибуции заказов
		ordersAttributed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_attributed_total",
				Help: "Общее количество обработанных заказов",
			},
			[]string{"outcome"}, // attributed, duplicate, no_code, invalid_code, self_referral, not_first_order
		),

		// Счетчики записей леджера
		ledgerEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_entries_total",
				Help: "Общее количество созданных записей леджера",
			},
			[]string{"kind"}, // customer-referral, affiliate, milestone-bonus, reversal
		),

		// Счетчики переходов статусов
		entryTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entry_transitions_total",
				Help: "Общее количество переходов статусов записей",
			},
			[]string{"to"}, // cleared, paid, voided
		),

		// Счетчики запросов на выплату
		payoutRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_requests_total",
				Help: "Общее количество запросов на выплату",
			},
			[]string{"status"}, // created, completed, rejected
		),

		// Счетчик выданных бонусов за рубежи
		milestonesGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "milestones_granted_total",
				Help: "Общее количество выданных бонусов за рубежи",
			},
		),

		// Счетчики входящих вебхуков
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Общее количество входящих вебхуков",
			},
			[]string{"type", "status"}, // type: order, refund; status: ok, invalid_signature, bad_payload
		),

		// Гистограмма сумм комиссий
		commissionAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commission_amount",
				Help:    "Сумма комиссии за одну запись леджера",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"kind"},
		),

		// Гистограмма сумм выплат
		payoutAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payout_amount",
				Help:    "Сумма одной выплаты",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
			},
		),

		// Гистограмма длительности обращений к шлюзу выплат
		disbursementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "disbursement_duration_seconds",
				Help:    "Длительность создания перевода в шлюзе выплат",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		// Gauge выплат в обработке
		payoutsProcessing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "payouts_processing",
				Help: "Количество выплат в статусе processing",
			},
		),
	}

	// Регистрируем все метрики
	prometheus.MustRegister(
		m.ordersAttributed,
		m.ledgerEntries,
		m.entryTransitions,
		m.payoutRequests,
		m.milestonesGranted,
		m.webhookEvents,
		m.commissionAmount,
		m.payoutAmount,
		m.disbursementDuration,
		m.payoutsProcessing,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "orders_attributed_total":
		m.ordersAttributed.WithLabelValues(labels...).Inc()
	case "ledger_entries_total":
		m.ledgerEntries.WithLabelValues(labels...).Inc()
	case "entry_transitions_total":
		m.entryTransitions.WithLabelValues(labels...).Inc()
	case "payout_requests_total":
		m.payoutRequests.WithLabelValues(labels...).Inc()
	case "milestones_granted_total":
		m.milestonesGranted.Inc()
	case "webhook_events_total":
		m.webhookEvents.WithLabelValues(labels...).Inc()
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
	}
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "payouts_processing":
		m.payoutsProcessing.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
	}
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "commission_amount":
		m.commissionAmount.WithLabelValues(labels...).Observe(value)
	case "payout_amount":
		m.payoutAmount.Observe(value)
	case "disbursement_duration_seconds":
		m.disbursementDuration.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
	}
}

// RecordAttribution записывает результат атрибуции заказа
func (m *Metrics) RecordAttribution(outcome string) {
	m.IncrementCounter("orders_attributed_total", outcome)
}

// RecordLedgerEntry записывает создание записи леджера
func (m *Metrics) RecordLedgerEntry(kind string, commission float64) {
	m.IncrementCounter("ledger_entries_total", kind)
	m.ObserveHistogram("commission_amount", commission, kind)
}

// RecordTransition записывает переход статуса записи
func (m *Metrics) RecordTransition(to string) {
	m.IncrementCounter("entry_transitions_total", to)
}

// RecordPayout записывает событие жизненного цикла выплаты
func (m *Metrics) RecordPayout(status string, amount float64) {
	m.IncrementCounter("payout_requests_total", status)
	if status == "created" {
		m.ObserveHistogram("payout_amount", amount)
	}
}

// RecordMilestone записывает выдачу бонуса за рубеж
func (m *Metrics) RecordMilestone() {
	m.IncrementCounter("milestones_granted_total")
}

// ObserveDisbursement записывает длительность обращения к шлюзу выплат
func (m *Metrics) ObserveDisbursement(seconds float64) {
	m.ObserveHistogram("disbursement_duration_seconds", seconds)
}

// RecordWebhook записывает входящий вебхук
func (m *Metrics) RecordWebhook(eventType, status string) {
	m.IncrementCounter("webhook_events_total", eventType, status)
}
