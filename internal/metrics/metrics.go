package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики движка.
// Методы безопасны для nil-получателя, чтобы сервисы работали без метрик.
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	// Счетчики
	referralsTracked   *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	payoutTransitions  *prometheus.CounterVec
	railCalls          *prometheus.CounterVec
	socialVerification *prometheus.CounterVec

	// Гистограммы
	railLatency        *prometheus.HistogramVec
	verificationRunDur prometheus.Histogram

	// Gauge метрики
	programEnabled      prometheus.Gauge
	lastVerificationRun prometheus.Gauge

	mu sync.RWMutex
}

// New создает метрики и регистрирует их в собственном реестре
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),

		referralsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referrals_tracked_total",
				Help: "Количество событий атрибуции рефералов",
			},
			[]string{"result"}, // created, duplicate, invalid_code, error
		),

		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_verifications_total",
				Help: "Результаты проверки рефералов после испытательного срока",
			},
			[]string{"outcome"}, // eligible, cancelled, errored
		),

		payoutTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_transitions_total",
				Help: "Переходы выплат по статусам",
			},
			[]string{"status"},
		),

		railCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_rail_calls_total",
				Help: "Вызовы внешних платежных систем",
			},
			[]string{"rail", "operation", "result"}, // result: success, failed, unknown
		),

		socialVerification: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_verifications_total",
				Help: "Заявки на проверку публикаций и решения по ним",
			},
			[]string{"status"},
		),

		railLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_rail_latency_seconds",
				Help:    "Время ответа платежной системы в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rail"},
		),

		verificationRunDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verification_run_duration_seconds",
				Help:    "Длительность прогона проверки рефералов",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
			},
		),

		programEnabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "referral_program_enabled",
				Help: "1, если реферальная программа включена",
			},
		),

		lastVerificationRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "last_verification_run_timestamp",
				Help: "Unix-время последнего прогона проверки рефералов",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.referralsTracked,
		m.verifications,
		m.payoutTransitions,
		m.railCalls,
		m.socialVerification,
		m.railLatency,
		m.verificationRunDur,
		m.programEnabled,
		m.lastVerificationRun,
	)

	return m
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "referrals_tracked_total":
		counter = m.referralsTracked
	case "referral_verifications_total":
		counter = m.verifications
	case "payout_transitions_total":
		counter = m.payoutTransitions
	case "payment_rail_calls_total":
		counter = m.railCalls
	case "social_verifications_total":
		counter = m.socialVerification
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "referral_program_enabled":
		m.programEnabled.Set(value)
	case "last_verification_run_timestamp":
		m.lastVerificationRun.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
	}
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "payment_rail_latency_seconds":
		m.railLatency.WithLabelValues(labels...).Observe(value)
	case "verification_run_duration_seconds":
		m.verificationRunDur.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
	}
}

// RecordReferralTracked записывает результат атрибуции
func (m *Metrics) RecordReferralTracked(result string) {
	m.IncrementCounter("referrals_tracked_total", result)
}

// RecordVerificationRun записывает итоги прогона проверки рефералов
func (m *Metrics) RecordVerificationRun(eligible, cancelled, errored int, seconds float64, finishedAt int64) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{"eligible": eligible, "cancelled": cancelled, "errored": errored} {
		for i := 0; i < n; i++ {
			m.IncrementCounter("referral_verifications_total", outcome)
		}
	}
	m.ObserveHistogram("verification_run_duration_seconds", seconds)
	m.SetGauge("last_verification_run_timestamp", float64(finishedAt))
}

// RecordPayoutTransition записывает переход выплаты в статус
func (m *Metrics) RecordPayoutTransition(status string) {
	m.IncrementCounter("payout_transitions_total", status)
}

// RecordRailCall записывает вызов платежной системы
func (m *Metrics) RecordRailCall(rail, operation, result string, seconds float64) {
	m.IncrementCounter("payment_rail_calls_total", rail, operation, result)
	m.ObserveHistogram("payment_rail_latency_seconds", seconds, rail)
}

// RecordSocialVerification записывает заявку или решение по публикации
func (m *Metrics) RecordSocialVerification(status string) {
	m.IncrementCounter("social_verifications_total", status)
}

// SetProgramEnabled отражает состояние переключателя программы
func (m *Metrics) SetProgramEnabled(enabled bool) {
	value := 0.0
	if enabled {
		value = 1
	}
	m.SetGauge("referral_program_enabled", value)
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
