package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Handler отдает метрики Prometheus и проверку живости
type Handler struct {
	metrics *Metrics
	logger  *zap.Logger
	started time.Time
}

type healthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func NewHandler(metrics *Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// MetricsHandler возвращает HTTP handler для Prometheus метрик
func (h *Handler) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

// HealthHandler сообщает, что процесс жив. Состояние программы и хранилища не проверяется.
func (h *Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := healthResponse{
		Status:        "ok",
		Service:       "commission-engine",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("ошибка записи ответа health", zap.Error(err))
	}
}
