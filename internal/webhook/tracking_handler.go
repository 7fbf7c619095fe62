// Package webhook принимает события атрибуции от процесса регистрации профессионалов
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"commission-engine/internal/httpx"
	"commission-engine/pkg/models"

	"go.uber.org/zap"
)

// Заголовки события атрибуции
const (
	HeaderTrackingKey       = "X-Tracking-Key"
	HeaderTrackingSignature = "X-Tracking-Signature"
)

// Tracker создает реферал по событию атрибуции
type Tracker interface {
	AttributeReferral(ctx context.Context, req models.TrackRequest) (*models.TrackResult, error)
}

// TrackingHandler обрабатывает события атрибуции от маркетплейса
type TrackingHandler struct {
	tracker       Tracker
	apiKey        string
	signingSecret string
	logger        *zap.Logger
}

// NewTrackingHandler создает новый обработчик событий атрибуции
func NewTrackingHandler(tracker Tracker, apiKey, signingSecret string, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		tracker:       tracker,
		apiKey:        apiKey,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

// ServeHTTP принимает событие регистрации профессионала с реферальным кодом
func (h *TrackingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.verifyKey(r.Header.Get(HeaderTrackingKey)) {
		h.logger.Warn("событие атрибуции с неверным ключом", zap.String("remote_addr", r.RemoteAddr))
		httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorResponse{Error: "unauthorized", Message: "неверный ключ атрибуции"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		httpx.WriteError(w, h.logger, models.ErrInvalidInput.WithMessage("не удалось прочитать тело запроса"))
		return
	}

	if !h.verifySignature(r.Header.Get(HeaderTrackingSignature), body) {
		h.logger.Warn("неверная подпись события атрибуции")
		httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorResponse{Error: "unauthorized", Message: "неверная подпись события"})
		return
	}

	var event models.TrackRequest
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(w, h.logger, models.ErrInvalidInput.WithMessage("некорректное тело события"))
		return
	}

	h.logger.Info("получено событие атрибуции",
		zap.String("referral_code", event.ReferralCode),
		zap.String("professional_id", event.ProfessionalID),
		zap.String("subscription_id", event.SubscriptionID))

	result, err := h.tracker.AttributeReferral(r.Context(), event)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, result)
}

func (h *TrackingHandler) verifyKey(key string) bool {
	if h.apiKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1
}

// verifySignature проверяет HMAC-SHA256 подпись тела. Без настроенного секрета подпись не требуется.
func (h *TrackingHandler) verifySignature(signature string, body []byte) bool {
	if h.signingSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	expected := Sign(h.signingSecret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign подписывает тело события для отправителя
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
