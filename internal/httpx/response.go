// Package httpx содержит общие функции HTTP ответов и преобразование ошибок движка в статусы
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"commission-engine/internal/auth"
	"commission-engine/pkg/models"

	"go.uber.org/zap"
)

// MaxBodyBytes предельный размер тела запроса
const MaxBodyBytes = 1 << 20

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON пишет ответ в формате JSON
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON читает тело запроса в dst
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.ErrInvalidInput.WithMessage(fmt.Sprintf("некорректное тело запроса: %v", err))
	}
	return nil
}

// WriteError преобразует ошибку в HTTP статус и машинно-читаемый код.
// Нетипизированные ошибки логируются и отдаются как internal_error без подробностей.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, auth.ErrInvalidToken) {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "недействительный токен доступа"})
		return
	}

	var e *models.Error
	if !errors.As(err, &e) {
		logger.Error("ошибка обработки запроса", zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "внутренняя ошибка сервера"})
		return
	}

	WriteJSON(w, StatusFor(e), ErrorResponse{Error: e.Code, Message: e.Message})
}

// StatusFor возвращает HTTP статус для ошибки движка
func StatusFor(e *models.Error) int {
	switch e.Kind {
	case models.KindValidation:
		if e.Code == models.ErrInvalidInput.Code {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case models.KindConflict:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindDisabled:
		return http.StatusServiceUnavailable
	case models.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
