package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"commission-engine/internal/auth"
	"commission-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "некорректный ввод", err: models.ErrInvalidInput.WithMessage("нет email"), wantStatus: http.StatusBadRequest, wantCode: "invalid_input"},
		{name: "бизнес-правило", err: models.ErrBelowMinimum, wantStatus: http.StatusUnprocessableEntity, wantCode: "below_minimum"},
		{name: "обернутый конфликт", err: fmt.Errorf("контекст: %w", models.ErrDuplicateReferral), wantStatus: http.StatusConflict, wantCode: "duplicate_referral"},
		{name: "не найдено", err: models.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{name: "запрещено", err: models.ErrForbidden, wantStatus: http.StatusForbidden, wantCode: "forbidden"},
		{name: "программа отключена", err: models.ErrProgramDisabled, wantStatus: http.StatusServiceUnavailable, wantCode: "program_disabled"},
		{name: "токен", err: fmt.Errorf("%w: expired", auth.ErrInvalidToken), wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "внутренняя", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, zap.NewNop(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
			assert.NotContains(t, body.Message, "connection refused")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"jane"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "jane", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &dst), models.ErrInvalidInput)
}
