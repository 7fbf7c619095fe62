package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commission-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTracker struct {
	got *models.TrackRequest
	err error
}

func (f *fakeTracker) AttributeReferral(_ context.Context, req models.TrackRequest) (*models.TrackResult, error) {
	f.got = &req
	if f.err != nil {
		return nil, f.err
	}
	return &models.TrackResult{
		ReferralID:       "ref-1",
		CommissionAmount: 2000,
		EligibleDate:     time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}, nil
}

const eventBody = `{"referral_code":"ABCD2345","professional_id":"pro-1","email":"pro@example.com","subscription_id":"sub-1","amount":"100.00","country":"US"}`

func post(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/referrals/track", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTrackingHandler(t *testing.T) {
	tracker := &fakeTracker{}
	h := NewTrackingHandler(tracker, "tracking-key", "", zap.NewNop())

	rec := post(h, eventBody, map[string]string{HeaderTrackingKey: "tracking-key"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ref-1", result["referral_id"])
	assert.Equal(t, "20.00", result["commission_amount"])

	require.NotNil(t, tracker.got)
	assert.Equal(t, "ABCD2345", tracker.got.ReferralCode)
	assert.Equal(t, int64(10000), int64(tracker.got.SubscriptionAmount))
}

func TestTrackingHandlerRejects(t *testing.T) {
	tracker := &fakeTracker{}
	h := NewTrackingHandler(tracker, "tracking-key", "", zap.NewNop())

	rec := post(h, eventBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, eventBody, map[string]string{HeaderTrackingKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, `{"referral_code":`, map[string]string{HeaderTrackingKey: "tracking-key"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, tracker.got)

	tracker.err = models.ErrDuplicateReferral
	rec = post(h, eventBody, map[string]string{HeaderTrackingKey: "tracking-key"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate_referral")
}

func TestTrackingHandlerSignature(t *testing.T) {
	tracker := &fakeTracker{}
	h := NewTrackingHandler(tracker, "tracking-key", "signing-secret", zap.NewNop())

	rec := post(h, eventBody, map[string]string{HeaderTrackingKey: "tracking-key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "подпись обязательна")

	rec = post(h, eventBody, map[string]string{
		HeaderTrackingKey:       "tracking-key",
		HeaderTrackingSignature: Sign("other-secret", []byte(eventBody)),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, eventBody, map[string]string{
		HeaderTrackingKey:       "tracking-key",
		HeaderTrackingSignature: Sign("signing-secret", []byte(eventBody)),
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}
