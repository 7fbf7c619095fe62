package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedReferrer(t *testing.T, s Store, code string) *models.Referrer {
	t.Helper()

	r := &models.Referrer{
		ID:                uuid.NewString(),
		Email:             code + "@example.com",
		Name:              "Referrer " + code,
		Country:           "US",
		Currency:          "USD",
		ReferralCode:      code,
		Status:            models.AccountStatusActive,
		CommissionRateBps: 2000,
		CreatedAt:         day0,
		UpdatedAt:         day0,
	}
	require.NoError(t, s.Referrer().Create(context.Background(), r))
	return r
}

func seedReferral(t *testing.T, s Store, referrerID, email string, commission money.Cents, status models.ReferralStatus) *models.Referral {
	t.Helper()

	ref := &models.Referral{
		ID:                    uuid.NewString(),
		ReferrerID:            referrerID,
		ReferredProID:         uuid.NewString(),
		ReferredProEmail:      email,
		SubscriptionID:        "sub_" + email,
		SubscriptionStartedAt: day0,
		EligibleDate:          day0.AddDate(0, 0, 30),
		CommissionRateBps:     2000,
		BaseAmount:            commission * 5,
		CommissionAmount:      commission,
		Currency:              "USD",
		Status:                models.ReferralStatusActive,
		CreatedAt:             day0,
		UpdatedAt:             day0,
	}
	require.NoError(t, s.Referral().Create(context.Background(), ref))

	if status == models.ReferralStatusEligible {
		require.NoError(t, s.Referral().MarkEligible(context.Background(), ref.ID, commission, day0.AddDate(0, 0, 31)))
		ref.Status = status
	}
	return ref
}

func TestMemoryReferrerUniqueness(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	seedReferrer(t, s, "ALPHA123")

	dupEmail := &models.Referrer{ID: uuid.NewString(), Email: "ALPHA123@Example.com", ReferralCode: "OTHER111"}
	assert.ErrorIs(t, s.Referrer().Create(ctx, dupEmail), models.ErrEmailTaken)

	dupCode := &models.Referrer{ID: uuid.NewString(), Email: "new@example.com", ReferralCode: "ALPHA123"}
	assert.ErrorIs(t, s.Referrer().Create(ctx, dupCode), ErrCodeTaken)

	got, err := s.Referrer().GetByCode(ctx, "alpha123")
	require.NoError(t, err)
	assert.Equal(t, "alpha123@example.com", got.Email)
}

func TestMemoryDuplicateReferral(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")

	first := seedReferral(t, s, r.ID, "pro@example.com", 2000, models.ReferralStatusActive)

	second := &models.Referral{ID: uuid.NewString(), ReferrerID: r.ID, ReferredProEmail: "PRO@example.com", Status: models.ReferralStatusActive}
	assert.ErrorIs(t, s.Referral().Create(ctx, second), models.ErrDuplicateReferral)

	// После отмены email освобождается
	require.NoError(t, s.Referral().MarkCancelled(ctx, first.ID, "subscription cancelled", day0))
	assert.NoError(t, s.Referral().Create(ctx, second))

	// Восстановление отмененного реферала упирается в новый живой реферал
	_, err := s.Referral().Transition(ctx, first.ID,
		[]models.ReferralStatus{models.ReferralStatusCancelled, models.ReferralStatusFraud},
		models.ReferralStatusActive, "reinstate", day0)
	assert.ErrorIs(t, err, models.ErrDuplicateReferral)
}

func TestMemoryDueForVerification(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")

	due := seedReferral(t, s, r.ID, "due@example.com", 2000, models.ReferralStatusActive)
	seedReferral(t, s, r.ID, "done@example.com", 1000, models.ReferralStatusEligible)

	list, err := s.Referral().ListDueForVerification(ctx, day0.AddDate(0, 0, 29), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.Referral().ListDueForVerification(ctx, day0.AddDate(0, 0, 31), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	// Повторный перевод уже обработанного реферала невозможен
	require.NoError(t, s.Referral().MarkEligible(ctx, due.ID, 2000, day0.AddDate(0, 0, 31)))
	assert.ErrorIs(t, s.Referral().MarkEligible(ctx, due.ID, 2000, day0.AddDate(0, 0, 32)), models.ErrInvalidTransition)
	assert.ErrorIs(t, s.Referral().MarkCancelled(ctx, due.ID, "late", day0.AddDate(0, 0, 32)), models.ErrInvalidTransition)
}

func TestMemoryRecomputeStats(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")

	seedReferral(t, s, r.ID, "a@example.com", 2000, models.ReferralStatusActive)
	e1 := seedReferral(t, s, r.ID, "b@example.com", 1500, models.ReferralStatusEligible)
	seedReferral(t, s, r.ID, "c@example.com", 500, models.ReferralStatusEligible)
	cancelled := seedReferral(t, s, r.ID, "d@example.com", 900, models.ReferralStatusActive)
	require.NoError(t, s.Referral().MarkCancelled(ctx, cancelled.ID, "inactive", day0))

	payout := &models.Payout{ID: uuid.NewString(), ReferrerID: r.ID, RequestedAmount: 1500, NetAmount: 1475,
		Status: models.PayoutStatusPending, ReferralIDs: []string{e1.ID}, CreatedAt: day0}
	require.NoError(t, s.Payout().CreateWithClaims(ctx, payout))

	stats, err := s.Referrer().RecomputeStats(ctx, r.ID, day0)
	require.NoError(t, err)

	assert.Equal(t, money.Cents(2000), stats.TotalEarned)
	assert.Equal(t, money.Cents(0), stats.TotalPaid)
	assert.Equal(t, money.Cents(2000), stats.AvailableBalance)
	assert.Equal(t, money.Cents(1500), stats.ReservedBalance)
	assert.Equal(t, money.Cents(500), stats.WithdrawableBalance())
	assert.Equal(t, money.Cents(2000), stats.PendingBalance)
	assert.Equal(t, 4, stats.TotalReferrals)
	assert.Equal(t, 1, stats.CancelledReferrals)

	_, err = s.Payout().Approve(ctx, payout.ID, "admin", "", day0)
	require.NoError(t, err)
	_, err = s.Payout().BeginExecution(ctx, payout.ID, day0)
	require.NoError(t, err)
	_, err = s.Payout().CompleteExecution(ctx, payout.ID, "tr_1", day0)
	require.NoError(t, err)

	stats, err = s.Referrer().RecomputeStats(ctx, r.ID, day0)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1500), stats.TotalPaid)
	assert.Equal(t, money.Cents(500), stats.AvailableBalance)
	assert.Equal(t, money.Cents(0), stats.ReservedBalance)
	assert.Equal(t, 1, stats.PaidReferrals)

	stored, err := s.Referrer().GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, *stats, stored.Stats)
}

func TestMemoryClaimsAreExclusive(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")
	ref := seedReferral(t, s, r.ID, "a@example.com", 2000, models.ReferralStatusEligible)

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Payout().CreateWithClaims(ctx, &models.Payout{
				ID:          uuid.NewString(),
				ReferrerID:  r.ID,
				Status:      models.PayoutStatusPending,
				ReferralIDs: []string{ref.ID},
				CreatedAt:   day0,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrReferralClaimed)
	}
	assert.Equal(t, 1, succeeded)

	payouts, err := s.Payout().ListByReferrer(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestMemoryPayoutStateMachine(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")
	ref := seedReferral(t, s, r.ID, "a@example.com", 2000, models.ReferralStatusEligible)

	p := &models.Payout{ID: uuid.NewString(), ReferrerID: r.ID, Status: models.PayoutStatusPending, ReferralIDs: []string{ref.ID}, CreatedAt: day0}
	require.NoError(t, s.Payout().CreateWithClaims(ctx, p))

	// Исполнение до одобрения невозможно
	_, err := s.Payout().BeginExecution(ctx, p.ID, day0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.Payout().Approve(ctx, p.ID, "admin", "ok", day0)
	require.NoError(t, err)
	_, err = s.Payout().Approve(ctx, p.ID, "admin", "ok", day0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.Payout().BeginExecution(ctx, p.ID, day0)
	require.NoError(t, err)
	_, err = s.Payout().BeginExecution(ctx, p.ID, day0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	failed, err := s.Payout().FailExecution(ctx, p.ID, "rail_error", "account closed", day0)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)

	// Рефералы остаются закрепленными до решения администратора
	got, err := s.Referral().GetByID(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PayoutID)

	cancelled, err := s.Payout().Release(ctx, p.ID, models.PayoutStatusFailed, "admin", "closed account", day0)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCancelled, cancelled.Status)
	assert.Equal(t, []string{ref.ID}, cancelled.ReferralIDs)

	got, err = s.Referral().GetByID(ctx, ref.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PayoutID)
	assert.True(t, got.IsClaimable())

	_, err = s.Payout().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	r := seedReferrer(t, s, "ALPHA123")

	got, err := s.Referrer().GetByID(ctx, r.ID)
	require.NoError(t, err)
	got.Status = models.AccountStatusBanned

	again, err := s.Referrer().GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, again.Status)
}

func TestMemorySettings(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	_, found, err := s.Settings().GetBool(ctx, "referral_program_enabled")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Settings().SetBool(ctx, "referral_program_enabled", false))
	v, found, err := s.Settings().GetBool(ctx, "referral_program_enabled")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, v)
}
