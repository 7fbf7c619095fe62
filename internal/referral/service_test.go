package referral

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"commission-engine/internal/auth"
	"commission-engine/internal/compliance"
	"commission-engine/internal/store"
	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu            sync.Mutex
	verifications []*models.SocialVerification
}

func (n *recordingNotifier) VerificationSubmitted(_ context.Context, v *models.SocialVerification, _ *models.Referrer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, v)
}

func (n *recordingNotifier) PayoutRequested(context.Context, *models.Payout, *models.Referrer) {}
func (n *recordingNotifier) PayoutFailed(context.Context, *models.Payout)                      {}

func newTestService(t *testing.T) (*Service, store.Store, *recordingNotifier) {
	t.Helper()

	st := store.NewMemoryStore(zap.NewNop())
	notifier := &recordingNotifier{}
	svc := NewService(st, compliance.NewStaticTable(), auth.NewIssuer("secret", time.Hour), notifier, nil,
		Options{BaseURL: "https://refer.example.com/", ProbationDays: 30}, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc, st, notifier
}

func register(t *testing.T, svc *Service, email, country string) *models.RegisterResult {
	t.Helper()

	res, err := svc.Register(context.Background(), models.RegisterRequest{Email: email, Name: "Jane Referrer", Country: country})
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	svc, st, _ := newTestService(t)

	res := register(t, svc, "Jane@Example.com", "us")

	assert.Len(t, res.ReferralCode, codeLength)
	for _, c := range res.ReferralCode {
		assert.True(t, strings.ContainsRune(codeAlphabet, c))
	}
	assert.Equal(t, "https://refer.example.com/r/"+res.ReferralCode, res.ReferralURL)
	assert.NotEmpty(t, res.Token)

	session, err := auth.NewIssuer("secret", time.Hour).Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.ReferrerID, session.SubjectID)
	assert.False(t, session.IsAdmin())

	referrer, err := st.Referrer().GetByID(context.Background(), res.ReferrerID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", referrer.Email)
	assert.Equal(t, "US", referrer.Country)
	assert.Equal(t, "USD", referrer.Currency)
	assert.Equal(t, string(compliance.Tier1), referrer.CommissionTier)
	assert.Equal(t, int64(2000), referrer.CommissionRateBps)
	assert.Equal(t, models.AccountStatusActive, referrer.Status)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{name: "некорректный email", req: models.RegisterRequest{Email: "not-an-email", Name: "A", Country: "US"}},
		{name: "email с именем", req: models.RegisterRequest{Email: "Jane <jane@example.com>", Name: "A", Country: "US"}},
		{name: "пустое имя", req: models.RegisterRequest{Email: "a@example.com", Name: "  ", Country: "US"}},
		{name: "страна из трех букв", req: models.RegisterRequest{Email: "a@example.com", Name: "A", Country: "USA"}},
		{name: "пустая страна", req: models.RegisterRequest{Email: "a@example.com", Name: "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	register(t, svc, "jane@example.com", "US")
	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "JANE@example.com", Name: "Jane", Country: "US"})
	assert.ErrorIs(t, err, models.ErrEmailTaken)
}

func TestRegisterTiers(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	de := register(t, svc, "de@example.com", "DE")
	br := register(t, svc, "br@example.com", "BR")

	referrer, err := st.Referrer().GetByID(ctx, de.ReferrerID)
	require.NoError(t, err)
	assert.Equal(t, "EUR", referrer.Currency)

	referrer, err = st.Referrer().GetByID(ctx, br.ReferrerID)
	require.NoError(t, err)
	assert.Equal(t, string(compliance.TierDefault), referrer.CommissionTier)
	assert.Equal(t, int64(1000), referrer.CommissionRateBps)
}

func track(code, email string, amount money.Cents) models.TrackRequest {
	return models.TrackRequest{
		ReferralCode:       code,
		ProfessionalID:     "pro_" + email,
		Email:              email,
		SubscriptionID:     "sub_" + email,
		SubscriptionAmount: amount,
		Country:            "US",
	}
}

func TestAttributeReferral(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	tracked, err := svc.AttributeReferral(ctx, track(strings.ToLower(res.ReferralCode), "Pro@Example.com", money.FromMajor(100)))
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(20), tracked.CommissionAmount)
	assert.Equal(t, testNow.AddDate(0, 0, 30), tracked.EligibleDate)

	ref, err := st.Referral().GetByID(ctx, tracked.ReferralID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusActive, ref.Status)
	assert.Equal(t, "pro@example.com", ref.ReferredProEmail)
	assert.Equal(t, res.ReferralCode, ref.ReferralCode)
	assert.False(t, ref.ProbationComplete)

	dashboard, err := svc.Dashboard(ctx, res.ReferrerID)
	require.NoError(t, err)
	assert.Equal(t, 1, dashboard.Stats.TotalReferrals)
	assert.Equal(t, money.FromMajor(20), dashboard.Stats.PendingBalance)
	assert.Equal(t, money.Cents(0), dashboard.Stats.AvailableBalance)
	assert.Len(t, dashboard.Referrals, 1)
	assert.NotNil(t, dashboard.Payouts)
	assert.NotNil(t, dashboard.Verifications)
}

func TestAttributeReferralRejections(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	_, err := svc.AttributeReferral(ctx, track("NOPE2345", "a@example.com", 1000))
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	_, err = svc.AttributeReferral(ctx, track("", "a@example.com", 1000))
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	_, err = svc.AttributeReferral(ctx, track(res.ReferralCode, "a@example.com", 0))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.AttributeReferral(ctx, track(res.ReferralCode, "a@example.com", 1000))
	require.NoError(t, err)

	// Повторная атрибуция того же профессионала под другим регистром
	_, err = svc.AttributeReferral(ctx, track(res.ReferralCode, "A@EXAMPLE.COM", 1000))
	assert.ErrorIs(t, err, models.ErrDuplicateReferral)

	other := register(t, svc, "other@example.com", "CA")
	_, err = svc.AttributeReferral(ctx, track(other.ReferralCode, "a@example.com", 1000))
	assert.ErrorIs(t, err, models.ErrDuplicateReferral)

	list, err := st.Referral().ListByReferrer(ctx, res.ReferrerID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAttributeReferralConcurrentDuplicates(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AttributeReferral(ctx, track(res.ReferralCode, "race@example.com", 5000)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	list, err := st.Referral().ListByReferrer(ctx, res.ReferrerID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSocialVerificationFlow(t *testing.T) {
	svc, st, notifier := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	_, err := svc.SubmitSocialVerification(ctx, res.ReferrerID, models.VerificationRequest{Platform: "myspace", PostURL: "https://myspace.com/p/1"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.SubmitSocialVerification(ctx, res.ReferrerID, models.VerificationRequest{Platform: "instagram", PostURL: "/relative/path"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	v, err := svc.SubmitSocialVerification(ctx, res.ReferrerID, models.VerificationRequest{Platform: "Instagram", PostURL: "https://instagram.com/p/abc"})
	require.NoError(t, err)
	assert.Equal(t, "instagram", v.Platform)
	assert.Equal(t, models.VerificationStatusPending, v.Status)
	assert.Len(t, notifier.verifications, 1)

	_, err = svc.ReviewVerification(ctx, v.ID, "maybe", "admin", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	reviewed, err := svc.ReviewVerification(ctx, v.ID, "approve", "admin", "ок")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationStatusApproved, reviewed.Status)

	referrer, err := st.Referrer().GetByID(ctx, res.ReferrerID)
	require.NoError(t, err)
	assert.True(t, referrer.SocialVerified)
	assert.NotNil(t, referrer.SocialVerifiedAt)

	// Повторное рассмотрение недопустимо
	_, err = svc.ReviewVerification(ctx, v.ID, "reject", "admin", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestReviewReferral(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	tracked, err := svc.AttributeReferral(ctx, track(res.ReferralCode, "pro@example.com", money.FromMajor(100)))
	require.NoError(t, err)

	_, err = svc.ReviewReferral(ctx, tracked.ReferralID, "explode", "admin", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	ref, err := svc.ReviewReferral(ctx, tracked.ReferralID, models.ReferralActionFraud, "admin", "фейковый аккаунт")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusFraud, ref.Status)
	assert.NotNil(t, ref.CancelledAt)

	// Email освобожден: другой реферер может привлечь того же профессионала
	other := register(t, svc, "other@example.com", "US")
	_, err = svc.AttributeReferral(ctx, track(other.ReferralCode, "pro@example.com", money.FromMajor(100)))
	require.NoError(t, err)

	_, err = svc.ReviewReferral(ctx, tracked.ReferralID, models.ReferralActionReinstate, "admin", "")
	assert.ErrorIs(t, err, models.ErrDuplicateReferral)

	stats, err := st.Referrer().RecomputeStats(ctx, res.ReferrerID, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FraudReferrals)
	assert.Equal(t, money.Cents(0), stats.PendingBalance)
}

func TestReviewReferralApproveEarly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com", "US")

	tracked, err := svc.AttributeReferral(ctx, track(res.ReferralCode, "pro@example.com", money.FromMajor(50)))
	require.NoError(t, err)

	ref, err := svc.ReviewReferral(ctx, tracked.ReferralID, models.ReferralActionApprove, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusEligible, ref.Status)
	assert.True(t, ref.ProbationComplete)

	// Повторное одобрение недопустимо
	_, err = svc.ReviewReferral(ctx, tracked.ReferralID, models.ReferralActionApprove, "admin", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stats, err := svc.RecomputeStats(ctx, res.ReferrerID)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(10), stats.AvailableBalance)
	assert.Equal(t, money.FromMajor(10), stats.TotalEarned)
}
