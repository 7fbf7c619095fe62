//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"commission-engine/internal/config"
	"commission-engine/internal/migrations"
	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// Запуск: go test -tags integration ./internal/store/...
// Нужен доступный Docker.

// newPostgresStore поднимает PostgreSQL в контейнере, применяет миграции и возвращает хранилище
func newPostgresStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("commission_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     host,
			Port:     port.Int(),
			User:     "test_user",
			Password: "test_password",
			Name:     "commission_test",
			SSLMode:  "disable",
			MaxConns: 10,
		},
	}

	logger := zap.NewNop()
	require.NoError(t, migrations.RunMigrations(cfg, logger))

	st, err := NewStore(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func pgPayout(referrerID string, amount money.Cents, referralIDs ...string) *models.Payout {
	return &models.Payout{
		ID:              uuid.NewString(),
		ReferrerID:      referrerID,
		RequestedAmount: amount,
		Currency:        "USD",
		ProcessingFee:   25,
		NetAmount:       amount - 25,
		Method:          models.PayoutMethodStripe,
		Status:          models.PayoutStatusPending,
		SocialProofURL:  "https://linkedin.com/posts/1",
		ReferralIDs:     referralIDs,
		CreatedAt:       day0,
		UpdatedAt:       day0,
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("интеграционный тест с контейнером")
	}

	s := newPostgresStore(t)
	ctx := context.Background()

	t.Run("уникальность живого email", func(t *testing.T) {
		r := seedReferrer(t, s, "PGDUP001")
		first := seedReferral(t, s, r.ID, "pg-dup@example.com", 2000, models.ReferralStatusActive)

		second := &models.Referral{
			ID:                    uuid.NewString(),
			ReferrerID:            r.ID,
			ReferredProID:         uuid.NewString(),
			ReferredProEmail:      "PG-DUP@example.com",
			SubscriptionID:        "sub_second",
			SubscriptionStartedAt: day0,
			EligibleDate:          day0.AddDate(0, 0, 30),
			CommissionRateBps:     2000,
			BaseAmount:            10000,
			CommissionAmount:      2000,
			Currency:              "USD",
			Status:                models.ReferralStatusActive,
			CreatedAt:             day0,
			UpdatedAt:             day0,
		}
		assert.ErrorIs(t, s.Referral().Create(ctx, second), models.ErrDuplicateReferral)

		require.NoError(t, s.Referral().MarkCancelled(ctx, first.ID, "subscription cancelled", day0))
		assert.NoError(t, s.Referral().Create(ctx, second))

		found, err := s.Referral().FindLiveByEmail(ctx, "pg-dup@example.com")
		require.NoError(t, err)
		assert.Equal(t, second.ID, found.ID)
	})

	t.Run("закрепление рефералов эксклюзивно", func(t *testing.T) {
		r := seedReferrer(t, s, "PGCLAIM1")
		ref := seedReferral(t, s, r.ID, "pg-claim@example.com", 2000, models.ReferralStatusEligible)

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = s.Payout().CreateWithClaims(ctx, pgPayout(r.ID, 2000, ref.ID))
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

		// Проигравшие транзакции откатились целиком
		payouts, err := s.Payout().ListByReferrer(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(t, payouts, 1)

		claimable, err := s.Referral().ListClaimable(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, claimable)
	})

	t.Run("жизненный цикл выплаты", func(t *testing.T) {
		r := seedReferrer(t, s, "PGLIFE01")
		a := seedReferral(t, s, r.ID, "pg-life-a@example.com", 1500, models.ReferralStatusEligible)
		b := seedReferral(t, s, r.ID, "pg-life-b@example.com", 1000, models.ReferralStatusEligible)

		p := pgPayout(r.ID, 2500, a.ID, b.ID)
		require.NoError(t, s.Payout().CreateWithClaims(ctx, p))

		_, err := s.Payout().BeginExecution(ctx, p.ID, day0)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		approved, err := s.Payout().Approve(ctx, p.ID, "admin", "ok", day0)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusApproved, approved.Status)

		_, err = s.Payout().BeginExecution(ctx, p.ID, day0)
		require.NoError(t, err)
		_, err = s.Payout().BeginExecution(ctx, p.ID, day0)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		completed, err := s.Payout().CompleteExecution(ctx, p.ID, "tr_pg_1", day0)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusCompleted, completed.Status)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, completed.ReferralIDs)

		for _, id := range []string{a.ID, b.ID} {
			got, err := s.Referral().GetByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.ReferralStatusPaid, got.Status)
		}

		stats, err := s.Referrer().RecomputeStats(ctx, r.ID, day0)
		require.NoError(t, err)
		assert.Equal(t, money.Cents(2500), stats.TotalPaid)
		assert.Equal(t, money.Cents(0), stats.AvailableBalance)
		assert.Equal(t, 2, stats.PaidReferrals)
	})

	t.Run("отмена после ошибки освобождает рефералы", func(t *testing.T) {
		r := seedReferrer(t, s, "PGFAIL01")
		ref := seedReferral(t, s, r.ID, "pg-fail@example.com", 2000, models.ReferralStatusEligible)

		p := pgPayout(r.ID, 2000, ref.ID)
		require.NoError(t, s.Payout().CreateWithClaims(ctx, p))
		_, err := s.Payout().Approve(ctx, p.ID, "admin", "", day0)
		require.NoError(t, err)
		_, err = s.Payout().BeginExecution(ctx, p.ID, day0)
		require.NoError(t, err)

		failed, err := s.Payout().FailExecution(ctx, p.ID, "rail_error", "account closed", day0)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusFailed, failed.Status)
		assert.Equal(t, 1, failed.RetryCount)

		cancelled, err := s.Payout().Release(ctx, p.ID, models.PayoutStatusFailed, "admin", "closed account", day0)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusCancelled, cancelled.Status)
		assert.Equal(t, []string{ref.ID}, cancelled.ReferralIDs)

		got, err := s.Referral().GetByID(ctx, ref.ID)
		require.NoError(t, err)
		assert.Nil(t, got.PayoutID)
		assert.True(t, got.IsClaimable())

		// Освобожденный реферал можно включить в новую выплату
		assert.NoError(t, s.Payout().CreateWithClaims(ctx, pgPayout(r.ID, 2000, ref.ID)))
	})

	t.Run("очередь проверки", func(t *testing.T) {
		r := seedReferrer(t, s, "PGDUE001")
		due := seedReferral(t, s, r.ID, "pg-due@example.com", 2000, models.ReferralStatusActive)

		list, err := s.Referral().ListDueForVerification(ctx, day0.AddDate(0, 0, 31), 1000)
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, ref := range list {
			ids = append(ids, ref.ID)
		}
		assert.Contains(t, ids, due.ID)

		require.NoError(t, s.Referral().MarkEligible(ctx, due.ID, 2000, day0.AddDate(0, 0, 31)))
		assert.ErrorIs(t, s.Referral().MarkEligible(ctx, due.ID, 2000, day0.AddDate(0, 0, 32)), models.ErrInvalidTransition)
	})

	t.Run("настройки", func(t *testing.T) {
		require.NoError(t, s.Settings().SetBool(ctx, "referral_program_enabled", false))
		v, found, err := s.Settings().GetBool(ctx, "referral_program_enabled")
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, v)
	})
}
