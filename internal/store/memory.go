package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"go.uber.org/zap"
)

// memoryStore хранит журнал в памяти процесса.
// Один мьютекс на все таблицы: каждая операция атомарна так же, как условный UPDATE в PostgreSQL.
type memoryStore struct {
	mu            sync.Mutex
	logger        *zap.Logger
	referrers     map[string]*models.Referrer
	referrals     map[string]*models.Referral
	verifications map[string]*models.SocialVerification
	payouts       map[string]*models.Payout
	settings      map[string]bool
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore(logger *zap.Logger) Store {
	return &memoryStore{
		logger:        logger,
		referrers:     make(map[string]*models.Referrer),
		referrals:     make(map[string]*models.Referral),
		verifications: make(map[string]*models.SocialVerification),
		payouts:       make(map[string]*models.Payout),
		settings:      make(map[string]bool),
	}
}

func (s *memoryStore) Referrer() ReferrerRepository         { return memReferrers{s} }
func (s *memoryStore) Referral() ReferralRepository         { return memReferrals{s} }
func (s *memoryStore) Verification() VerificationRepository { return memVerifications{s} }
func (s *memoryStore) Payout() PayoutRepository             { return memPayouts{s} }
func (s *memoryStore) Settings() SettingsRepository         { return memSettings{s} }

func (s *memoryStore) Close() error {
	s.logger.Info("закрытие хранилища в памяти")
	return nil
}

func copyReferrer(r *models.Referrer) *models.Referrer {
	c := *r
	return &c
}

func copyReferral(r *models.Referral) *models.Referral {
	c := *r
	return &c
}

func copyVerification(v *models.SocialVerification) *models.SocialVerification {
	c := *v
	return &c
}

func copyPayout(p *models.Payout) *models.Payout {
	c := *p
	c.ReferralIDs = append([]string(nil), p.ReferralIDs...)
	return &c
}

func ptr[T any](v T) *T {
	return &v
}

// Рефереры

type memReferrers struct{ s *memoryStore }

func (m memReferrers) Create(_ context.Context, referrer *models.Referrer) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, existing := range m.s.referrers {
		if existing.Email == strings.ToLower(referrer.Email) {
			return models.ErrEmailTaken
		}
		if existing.ReferralCode == referrer.ReferralCode {
			return ErrCodeTaken
		}
	}

	c := copyReferrer(referrer)
	c.Email = strings.ToLower(c.Email)
	m.s.referrers[c.ID] = c
	return nil
}

func (m memReferrers) GetByID(_ context.Context, id string) (*models.Referrer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.referrers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyReferrer(r), nil
}

func (m memReferrers) GetByEmail(_ context.Context, email string) (*models.Referrer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, r := range m.s.referrers {
		if r.Email == strings.ToLower(email) {
			return copyReferrer(r), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m memReferrers) GetByCode(_ context.Context, code string) (*models.Referrer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, r := range m.s.referrers {
		if r.ReferralCode == strings.ToUpper(code) {
			return copyReferrer(r), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m memReferrers) UpdatePayoutAccount(_ context.Context, id string, method models.PayoutMethod, accountID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.referrers[id]
	if !ok {
		return models.ErrNotFound
	}
	r.PayoutMethod = ptr(method)
	r.PayoutAccountID = ptr(accountID)
	r.UpdatedAt = at
	return nil
}

func (m memReferrers) MarkSocialVerified(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.referrers[id]
	if !ok {
		return models.ErrNotFound
	}
	if !r.SocialVerified {
		r.SocialVerified = true
		r.SocialVerifiedAt = ptr(at)
		r.UpdatedAt = at
	}
	return nil
}

func (m memReferrers) RecomputeStats(_ context.Context, id string, at time.Time) (*models.ReferrerStats, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.referrers[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	var stats models.ReferrerStats
	for _, ref := range m.s.referrals {
		if ref.ReferrerID != id {
			continue
		}
		stats.TotalReferrals++
		switch ref.Status {
		case models.ReferralStatusActive:
			stats.ActiveReferrals++
			stats.PendingBalance += ref.CommissionAmount
		case models.ReferralStatusEligible:
			stats.EligibleReferrals++
			stats.TotalEarned += ref.CommissionAmount
			if ref.PayoutID != nil {
				stats.ReservedBalance += ref.CommissionAmount
			}
		case models.ReferralStatusPaid:
			stats.PaidReferrals++
			stats.TotalEarned += ref.CommissionAmount
			stats.TotalPaid += ref.CommissionAmount
		case models.ReferralStatusCancelled:
			stats.CancelledReferrals++
		case models.ReferralStatusFraud:
			stats.FraudReferrals++
		}
	}
	stats.AvailableBalance = stats.TotalEarned - stats.TotalPaid

	r.Stats = stats
	r.UpdatedAt = at
	return &stats, nil
}

// Рефералы

type memReferrals struct{ s *memoryStore }

func (m memReferrals) liveByEmail(email string, exceptID string) *models.Referral {
	for _, ref := range m.s.referrals {
		if ref.ID != exceptID && ref.Status.IsLive() && strings.EqualFold(ref.ReferredProEmail, email) {
			return ref
		}
	}
	return nil
}

func (m memReferrals) Create(_ context.Context, ref *models.Referral) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if ref.Status.IsLive() && m.liveByEmail(ref.ReferredProEmail, "") != nil {
		return models.ErrDuplicateReferral
	}

	c := copyReferral(ref)
	c.ReferredProEmail = strings.ToLower(c.ReferredProEmail)
	m.s.referrals[c.ID] = c
	return nil
}

func (m memReferrals) GetByID(_ context.Context, id string) (*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	ref, ok := m.s.referrals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyReferral(ref), nil
}

func (m memReferrals) FindLiveByEmail(_ context.Context, email string) (*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if ref := m.liveByEmail(email, ""); ref != nil {
		return copyReferral(ref), nil
	}
	return nil, models.ErrNotFound
}

func (m memReferrals) filter(match func(*models.Referral) bool, less func(a, b *models.Referral) bool) []*models.Referral {
	var out []*models.Referral
	for _, ref := range m.s.referrals {
		if match(ref) {
			out = append(out, copyReferral(ref))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m memReferrals) ListByReferrer(_ context.Context, referrerID string) ([]*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	return m.filter(
		func(r *models.Referral) bool { return r.ReferrerID == referrerID },
		func(a, b *models.Referral) bool { return a.CreatedAt.After(b.CreatedAt) },
	), nil
}

func (m memReferrals) ListDueForVerification(_ context.Context, now time.Time, limit int) ([]*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	out := m.filter(
		func(r *models.Referral) bool {
			return r.Status == models.ReferralStatusActive && !r.ProbationComplete && !r.EligibleDate.After(now)
		},
		func(a, b *models.Referral) bool { return a.EligibleDate.Before(b.EligibleDate) },
	)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memReferrals) MarkEligible(_ context.Context, id string, commission money.Cents, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	ref, ok := m.s.referrals[id]
	if !ok || ref.Status != models.ReferralStatusActive || ref.ProbationComplete {
		return models.ErrInvalidTransition
	}
	ref.Status = models.ReferralStatusEligible
	ref.ProbationComplete = true
	ref.CommissionAmount = commission
	ref.EligibleAt = ptr(at)
	ref.UpdatedAt = at
	return nil
}

func (m memReferrals) MarkCancelled(_ context.Context, id string, note string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	ref, ok := m.s.referrals[id]
	if !ok || ref.Status != models.ReferralStatusActive || ref.ProbationComplete {
		return models.ErrInvalidTransition
	}
	ref.Status = models.ReferralStatusCancelled
	ref.CancelledAt = ptr(at)
	ref.ReviewNote = note
	ref.UpdatedAt = at
	return nil
}

func (m memReferrals) ListClaimable(_ context.Context, referrerID string) ([]*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	return m.filter(
		func(r *models.Referral) bool { return r.ReferrerID == referrerID && r.IsClaimable() },
		func(a, b *models.Referral) bool {
			switch {
			case a.EligibleAt == nil || b.EligibleAt == nil:
				return a.EligibleAt != nil && b.EligibleAt == nil
			case !a.EligibleAt.Equal(*b.EligibleAt):
				return a.EligibleAt.Before(*b.EligibleAt)
			case !a.CreatedAt.Equal(b.CreatedAt):
				return a.CreatedAt.Before(b.CreatedAt)
			default:
				return a.ID < b.ID
			}
		},
	), nil
}

func (m memReferrals) Transition(_ context.Context, id string, from []models.ReferralStatus, to models.ReferralStatus, note string, at time.Time) (*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	ref, ok := m.s.referrals[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	allowed := false
	for _, st := range from {
		if ref.Status == st {
			allowed = true
			break
		}
	}
	if !allowed || ref.PayoutID != nil {
		return nil, models.ErrInvalidTransition
	}

	switch to {
	case models.ReferralStatusEligible:
		ref.ProbationComplete = true
		ref.EligibleAt = ptr(at)
	case models.ReferralStatusActive:
		if !ref.Status.IsLive() && m.liveByEmail(ref.ReferredProEmail, ref.ID) != nil {
			return nil, models.ErrDuplicateReferral
		}
		ref.ProbationComplete = false
		ref.EligibleAt = nil
		ref.CancelledAt = nil
	case models.ReferralStatusCancelled, models.ReferralStatusFraud:
		ref.ProbationComplete = false
		ref.CancelledAt = ptr(at)
	default:
		return nil, models.ErrInvalidTransition
	}

	ref.Status = to
	ref.ReviewNote = note
	ref.UpdatedAt = at
	return copyReferral(ref), nil
}

func (m memReferrals) List(_ context.Context, filter models.ReferralFilter) ([]*models.Referral, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	out := m.filter(
		func(r *models.Referral) bool {
			return (filter.ReferrerID == "" || r.ReferrerID == filter.ReferrerID) &&
				(filter.Status == "" || r.Status == filter.Status)
		},
		func(a, b *models.Referral) bool { return a.CreatedAt.Before(b.CreatedAt) },
	)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Публикации

type memVerifications struct{ s *memoryStore }

func (m memVerifications) Create(_ context.Context, v *models.SocialVerification) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.verifications[v.ID] = copyVerification(v)
	return nil
}

func (m memVerifications) GetByID(_ context.Context, id string) (*models.SocialVerification, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	v, ok := m.s.verifications[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyVerification(v), nil
}

func (m memVerifications) ListByReferrer(_ context.Context, referrerID string) ([]*models.SocialVerification, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []*models.SocialVerification
	for _, v := range m.s.verifications {
		if v.ReferrerID == referrerID {
			out = append(out, copyVerification(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memVerifications) Review(_ context.Context, id string, status models.VerificationStatus, reviewer, note string, at time.Time) (*models.SocialVerification, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	v, ok := m.s.verifications[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if v.Status != models.VerificationStatusPending {
		return nil, models.ErrInvalidTransition
	}
	v.Status = status
	v.ReviewedBy = ptr(reviewer)
	v.ReviewedAt = ptr(at)
	v.ReviewNote = note
	return copyVerification(v), nil
}

func (m memVerifications) LatestApproved(_ context.Context, referrerID string) (*models.SocialVerification, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var latest *models.SocialVerification
	for _, v := range m.s.verifications {
		if v.ReferrerID != referrerID || v.Status != models.VerificationStatusApproved {
			continue
		}
		if latest == nil || (v.ReviewedAt != nil && latest.ReviewedAt != nil && v.ReviewedAt.After(*latest.ReviewedAt)) {
			latest = v
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return copyVerification(latest), nil
}

// Выплаты

type memPayouts struct{ s *memoryStore }

func (m memPayouts) CreateWithClaims(_ context.Context, p *models.Payout) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	// Сначала проверяем все рефералы, чтобы не оставить частично закрепленный набор
	for _, id := range p.ReferralIDs {
		ref, ok := m.s.referrals[id]
		if !ok || ref.ReferrerID != p.ReferrerID || !ref.IsClaimable() {
			return models.ErrReferralClaimed
		}
	}

	for _, id := range p.ReferralIDs {
		ref := m.s.referrals[id]
		ref.PayoutID = ptr(p.ID)
		ref.UpdatedAt = p.CreatedAt
	}

	m.s.payouts[p.ID] = copyPayout(p)
	return nil
}

func (m memPayouts) GetByID(_ context.Context, id string) (*models.Payout, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	p, ok := m.s.payouts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyPayout(p), nil
}

func (m memPayouts) ListByReferrer(ctx context.Context, referrerID string) ([]*models.Payout, error) {
	return m.List(ctx, models.PayoutFilter{ReferrerID: referrerID})
}

func (m memPayouts) List(_ context.Context, filter models.PayoutFilter) ([]*models.Payout, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []*models.Payout
	for _, p := range m.s.payouts {
		if (filter.ReferrerID == "" || p.ReferrerID == filter.ReferrerID) &&
			(filter.Status == "" || p.Status == filter.Status) {
			out = append(out, copyPayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// update применяет fn к выплате, если guard разрешает переход
func (m memPayouts) update(id string, guard func(*models.Payout) bool, fn func(*models.Payout)) (*models.Payout, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	p, ok := m.s.payouts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !guard(p) {
		return nil, models.ErrInvalidTransition
	}
	fn(p)
	return copyPayout(p), nil
}

func (m memPayouts) Approve(_ context.Context, id, approver, note string, at time.Time) (*models.Payout, error) {
	return m.update(id,
		func(p *models.Payout) bool { return p.Status == models.PayoutStatusPending },
		func(p *models.Payout) {
			p.Status = models.PayoutStatusApproved
			p.ApprovedBy = ptr(approver)
			p.ApprovedAt = ptr(at)
			p.ReviewedBy = ptr(approver)
			p.ReviewNote = note
			p.UpdatedAt = at
		})
}

func (m memPayouts) Release(_ context.Context, id string, from models.PayoutStatus, reviewer, note string, at time.Time) (*models.Payout, error) {
	return m.update(id,
		func(p *models.Payout) bool { return p.Status == from && p.TransferID == nil },
		func(p *models.Payout) {
			p.Status = models.PayoutStatusCancelled
			p.ReviewedBy = ptr(reviewer)
			p.ReviewNote = note
			p.CancelledAt = ptr(at)
			p.UpdatedAt = at

			for _, ref := range m.s.referrals {
				if ref.PayoutID != nil && *ref.PayoutID == id && ref.Status == models.ReferralStatusEligible {
					ref.PayoutID = nil
					ref.UpdatedAt = at
				}
			}
		})
}

func (m memPayouts) BeginExecution(_ context.Context, id string, at time.Time) (*models.Payout, error) {
	return m.update(id,
		func(p *models.Payout) bool { return p.Status == models.PayoutStatusApproved && p.TransferID == nil },
		func(p *models.Payout) {
			p.Status = models.PayoutStatusProcessing
			p.ProcessingAt = ptr(at)
			p.UpdatedAt = at
		})
}

func (m memPayouts) CompleteExecution(_ context.Context, id, transferID string, at time.Time) (*models.Payout, error) {
	return m.update(id,
		func(p *models.Payout) bool { return p.Status == models.PayoutStatusProcessing && p.TransferID == nil },
		func(p *models.Payout) {
			p.Status = models.PayoutStatusCompleted
			p.TransferID = ptr(transferID)
			p.CompletedAt = ptr(at)
			p.UpdatedAt = at

			for _, ref := range m.s.referrals {
				if ref.PayoutID != nil && *ref.PayoutID == id && ref.Status == models.ReferralStatusEligible {
					ref.Status = models.ReferralStatusPaid
					ref.PaidAt = ptr(at)
					ref.UpdatedAt = at
				}
			}
		})
}

func (m memPayouts) FailExecution(_ context.Context, id, code, reason string, at time.Time) (*models.Payout, error) {
	return m.update(id,
		func(p *models.Payout) bool { return p.Status == models.PayoutStatusProcessing },
		func(p *models.Payout) {
			p.Status = models.PayoutStatusFailed
			p.FailureCode = ptr(code)
			p.FailureReason = ptr(reason)
			p.RetryCount++
			p.FailedAt = ptr(at)
			p.UpdatedAt = at
		})
}

// Настройки

type memSettings struct{ s *memoryStore }

func (m memSettings) GetBool(_ context.Context, key string) (bool, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	v, ok := m.s.settings[key]
	return v, ok, nil
}

func (m memSettings) SetBool(_ context.Context, key string, value bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.settings[key] = value
	return nil
}
