package models

import (
	"time"

	"commission-engine/pkg/money"
)

// Referrer представляет участника программы, получающего комиссию за приглашения
type Referrer struct {
	ID                string        `json:"id" db:"id"`
	Email             string        `json:"email" db:"email"` // уникальный, в нижнем регистре
	Name              string        `json:"name" db:"name"`
	Country           string        `json:"country" db:"country"`
	Currency          string        `json:"currency" db:"currency"`
	ReferralCode      string        `json:"referral_code" db:"referral_code"`
	Status            AccountStatus `json:"status" db:"status"`
	CommissionTier    string        `json:"commission_tier" db:"commission_tier"`
	CommissionRateBps int64         `json:"commission_rate_bps" db:"commission_rate_bps"`
	SocialVerified    bool          `json:"social_verified" db:"social_verified"`
	SocialVerifiedAt  *time.Time    `json:"social_verified_at,omitempty" db:"social_verified_at"`
	PayoutMethod      *PayoutMethod `json:"payout_method,omitempty" db:"payout_method"`
	PayoutAccountID   *string       `json:"payout_account_id,omitempty" db:"payout_account_id"` // ссылка на счет во внешней платежной системе
	Stats             ReferrerStats `json:"stats"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// AccountStatus представляет статус аккаунта реферера
type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusBanned    AccountStatus = "banned"
)

// ReferrerStats представляет агрегаты по рефералам и выплатам реферера.
// Всегда пересчитываются из журнала, AvailableBalance = TotalEarned - TotalPaid.
type ReferrerStats struct {
	TotalEarned        money.Cents `json:"total_earned" db:"total_earned"`
	TotalPaid          money.Cents `json:"total_paid" db:"total_paid"`
	PendingBalance     money.Cents `json:"pending_balance" db:"pending_balance"`     // комиссии на испытательном сроке
	AvailableBalance   money.Cents `json:"available_balance" db:"available_balance"` // заработано, но не выплачено
	ReservedBalance    money.Cents `json:"reserved_balance" db:"reserved_balance"`   // в составе открытых выплат
	TotalReferrals     int         `json:"total_referrals" db:"total_referrals"`
	ActiveReferrals    int         `json:"active_referrals" db:"active_referrals"`
	EligibleReferrals  int         `json:"eligible_referrals" db:"eligible_referrals"`
	PaidReferrals      int         `json:"paid_referrals" db:"paid_referrals"`
	CancelledReferrals int         `json:"cancelled_referrals" db:"cancelled_referrals"`
	FraudReferrals     int         `json:"fraud_referrals" db:"fraud_referrals"`
}

// WithdrawableBalance возвращает сумму, которую можно запросить к выплате
func (s ReferrerStats) WithdrawableBalance() money.Cents {
	return s.AvailableBalance - s.ReservedBalance
}

// RegisterRequest представляет запрос на регистрацию реферера
type RegisterRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// RegisterResult представляет результат регистрации
type RegisterResult struct {
	ReferrerID   string `json:"referrer_id"`
	ReferralCode string `json:"referral_code"`
	ReferralURL  string `json:"referral_url"`
	Token        string `json:"token,omitempty"`
}

// Dashboard представляет сводку реферера
type Dashboard struct {
	Referrer      *Referrer             `json:"referrer"`
	Stats         ReferrerStats         `json:"stats"`
	Referrals     []*Referral           `json:"referrals"`
	Payouts       []*Payout             `json:"payouts"`
	Verifications []*SocialVerification `json:"social_verifications"`
}
