package models

import (
	"time"

	"commission-engine/pkg/money"
)

// Referral представляет атрибуцию одной платной подписки профессионала рефереру
type Referral struct {
	ID                    string         `json:"id" db:"id"`
	ReferrerID            string         `json:"referrer_id" db:"referrer_id"`
	ReferralCode          string         `json:"referral_code" db:"referral_code"`
	ReferredProID         string         `json:"referred_pro_id" db:"referred_pro_id"`
	ReferredProEmail      string         `json:"referred_pro_email" db:"referred_pro_email"` // всегда в нижнем регистре
	SubscriptionID        string         `json:"subscription_id" db:"subscription_id"`
	SubscriptionStartedAt time.Time      `json:"subscription_started_at" db:"subscription_started_at"`
	EligibleDate          time.Time      `json:"eligible_date" db:"eligible_date"`            // окончание испытательного срока
	ProbationComplete     bool           `json:"is_30_days_complete" db:"probation_complete"` // испытательный срок пройден
	CommissionRateBps     int64          `json:"commission_rate_bps" db:"commission_rate_bps"`
	BaseAmount            money.Cents    `json:"base_amount" db:"base_amount"`
	CommissionAmount      money.Cents    `json:"commission_amount" db:"commission_amount"`
	Currency              string         `json:"currency" db:"currency"`
	Country               string         `json:"country" db:"country"`
	Status                ReferralStatus `json:"status" db:"status"`
	PayoutID              *string        `json:"payout_id,omitempty" db:"payout_id"`
	SocialVerificationID  *string        `json:"social_verification_id,omitempty" db:"social_verification_id"`
	EligibleAt            *time.Time     `json:"eligible_at,omitempty" db:"eligible_at"`
	PaidAt                *time.Time     `json:"paid_at,omitempty" db:"paid_at"`
	CancelledAt           *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ReviewNote            string         `json:"review_note,omitempty" db:"review_note"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// ReferralStatus представляет статус реферала
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusActive    ReferralStatus = "active"
	ReferralStatusEligible  ReferralStatus = "eligible"
	ReferralStatusPaid      ReferralStatus = "paid"
	ReferralStatusCancelled ReferralStatus = "cancelled"
	ReferralStatusFraud     ReferralStatus = "fraud"
)

// IsValid проверяет валидность статуса реферала
func (rs ReferralStatus) IsValid() bool {
	switch rs {
	case ReferralStatusPending, ReferralStatusActive, ReferralStatusEligible,
		ReferralStatusPaid, ReferralStatusCancelled, ReferralStatusFraud:
		return true
	default:
		return false
	}
}

// IsLive сообщает, занимает ли реферал email приглашенного профессионала
func (rs ReferralStatus) IsLive() bool {
	return rs != ReferralStatusCancelled && rs != ReferralStatusFraud
}

// IsClaimable сообщает, можно ли включить реферал в новую выплату
func (r *Referral) IsClaimable() bool {
	return r.Status == ReferralStatusEligible && r.PayoutID == nil
}

// ReferralAction действие администратора над рефералом
type ReferralAction string

const (
	ReferralActionApprove   ReferralAction = "approve"
	ReferralActionCancel    ReferralAction = "cancel"
	ReferralActionFraud     ReferralAction = "fraud"
	ReferralActionReinstate ReferralAction = "reinstate"
)

// TrackRequest представляет событие атрибуции от процесса регистрации профессионала
type TrackRequest struct {
	ReferralCode       string      `json:"referral_code"`
	ProfessionalID     string      `json:"professional_id"`
	Email              string      `json:"email"`
	SubscriptionID     string      `json:"subscription_id"`
	SubscriptionAmount money.Cents `json:"amount"`
	Country            string      `json:"country"`
}

// TrackResult представляет результат атрибуции
type TrackResult struct {
	ReferralID       string      `json:"referral_id"`
	CommissionAmount money.Cents `json:"commission_amount"`
	EligibleDate     time.Time   `json:"eligible_date"`
}

// ReferralFilter задает выборку рефералов для выгрузки
type ReferralFilter struct {
	ReferrerID string
	Status     ReferralStatus
	Limit      int
}
