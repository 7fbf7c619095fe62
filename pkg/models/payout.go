package models

import (
	"time"

	"commission-engine/pkg/money"
)

// Payout представляет запрос на вывод доступного баланса реферера
type Payout struct {
	ID                   string       `json:"id" db:"id"`
	ReferrerID           string       `json:"referrer_id" db:"referrer_id"`
	RequestedAmount      money.Cents  `json:"requested_amount" db:"requested_amount"`
	Currency             string       `json:"currency" db:"currency"`
	PlatformFee          money.Cents  `json:"platform_fee" db:"platform_fee"`
	ProcessingFee        money.Cents  `json:"processing_fee" db:"processing_fee"`
	NetAmount            money.Cents  `json:"net_amount" db:"net_amount"`
	Method               PayoutMethod `json:"method" db:"method"`
	TransferID           *string      `json:"transfer_id,omitempty" db:"transfer_id"` // после установки не меняется
	ReferralIDs          []string     `json:"referral_ids" db:"-"`
	Status               PayoutStatus `json:"status" db:"status"`
	SocialProofURL       string       `json:"social_proof_url" db:"social_proof_url"`
	SocialVerificationID *string      `json:"social_verification_id,omitempty" db:"social_verification_id"`
	ApprovedBy           *string      `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt           *time.Time   `json:"approved_at,omitempty" db:"approved_at"`
	ReviewedBy           *string      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNote           string       `json:"review_note,omitempty" db:"review_note"`
	FailureCode          *string      `json:"failure_code,omitempty" db:"failure_code"`
	FailureReason        *string      `json:"failure_reason,omitempty" db:"failure_reason"`
	RetryCount           int          `json:"retry_count" db:"retry_count"`
	ProcessingAt         *time.Time   `json:"processing_at,omitempty" db:"processing_at"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt             *time.Time   `json:"failed_at,omitempty" db:"failed_at"`
	CancelledAt          *time.Time   `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
}

// PayoutStatus представляет статус выплаты
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// IsOpen сообщает, удерживает ли выплата свои рефералы
func (s PayoutStatus) IsOpen() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusApproved, PayoutStatusProcessing, PayoutStatusFailed:
		return true
	default:
		return false
	}
}

// ExecutionStarted сообщает, была ли уже попытка перевода по выплате
func (p *Payout) ExecutionStarted() bool {
	if p.TransferID != nil {
		return true
	}
	switch p.Status {
	case PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusFailed:
		return true
	default:
		return false
	}
}

// PayoutMethod представляет платежную систему для вывода средств
type PayoutMethod string

const (
	PayoutMethodStripe PayoutMethod = "stripe"
	PayoutMethodPayPal PayoutMethod = "paypal"
)

// IsValid проверяет поддержку способа выплаты
func (m PayoutMethod) IsValid() bool {
	return m == PayoutMethodStripe || m == PayoutMethodPayPal
}

// PayoutAction действие администратора над выплатой
type PayoutAction string

const (
	PayoutActionApprove PayoutAction = "approve"
	PayoutActionReject  PayoutAction = "reject"
	PayoutActionCancel  PayoutAction = "cancel"
)

// Коды причин неуспешного перевода, которые выставляет сам движок
const (
	FailureCodeUnknownOutcome = "unknown_outcome"
	FailureCodeRailError      = "rail_error"
)

// PayoutRequest представляет запрос реферера на выплату
type PayoutRequest struct {
	Amount         money.Cents  `json:"amount"`
	Method         PayoutMethod `json:"method"`
	SocialProofURL string       `json:"social_proof_url"`
}

// PayoutFilter задает выборку выплат
type PayoutFilter struct {
	ReferrerID string
	Status     PayoutStatus
	Limit      int
}

// ReviewRequest представляет решение администратора
type ReviewRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}
