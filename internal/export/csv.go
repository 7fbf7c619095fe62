// Package export выгружает рефералы и выплаты в CSV для бухгалтерии
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"commission-engine/pkg/models"
)

var referralHeader = []string{
	"id", "referrer_id", "referral_code", "referred_pro_email", "subscription_id",
	"status", "base_amount", "commission_rate_bps", "commission_amount", "currency", "country",
	"eligible_date", "eligible_at", "paid_at", "cancelled_at", "payout_id", "created_at",
}

var payoutHeader = []string{
	"id", "referrer_id", "status", "method", "requested_amount", "platform_fee", "processing_fee",
	"net_amount", "currency", "transfer_id", "referral_count", "failure_code", "retry_count",
	"approved_by", "created_at", "completed_at",
}

// WriteReferrals пишет рефералы в CSV с заголовком. Суммы в основных единицах валюты.
func WriteReferrals(w io.Writer, referrals []*models.Referral) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(referralHeader); err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}

	for _, r := range referrals {
		record := []string{
			r.ID,
			r.ReferrerID,
			r.ReferralCode,
			r.ReferredProEmail,
			r.SubscriptionID,
			string(r.Status),
			r.BaseAmount.String(),
			strconv.FormatInt(r.CommissionRateBps, 10),
			r.CommissionAmount.String(),
			r.Currency,
			r.Country,
			formatTime(&r.EligibleDate),
			formatTime(r.EligibleAt),
			formatTime(r.PaidAt),
			formatTime(r.CancelledAt),
			deref(r.PayoutID),
			formatTime(&r.CreatedAt),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ошибка записи реферала %s: %w", r.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WritePayouts пишет выплаты в CSV с заголовком
func WritePayouts(w io.Writer, payouts []*models.Payout) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(payoutHeader); err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}

	for _, p := range payouts {
		record := []string{
			p.ID,
			p.ReferrerID,
			string(p.Status),
			string(p.Method),
			p.RequestedAmount.String(),
			p.PlatformFee.String(),
			p.ProcessingFee.String(),
			p.NetAmount.String(),
			p.Currency,
			deref(p.TransferID),
			strconv.Itoa(len(p.ReferralIDs)),
			deref(p.FailureCode),
			strconv.Itoa(p.RetryCount),
			deref(p.ApprovedBy),
			formatTime(&p.CreatedAt),
			formatTime(p.CompletedAt),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ошибка записи выплаты %s: %w", p.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
