// Package commission содержит чистые функции расчета комиссий рефереров и сборов за выплату.
// Все вычисления ведутся в центах, перевод в основные единицы только на границе.
package commission

import (
	"fmt"
	"strings"

	"commission-engine/pkg/models"
	"commission-engine/pkg/money"
)

// Commission возвращает round2(amount × rate), где rate задан в базисных пунктах
func Commission(amount money.Cents, rateBps int64) money.Cents {
	if amount <= 0 || rateBps <= 0 {
		return 0
	}
	return amount.MulBps(rateBps)
}

// CountryTier группа страны для правил сборов
type CountryTier string

const (
	TierDomestic      CountryTier = "domestic"
	TierInternational CountryTier = "international"
	tierAny           CountryTier = "*"
)

// FeeRule правило расчета сбора платежной системы
type FeeRule interface {
	Fee(amount money.Cents) money.Cents
}

// PercentCapped процент от суммы, ограниченный снизу и сверху: max(Min, min(Max, amount × pct))
type PercentCapped struct {
	Bps int64
	Min money.Cents
	Max money.Cents
}

func (r PercentCapped) Fee(amount money.Cents) money.Cents {
	fee := amount.MulBps(r.Bps)
	if r.Max > 0 {
		fee = money.Min(r.Max, fee)
	}
	return money.Max(r.Min, fee)
}

// FlatPercent фиксированный процент без ограничений, 0 для бесплатных направлений
type FlatPercent struct {
	Bps int64
}

func (r FlatPercent) Fee(amount money.Cents) money.Cents {
	return amount.MulBps(r.Bps)
}

type feeKey struct {
	method models.PayoutMethod
	tier   CountryTier
}

// FeeTable таблица правил сборов по ключу (способ выплаты, группа страны)
type FeeTable struct {
	rules           map[feeKey]FeeRule
	platformFeeBps  int64
	domesticCountry string
}

// NewFeeTable создает пустую таблицу сборов
func NewFeeTable(platformFeeBps int64, domesticCountry string) *FeeTable {
	return &FeeTable{
		rules:           make(map[feeKey]FeeRule),
		platformFeeBps:  platformFeeBps,
		domesticCountry: strings.ToUpper(domesticCountry),
	}
}

// DefaultFeeTable возвращает таблицу со сборами Stripe и PayPal
func DefaultFeeTable(platformFeeBps int64, domesticCountry string) *FeeTable {
	t := NewFeeTable(platformFeeBps, domesticCountry)
	// Stripe: 0.25%, минимум $0.25, максимум $2.00 для любой страны
	t.Register(models.PayoutMethodStripe, tierAny, PercentCapped{Bps: 25, Min: 25, Max: 200})
	// PayPal: бесплатно внутри страны, 2% для международных переводов
	t.Register(models.PayoutMethodPayPal, TierDomestic, FlatPercent{Bps: 0})
	t.Register(models.PayoutMethodPayPal, TierInternational, FlatPercent{Bps: 200})
	return t
}

// Register добавляет правило. tier "*" применяется, если нет точного совпадения.
func (t *FeeTable) Register(method models.PayoutMethod, tier CountryTier, rule FeeRule) {
	t.rules[feeKey{method: method, tier: tier}] = rule
}

// TierFor определяет группу страны относительно страны платформы
func (t *FeeTable) TierFor(country string) CountryTier {
	if strings.EqualFold(country, t.domesticCountry) {
		return TierDomestic
	}
	return TierInternational
}

func (t *FeeTable) rule(method models.PayoutMethod, tier CountryTier) (FeeRule, bool) {
	if r, ok := t.rules[feeKey{method: method, tier: tier}]; ok {
		return r, true
	}
	r, ok := t.rules[feeKey{method: method, tier: tierAny}]
	return r, ok
}

// Quote разложение суммы выплаты на сборы и сумму к перечислению
type Quote struct {
	Gross         money.Cents
	PlatformFee   money.Cents
	ProcessingFee money.Cents
	Net           money.Cents
}

// PayoutFees рассчитывает сборы платформы и платежной системы.
// Net = Gross - PlatformFee - ProcessingFee и никогда не бывает отрицательным.
func (t *FeeTable) PayoutFees(amount money.Cents, method models.PayoutMethod, country string) (Quote, error) {
	if amount <= 0 {
		return Quote{}, models.ErrInvalidInput.WithMessage("сумма выплаты должна быть больше нуля")
	}

	rule, ok := t.rule(method, t.TierFor(country))
	if !ok {
		return Quote{}, models.ErrUnsupportedMethod.WithMessage(fmt.Sprintf("нет тарифа для способа выплаты %q", method))
	}

	q := Quote{
		Gross:         amount,
		PlatformFee:   amount.MulBps(t.platformFeeBps),
		ProcessingFee: rule.Fee(amount),
	}
	q.Net = q.Gross - q.PlatformFee - q.ProcessingFee

	if q.Net < 0 {
		return Quote{}, models.ErrFeesExceedAmount.WithMessage(
			fmt.Sprintf("сборы %s превышают сумму выплаты %s", (q.PlatformFee + q.ProcessingFee).String(), amount.String()))
	}

	return q, nil
}
