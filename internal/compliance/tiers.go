// Package compliance определяет ставку комиссии реферера по стране регистрации
package compliance

import "strings"

// Tier уровень комиссии
type Tier string

const (
	Tier1       Tier = "tier1"
	Tier2       Tier = "tier2"
	TierDefault Tier = "standard"
)

// Lookup возвращает уровень и ставку комиссии (в базисных пунктах) для страны
type Lookup interface {
	RateFor(country string) (Tier, int64)
}

// StaticTable табличная реализация Lookup
type StaticTable struct {
	countries map[string]Tier
	rates     map[Tier]int64
}

// NewStaticTable создает таблицу с уровнями программы по умолчанию
func NewStaticTable() *StaticTable {
	t := &StaticTable{
		countries: make(map[string]Tier),
		rates: map[Tier]int64{
			Tier1:       2000,
			Tier2:       1500,
			TierDefault: 1000,
		},
	}

	for _, c := range []string{"US", "CA", "GB", "AU", "NZ", "IE", "DE", "FR", "NL", "SE", "NO", "DK", "FI", "CH", "AT", "BE"} {
		t.countries[c] = Tier1
	}
	for _, c := range []string{"ES", "IT", "PT", "PL", "CZ", "JP", "KR", "SG", "AE", "IL"} {
		t.countries[c] = Tier2
	}

	return t
}

// RateFor возвращает уровень страны; неизвестные страны получают стандартную ставку
func (t *StaticTable) RateFor(country string) (Tier, int64) {
	tier, ok := t.countries[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		tier = TierDefault
	}
	return tier, t.rates[tier]
}

// CurrencyFor возвращает валюту выплат для страны
func CurrencyFor(country string) string {
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "GB":
		return "GBP"
	case "CA":
		return "CAD"
	case "AU":
		return "AUD"
	case "DE", "FR", "NL", "IE", "FI", "AT", "BE", "ES", "IT", "PT":
		return "EUR"
	default:
		return "USD"
	}
}
