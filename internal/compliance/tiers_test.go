package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateFor(t *testing.T) {
	table := NewStaticTable()

	tests := []struct {
		country string
		tier    Tier
		rate    int64
	}{
		{country: "US", tier: Tier1, rate: 2000},
		{country: "de", tier: Tier1, rate: 2000},
		{country: " JP ", tier: Tier2, rate: 1500},
		{country: "BR", tier: TierDefault, rate: 1000},
		{country: "", tier: TierDefault, rate: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			tier, rate := table.RateFor(tt.country)
			assert.Equal(t, tt.tier, tier)
			assert.Equal(t, tt.rate, rate)
		})
	}
}

func TestCurrencyFor(t *testing.T) {
	assert.Equal(t, "USD", CurrencyFor("US"))
	assert.Equal(t, "GBP", CurrencyFor("gb"))
	assert.Equal(t, "EUR", CurrencyFor("FR"))
	assert.Equal(t, "USD", CurrencyFor("BR"))
}
