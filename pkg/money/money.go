package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents представляет денежную сумму в минимальных единицах валюты (центах)
type Cents int64

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Parse разбирает сумму в основных единицах ("19.75") в центы.
// Больше двух знаков после запятой не допускается.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("пустая сумма")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("некорректная сумма %q: %w", s, err)
	}

	return FromDecimal(d)
}

// FromDecimal переводит сумму в основных единицах в центы
func FromDecimal(d decimal.Decimal) (Cents, error) {
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("сумма %s содержит больше двух знаков после запятой", d.String())
	}

	m := d.Mul(hundred)
	if m.GreaterThan(maxCents) || m.LessThan(minCents) {
		return 0, fmt.Errorf("сумма %s вне допустимого диапазона", d.String())
	}
	return Cents(m.IntPart()), nil
}

// FromMajor возвращает сумму из целого числа основных единиц
func FromMajor(units int64) Cents {
	return Cents(units * 100)
}

// Decimal возвращает сумму в основных единицах
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String форматирует сумму с двумя знаками после запятой
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MulBps умножает сумму на ставку в базисных пунктах (1 bp = 0.01%)
// с округлением до цента по правилу half away from zero.
func (c Cents) MulBps(bps int64) Cents {
	v := decimal.NewFromInt(int64(c)).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	return Cents(v.IntPart())
}

// Min возвращает меньшую из сумм
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Max возвращает большую из сумм
func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON сериализует сумму строкой "20.00", чтобы не терять точность у клиентов
func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON принимает как строку "20.00", так и число 20.00
func (c *Cents) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*c = 0
		return nil
	}

	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
