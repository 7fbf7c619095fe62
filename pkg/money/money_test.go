package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Cents
		wantErr bool
	}{
		{name: "целое", in: "100", want: 10000},
		{name: "два знака", in: "19.75", want: 1975},
		{name: "один знак", in: "0.5", want: 50},
		{name: "пробелы", in: " 20.00 ", want: 2000},
		{name: "три значащих знака", in: "1.005", wantErr: true},
		{name: "нули после запятой допустимы", in: "1.500", want: 150},
		{name: "мусор", in: "abc", wantErr: true},
		{name: "пусто", in: "", wantErr: true},
		{name: "верхняя граница", in: "92233720368547758.07", want: Cents(math.MaxInt64)},
		{name: "переполнение", in: "92233720368547758.08", wantErr: true},
		{name: "большое число", in: "100000000000000000000", wantErr: true},
		{name: "большое отрицательное", in: "-92233720368547758.09", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "20.00", Cents(2000).String())
	assert.Equal(t, "0.25", Cents(25).String())
	assert.Equal(t, "19.75", Cents(1975).String())
	assert.Equal(t, "0.00", Cents(0).String())
}

func TestMulBps(t *testing.T) {
	assert.Equal(t, Cents(2000), FromMajor(100).MulBps(2000))
	// 20.00 * 0.25% = 0.05
	assert.Equal(t, Cents(5), Cents(2000).MulBps(25))
	// 0.10 * 15% = 0.015 -> 0.02
	assert.Equal(t, Cents(2), Cents(10).MulBps(1500))
	// 0.03 * 15% = 0.0045 -> 0.00
	assert.Equal(t, Cents(0), Cents(3).MulBps(1500))
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Cents `json:"amount"`
	}{Amount: 1975})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"19.75"}`, string(data))

	var in struct {
		A Cents `json:"a"`
		B Cents `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"20.00","b":12.5}`), &in))
	assert.Equal(t, Cents(2000), in.A)
	assert.Equal(t, Cents(1250), in.B)
}

func TestJSONOutOfRange(t *testing.T) {
	var in struct {
		A Cents `json:"a"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"a":1e20}`), &in))
	assert.Error(t, json.Unmarshal([]byte(`{"a":"92233720368547758.08"}`), &in))
	assert.Equal(t, Cents(0), in.A)
}
