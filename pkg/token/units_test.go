package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	wei := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		return v
	}

	tests := []struct {
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(0), 18, "0"},
		{wei("1000000000000000000"), 18, "1"},
		{wei("1500000000000000000"), 18, "1.5"},
		{wei("1"), 18, "0.000000000000000001"},
		{wei("123456789"), 6, "123.456789"},
		{wei("1000000"), 6, "1"},
		{big.NewInt(42), 0, "42"},
		{wei("-2500000000000000000"), 18, "-2.5"},
		// Large supply: no float drift at any magnitude.
		{wei("100000000000000000000000000000"), 18, "100000000000"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatUnits(tc.amount, tc.decimals), "amount=%s dec=%d", tc.amount, tc.decimals)
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{"123.456789", 6, "123456789"},
		{"42", 0, "42"},
		{"-2.5", 18, "-2500000000000000000"},
		{".5", 18, "500000000000000000"},
	}
	for _, tc := range tests {
		got, err := ParseUnits(tc.value, tc.decimals)
		require.NoError(t, err, "value=%q", tc.value)
		assert.Equal(t, tc.want, got.String(), "value=%q", tc.value)
	}
}

func TestParseUnitsRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		value    string
		decimals uint8
	}{
		{"", 18},
		{"abc", 18},
		{"1.2.3", 18},
		{"0.0000001", 6}, // more fractional digits than the token carries
	} {
		_, err := ParseUnits(tc.value, tc.decimals)
		assert.Error(t, err, "value=%q", tc.value)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, v := range []string{"0.1", "1234.000001", "999999999.999999999"} {
		parsed, err := ParseUnits(v, 9)
		require.NoError(t, err)
		assert.Equal(t, v, FormatUnits(parsed, 9))
	}
}
