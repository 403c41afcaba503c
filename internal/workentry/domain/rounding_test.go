package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundMinutes(t *testing.T) {
	cases := map[int]int{
		0:  0,
		1:  15,
		15: 15,
		16: 30,
		45: 45,
		46: 60,
		47: 60,
		90: 90,
	}
	for raw, want := range cases {
		got, err := RoundMinutes(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw=%d", raw)
	}

	_, err := RoundMinutes(-1)
	assert.ErrorIs(t, err, ErrInvalidMinutes)
}

func TestAmount(t *testing.T) {
	assert.Equal(t, "80.00", Amount(60, decimal.NewFromInt(80)).StringFixed(2))
	assert.Equal(t, "20.00", Amount(15, decimal.NewFromInt(80)).StringFixed(2))
	assert.Equal(t, "31.13", Amount(45, decimal.RequireFromString("41.50")).StringFixed(2))
}

func TestInsufficientVolumeErrorMessage(t *testing.T) {
	err := &InsufficientVolumeError{Available: 10, Required: 30}
	assert.Equal(t, "insufficient_volume: available 10, required 30", err.Error())
}
