package domain

import "github.com/shopspring/decimal"

// RoundingQuantumMinutes is the unit all logged time is rounded up to.
const RoundingQuantumMinutes = 15

// RoundMinutes rounds raw up to the next multiple of the quantum.
func RoundMinutes(raw int) (int, error) {
	if raw < 0 {
		return 0, ErrInvalidMinutes
	}
	return (raw + RoundingQuantumMinutes - 1) / RoundingQuantumMinutes * RoundingQuantumMinutes, nil
}

// Amount prices rounded minutes at an hourly rate, to cents.
func Amount(roundedMinutes int, hourlyRate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(roundedMinutes)).
		Mul(hourlyRate).
		Div(decimal.NewFromInt(60)).
		Round(2)
}
