package model

import (
	"github.com/shopspring/decimal"

	"freelance-escrow/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount (e.g. dollars) to integer cents,
// rounding half away from zero. This is the only place amounts cross the
// major/minor boundary on the way in.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents back to a two-place decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FeeSplit is the platform/freelancer division of one payment.
type FeeSplit struct {
	AmountCents           int64
	PlatformFeeCents      int64
	FreelancerAmountCents int64
}

// SplitFee derives fee and net from a single integer amount, so
// PlatformFeeCents+FreelancerAmountCents == AmountCents always holds.
func SplitFee(amountCents int64, feeRate decimal.Decimal) (FeeSplit, error) {
	if amountCents <= 0 {
		return FeeSplit{}, domain.ErrInvalidArgument
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeSplit{}, domain.ErrInvalidArgument
	}
	fee := decimal.NewFromInt(amountCents).Mul(feeRate).Round(0).IntPart()
	return FeeSplit{
		AmountCents:           amountCents,
		PlatformFeeCents:      fee,
		FreelancerAmountCents: amountCents - fee,
	}, nil
}
