package model

import "github.com/shopspring/decimal"

// DefaultCurrency is the single ledger currency.
const DefaultCurrency = "INR"

// MajorUnits converts an amount in minor units (paise) to major units.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatAmount renders minor units as e.g. "INR 500.00".
func FormatAmount(minor int64, currency string) string {
	return currency + " " + MajorUnits(minor).StringFixed(2)
}
