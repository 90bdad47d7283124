package entity

import (
	"github.com/shopspring/decimal"
)

// Money is an amount in pence. The engine never uses floating point for money.
type Money int64

const Currency = "GBP"

func (m Money) IsNegative() bool {
	return m < 0
}

// Half splits m into a floor half and the remainder, so Half(a)+rest == a.
func (m Money) Half() (half Money, rest Money) {
	half = m / 2
	return half, m - half
}

// PercentOff reduces m by pct percent, truncating towards zero.
func (m Money) PercentOff(pct int64) Money {
	return m * Money(100-pct) / 100
}

// Decimal renders m in major units. Presentation only.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

type MoneyView struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) View() MoneyView {
	return MoneyView{Amount: m.String(), Currency: Currency}
}
