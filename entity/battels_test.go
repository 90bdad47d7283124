package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBattels_Charge_split(t *testing.T) {
	testCases := []struct {
		Name   string
		Amount Money
		Term   Term
		WantMT Money
		WantHT Money
	}{
		{Name: "even both terms", Amount: 10000, Term: BothTerms, WantMT: 5000, WantHT: 5000},
		{Name: "odd both terms", Amount: 10001, Term: BothTerms, WantMT: 5000, WantHT: 5001},
		{Name: "michaelmas", Amount: 4500, Term: Michaelmas, WantMT: 4500},
		{Name: "hilary", Amount: 4500, Term: Hilary, WantHT: 4500},
		{Name: "one penny", Amount: 1, Term: BothTerms, WantMT: 0, WantHT: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			b := &Battels{}
			require.NoError(t, b.Charge(tc.Amount, tc.Term))
			assert.Equal(t, tc.WantMT, b.Michaelmas)
			assert.Equal(t, tc.WantHT, b.Hilary)
		})
	}
}

func TestBattels_Charge_invalid_term(t *testing.T) {
	b := &Battels{}

	err := b.Charge(100, Trinity)
	require.ErrorIs(t, err, ErrInvalidTerm)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Zero(t, b.Michaelmas)
	assert.Zero(t, b.Hilary)
}

func TestBattels_Refund_inverts_charge(t *testing.T) {
	for _, term := range []Term{Michaelmas, Hilary, BothTerms} {
		for _, amount := range []Money{0, 1, 2, 999, 10000, 10001, 123457} {
			b := &Battels{Michaelmas: 700, Hilary: 300}

			require.NoError(t, b.Charge(amount, term))
			require.NoError(t, b.Refund(amount, 0, term, Hilary))

			assert.Equal(t, Money(700), b.Michaelmas, "term %s amount %d", term, amount)
			assert.Equal(t, Money(300), b.Hilary, "term %s amount %d", term, amount)
		}
	}
}

func TestBattels_Refund_in_parts(t *testing.T) {
	testCases := []struct {
		Name  string
		Parts []Money
	}{
		{Name: "two odd tickets", Parts: []Money{7501, 7501}},
		{Name: "three odd tickets", Parts: []Money{4501, 4501, 4501}},
		{Name: "uneven parts", Parts: []Money{1, 9999, 3, 300}},
		{Name: "pennies", Parts: []Money{1, 1, 1, 1, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			var total Money
			for _, part := range tc.Parts {
				total += part
			}

			b := &Battels{}
			require.NoError(t, b.Charge(total, BothTerms))

			var refunded Money
			for _, part := range tc.Parts {
				require.NoError(t, b.Refund(part, refunded, BothTerms, Michaelmas))
				refunded += part

				assert.GreaterOrEqual(t, b.Michaelmas, Money(0))
				assert.GreaterOrEqual(t, b.Hilary, Money(0))
			}

			assert.Zero(t, b.Michaelmas)
			assert.Zero(t, b.Hilary)
		})
	}
}

func TestBattels_Refund_window(t *testing.T) {
	b := &Battels{Michaelmas: 5000, Hilary: 5000}

	for _, current := range []Term{Trinity, NoTerm} {
		err := b.Refund(10000, 0, BothTerms, current)
		require.ErrorIs(t, err, ErrRefundWindowClosed)
	}
	assert.Equal(t, Money(5000), b.Michaelmas)
	assert.Equal(t, Money(5000), b.Hilary)
}

func TestBattels_Refund_negative_balance(t *testing.T) {
	b := &Battels{Michaelmas: 100, Hilary: 5000}

	err := b.Refund(1000, 0, BothTerms, Michaelmas)
	require.ErrorIs(t, err, ErrNegativeBalance)
	assert.True(t, IsOperatorConcern(err))
	assert.Equal(t, Money(100), b.Michaelmas)
	assert.Equal(t, Money(5000), b.Hilary)
}
