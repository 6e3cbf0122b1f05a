// Package treasury routes house margin into the four vaults and owns the
// audited administrative withdrawal.
package treasury

import (
	"github.com/shopspring/decimal"

	"riskcrash/internal/ledger"
)

// Share is a vault's fixed percentage of a round's positive house margin.
type Share struct {
	Vault   ledger.VaultType
	Percent int64
}

// Shares must sum to 100. House is listed first and absorbs rounding.
var Shares = []Share{
	{Vault: ledger.VaultHouse, Percent: 40},
	{Vault: ledger.VaultYield, Percent: 35},
	{Vault: ledger.VaultGrowth, Percent: 15},
	{Vault: ledger.VaultBurn, Percent: 10},
}

var hundred = decimal.NewFromInt(100)

// Split divides a round's house profit across the vaults. Each non-house share
// is truncated to ledger.MoneyScale and the house vault receives the rest, so
// the allocations always sum exactly to profit. No allocations are produced
// for a non-positive profit.
func Split(roundNumber int64, profit decimal.Decimal) []ledger.VaultAllocation {
	if !profit.IsPositive() {
		return nil
	}

	allocs := make([]ledger.VaultAllocation, len(Shares))
	remaining := profit
	for i := len(Shares) - 1; i >= 0; i-- {
		s := Shares[i]
		amount := remaining
		if s.Vault != ledger.VaultHouse {
			amount = profit.Mul(decimal.NewFromInt(s.Percent)).Div(hundred).Truncate(ledger.MoneyScale)
			remaining = remaining.Sub(amount)
		}
		allocs[i] = ledger.VaultAllocation{RoundNumber: roundNumber, Vault: s.Vault, Amount: amount}
	}
	return allocs
}

// PercentOf returns the configured share for a vault.
func PercentOf(v ledger.VaultType) int64 {
	for _, s := range Shares {
		if s.Vault == v {
			return s.Percent
		}
	}
	return 0
}
