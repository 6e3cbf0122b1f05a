package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CreditVault applies one allocation to a vault snapshot.
func CreditVault(v *Vault, amount decimal.Decimal, at time.Time) {
	v.Balance = v.Balance.Add(amount)
	v.TotalDistributed = v.TotalDistributed.Add(amount)
	v.UpdatedAt = at
}

// BuildLeaderboard ranks users by total payout over settled bets. Ties are
// broken by user id so the order is stable.
func BuildLeaderboard(bets []Bet, limit int) []LeaderboardEntry {
	byUser := make(map[string]*LeaderboardEntry)
	for _, b := range bets {
		if b.Status != BetSettled {
			continue
		}
		e, ok := byUser[b.UserID]
		if !ok {
			e = &LeaderboardEntry{UserID: b.UserID}
			byUser[b.UserID] = e
		}
		e.TotalPayout = e.TotalPayout.Add(b.Payout)
		e.TotalWager = e.TotalWager.Add(b.Wager)
		e.Bets++
	}

	out := make([]LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalPayout.Cmp(out[j].TotalPayout); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EmptyVaults returns a zero-balance snapshot for every vault type.
func EmptyVaults(at time.Time) map[VaultType]*Vault {
	out := make(map[VaultType]*Vault, len(VaultTypes))
	for _, t := range VaultTypes {
		out[t] = &Vault{Type: t, UpdatedAt: at}
	}
	return out
}
