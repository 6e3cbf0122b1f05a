package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcrash/internal/ledger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openStore(t *testing.T, dir string) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	return s
}

func sampleRound(number int64, status ledger.RoundStatus) *ledger.Round {
	return &ledger.Round{
		Number:           number,
		Seed:             "seed-7762",
		PrevSeed:         "seed-2976",
		Digest:           "digest",
		Chain:            "chain",
		CrashMultiplier:  d("2.00"),
		Status:           status,
		BettingStartedAt: time.Now().UTC(),
	}
}

func TestBadgerStore_RoundsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	require.NoError(t, s.CreateRound(ctx, sampleRound(1, ledger.RoundSettled)))
	require.NoError(t, s.CreateRound(ctx, sampleRound(2, ledger.RoundRunning)))
	assert.ErrorIs(t, s.CreateRound(ctx, sampleRound(2, ledger.RoundRunning)), ledger.ErrDuplicate)
	require.NoError(t, s.InsertBet(ctx, &ledger.Bet{
		ID: "b1", UserID: "alice", RoundNumber: 2, Wager: d("10"), Status: ledger.BetPending,
	}))
	require.NoError(t, s.RecordCashout(ctx, ledger.Cashout{
		BetID: "b1", RoundNumber: 2, Multiplier: d("1.06"), Payout: d("10.6"), CashedOutAt: time.Now().UTC(),
	}))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()

	latest, err := s.LatestRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Number)
	assert.Equal(t, "seed-7762", latest.Seed)
	assert.Equal(t, "seed-2976", latest.PrevSeed)
	assert.True(t, d("2.00").Equal(latest.CrashMultiplier))

	cur, err := s.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Number)

	bets, err := s.RoundBets(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, "alice", bets[0].UserID)
	assert.Equal(t, ledger.BetCashedOut, bets[0].Status, "journaled cash-out survives reopen")
	assert.True(t, d("10.6").Equal(bets[0].Payout))

	settled, err := s.SettledRounds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, int64(1), settled[0].Number)
}

func TestBadgerStore_EmptyLedger(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()
	ctx := context.Background()

	_, err := s.LatestRound(ctx)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.GetRound(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 4)
	for _, v := range vaults {
		assert.True(t, v.Balance.IsZero())
	}
}

func TestBadgerStore_BetConstraints(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateRound(ctx, sampleRound(1, ledger.RoundBetting)))
	bet := &ledger.Bet{ID: "b1", UserID: "alice", RoundNumber: 1, Wager: d("1"), Status: ledger.BetPending}
	require.NoError(t, s.InsertBet(ctx, bet))

	assert.ErrorIs(t, s.InsertBet(ctx, bet), ledger.ErrDuplicate)
	second := *bet
	second.ID = "b2"
	assert.ErrorIs(t, s.InsertBet(ctx, &second), ledger.ErrDuplicate, "one bet per user per round")
	orphan := *bet
	orphan.ID, orphan.RoundNumber = "b3", 9
	assert.ErrorIs(t, s.InsertBet(ctx, &orphan), ledger.ErrNotFound)

	missing := *bet
	missing.ID = "nope"
	assert.ErrorIs(t, s.UpdateBet(ctx, &missing), ledger.ErrNotFound)
	assert.ErrorIs(t, s.RecordCashout(ctx, ledger.Cashout{BetID: "nope", RoundNumber: 1}), ledger.ErrNotFound)
}

func TestBadgerStore_SettleRoundCreditsOnce(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()
	ctx := context.Background()

	r := sampleRound(1, ledger.RoundRunning)
	require.NoError(t, s.CreateRound(ctx, r))

	r.Status = ledger.RoundSettled
	r.TotalWagers, r.HouseProfitLoss = d("15"), d("15")
	st := ledger.Settlement{
		Round: *r,
		Bets: []ledger.Bet{{
			ID: "b1", UserID: "alice", RoundNumber: 1, Wager: d("15"),
			Status: ledger.BetSettled, Outcome: ledger.BetCrashed,
		}},
		Allocations: []ledger.VaultAllocation{
			{RoundNumber: 1, Vault: ledger.VaultHouse, Amount: d("6")},
			{RoundNumber: 1, Vault: ledger.VaultYield, Amount: d("5.25")},
			{RoundNumber: 1, Vault: ledger.VaultGrowth, Amount: d("2.25")},
			{RoundNumber: 1, Vault: ledger.VaultBurn, Amount: d("1.5")},
		},
	}
	require.NoError(t, s.SettleRound(ctx, st))
	require.NoError(t, s.SettleRound(ctx, st))

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	want := []string{"6", "5.25", "2.25", "1.5"}
	for i, v := range vaults {
		assert.Equal(t, ledger.VaultTypes[i], v.Type)
		assert.True(t, d(want[i]).Equal(v.Balance), "%s: %s", v.Type, v.Balance)
		assert.True(t, d(want[i]).Equal(v.TotalDistributed))
	}

	allocs, err := s.Allocations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, allocs, 4)

	board, err := s.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.True(t, board[0].TotalPayout.IsZero())
	assert.Equal(t, 1, board[0].Bets)
}

func TestBadgerStore_Withdraw(t *testing.T) {
	s := openStore(t, "")
	defer s.Close()
	ctx := context.Background()

	r := sampleRound(1, ledger.RoundSettled)
	require.NoError(t, s.CreateRound(ctx, r))
	require.NoError(t, s.SettleRound(ctx, ledger.Settlement{
		Round:       *r,
		Allocations: []ledger.VaultAllocation{{RoundNumber: 1, Vault: ledger.VaultBurn, Amount: d("4")}},
	}))

	base := time.Now().UTC()
	for i, amt := range []string{"1", "2"} {
		v, err := s.Withdraw(ctx, ledger.Withdrawal{
			ID: string(rune('a' + i)), Vault: ledger.VaultBurn, Amount: d(amt),
			Destination: "burn-address", Operator: "ops", Reason: "scheduled burn",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.False(t, v.Balance.IsNegative())
	}

	_, err := s.Withdraw(ctx, ledger.Withdrawal{ID: "c", Vault: ledger.VaultBurn, Amount: d("1.5"), CreatedAt: base})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	audit, err := s.Withdrawals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "b", audit[0].ID, "newest first")

	latest, err := s.Withdrawals(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}
