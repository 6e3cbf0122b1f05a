package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemoryStore_RoundLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CurrentRound(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	r := &Round{Number: 1, Status: RoundBetting, BettingStartedAt: time.Now()}
	require.NoError(t, s.CreateRound(ctx, r))
	assert.ErrorIs(t, s.CreateRound(ctx, r), ErrDuplicate)

	cur, err := s.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Number)

	r.Status = RoundSettled
	require.NoError(t, s.UpdateRound(ctx, r))

	_, err = s.CurrentRound(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := s.LatestRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoundSettled, latest.Status)
}

func TestMemoryStore_SettleRoundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateRound(ctx, &Round{Number: 3, Status: RoundCrashed}))

	st := Settlement{
		Round: Round{Number: 3, Status: RoundSettled},
		Allocations: []VaultAllocation{
			{RoundNumber: 3, Vault: VaultHouse, Amount: d("4")},
			{RoundNumber: 3, Vault: VaultYield, Amount: d("3.5")},
			{RoundNumber: 3, Vault: VaultGrowth, Amount: d("1.5")},
			{RoundNumber: 3, Vault: VaultBurn, Amount: d("1")},
		},
	}
	require.NoError(t, s.SettleRound(ctx, st))
	require.NoError(t, s.SettleRound(ctx, st))

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 4)
	assert.True(t, vaults[0].Balance.Equal(d("4")), "house credited once, got %s", vaults[0].Balance)
	assert.True(t, vaults[1].TotalDistributed.Equal(d("3.5")))

	allocs, err := s.Allocations(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, allocs, 4)
}

func TestMemoryStore_Withdraw(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateRound(ctx, &Round{Number: 1}))
	require.NoError(t, s.SettleRound(ctx, Settlement{
		Round:       Round{Number: 1, Status: RoundSettled},
		Allocations: []VaultAllocation{{RoundNumber: 1, Vault: VaultHouse, Amount: d("10")}},
	}))

	_, err := s.Withdraw(ctx, Withdrawal{ID: "w1", Vault: VaultHouse, Amount: d("11")})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	v, err := s.Withdraw(ctx, Withdrawal{ID: "w2", Vault: VaultHouse, Amount: d("2.5"), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(d("7.5")))
	assert.True(t, v.TotalDistributed.Equal(d("10")), "withdrawals never touch the distributed counter")

	ws, err := s.Withdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "w2", ws[0].ID)
}

func TestBuildLeaderboard(t *testing.T) {
	bets := []Bet{
		{UserID: "alice", Status: BetSettled, Wager: d("10"), Payout: d("25")},
		{UserID: "bob", Status: BetSettled, Wager: d("5"), Payout: d("0")},
		{UserID: "alice", Status: BetSettled, Wager: d("10"), Payout: d("0")},
		{UserID: "carol", Status: BetSettled, Wager: d("1"), Payout: d("30")},
		{UserID: "dave", Status: BetPending, Wager: d("100")},
	}

	board := BuildLeaderboard(bets, 2)

	require.Len(t, board, 2)
	assert.Equal(t, "carol", board[0].UserID)
	assert.Equal(t, "alice", board[1].UserID)
	assert.Equal(t, 2, board[1].Bets)
	assert.True(t, board[1].TotalWager.Equal(d("20")))
}

func TestMemoryStore_RoundBetsApplyJournaledCashout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateRound(ctx, &Round{Number: 1, Status: RoundRunning}))
	require.NoError(t, s.InsertBet(ctx, &Bet{ID: "a", UserID: "alice", RoundNumber: 1, Wager: d("10"), Status: BetPending}))
	require.NoError(t, s.InsertBet(ctx, &Bet{ID: "b", UserID: "bob", RoundNumber: 1, Wager: d("5"), Status: BetPending}))

	at := time.Date(2024, 1, 1, 12, 0, 1, 0, time.UTC)
	c := Cashout{BetID: "a", RoundNumber: 1, Multiplier: d("1.06"), Payout: d("10.6"), CashedOutAt: at}
	require.NoError(t, s.RecordCashout(ctx, c))
	require.NoError(t, s.RecordCashout(ctx, c))
	assert.ErrorIs(t, s.RecordCashout(ctx, Cashout{BetID: "missing", RoundNumber: 1}), ErrNotFound)

	bets, err := s.RoundBets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bets, 2)
	assert.Equal(t, BetCashedOut, bets[0].Status)
	assert.Equal(t, BetCashedOut, bets[0].Outcome)
	assert.True(t, d("10.6").Equal(bets[0].Payout))
	require.NotNil(t, bets[0].CashedOutAt)
	assert.True(t, at.Equal(*bets[0].CashedOutAt))
	assert.Equal(t, BetPending, bets[1].Status)

	// A settled row is not rewritten by the journal.
	require.NoError(t, s.SettleRound(ctx, Settlement{
		Round: Round{Number: 1, Status: RoundSettled},
		Bets: []Bet{
			{ID: "a", UserID: "alice", RoundNumber: 1, Wager: d("10"), Status: BetSettled, Outcome: BetCashedOut, Payout: d("10.6")},
			{ID: "b", UserID: "bob", RoundNumber: 1, Wager: d("5"), Status: BetSettled, Outcome: BetCrashed},
		},
	}))
	bets, err = s.RoundBets(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, BetSettled, bets[0].Status)
	assert.Equal(t, BetSettled, bets[1].Status)
}
