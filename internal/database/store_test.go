package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcrash/internal/ledger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := New().DB()
	require.NoError(t, RunMigrations(db, migrationsPath))

	_, err := db.Exec(`TRUNCATE vault_withdrawals, vault_allocations, bets, rounds`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE vaults SET balance = 0, total_distributed = 0`)
	require.NoError(t, err)
	return NewStore(db)
}

func testRound(number int64, status ledger.RoundStatus) *ledger.Round {
	return &ledger.Round{
		Number:           number,
		Seed:             "seed-2976",
		Digest:           "0000000000000000000000000000000000000000000000000000000000000000",
		Chain:            "1111111111111111111111111111111111111111111111111111111111111111",
		CrashMultiplier:  d("1.10"),
		Status:           status,
		BettingStartedAt: time.Now().UTC().Truncate(time.Microsecond),
		TotalWagers:      decimal.Zero,
		TotalPayouts:     decimal.Zero,
		HouseProfitLoss:  decimal.Zero,
	}
}

func TestStore_RoundLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testRound(1, ledger.RoundBetting)
	require.NoError(t, s.CreateRound(ctx, r))
	assert.ErrorIs(t, s.CreateRound(ctx, r), ledger.ErrDuplicate)

	cur, err := s.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Number)
	assert.True(t, d("1.10").Equal(cur.CrashMultiplier))
	assert.Nil(t, cur.RunningStartedAt)

	started := time.Now().UTC().Truncate(time.Microsecond)
	r.Status = ledger.RoundRunning
	r.RunningStartedAt = &started
	require.NoError(t, s.UpdateRound(ctx, r))

	got, err := s.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.RoundRunning, got.Status)
	require.NotNil(t, got.RunningStartedAt)
	assert.True(t, started.Equal(*got.RunningStartedAt))

	_, err = s.GetRound(ctx, 99)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRound(ctx, testRound(99, ledger.RoundRunning)), ledger.ErrNotFound)
}

func TestStore_BetsAndSettlement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testRound(1, ledger.RoundRunning)
	require.NoError(t, s.CreateRound(ctx, r))

	auto := d("1.05")
	winner := ledger.Bet{
		ID: uuid.NewString(), UserID: "alice", RoundNumber: 1, Wager: d("10"),
		AutoCashout: &auto, Status: ledger.BetPending, Payout: decimal.Zero,
		PlacedAt: time.Now().UTC(),
	}
	loser := ledger.Bet{
		ID: uuid.NewString(), UserID: "bob", RoundNumber: 1, Wager: d("20"),
		Status: ledger.BetPending, Payout: decimal.Zero, PlacedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertBet(ctx, &winner))
	require.NoError(t, s.InsertBet(ctx, &loser))

	dup := loser
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.InsertBet(ctx, &dup), ledger.ErrDuplicate, "one bet per user per round")

	orphan := winner
	orphan.ID = uuid.NewString()
	orphan.RoundNumber = 42
	assert.ErrorIs(t, s.InsertBet(ctx, &orphan), ledger.ErrNotFound)

	now := time.Now().UTC()
	mult := d("1.05")

	// A journaled cash-out shows through while the bet row is pending.
	cashout := ledger.Cashout{BetID: winner.ID, RoundNumber: 1, Multiplier: mult, Payout: d("10.5"), CashedOutAt: now}
	require.NoError(t, s.RecordCashout(ctx, cashout))
	require.NoError(t, s.RecordCashout(ctx, cashout), "journal writes are idempotent")
	pending, err := s.RoundBets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, b := range pending {
		if b.ID == winner.ID {
			assert.Equal(t, ledger.BetCashedOut, b.Status)
			assert.True(t, d("10.5").Equal(b.Payout))
		} else {
			assert.Equal(t, ledger.BetPending, b.Status)
		}
	}

	winner.Status, winner.Outcome = ledger.BetSettled, ledger.BetCashedOut
	winner.CashoutMultiplier, winner.Payout, winner.CashedOutAt = &mult, d("10.5"), &now
	loser.Status, loser.Outcome = ledger.BetSettled, ledger.BetCrashed

	r.Status = ledger.RoundSettled
	r.CrashedAt, r.SettledAt = &now, &now
	r.TotalWagers, r.TotalPayouts, r.HouseProfitLoss = d("30"), d("10.5"), d("19.5")
	st := ledger.Settlement{
		Round: *r,
		Bets:  []ledger.Bet{winner, loser},
		Allocations: []ledger.VaultAllocation{
			{RoundNumber: 1, Vault: ledger.VaultHouse, Amount: d("7.8")},
			{RoundNumber: 1, Vault: ledger.VaultYield, Amount: d("6.825")},
			{RoundNumber: 1, Vault: ledger.VaultGrowth, Amount: d("2.925")},
			{RoundNumber: 1, Vault: ledger.VaultBurn, Amount: d("1.95")},
		},
	}
	require.NoError(t, s.SettleRound(ctx, st))
	require.NoError(t, s.SettleRound(ctx, st), "retried settlement")

	settled, err := s.SettledRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.True(t, d("19.5").Equal(settled[0].HouseProfitLoss))

	bets, err := s.RoundBets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bets, 2)
	for _, b := range bets {
		assert.Equal(t, ledger.BetSettled, b.Status)
	}

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 4)
	assert.Equal(t, ledger.VaultHouse, vaults[0].Type)
	assert.True(t, d("7.8").Equal(vaults[0].Balance), "credited once: %s", vaults[0].Balance)

	allocs, err := s.Allocations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, allocs, 4)

	board, err := s.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].UserID)
	assert.True(t, d("10.5").Equal(board[0].TotalPayout))
}

func TestStore_Withdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testRound(1, ledger.RoundCrashed)
	require.NoError(t, s.CreateRound(ctx, r))
	r.Status = ledger.RoundSettled
	require.NoError(t, s.SettleRound(ctx, ledger.Settlement{
		Round:       *r,
		Allocations: []ledger.VaultAllocation{{RoundNumber: 1, Vault: ledger.VaultGrowth, Amount: d("5")}},
	}))

	w := ledger.Withdrawal{
		ID: uuid.NewString(), Vault: ledger.VaultGrowth, Amount: d("2"),
		Destination: "treasury-wallet", Operator: "ops-1", Reason: "marketing budget",
		CreatedAt: time.Now().UTC(),
	}
	v, err := s.Withdraw(ctx, w)
	require.NoError(t, err)
	assert.True(t, d("3").Equal(v.Balance))
	assert.True(t, d("5").Equal(v.TotalDistributed))

	over := w
	over.ID = uuid.NewString()
	over.Amount = d("3.00000001")
	_, err = s.Withdraw(ctx, over)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	bad := w
	bad.ID = uuid.NewString()
	bad.Vault = "treasury"
	_, err = s.Withdraw(ctx, bad)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	audit, err := s.Withdrawals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "ops-1", audit[0].Operator)
}
