package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("ledger: record not found")
	ErrDuplicate         = errors.New("ledger: duplicate record")
	ErrInsufficientFunds = errors.New("ledger: insufficient vault balance")
)

// Store is the durable ledger the round engine writes through. Every method
// is a single atomic read-modify-write.
type Store interface {
	CreateRound(ctx context.Context, round *Round) error
	UpdateRound(ctx context.Context, round *Round) error
	GetRound(ctx context.Context, number int64) (*Round, error)
	// CurrentRound returns the newest round that is not settled.
	CurrentRound(ctx context.Context) (*Round, error)
	// LatestRound returns the round with the highest number regardless of status.
	LatestRound(ctx context.Context) (*Round, error)
	// SettledRounds returns settled rounds, newest first.
	SettledRounds(ctx context.Context, limit int) ([]Round, error)

	InsertBet(ctx context.Context, bet *Bet) error
	UpdateBet(ctx context.Context, bet *Bet) error
	// RecordCashout journals a cash-out apart from the bet row. RoundBets
	// applies journaled cash-outs to bets whose row still reads pending.
	RecordCashout(ctx context.Context, c Cashout) error
	RoundBets(ctx context.Context, roundNumber int64) ([]Bet, error)

	// SettleRound writes the round, its bets, the vault credits and the
	// allocation records in one transaction.
	SettleRound(ctx context.Context, s Settlement) error
	Vaults(ctx context.Context) ([]Vault, error)
	Allocations(ctx context.Context, roundNumber int64) ([]VaultAllocation, error)
	// Withdraw debits a vault and stores the audit record in one transaction.
	Withdraw(ctx context.Context, w Withdrawal) (*Vault, error)
	Withdrawals(ctx context.Context, limit int) ([]Withdrawal, error)

	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	Close() error
}
