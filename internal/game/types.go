package game

import (
	"time"

	"github.com/shopspring/decimal"

	"riskcrash/internal/ledger"
)

type BetRequest struct {
	UserID      string           `json:"user_id"`
	Amount      decimal.Decimal  `json:"amount"`
	AutoCashout *decimal.Decimal `json:"auto_cashout,omitempty"`
}

type BetResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	BetID       string `json:"bet_id,omitempty"`
	RoundNumber int64  `json:"round_number,omitempty"`
}

type CashoutRequest struct {
	UserID      string `json:"user_id"`
	RoundNumber int64  `json:"round_id"`
}

type CashoutResponse struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Multiplier *decimal.Decimal `json:"multiplier,omitempty"`
	Payout     *decimal.Decimal `json:"payout,omitempty"`
}

// RoundView is the public summary of the active round. The crash point and
// seed stay empty until the round has crashed.
type RoundView struct {
	RoundNumber       int64              `json:"round_number"`
	Status            ledger.RoundStatus `json:"status"`
	Digest            string             `json:"digest"`
	Chain             string             `json:"chain"`
	BettingStartedAt  time.Time          `json:"betting_started_at"`
	BettingEndsAt     time.Time          `json:"betting_ends_at"`
	RunningStartedAt  *time.Time         `json:"running_started_at,omitempty"`
	CrashedAt         *time.Time         `json:"crashed_at,omitempty"`
	SettledAt         *time.Time         `json:"settled_at,omitempty"`
	CurrentMultiplier decimal.Decimal    `json:"current_multiplier"`
	CrashMultiplier   *decimal.Decimal   `json:"crash_multiplier,omitempty"`
	Seed              string             `json:"seed,omitempty"`
	PrevSeed          string             `json:"prev_seed,omitempty"`
	TotalWagers       decimal.Decimal    `json:"total_wagers"`
	TotalPayouts      decimal.Decimal    `json:"total_payouts"`
	BetCount          int                `json:"bet_count"`
}

// HistoryEntry carries everything a client needs to re-verify a past round.
type HistoryEntry struct {
	RoundNumber     int64           `json:"round_number"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
	Seed            string          `json:"seed"`
	PrevSeed        string          `json:"prev_seed"`
	Digest          string          `json:"digest"`
	Chain           string          `json:"chain"`
	TotalWagers     decimal.Decimal `json:"total_wagers"`
	TotalPayouts    decimal.Decimal `json:"total_payouts"`
	HouseProfitLoss decimal.Decimal `json:"house_profit_loss"`
	CrashedAt       *time.Time      `json:"crashed_at,omitempty"`
}

func historyEntry(r ledger.Round) HistoryEntry {
	return HistoryEntry{
		RoundNumber:     r.Number,
		CrashMultiplier: r.CrashMultiplier,
		Seed:            r.Seed,
		PrevSeed:        r.PrevSeed,
		Digest:          r.Digest,
		Chain:           r.Chain,
		TotalWagers:     r.TotalWagers,
		TotalPayouts:    r.TotalPayouts,
		HouseProfitLoss: r.HouseProfitLoss,
		CrashedAt:       r.CrashedAt,
	}
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type BetPlacedMessage struct {
	UserID      string           `json:"user_id"`
	Amount      decimal.Decimal  `json:"amount"`
	BetID       string           `json:"bet_id"`
	AutoCashout *decimal.Decimal `json:"auto_cashout,omitempty"`
}

type CashoutMessage struct {
	UserID     string          `json:"user_id"`
	BetID      string          `json:"bet_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	Auto       bool            `json:"auto"`
}

type CrashMessage struct {
	Multiplier decimal.Decimal `json:"multiplier"`
	Seed       string          `json:"seed"`
	PrevSeed   string          `json:"prev_seed"`
	Digest     string          `json:"digest"`
}

type SettledMessage struct {
	TotalWagers     decimal.Decimal          `json:"total_wagers"`
	TotalPayouts    decimal.Decimal          `json:"total_payouts"`
	HouseProfitLoss decimal.Decimal          `json:"house_profit_loss"`
	Allocations     []ledger.VaultAllocation `json:"allocations,omitempty"`
}
