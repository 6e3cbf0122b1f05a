// Package ledger holds the durable records of the crash game (rounds, bets,
// vaults) and the Store contract the round engine persists them through.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundBetting RoundStatus = "betting"
	RoundRunning RoundStatus = "running"
	RoundCrashed RoundStatus = "crashed"
	RoundSettled RoundStatus = "settled"
)

type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetCashedOut BetStatus = "cashed_out"
	BetCrashed   BetStatus = "crashed"
	BetSettled   BetStatus = "settled"
)

type VaultType string

const (
	VaultHouse  VaultType = "house"
	VaultYield  VaultType = "yield"
	VaultGrowth VaultType = "growth"
	VaultBurn   VaultType = "burn"
)

// VaultTypes lists every vault in display order.
var VaultTypes = []VaultType{VaultHouse, VaultYield, VaultGrowth, VaultBurn}

func (v VaultType) Valid() bool {
	switch v {
	case VaultHouse, VaultYield, VaultGrowth, VaultBurn:
		return true
	}
	return false
}

// MoneyScale is the number of fractional digits kept for currency amounts.
const MoneyScale = 8

type Round struct {
	Number           int64           `json:"round_number"`
	Seed             string          `json:"-"`
	PrevSeed         string          `json:"-"`
	Digest           string          `json:"digest"`
	Chain            string          `json:"chain"`
	CrashMultiplier  decimal.Decimal `json:"-"`
	Status           RoundStatus     `json:"status"`
	BettingStartedAt time.Time       `json:"betting_started_at"`
	RunningStartedAt *time.Time      `json:"running_started_at,omitempty"`
	CrashedAt        *time.Time      `json:"crashed_at,omitempty"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
	TotalWagers      decimal.Decimal `json:"total_wagers"`
	TotalPayouts     decimal.Decimal `json:"total_payouts"`
	HouseProfitLoss  decimal.Decimal `json:"house_profit_loss"`
}

// Bet is one wager. Status moves from pending to cashed_out or crashed while
// its round is live and becomes settled once the settlement is durable.
// Outcome keeps the cashed_out or crashed result after that.
type Bet struct {
	ID                string           `json:"bet_id"`
	UserID            string           `json:"user_id"`
	RoundNumber       int64            `json:"round_number"`
	Wager             decimal.Decimal  `json:"wager"`
	AutoCashout       *decimal.Decimal `json:"auto_cashout,omitempty"`
	Status            BetStatus        `json:"status"`
	Outcome           BetStatus        `json:"outcome,omitempty"` // cashed_out or crashed once resolved
	CashoutMultiplier *decimal.Decimal `json:"cashout_multiplier,omitempty"`
	Payout            decimal.Decimal  `json:"payout"`
	PlacedAt          time.Time        `json:"placed_at"`
	CashedOutAt       *time.Time       `json:"cashed_out_at,omitempty"`
}

// Cashout is the journal entry of a confirmed cash-out.
type Cashout struct {
	BetID       string          `json:"bet_id"`
	RoundNumber int64           `json:"round_number"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	Payout      decimal.Decimal `json:"payout"`
	CashedOutAt time.Time       `json:"cashed_out_at"`
}

// CashoutOf returns the journal entry for a cashed-out bet.
func CashoutOf(b Bet) Cashout {
	c := Cashout{BetID: b.ID, RoundNumber: b.RoundNumber, Payout: b.Payout}
	if b.CashoutMultiplier != nil {
		c.Multiplier = *b.CashoutMultiplier
	}
	if b.CashedOutAt != nil {
		c.CashedOutAt = *b.CashedOutAt
	}
	return c
}

// ApplyCashouts resolves pending bets that have a journaled cash-out. Rows
// that already moved past pending win over the journal.
func ApplyCashouts(bets []Bet, cashouts []Cashout) {
	if len(cashouts) == 0 {
		return
	}
	byBet := make(map[string]Cashout, len(cashouts))
	for _, c := range cashouts {
		byBet[c.BetID] = c
	}
	for i := range bets {
		c, ok := byBet[bets[i].ID]
		if !ok || bets[i].Status != BetPending {
			continue
		}
		m, at := c.Multiplier, c.CashedOutAt
		bets[i].Status = BetCashedOut
		bets[i].Outcome = BetCashedOut
		bets[i].CashoutMultiplier = &m
		bets[i].Payout = c.Payout
		bets[i].CashedOutAt = &at
	}
}

type Vault struct {
	Type             VaultType       `json:"type"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// VaultAllocation is the credit one vault received from one round.
type VaultAllocation struct {
	RoundNumber int64           `json:"round_number"`
	Vault       VaultType       `json:"vault"`
	Amount      decimal.Decimal `json:"amount"`
}

// Settlement is everything a crashed round writes in one atomic step.
type Settlement struct {
	Round       Round
	Bets        []Bet
	Allocations []VaultAllocation
}

// Withdrawal is the audit record of an administrative vault debit.
type Withdrawal struct {
	ID          string          `json:"id"`
	Vault       VaultType       `json:"vault"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	Operator    string          `json:"operator"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
}

type LeaderboardEntry struct {
	UserID      string          `json:"user_id"`
	TotalPayout decimal.Decimal `json:"total_payout"`
	TotalWager  decimal.Decimal `json:"total_wager"`
	Bets        int             `json:"bets"`
}

// Clone returns a deep copy so callers can hand out rounds without sharing
// the pointer fields.
func (r Round) Clone() Round {
	c := r
	c.RunningStartedAt = cloneTime(r.RunningStartedAt)
	c.CrashedAt = cloneTime(r.CrashedAt)
	c.SettledAt = cloneTime(r.SettledAt)
	return c
}

func (b Bet) Clone() Bet {
	c := b
	c.AutoCashout = cloneDecimal(b.AutoCashout)
	c.CashoutMultiplier = cloneDecimal(b.CashoutMultiplier)
	c.CashedOutAt = cloneTime(b.CashedOutAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
