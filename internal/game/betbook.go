package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
)

// BetBook holds the bets of one round, at most one per user, in placement
// order. It is not safe for concurrent use; the Manager lock guards it.
type BetBook struct {
	bets   []*ledger.Bet
	byUser map[string]*ledger.Bet
}

func NewBetBook() *BetBook {
	return &BetBook{byUser: make(map[string]*ledger.Bet)}
}

func (b *BetBook) Len() int {
	return len(b.bets)
}

func (b *BetBook) ForUser(userID string) *ledger.Bet {
	return b.byUser[userID]
}

// All returns the live bet pointers in placement order.
func (b *BetBook) All() []*ledger.Bet {
	return append([]*ledger.Bet(nil), b.bets...)
}

func (b *BetBook) Pending() []*ledger.Bet {
	var out []*ledger.Bet
	for _, bet := range b.bets {
		if bet.Status == ledger.BetPending {
			out = append(out, bet)
		}
	}
	return out
}

func (b *BetBook) add(bet *ledger.Bet) error {
	if _, ok := b.byUser[bet.UserID]; ok {
		return errs.Conflict("user already has a bet in this round")
	}
	b.bets = append(b.bets, bet)
	b.byUser[bet.UserID] = bet
	return nil
}

func (b *BetBook) remove(id string) {
	for i, bet := range b.bets {
		if bet.ID == id {
			b.bets = append(b.bets[:i], b.bets[i+1:]...)
			delete(b.byUser, bet.UserID)
			return
		}
	}
}

func (b *BetBook) snapshot() []ledger.Bet {
	out := make([]ledger.Bet, 0, len(b.bets))
	for _, bet := range b.bets {
		out = append(out, bet.Clone())
	}
	return out
}

func (r *activeRound) recomputeTotals() {
	wagers, payouts := decimal.Zero, decimal.Zero
	for _, bet := range r.book.bets {
		wagers = wagers.Add(bet.Wager)
		payouts = payouts.Add(bet.Payout)
	}
	r.TotalWagers = wagers
	r.TotalPayouts = payouts
	r.HouseProfitLoss = wagers.Sub(payouts)
}

// resolveCashout moves a pending bet to cashed_out at multiplier m.
func (r *activeRound) resolveCashout(bet *ledger.Bet, m decimal.Decimal, at time.Time) {
	mult := m
	when := at
	bet.Status = ledger.BetCashedOut
	bet.Outcome = ledger.BetCashedOut
	bet.CashoutMultiplier = &mult
	bet.Payout = bet.Wager.Mul(m).Truncate(ledger.MoneyScale)
	bet.CashedOutAt = &when
	r.TotalPayouts = r.TotalPayouts.Add(bet.Payout)
	r.HouseProfitLoss = r.TotalWagers.Sub(r.TotalPayouts)
}

func (m *Manager) validateWager(userID string, wager decimal.Decimal, autoCashout *decimal.Decimal) error {
	if strings.TrimSpace(userID) == "" {
		return errs.Validation("user_id is required")
	}
	if !wager.IsPositive() {
		return errs.Validation("wager must be positive")
	}
	if -wager.Exponent() > ledger.MoneyScale {
		return errs.Validation("wager has too many decimal places")
	}
	if limit := m.settings.MaxWager; limit.IsPositive() && wager.GreaterThan(limit) {
		return errs.Validation("wager exceeds the maximum")
	}
	if autoCashout != nil {
		if autoCashout.LessThan(MIN_MULTIPLIER) {
			return errs.Validation("auto cash-out must be at least 1.00")
		}
		if !autoCashout.Equal(autoCashout.Truncate(MULTIPLIER_PLACES)) {
			return errs.Validation("auto cash-out has too many decimal places")
		}
	}
	return nil
}

// PlaceBet reserves a pending bet in the betting round and returns once the
// bet row is durable. A failed write withdraws the reservation.
func (m *Manager) PlaceBet(ctx context.Context, userID string, wager decimal.Decimal, autoCashout *decimal.Decimal) (*ledger.Bet, error) {
	if err := m.validateWager(userID, wager, autoCashout); err != nil {
		return nil, err
	}

	m.mu.Lock()
	r := m.round
	if r == nil || r.Status != ledger.RoundBetting {
		m.mu.Unlock()
		return nil, errs.InvalidPhase("betting is closed for this round")
	}
	now := m.now()
	bet := &ledger.Bet{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoundNumber: r.Number,
		Wager:       wager,
		Status:      ledger.BetPending,
		Payout:      decimal.Zero,
		PlacedAt:    now,
	}
	if autoCashout != nil {
		limit := *autoCashout
		bet.AutoCashout = &limit
	}
	if err := r.book.add(bet); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	r.TotalWagers = r.TotalWagers.Add(wager)
	r.HouseProfitLoss = r.TotalWagers.Sub(r.TotalPayouts)
	r.inflight.Add(1)
	row := bet.Clone()
	m.mu.Unlock()

	err := m.persist(ctx, "insert bet", m.settings.RetryBudget, func(ctx context.Context) error {
		err := m.store.InsertBet(ctx, &row)
		if errors.Is(err, ledger.ErrDuplicate) {
			return nil
		}
		return err
	})
	if err != nil {
		m.mu.Lock()
		r.book.remove(bet.ID)
		r.TotalWagers = r.TotalWagers.Sub(wager)
		r.HouseProfitLoss = r.TotalWagers.Sub(r.TotalPayouts)
		m.mu.Unlock()
		r.inflight.Done()

		logger.Error("Bet write failed, reservation withdrawn", "round", row.RoundNumber, "user", userID, "err", err)
		return nil, errs.Persistence("bet could not be recorded", err)
	}
	r.inflight.Done()

	logger.Debug("Bet placed", "round", row.RoundNumber, "user", userID, "wager", wager.String())
	m.notifier.Publish(newEvent(EventBetPlaced, row.RoundNumber, BetPlacedMessage{
		UserID:      userID,
		Amount:      wager,
		BetID:       row.ID,
		AutoCashout: row.AutoCashout,
	}, now))
	return &row, nil
}

// CashOut resolves the user's pending bet at the live multiplier and returns
// once the cash-out is durable. Once the curve has reached the crash point the
// cash-out is refused even if the crashing tick has not run yet.
func (m *Manager) CashOut(ctx context.Context, userID string, roundNumber int64) (*ledger.Bet, error) {
	m.mu.Lock()
	r := m.round
	switch {
	case r == nil || roundNumber > r.Number || roundNumber <= 0:
		m.mu.Unlock()
		return nil, errs.NotFound("round not found")
	case roundNumber < r.Number:
		m.mu.Unlock()
		return nil, errs.InvalidPhase("round is over")
	case r.Status != ledger.RoundRunning || r.RunningStartedAt == nil:
		m.mu.Unlock()
		return nil, errs.InvalidPhase("round is not running")
	}

	now := m.now()
	live := MultiplierAt(now.Sub(*r.RunningStartedAt), m.settings.GrowthRate)
	if live.GreaterThanOrEqual(r.CrashMultiplier) {
		m.mu.Unlock()
		return nil, errs.InvalidPhase("round has crashed")
	}

	bet := r.book.ForUser(userID)
	if bet == nil || bet.Status != ledger.BetPending {
		m.mu.Unlock()
		return nil, errs.NotFound("no active bet for this user")
	}
	r.resolveCashout(bet, live, now)
	r.inflight.Add(1)
	row := bet.Clone()
	m.mu.Unlock()

	err := m.persist(ctx, "cash out", m.settings.RetryBudget, func(ctx context.Context) error {
		return m.recordCashout(ctx, &row)
	})
	r.inflight.Done()
	if err != nil {
		// The bet stays cashed out in memory and the settlement writes it,
		// but nothing durable vouches for it until then.
		logger.Error("Cash-out write failed, held for settlement", "round", roundNumber, "user", userID, "err", err)
		return nil, errs.Persistence("cash-out could not be recorded", err)
	}

	logger.Debug("Cashed out", "round", roundNumber, "user", userID, "multiplier", live.StringFixed(MULTIPLIER_PLACES))
	m.notifier.Publish(newEvent(EventCashout, roundNumber, CashoutMessage{
		UserID:     userID,
		BetID:      row.ID,
		Multiplier: live,
		Payout:     row.Payout,
	}, now))
	return &row, nil
}

// recordCashout writes the resolved bet row. When the row cannot be updated
// the cash-out goes to the journal instead, which resume reads back.
func (m *Manager) recordCashout(ctx context.Context, bet *ledger.Bet) error {
	err := m.store.UpdateBet(ctx, bet)
	if err == nil {
		return nil
	}
	if jerr := m.store.RecordCashout(ctx, ledger.CashoutOf(*bet)); jerr != nil {
		return errors.Join(err, jerr)
	}
	logger.Warn("Bet row not updated, cash-out journaled", "round", bet.RoundNumber, "user", bet.UserID, "err", err)
	return nil
}
