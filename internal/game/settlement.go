package game

import (
	"github.com/shopspring/decimal"

	"riskcrash/internal/ledger"
	"riskcrash/internal/treasury"
)

// settle closes every bet of a crashed round and prepares the ledger write.
// It runs under the Manager lock in the same critical section as the crash,
// so no cash-out can slip in between. Bets keep their cashed_out or crashed
// status until the settlement is durable; the rows written are settled.
func (r *activeRound) settle() {
	for _, bet := range r.book.bets {
		switch bet.Status {
		case ledger.BetPending:
			bet.Status = ledger.BetCrashed
			bet.Outcome = ledger.BetCrashed
			bet.Payout = decimal.Zero
		case ledger.BetCashedOut:
			bet.Outcome = ledger.BetCashedOut
		}
	}
	r.recomputeTotals()

	bets := r.book.snapshot()
	for i := range bets {
		bets[i].Status = ledger.BetSettled
	}
	r.settlement = &ledger.Settlement{
		Round:       r.Round.Clone(),
		Bets:        bets,
		Allocations: treasury.Split(r.Number, r.HouseProfitLoss),
	}
}
