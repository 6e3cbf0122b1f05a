package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"riskcrash/internal/ledger"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	roundColumns = `round_number, seed, prev_seed, digest, chain, crash_multiplier, status,
		betting_started_at, running_started_at, crashed_at, settled_at,
		total_wagers, total_payouts, house_profit_loss`
	betColumns = `id, user_id, round_number, wager, auto_cashout, status, outcome,
		cashout_multiplier, payout, placed_at, cashed_out_at`
)

// Store is the Postgres ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*ledger.Round, error) {
	var r ledger.Round
	var status string
	err := row.Scan(
		&r.Number, &r.Seed, &r.PrevSeed, &r.Digest, &r.Chain, &r.CrashMultiplier, &status,
		&r.BettingStartedAt, &r.RunningStartedAt, &r.CrashedAt, &r.SettledAt,
		&r.TotalWagers, &r.TotalPayouts, &r.HouseProfitLoss,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = ledger.RoundStatus(status)
	return &r, nil
}

func scanBet(row rowScanner) (*ledger.Bet, error) {
	var b ledger.Bet
	var status, outcome string
	err := row.Scan(
		&b.ID, &b.UserID, &b.RoundNumber, &b.Wager, &b.AutoCashout, &status, &outcome,
		&b.CashoutMultiplier, &b.Payout, &b.PlacedAt, &b.CashedOutAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = ledger.BetStatus(status)
	b.Outcome = ledger.BetStatus(outcome)
	return &b, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ledger.ErrDuplicate
		case pgForeignKeyViolation:
			return ledger.ErrNotFound
		}
	}
	return err
}

func (s *Store) CreateRound(ctx context.Context, r *ledger.Round) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.Number, r.Seed, r.PrevSeed, r.Digest, r.Chain, r.CrashMultiplier, string(r.Status),
		r.BettingStartedAt, r.RunningStartedAt, r.CrashedAt, r.SettledAt,
		r.TotalWagers, r.TotalPayouts, r.HouseProfitLoss,
	)
	return mapWriteError(err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateRound(ctx context.Context, db execer, r *ledger.Round) error {
	res, err := db.ExecContext(ctx, `UPDATE rounds SET status = $2, running_started_at = $3,
		crashed_at = $4, settled_at = $5, total_wagers = $6, total_payouts = $7, house_profit_loss = $8
		WHERE round_number = $1`,
		r.Number, string(r.Status), r.RunningStartedAt, r.CrashedAt, r.SettledAt,
		r.TotalWagers, r.TotalPayouts, r.HouseProfitLoss,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRound(ctx context.Context, r *ledger.Round) error {
	return updateRound(ctx, s.db, r)
}

func (s *Store) GetRound(ctx context.Context, number int64) (*ledger.Round, error) {
	return scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE round_number = $1`, number))
}

func (s *Store) CurrentRound(ctx context.Context) (*ledger.Round, error) {
	return scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status <> 'settled' ORDER BY round_number DESC LIMIT 1`))
}

func (s *Store) LatestRound(ctx context.Context) (*ledger.Round, error) {
	return scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY round_number DESC LIMIT 1`))
}

func (s *Store) SettledRounds(ctx context.Context, limit int) ([]ledger.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE status = 'settled' ORDER BY round_number DESC LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Round, 0)
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) InsertBet(ctx context.Context, b *ledger.Bet) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bets (`+betColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.UserID, b.RoundNumber, b.Wager, b.AutoCashout, string(b.Status), string(b.Outcome),
		b.CashoutMultiplier, b.Payout, b.PlacedAt, b.CashedOutAt,
	)
	return mapWriteError(err)
}

func (s *Store) UpdateBet(ctx context.Context, b *ledger.Bet) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bets SET status = $2, outcome = $3,
		cashout_multiplier = $4, payout = $5, cashed_out_at = $6 WHERE id = $1`,
		b.ID, string(b.Status), string(b.Outcome), b.CashoutMultiplier, b.Payout, b.CashedOutAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) RecordCashout(ctx context.Context, c ledger.Cashout) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bet_cashouts (bet_id, round_number, multiplier, payout, cashed_out_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (bet_id) DO NOTHING`,
		c.BetID, c.RoundNumber, c.Multiplier, c.Payout, c.CashedOutAt,
	)
	return mapWriteError(err)
}

func (s *Store) roundCashouts(ctx context.Context, roundNumber int64) ([]ledger.Cashout, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bet_id, round_number, multiplier, payout, cashed_out_at
		FROM bet_cashouts WHERE round_number = $1`, roundNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Cashout
	for rows.Next() {
		var c ledger.Cashout
		if err := rows.Scan(&c.BetID, &c.RoundNumber, &c.Multiplier, &c.Payout, &c.CashedOutAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RoundBets(ctx context.Context, roundNumber int64) ([]ledger.Bet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+betColumns+` FROM bets
		WHERE round_number = $1 ORDER BY placed_at, id`, roundNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Bet, 0)
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cashouts, err := s.roundCashouts(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	ledger.ApplyCashouts(out, cashouts)
	return out, nil
}

// SettleRound applies a settlement in one transaction. A round already marked
// settled is left untouched so a retried write never credits twice.
func (s *Store) SettleRound(ctx context.Context, st ledger.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM rounds WHERE round_number = $1 FOR UPDATE`, st.Round.Number).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	if ledger.RoundStatus(status) == ledger.RoundSettled {
		return nil
	}

	if err := updateRound(ctx, tx, &st.Round); err != nil {
		return err
	}

	for _, b := range st.Bets {
		_, err := tx.ExecContext(ctx, `INSERT INTO bets (`+betColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, outcome = EXCLUDED.outcome,
				cashout_multiplier = EXCLUDED.cashout_multiplier, payout = EXCLUDED.payout,
				cashed_out_at = EXCLUDED.cashed_out_at`,
			b.ID, b.UserID, b.RoundNumber, b.Wager, b.AutoCashout, string(b.Status), string(b.Outcome),
			b.CashoutMultiplier, b.Payout, b.PlacedAt, b.CashedOutAt,
		)
		if err != nil {
			return fmt.Errorf("settle bet %s: %w", b.ID, err)
		}
	}

	now := s.now()
	for _, a := range st.Allocations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO vault_allocations (round_number, vault_type, amount, created_at)
			VALUES ($1, $2, $3, $4)`, a.RoundNumber, string(a.Vault), a.Amount, now); err != nil {
			return fmt.Errorf("record allocation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE vaults SET balance = balance + $2,
			total_distributed = total_distributed + $2, updated_at = $3 WHERE vault_type = $1`,
			string(a.Vault), a.Amount, now); err != nil {
			return fmt.Errorf("credit vault %s: %w", a.Vault, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Vaults(ctx context.Context) ([]ledger.Vault, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vault_type, balance, total_distributed, updated_at FROM vaults`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byType := make(map[ledger.VaultType]ledger.Vault)
	for rows.Next() {
		var v ledger.Vault
		var typ string
		if err := rows.Scan(&typ, &v.Balance, &v.TotalDistributed, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Type = ledger.VaultType(typ)
		byType[v.Type] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ledger.Vault, 0, len(ledger.VaultTypes))
	for _, t := range ledger.VaultTypes {
		if v, ok := byType[t]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) Allocations(ctx context.Context, roundNumber int64) ([]ledger.VaultAllocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round_number, vault_type, amount FROM vault_allocations WHERE round_number = $1`, roundNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.VaultAllocation
	for rows.Next() {
		var a ledger.VaultAllocation
		var typ string
		if err := rows.Scan(&a.RoundNumber, &typ, &a.Amount); err != nil {
			return nil, err
		}
		a.Vault = ledger.VaultType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Withdraw debits a vault under a row lock and records the audit entry in
// the same transaction.
func (s *Store) Withdraw(ctx context.Context, w ledger.Withdrawal) (*ledger.Vault, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin withdrawal: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM vaults WHERE vault_type = $1 FOR UPDATE`, string(w.Vault)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if balance.LessThan(w.Amount) {
		return nil, ledger.ErrInsufficientFunds
	}

	v := ledger.Vault{Type: w.Vault}
	err = tx.QueryRowContext(ctx, `UPDATE vaults SET balance = balance - $2, updated_at = $3
		WHERE vault_type = $1 RETURNING balance, total_distributed, updated_at`,
		string(w.Vault), w.Amount, w.CreatedAt).Scan(&v.Balance, &v.TotalDistributed, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vault_withdrawals
		(id, vault_type, amount, destination, operator, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, string(w.Vault), w.Amount, w.Destination, w.Operator, w.Reason, w.CreatedAt); err != nil {
		return nil, mapWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) Withdrawals(ctx context.Context, limit int) ([]ledger.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vault_type, amount, destination, operator, reason, created_at
		FROM vault_withdrawals ORDER BY created_at DESC, id LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Withdrawal, 0)
	for rows.Next() {
		var w ledger.Withdrawal
		var typ string
		if err := rows.Scan(&w.ID, &typ, &w.Amount, &w.Destination, &w.Operator, &w.Reason, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Vault = ledger.VaultType(typ)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, SUM(payout), SUM(wager), COUNT(*)
		FROM bets WHERE status = 'settled'
		GROUP BY user_id ORDER BY SUM(payout) DESC, user_id LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.LeaderboardEntry, 0)
	for rows.Next() {
		var e ledger.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.TotalPayout, &e.TotalWager, &e.Bets); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close is a no-op; the connection belongs to the database Service.
func (s *Store) Close() error {
	return nil
}
