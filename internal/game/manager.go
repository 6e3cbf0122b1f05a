package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
	"riskcrash/internal/retry"
)

const (
	TICK_INTERVAL = 100 * time.Millisecond
	BETTING_TIME  = 6 * time.Second
	GROWTH_RATE   = 0.06
	RETRY_BUDGET  = 5 * time.Second

	DEFAULT_HISTORY_LIMIT = 50
	MAX_HISTORY_LIMIT     = 500
)

type Settings struct {
	BettingWindow time.Duration
	TickInterval  time.Duration
	RoundCooldown time.Duration
	GrowthRate    float64
	RetryBudget   time.Duration
	MaxWager      decimal.Decimal // zero disables the cap
}

func DefaultSettings() Settings {
	return Settings{
		BettingWindow: BETTING_TIME,
		TickInterval:  TICK_INTERVAL,
		GrowthRate:    GROWTH_RATE,
		RetryBudget:   RETRY_BUDGET,
	}
}

// activeRound is the single mutable round. Every field is guarded by
// Manager.mu except inflight, which is only waited on by the game loop.
type activeRound struct {
	ledger.Round
	book          *BetBook
	multiplier    decimal.Decimal
	bettingEndsAt time.Time
	settlement    *ledger.Settlement
	inflight      sync.WaitGroup
}

// Manager is the round state machine. The game loop goroutine is the only
// writer of round status; PlaceBet and CashOut mutate the bet book under mu.
type Manager struct {
	store    ledger.Store
	fairness *FairnessGenerator
	notifier Notifier
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	round      *activeRound
	nextNumber int64

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewManager(store ledger.Store, notifier Notifier, settings Settings) *Manager {
	if settings.TickInterval <= 0 {
		settings.TickInterval = TICK_INTERVAL
	}
	if settings.BettingWindow <= 0 {
		settings.BettingWindow = BETTING_TIME
	}
	if settings.GrowthRate <= 0 {
		settings.GrowthRate = GROWTH_RATE
	}
	if settings.RetryBudget <= 0 {
		settings.RetryBudget = RETRY_BUDGET
	}
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &Manager{
		store:      store,
		fairness:   NewFairnessGenerator(),
		notifier:   notifier,
		settings:   settings,
		now:        time.Now,
		nextNumber: 1,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start restores any unfinished round from the ledger and launches the loop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.resume(ctx); err != nil {
		return fmt.Errorf("resume round state: %w", err)
	}
	go m.gameLoop()
	return nil
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Done is closed once the game loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) gameLoop() {
	defer close(m.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-m.stopChan:
			logger.Info("Game loop stopped")
			return
		default:
		}

		if err := m.runRound(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("Game loop stopped")
				return
			}
			logger.Error("Round failed", "err", err)
		}

		if m.settings.RoundCooldown > 0 {
			select {
			case <-time.After(m.settings.RoundCooldown):
			case <-m.stopChan:
			}
		}
	}
}

// runRound drives the current round from whatever phase it is in to settled.
func (m *Manager) runRound(ctx context.Context) error {
	if status := m.phase(); status == "" || status == ledger.RoundSettled {
		if err := m.openRound(ctx); err != nil {
			return err
		}
	}

	for {
		switch m.phase() {
		case ledger.RoundBetting:
			if err := m.waitBetting(ctx); err != nil {
				return err
			}
			if err := m.startRunning(ctx); err != nil {
				return err
			}
		case ledger.RoundRunning:
			if err := m.runClock(ctx); err != nil {
				return err
			}
		case ledger.RoundCrashed:
			return m.finishRound(ctx)
		default:
			return nil
		}
	}
}

func (m *Manager) phase() ledger.RoundStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round == nil {
		return ""
	}
	return m.round.Status
}

// openRound commits a seed, fixes the crash point and opens betting.
func (m *Manager) openRound(ctx context.Context) error {
	m.mu.Lock()
	if m.round != nil && m.round.Status != ledger.RoundSettled {
		m.mu.Unlock()
		return errs.Conflict("a round is already open")
	}
	number := m.nextNumber
	m.mu.Unlock()

	c, err := m.fairness.Commit()
	if err != nil {
		return err
	}

	now := m.now()
	r := &activeRound{
		Round: ledger.Round{
			Number:           number,
			Seed:             c.Seed,
			PrevSeed:         c.PrevSeed,
			Digest:           c.Digest,
			Chain:            c.Chain,
			CrashMultiplier:  DeriveCrashMultiplier(c.Seed),
			Status:           ledger.RoundBetting,
			BettingStartedAt: now,
			TotalWagers:      decimal.Zero,
			TotalPayouts:     decimal.Zero,
			HouseProfitLoss:  decimal.Zero,
		},
		book:          NewBetBook(),
		multiplier:    MIN_MULTIPLIER,
		bettingEndsAt: now.Add(m.settings.BettingWindow),
	}

	snapshot := r.Round.Clone()
	if err := m.persistUntilAck(ctx, "create round", func(ctx context.Context) error {
		err := m.store.CreateRound(ctx, &snapshot)
		if errors.Is(err, ledger.ErrDuplicate) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	m.mu.Lock()
	m.round = r
	m.nextNumber = number + 1
	m.mu.Unlock()

	logger.Info("Round opened",
		"round", number,
		"digest", c.Digest[:16]+"...",
		"betting_window", m.settings.BettingWindow,
	)
	logger.Debug("Crash point fixed", "round", number, "crash", r.CrashMultiplier.StringFixed(MULTIPLIER_PLACES))

	m.notifier.Publish(newEvent(EventRoundStart, number, map[string]interface{}{
		"status":          ledger.RoundBetting,
		"digest":          c.Digest,
		"chain":           c.Chain,
		"prev_seed":       c.PrevSeed,
		"betting_ends_at": r.bettingEndsAt,
		"time_left":       m.settings.BettingWindow.Seconds(),
	}, now))
	return nil
}

func (m *Manager) waitBetting(ctx context.Context) error {
	m.mu.Lock()
	wait := m.round.bettingEndsAt.Sub(m.now())
	m.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startRunning closes betting and starts the multiplier clock. It is a no-op
// unless the round is in betting.
func (m *Manager) startRunning(ctx context.Context) error {
	m.mu.Lock()
	r := m.round
	if r == nil || r.Status != ledger.RoundBetting {
		m.mu.Unlock()
		return nil
	}
	r.Status = ledger.RoundRunning
	m.mu.Unlock()

	// Bets accepted before the flip finish their durable write (or are
	// withdrawn from the book) before the clock starts.
	r.inflight.Wait()

	m.mu.Lock()
	now := m.now()
	r.RunningStartedAt = &now
	r.multiplier = MIN_MULTIPLIER
	snapshot := r.Round.Clone()
	bets := r.book.Len()
	m.mu.Unlock()

	logger.Info("Round running", "round", r.Number, "bets", bets, "wagers", snapshot.TotalWagers.String())
	m.notifier.Publish(newEvent(EventRoundRunning, r.Number, map[string]interface{}{
		"status":     ledger.RoundRunning,
		"started_at": now,
		"bets":       bets,
	}, now))

	// The clock runs while the running row is written. finishRound waits for
	// the write so it cannot land over the settlement.
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if err := m.persistUntilAck(ctx, "start round", func(ctx context.Context) error {
			return m.store.UpdateRound(ctx, &snapshot)
		}); err != nil {
			logger.Warn("Running state not persisted", "round", snapshot.Number, "err", err)
		}
	}()
	return nil
}

func (m *Manager) runClock(ctx context.Context) error {
	ticker := time.NewTicker(m.settings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.tick() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tick advances the clock once. Auto cash-outs that the curve has reached are
// honored at their limit before the crash check; on crash the round is
// settled in memory within the same critical section. tick never does I/O.
func (m *Manager) tick() bool {
	var events []Event

	m.mu.Lock()
	r := m.round
	if r == nil || r.Status != ledger.RoundRunning || r.RunningStartedAt == nil {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	live := MultiplierAt(now.Sub(*r.RunningStartedAt), m.settings.GrowthRate)

	for _, bet := range r.book.Pending() {
		if bet.AutoCashout == nil {
			continue
		}
		limit := *bet.AutoCashout
		if limit.GreaterThan(live) || limit.GreaterThan(r.CrashMultiplier) {
			continue
		}
		r.resolveCashout(bet, limit, now)
		events = append(events, newEvent(EventCashout, r.Number, CashoutMessage{
			UserID:     bet.UserID,
			BetID:      bet.ID,
			Multiplier: limit,
			Payout:     bet.Payout,
			Auto:       true,
		}, now))
	}

	crashed := live.GreaterThanOrEqual(r.CrashMultiplier)
	if crashed {
		r.multiplier = r.CrashMultiplier
		r.Status = ledger.RoundCrashed
		r.CrashedAt = &now
		r.settle()

		events = append(events, newEvent(EventCrash, r.Number, CrashMessage{
			Multiplier: r.CrashMultiplier,
			Seed:       r.Seed,
			PrevSeed:   r.PrevSeed,
			Digest:     r.Digest,
		}, now))
	} else {
		r.multiplier = live
		events = append(events, newEvent(EventUpdate, r.Number, map[string]interface{}{
			"multiplier": live,
		}, now))
	}
	number, crash := r.Number, r.CrashMultiplier
	m.mu.Unlock()

	for _, e := range events {
		m.notifier.Publish(e)
	}
	if crashed {
		logger.Info("Round crashed", "round", number, "multiplier", crash.StringFixed(MULTIPLIER_PLACES))
	}
	return crashed
}

// finishRound makes the settlement durable, then marks the round settled.
func (m *Manager) finishRound(ctx context.Context) error {
	m.mu.Lock()
	r := m.round
	if r == nil || r.Status != ledger.RoundCrashed || r.settlement == nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Cash-out writes that raced the crash, and the running row, land before
	// the settlement overwrites them.
	r.inflight.Wait()

	m.mu.Lock()
	now := m.now()
	st := *r.settlement
	st.Round.Status = ledger.RoundSettled
	st.Round.SettledAt = &now
	m.mu.Unlock()

	if err := m.persistUntilAck(ctx, "settle round", func(ctx context.Context) error {
		return m.store.SettleRound(ctx, st)
	}); err != nil {
		return err
	}

	m.mu.Lock()
	r.Status = ledger.RoundSettled
	r.SettledAt = &now
	r.settlement = nil
	for _, bet := range r.book.bets {
		bet.Status = ledger.BetSettled
	}
	m.mu.Unlock()

	logger.Info("Round settled",
		"round", st.Round.Number,
		"wagers", st.Round.TotalWagers.String(),
		"payouts", st.Round.TotalPayouts.String(),
		"house_pnl", st.Round.HouseProfitLoss.String(),
	)
	m.notifier.Publish(newEvent(EventSettled, st.Round.Number, SettledMessage{
		TotalWagers:     st.Round.TotalWagers,
		TotalPayouts:    st.Round.TotalPayouts,
		HouseProfitLoss: st.Round.HouseProfitLoss,
		Allocations:     st.Allocations,
	}, now))
	return nil
}

// persistUntilAck retries a transition write with bounded backoff, logging
// every exhausted budget, until the store acknowledges or ctx ends. The
// in-memory round stays authoritative meanwhile.
func (m *Manager) persistUntilAck(ctx context.Context, op string, fn func(context.Context) error) error {
	for {
		err := m.persist(ctx, op, m.settings.RetryBudget, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("Ledger write exhausted retries, holding round in memory", "op", op, "err", err)
	}
}

func (m *Manager) persist(ctx context.Context, op string, budget time.Duration, fn func(context.Context) error) error {
	return retry.Exponential(ctx, func() error {
		return fn(ctx)
	}, retry.ExponentialConfig{
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  budget,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("Ledger write failed, retrying", "op", op, "err", err, "next", next)
		},
	})
}

// resume reloads the newest unfinished round so a restart continues it
// instead of losing its bets. A running round keeps its original start time,
// so the wall clock catches up on the first tick.
func (m *Manager) resume(ctx context.Context) error {
	latest, err := m.store.LatestRound(ctx)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	m.fairness.Resume(latest.Seed, latest.Chain)

	var bets []ledger.Bet
	if latest.Status != ledger.RoundSettled {
		if bets, err = m.store.RoundBets(ctx, latest.Number); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNumber = latest.Number + 1
	if latest.Status == ledger.RoundSettled {
		return nil
	}

	now := m.now()
	r := &activeRound{
		Round:         latest.Clone(),
		book:          NewBetBook(),
		multiplier:    MIN_MULTIPLIER,
		bettingEndsAt: now.Add(m.settings.BettingWindow),
	}
	for i := range bets {
		b := bets[i]
		if err := r.book.add(&b); err != nil {
			return err
		}
	}
	r.recomputeTotals()

	switch r.Status {
	case ledger.RoundRunning:
		if r.RunningStartedAt == nil {
			r.RunningStartedAt = &now
		}
	case ledger.RoundCrashed:
		r.multiplier = r.CrashMultiplier
		r.settle()
	}
	m.round = r

	logger.Warn("Resumed unfinished round", "round", r.Number, "status", r.Status, "bets", len(bets))
	return nil
}

// CurrentRound returns a copy-safe view of the active round, or nil before
// the first round opens.
func (m *Manager) CurrentRound() *RoundView {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.round
	if r == nil {
		return nil
	}

	c := r.Round.Clone()
	view := &RoundView{
		RoundNumber:       c.Number,
		Status:            c.Status,
		Digest:            c.Digest,
		Chain:             c.Chain,
		BettingStartedAt:  c.BettingStartedAt,
		BettingEndsAt:     r.bettingEndsAt,
		RunningStartedAt:  c.RunningStartedAt,
		CrashedAt:         c.CrashedAt,
		SettledAt:         c.SettledAt,
		CurrentMultiplier: r.multiplier,
		TotalWagers:       c.TotalWagers,
		TotalPayouts:      c.TotalPayouts,
		BetCount:          r.book.Len(),
	}
	if c.Status == ledger.RoundCrashed || c.Status == ledger.RoundSettled {
		crash := c.CrashMultiplier
		view.CrashMultiplier = &crash
		view.Seed = c.Seed
		view.PrevSeed = c.PrevSeed
	}
	return view
}

// GameHistory lists settled rounds newest first with their revealed seeds.
func (m *Manager) GameHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DEFAULT_HISTORY_LIMIT
	}
	if limit > MAX_HISTORY_LIMIT {
		limit = MAX_HISTORY_LIMIT
	}
	rounds, err := m.store.SettledRounds(ctx, limit)
	if err != nil {
		return nil, errs.Persistence("ledger unavailable", err)
	}
	out := make([]HistoryEntry, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, historyEntry(r))
	}
	return out, nil
}
