// Package stats serves read-only projections of the ledger: the payout
// leaderboard and the headline numbers shown next to the game.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
)

const (
	DEFAULT_LEADERBOARD_LIMIT = 100
	MAX_LEADERBOARD_LIMIT     = 1000
	DEFAULT_CACHE_TTL         = 5 * time.Second

	keyStatistics = "crash:stats:summary"
	keyLeaderPfx  = "crash:stats:leaderboard:"
)

// Cache is the subset of the Redis service the aggregator reads through.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Statistics struct {
	TotalBurned           decimal.Decimal `json:"total_risk_burned"`
	TotalYieldDistributed decimal.Decimal `json:"total_yield_distributed"`
	HousePoolBalance      decimal.Decimal `json:"house_pool_balance"`
	RoundsPlayed          int64           `json:"rounds_played"`
}

type Aggregator struct {
	store ledger.Store
	cache Cache
	ttl   time.Duration
}

// NewAggregator builds the projection. A nil cache reads the store on every
// call.
func NewAggregator(store ledger.Store, cache Cache, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DEFAULT_CACHE_TTL
	}
	return &Aggregator{store: store, cache: cache, ttl: ttl}
}

// Leaderboard ranks users by total payout over settled bets.
func (a *Aggregator) Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DEFAULT_LEADERBOARD_LIMIT
	}
	if limit > MAX_LEADERBOARD_LIMIT {
		limit = MAX_LEADERBOARD_LIMIT
	}

	key := fmt.Sprintf("%s%d", keyLeaderPfx, limit)
	var out []ledger.LeaderboardEntry
	if a.cached(ctx, key, &out) {
		return out, nil
	}

	out, err := a.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, errs.Persistence("ledger unavailable", err)
	}
	if out == nil {
		out = []ledger.LeaderboardEntry{}
	}
	a.remember(ctx, key, out)
	return out, nil
}

func (a *Aggregator) Statistics(ctx context.Context) (*Statistics, error) {
	var out Statistics
	if a.cached(ctx, keyStatistics, &out) {
		return &out, nil
	}

	vaults, err := a.store.Vaults(ctx)
	if err != nil {
		return nil, errs.Persistence("ledger unavailable", err)
	}
	for _, v := range vaults {
		switch v.Type {
		case ledger.VaultBurn:
			out.TotalBurned = v.TotalDistributed
		case ledger.VaultYield:
			out.TotalYieldDistributed = v.TotalDistributed
		case ledger.VaultHouse:
			out.HousePoolBalance = v.Balance
		}
	}

	latest, err := a.store.LatestRound(ctx)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
	case err != nil:
		return nil, errs.Persistence("ledger unavailable", err)
	default:
		// Round numbers are dense, so everything below an open round settled.
		out.RoundsPlayed = latest.Number
		if latest.Status != ledger.RoundSettled {
			out.RoundsPlayed--
		}
	}

	a.remember(ctx, keyStatistics, out)
	return &out, nil
}

func (a *Aggregator) cached(ctx context.Context, key string, v any) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.GetJSON(ctx, key, v)
	if err != nil {
		logger.Debug("Stats cache read failed", "key", key, "err", err)
		return false
	}
	return ok
}

func (a *Aggregator) remember(ctx context.Context, key string, v any) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SetJSON(ctx, key, v, a.ttl); err != nil {
		logger.Debug("Stats cache write failed", "key", key, "err", err)
	}
}
