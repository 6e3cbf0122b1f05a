package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It backs the "memory" driver for
// local play and the engine tests.
type MemoryStore struct {
	mu          sync.RWMutex
	rounds      map[int64]*Round
	bets        map[string]*Bet
	roundBets   map[int64][]string
	cashouts    map[int64][]Cashout
	vaults      map[VaultType]*Vault
	allocations map[int64][]VaultAllocation
	withdrawals []Withdrawal
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:      make(map[int64]*Round),
		bets:        make(map[string]*Bet),
		roundBets:   make(map[int64][]string),
		cashouts:    make(map[int64][]Cashout),
		vaults:      EmptyVaults(time.Now()),
		allocations: make(map[int64][]VaultAllocation),
		now:         time.Now,
	}
}

func (s *MemoryStore) CreateRound(_ context.Context, round *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[round.Number]; ok {
		return ErrDuplicate
	}
	r := round.Clone()
	s.rounds[round.Number] = &r
	return nil
}

func (s *MemoryStore) UpdateRound(_ context.Context, round *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[round.Number]; !ok {
		return ErrNotFound
	}
	r := round.Clone()
	s.rounds[round.Number] = &r
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, number int64) (*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[number]
	if !ok {
		return nil, ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *MemoryStore) CurrentRound(_ context.Context) (*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cur *Round
	for _, r := range s.rounds {
		if r.Status == RoundSettled {
			continue
		}
		if cur == nil || r.Number > cur.Number {
			cur = r
		}
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	c := cur.Clone()
	return &c, nil
}

func (s *MemoryStore) LatestRound(_ context.Context) (*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Round
	for _, r := range s.rounds {
		if latest == nil || r.Number > latest.Number {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := latest.Clone()
	return &c, nil
}

func (s *MemoryStore) SettledRounds(_ context.Context, limit int) ([]Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Round, 0)
	for _, r := range s.rounds {
		if r.Status == RoundSettled {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertBet(_ context.Context, bet *Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[bet.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.rounds[bet.RoundNumber]; !ok {
		return ErrNotFound
	}
	b := bet.Clone()
	s.bets[bet.ID] = &b
	s.roundBets[bet.RoundNumber] = append(s.roundBets[bet.RoundNumber], bet.ID)
	return nil
}

func (s *MemoryStore) UpdateBet(_ context.Context, bet *Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[bet.ID]; !ok {
		return ErrNotFound
	}
	b := bet.Clone()
	s.bets[bet.ID] = &b
	return nil
}

func (s *MemoryStore) RecordCashout(_ context.Context, c Cashout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[c.BetID]; !ok {
		return ErrNotFound
	}
	for _, prev := range s.cashouts[c.RoundNumber] {
		if prev.BetID == c.BetID {
			return nil
		}
	}
	s.cashouts[c.RoundNumber] = append(s.cashouts[c.RoundNumber], c)
	return nil
}

func (s *MemoryStore) RoundBets(_ context.Context, roundNumber int64) ([]Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.roundBets[roundNumber]
	out := make([]Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bets[id].Clone())
	}
	ApplyCashouts(out, s.cashouts[roundNumber])
	return out, nil
}

func (s *MemoryStore) SettleRound(_ context.Context, st Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[st.Round.Number]; !ok {
		return ErrNotFound
	}
	// Idempotent: a retried settlement must not credit the vaults twice.
	if _, done := s.allocations[st.Round.Number]; !done {
		now := s.now()
		for _, a := range st.Allocations {
			CreditVault(s.vaults[a.Vault], a.Amount, now)
		}
		s.allocations[st.Round.Number] = append([]VaultAllocation(nil), st.Allocations...)
	}

	r := st.Round.Clone()
	s.rounds[r.Number] = &r
	for _, bet := range st.Bets {
		b := bet.Clone()
		if _, ok := s.bets[b.ID]; !ok {
			s.roundBets[b.RoundNumber] = append(s.roundBets[b.RoundNumber], b.ID)
		}
		s.bets[b.ID] = &b
	}
	return nil
}

func (s *MemoryStore) Vaults(_ context.Context) ([]Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vault, 0, len(VaultTypes))
	for _, t := range VaultTypes {
		out = append(out, *s.vaults[t])
	}
	return out, nil
}

func (s *MemoryStore) Allocations(_ context.Context, roundNumber int64) ([]VaultAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]VaultAllocation(nil), s.allocations[roundNumber]...), nil
}

func (s *MemoryStore) Withdraw(_ context.Context, w Withdrawal) (*Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[w.Vault]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Balance.LessThan(w.Amount) {
		return nil, ErrInsufficientFunds
	}
	v.Balance = v.Balance.Sub(w.Amount)
	v.UpdatedAt = w.CreatedAt
	s.withdrawals = append(s.withdrawals, w)
	out := *v
	return &out, nil
}

func (s *MemoryStore) Withdrawals(_ context.Context, limit int) ([]Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Withdrawal, 0, len(s.withdrawals))
	for i := len(s.withdrawals) - 1; i >= 0; i-- {
		out = append(out, s.withdrawals[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Bet, 0, len(s.bets))
	for _, b := range s.bets {
		all = append(all, *b)
	}
	return BuildLeaderboard(all, limit), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
