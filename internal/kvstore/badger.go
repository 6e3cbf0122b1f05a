// Package kvstore is the embedded single-node ledger backed by Badger.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"riskcrash/internal/ledger"
)

const (
	prefixRound      = "round/"
	prefixBet        = "bet/"
	prefixRoundBet   = "roundbet/"
	prefixUserBet    = "userbet/"
	prefixCashout    = "cashout/"
	prefixVault      = "vault/"
	prefixAlloc      = "alloc/"
	prefixWithdrawal = "withdrawal/"
)

// roundRecord persists the fields ledger.Round keeps out of JSON.
type roundRecord struct {
	ledger.Round
	Seed            string          `json:"seed"`
	PrevSeed        string          `json:"prev_seed"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
}

func toRecord(r ledger.Round) roundRecord {
	return roundRecord{Round: r, Seed: r.Seed, PrevSeed: r.PrevSeed, CrashMultiplier: r.CrashMultiplier}
}

func (rec roundRecord) round() ledger.Round {
	r := rec.Round
	r.Seed = rec.Seed
	r.PrevSeed = rec.PrevSeed
	r.CrashMultiplier = rec.CrashMultiplier
	return r
}

// BadgerStore implements ledger.Store on one Badger database. Every Store
// method runs in a single Badger transaction.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ ledger.Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the ledger at path. An empty path keeps
// the data in memory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}

	s := &BadgerStore{db: db, now: time.Now}
	if err := s.seedVaults(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) seedVaults() error {
	return s.db.Update(func(txn *badger.Txn) error {
		for t, v := range ledger.EmptyVaults(s.now()) {
			_, err := txn.Get(vaultKey(t))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := putJSON(txn, vaultKey(t), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func roundKey(n int64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixRound, n)) }
func betKey(id string) []byte { return []byte(prefixBet + id) }
func vaultKey(t ledger.VaultType) []byte {
	return []byte(prefixVault + string(t))
}
func allocKey(n int64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixAlloc, n)) }

func roundBetKey(n int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixRoundBet, n, id))
}

func userBetKey(n int64, user string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixUserBet, n, user))
}

func cashoutKey(n int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixCashout, n, id))
}

func withdrawalKey(w ledger.Withdrawal) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixWithdrawal, w.CreatedAt.UnixNano(), w.ID))
}

func sortByPlacement(bets []ledger.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].PlacedAt.Equal(bets[j].PlacedAt) {
			return bets[i].PlacedAt.Before(bets[j].PlacedAt)
		}
		return bets[i].ID < bets[j].ID
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// eachRound walks rounds newest first until fn returns false.
func eachRound(txn *badger.Txn, fn func(ledger.Round) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = []byte(prefixRound)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefixRound + "\xff")); it.Valid(); it.Next() {
		var rec roundRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if !fn(rec.round()) {
			return nil
		}
	}
	return nil
}

func (s *BadgerStore) CreateRound(_ context.Context, r *ledger.Round) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, roundKey(r.Number))
		if err != nil {
			return err
		}
		if ok {
			return ledger.ErrDuplicate
		}
		return putJSON(txn, roundKey(r.Number), toRecord(*r))
	})
}

func updateRound(txn *badger.Txn, r ledger.Round) error {
	ok, err := exists(txn, roundKey(r.Number))
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNotFound
	}
	return putJSON(txn, roundKey(r.Number), toRecord(r))
}

func (s *BadgerStore) UpdateRound(_ context.Context, r *ledger.Round) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return updateRound(txn, *r)
	})
}

func (s *BadgerStore) GetRound(_ context.Context, number int64) (*ledger.Round, error) {
	var rec roundRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, roundKey(number), &rec)
	})
	if err != nil {
		return nil, err
	}
	r := rec.round()
	return &r, nil
}

func (s *BadgerStore) findRound(match func(ledger.Round) bool) (*ledger.Round, error) {
	var found *ledger.Round
	err := s.db.View(func(txn *badger.Txn) error {
		return eachRound(txn, func(r ledger.Round) bool {
			if match(r) {
				found = &r
				return false
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ledger.ErrNotFound
	}
	return found, nil
}

func (s *BadgerStore) CurrentRound(_ context.Context) (*ledger.Round, error) {
	return s.findRound(func(r ledger.Round) bool { return r.Status != ledger.RoundSettled })
}

func (s *BadgerStore) LatestRound(_ context.Context) (*ledger.Round, error) {
	return s.findRound(func(ledger.Round) bool { return true })
}

func (s *BadgerStore) SettledRounds(_ context.Context, limit int) ([]ledger.Round, error) {
	out := make([]ledger.Round, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return eachRound(txn, func(r ledger.Round) bool {
			if r.Status == ledger.RoundSettled {
				out = append(out, r)
			}
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}

func (s *BadgerStore) InsertBet(_ context.Context, b *ledger.Bet) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, roundKey(b.RoundNumber))
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrNotFound
		}
		for _, key := range [][]byte{betKey(b.ID), userBetKey(b.RoundNumber, b.UserID)} {
			taken, err := exists(txn, key)
			if err != nil {
				return err
			}
			if taken {
				return ledger.ErrDuplicate
			}
		}
		return writeBet(txn, *b)
	})
}

func writeBet(txn *badger.Txn, b ledger.Bet) error {
	if err := putJSON(txn, betKey(b.ID), b); err != nil {
		return err
	}
	if err := txn.Set(roundBetKey(b.RoundNumber, b.ID), nil); err != nil {
		return err
	}
	return txn.Set(userBetKey(b.RoundNumber, b.UserID), []byte(b.ID))
}

func (s *BadgerStore) UpdateBet(_ context.Context, b *ledger.Bet) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, betKey(b.ID))
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrNotFound
		}
		return putJSON(txn, betKey(b.ID), b)
	})
}

func (s *BadgerStore) RecordCashout(_ context.Context, c ledger.Cashout) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, betKey(c.BetID))
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrNotFound
		}
		key := cashoutKey(c.RoundNumber, c.BetID)
		if done, err := exists(txn, key); err != nil || done {
			return err
		}
		return putJSON(txn, key, c)
	})
}

func roundCashouts(txn *badger.Txn, roundNumber int64) ([]ledger.Cashout, error) {
	var out []ledger.Cashout
	prefix := []byte(fmt.Sprintf("%s%020d/", prefixCashout, roundNumber))
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var c ledger.Cashout
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		}); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *BadgerStore) RoundBets(_ context.Context, roundNumber int64) ([]ledger.Bet, error) {
	var out []ledger.Bet
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if out, err = roundBets(txn, roundNumber); err != nil {
			return err
		}
		cashouts, err := roundCashouts(txn, roundNumber)
		if err != nil {
			return err
		}
		ledger.ApplyCashouts(out, cashouts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByPlacement(out)
	return out, nil
}

func roundBets(txn *badger.Txn, roundNumber int64) ([]ledger.Bet, error) {
	out := make([]ledger.Bet, 0)
	prefix := []byte(fmt.Sprintf("%s%020d/", prefixRoundBet, roundNumber))
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id := string(it.Item().Key()[len(prefix):])
		var b ledger.Bet
		if err := getJSON(txn, betKey(id), &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// SettleRound writes the settlement atomically. Vault credits are applied
// only the first time an allocation record for the round is written.
func (s *BadgerStore) SettleRound(_ context.Context, st ledger.Settlement) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := updateRound(txn, st.Round); err != nil {
			return err
		}
		for _, b := range st.Bets {
			if err := writeBet(txn, b); err != nil {
				return err
			}
		}

		done, err := exists(txn, allocKey(st.Round.Number))
		if err != nil || done {
			return err
		}
		now := s.now()
		for _, a := range st.Allocations {
			var v ledger.Vault
			if err := getJSON(txn, vaultKey(a.Vault), &v); err != nil {
				return err
			}
			ledger.CreditVault(&v, a.Amount, now)
			if err := putJSON(txn, vaultKey(a.Vault), v); err != nil {
				return err
			}
		}
		allocs := st.Allocations
		if allocs == nil {
			allocs = []ledger.VaultAllocation{}
		}
		return putJSON(txn, allocKey(st.Round.Number), allocs)
	})
}

func (s *BadgerStore) Vaults(_ context.Context) ([]ledger.Vault, error) {
	out := make([]ledger.Vault, 0, len(ledger.VaultTypes))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, t := range ledger.VaultTypes {
			var v ledger.Vault
			if err := getJSON(txn, vaultKey(t), &v); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Allocations(_ context.Context, roundNumber int64) ([]ledger.VaultAllocation, error) {
	var out []ledger.VaultAllocation
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, allocKey(roundNumber), &out)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return err
	})
	return out, err
}

func (s *BadgerStore) Withdraw(_ context.Context, w ledger.Withdrawal) (*ledger.Vault, error) {
	var v ledger.Vault
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, vaultKey(w.Vault), &v); err != nil {
			return err
		}
		if v.Balance.LessThan(w.Amount) {
			return ledger.ErrInsufficientFunds
		}
		v.Balance = v.Balance.Sub(w.Amount)
		v.UpdatedAt = w.CreatedAt
		if err := putJSON(txn, vaultKey(w.Vault), v); err != nil {
			return err
		}
		return putJSON(txn, withdrawalKey(w), w)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BadgerStore) Withdrawals(_ context.Context, limit int) ([]ledger.Withdrawal, error) {
	out := make([]ledger.Withdrawal, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixWithdrawal)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixWithdrawal + "\xff")); it.Valid(); it.Next() {
			var w ledger.Withdrawal
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); err != nil {
				return err
			}
			out = append(out, w)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Leaderboard(_ context.Context, limit int) ([]ledger.LeaderboardEntry, error) {
	var bets []ledger.Bet
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixBet)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var b ledger.Bet
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return err
			}
			bets = append(bets, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger.BuildLeaderboard(bets, limit), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
