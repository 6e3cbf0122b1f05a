package game

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// CRASH_MODULUS reduces the hash prefix; the result is read as hundredths.
	CRASH_MODULUS = 10000
	SEED_BYTES    = 32
)

var MIN_MULTIPLIER = decimal.NewFromInt(1)

// Commitment is published before a round accepts bets. Only Digest and Chain
// are public until the round crashes; Seed is revealed afterwards.
type Commitment struct {
	Seed     string
	PrevSeed string
	Digest   string
	Chain    string
}

// FairnessGenerator hands out one commitment per round and links each to the
// previous round's seed and chain value.
type FairnessGenerator struct {
	mu        sync.Mutex
	prevSeed  string
	prevChain string
	newSeed   func() (string, error)
}

func NewFairnessGenerator() *FairnessGenerator {
	return &FairnessGenerator{newSeed: GenerateSeed}
}

// Resume continues the chain after the last round known to the ledger.
func (g *FairnessGenerator) Resume(prevSeed, prevChain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prevSeed = prevSeed
	g.prevChain = prevChain
}

func (g *FairnessGenerator) Commit() (Commitment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seed, err := g.newSeed()
	if err != nil {
		return Commitment{}, fmt.Errorf("generate seed: %w", err)
	}
	digest := CommitmentDigest(seed, g.prevSeed)
	c := Commitment{
		Seed:     seed,
		PrevSeed: g.prevSeed,
		Digest:   digest,
		Chain:    ChainLink(g.prevChain, digest),
	}
	g.prevSeed = c.Seed
	g.prevChain = c.Chain
	return c, nil
}

// DeriveCrashMultiplier maps a seed to its crash point: the first 32 bits of
// SHA-256(seed), reduced mod 10000 and read as hundredths, floored at 1.00x.
// About 1% of seeds land below 1.00 and crash instantly; the rest spread
// evenly over [1.00, 99.99].
func DeriveCrashMultiplier(seed string) decimal.Decimal {
	sum := sha256.Sum256([]byte(seed))
	prefix := hex.EncodeToString(sum[:])[:8]
	v, _ := strconv.ParseUint(prefix, 16, 32)

	m := decimal.New(int64(v%CRASH_MODULUS), -2)
	if m.LessThan(MIN_MULTIPLIER) {
		return MIN_MULTIPLIER
	}
	return m
}

// CommitmentDigest is SHA-256(seed ‖ prevSeed), hex encoded. It does not
// reveal the crash point, which hashes the seed alone.
func CommitmentDigest(seed, prevSeed string) string {
	sum := sha256.Sum256([]byte(seed + prevSeed))
	return hex.EncodeToString(sum[:])
}

// ChainLink folds a round's digest into the running chain value.
func ChainLink(prevChain, digest string) string {
	sum := sha256.Sum256([]byte(prevChain + digest))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether digest commits to seed following prevSeed.
func Verify(seed, prevSeed, digest string) bool {
	want := CommitmentDigest(seed, prevSeed)
	return subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1
}

func VerifyChain(prevChain, digest, chain string) bool {
	want := ChainLink(prevChain, digest)
	return subtle.ConstantTimeCompare([]byte(want), []byte(chain)) == 1
}

// VerifyRound checks a revealed round end to end: the commitment and the
// published crash point.
func VerifyRound(seed, prevSeed, digest string, claimed decimal.Decimal) bool {
	return Verify(seed, prevSeed, digest) && DeriveCrashMultiplier(seed).Equal(claimed)
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() (string, error) {
	b := make([]byte, SEED_BYTES)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
