package game

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MULTIPLIER_PLACES is the precision of every published multiplier.
const MULTIPLIER_PLACES = 2

// MultiplierAt is the server-side curve exp(k·t), truncated to hundredths.
// Clients may draw their own curve but only this value settles bets.
func MultiplierAt(elapsed time.Duration, growthRate float64) decimal.Decimal {
	if elapsed <= 0 {
		return MIN_MULTIPLIER
	}
	m := decimal.NewFromFloat(math.Exp(growthRate * elapsed.Seconds())).Truncate(MULTIPLIER_PLACES)
	if m.LessThan(MIN_MULTIPLIER) {
		return MIN_MULTIPLIER
	}
	return m
}

// TimeToReach is the elapsed running time at which the curve reaches m.
func TimeToReach(m decimal.Decimal, growthRate float64) time.Duration {
	f, _ := m.Float64()
	if f <= 1 || growthRate <= 0 {
		return 0
	}
	return time.Duration(math.Log(f) / growthRate * float64(time.Second))
}
