// Package lifecycle derives a bet's status and early-bonus eligibility from
// its timestamps. Nothing here is stored: a bet closes the instant its close
// time elapses, with no scheduled job involved.
//
// Admission, resolution and the read projections all call into this package
// so the clock is evaluated one way everywhere.
package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/officebet/pool-engine/internal/model"
)

// BaseWeight is the weight of a wager placed outside the early window.
var BaseWeight = decimal.NewFromInt(1)

// Status returns the bet's status at now.
func Status(now time.Time, bet *model.Bet) model.Status {
	if bet.IsResolved() {
		return model.StatusResolved
	}
	if !now.Before(bet.CloseTime) {
		return model.StatusClosed
	}
	return model.StatusOpen
}

// IsEarly reports whether now falls in the first half of the betting window.
// The half-window is floored to the nanosecond, keeping the window
// conservative for odd durations.
func IsEarly(now time.Time, bet *model.Bet) bool {
	window := bet.CloseTime.Sub(bet.CreatedAt)
	if window <= 0 {
		return false
	}
	return now.Sub(bet.CreatedAt) < window/2
}

// Weight returns the multiplier for a wager placed at now: bonus inside the
// early window, BaseWeight otherwise.
func Weight(now time.Time, bet *model.Bet, bonus decimal.Decimal) decimal.Decimal {
	if IsEarly(now, bet) {
		return bonus
	}
	return BaseWeight
}
