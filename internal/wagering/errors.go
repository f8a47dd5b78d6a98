package wagering

import (
	"errors"

	"github.com/officebet/pool-engine/internal/lock"
)

var (
	// ErrBetNotFound is returned when the bet does not exist.
	ErrBetNotFound = errors.New("wagering: bet not found")

	// ErrOutcomeNotFound is returned when the outcome is not part of the bet.
	ErrOutcomeNotFound = errors.New("wagering: outcome not found")

	// ErrBetNotOpen is returned when a wager arrives after close time, or a
	// resolution arrives before it.
	ErrBetNotOpen = errors.New("wagering: bet not open")

	// ErrAlreadyResolved is returned when the bet already has a winner.
	ErrAlreadyResolved = errors.New("wagering: bet already resolved")

	// ErrNotCreator is returned when someone other than the creator resolves.
	ErrNotCreator = errors.New("wagering: only the bet creator can resolve")

	// ErrInvalidAmount is returned for a stake below the minimum wager.
	ErrInvalidAmount = errors.New("wagering: invalid wager amount")

	// ErrInsufficientBalance is returned when the stake exceeds the balance.
	ErrInsufficientBalance = errors.New("wagering: insufficient balance")

	// ErrValidation is returned for malformed bet drafts, usernames and
	// query parameters.
	ErrValidation = errors.New("wagering: validation failed")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("wagering: account not found")

	// ErrConflict is returned when a username is already taken.
	ErrConflict = errors.New("wagering: conflict")
)

// Kind returns the stable code string for err, for transports and metrics.
// Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBetNotFound):
		return "bet_not_found"
	case errors.Is(err, ErrOutcomeNotFound):
		return "outcome_not_found"
	case errors.Is(err, ErrBetNotOpen):
		return "bet_not_open"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrNotCreator):
		return "not_creator"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, lock.ErrLockTimeout):
		return "busy"
	}
	return "internal"
}
