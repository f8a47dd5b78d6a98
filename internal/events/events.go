// Package events fans committed ledger changes out to live consumers: the
// WebSocket feed for browsers and a Kafka topic for downstream services.
//
// Publishing is best effort and always happens after the store transaction
// commits. A failed publish is logged by the caller and never rolls back the
// wager or resolution that produced it.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	TypeBetCreated  = "bet_created"
	TypeWagerPlaced = "wager_placed"
	TypeBetResolved = "bet_resolved"
)

// OutcomePool is the post-change pool snapshot of one outcome.
type OutcomePool struct {
	OutcomeID     string `json:"outcome_id"`
	PoolTotal     int64  `json:"pool_total"`
	WeightedTotal string `json:"weighted_total"`
	Odds          string `json:"odds"`
}

// Event is a JSON message describing one committed change to a bet.
type Event struct {
	Type      string        `json:"type"`
	BetID     string        `json:"bet_id"`
	AccountID string        `json:"account_id,omitempty"`
	WagerID   string        `json:"wager_id,omitempty"`
	OutcomeID string        `json:"outcome_id,omitempty"`
	Amount    int64         `json:"amount,omitempty"`
	Weight    string        `json:"weight,omitempty"`
	TotalPool int64         `json:"total_pool"`
	Pools     []OutcomePool `json:"pools,omitempty"`
	Paid      int64         `json:"paid,omitempty"`
	At        time.Time     `json:"at"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
