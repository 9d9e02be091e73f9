// Package notify delivers claim and lifecycle transitions to participants.
//
// Delivery is at-most-once per transition: the Dispatcher records an
// acknowledgement key before fanning out, so a transition observed by both a
// request and the sweeper alerts once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/logger"
)

// Kind names a transition worth telling someone about.
type Kind string

const (
	KindClaimEligible    Kind = "CLAIM_ELIGIBLE"
	KindClaimExpired     Kind = "CLAIM_EXPIRED"
	KindClaimed          Kind = "CLAIMED"
	KindUnclaimed        Kind = "UNCLAIMED"
	KindAuctionCompleted Kind = "AUCTION_COMPLETED"
	KindAuctionCancelled Kind = "AUCTION_CANCELLED"
)

// Event is one transition.
type Event struct {
	Kind          Kind       `json:"kind"`
	AuctionID     string     `json:"auction_id"`
	ParticipantID string     `json:"participant_id,omitempty"`
	Rank          int        `json:"rank,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	At            time.Time  `json:"at"`
}

// Key identifies the transition for acknowledgement: auction, rank and kind.
func (e Event) Key() string {
	return fmt.Sprintf("%s|%d|%s", e.AuctionID, e.Rank, e.Kind)
}

// Notifier delivers an event somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Acker records acknowledgement keys. storage.Store satisfies it.
type Acker interface {
	MarkNotified(ctx context.Context, key string) (bool, error)
}

// Dispatcher fans an event out to notifiers once per key.
type Dispatcher struct {
	acks      Acker
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(acks Acker, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{acks: acks, notifiers: notifiers}
}

// Dispatch delivers ev unless its key was already acknowledged. It reports
// whether this call was the one that delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (bool, error) {
	first, err := d.acks.MarkNotified(ctx, ev.Key())
	if err != nil {
		return false, fmt.Errorf("record notification ack: %w", err)
	}
	if !first {
		return false, nil
	}

	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			logger.Errorf("Notification %s for auction %s failed: %v", ev.Kind, ev.AuctionID, err)
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// LogNotifier writes events to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	if ev.ParticipantID != "" {
		logger.Infof("Notify %s: auction %s rank %d participant %s", ev.Kind, ev.AuctionID, ev.Rank, ev.ParticipantID)
		return nil
	}
	logger.Infof("Notify %s: auction %s", ev.Kind, ev.AuctionID)
	return nil
}
