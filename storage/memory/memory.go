// Package memory is an in-process Store backed by maps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/storage"
)

type bidKey struct {
	auctionID     string
	participantID string
	round         int
}

// Store keeps every record in memory. The zero value is not usable; call New.
type Store struct {
	mu           sync.RWMutex
	auctions     map[string]core.Auction
	participants map[string]map[string]core.Participant
	bids         map[string][]core.Bid
	bidSlots     map[bidKey]struct{}
	winners      map[string]core.WinnerRecord
	claimEvents  map[string][]core.ClaimEvent
	payments     map[string]storage.Payment
	notified     map[string]struct{}
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		auctions:     make(map[string]core.Auction),
		participants: make(map[string]map[string]core.Participant),
		bids:         make(map[string][]core.Bid),
		bidSlots:     make(map[bidKey]struct{}),
		winners:      make(map[string]core.WinnerRecord),
		claimEvents:  make(map[string][]core.ClaimEvent),
		payments:     make(map[string]storage.Payment),
		notified:     make(map[string]struct{}),
	}
}

func (s *Store) CreateAuction(ctx context.Context, a core.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.auctions[a.ID]; exists {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	s.auctions[a.ID] = a
	return nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (core.Auction, error) {
	if err := ctx.Err(); err != nil {
		return core.Auction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return core.Auction{}, core.ErrAuctionNotFound
	}
	return a, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]core.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) MarkCancelled(ctx context.Context, id string, at time.Time, by string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return core.ErrAuctionNotFound
	}
	if a.CancelledAt != nil {
		return nil
	}
	a.CancelledAt = &at
	a.CancelledBy = by
	s.auctions[id] = a
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p core.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[p.AuctionID]; !ok {
		return core.ErrAuctionNotFound
	}
	byUser, ok := s.participants[p.AuctionID]
	if !ok {
		byUser = make(map[string]core.Participant)
		s.participants[p.AuctionID] = byUser
	}
	byUser[p.UserID] = p
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, auctionID, userID string) (core.Participant, error) {
	if err := ctx.Err(); err != nil {
		return core.Participant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[auctionID][userID]
	if !ok {
		return core.Participant{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, auctionID string) ([]core.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Participant, 0, len(s.participants[auctionID]))
	for _, p := range s.participants[auctionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) AppendBid(ctx context.Context, b core.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bidKey{auctionID: b.AuctionID, participantID: b.ParticipantID, round: b.Round}
	if _, taken := s.bidSlots[key]; taken {
		return core.ErrDuplicateBid
	}
	s.bidSlots[key] = struct{}{}
	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], b)
	return nil
}

func (s *Store) ListBids(ctx context.Context, auctionID string) ([]core.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Bid, len(s.bids[auctionID]))
	copy(out, s.bids[auctionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Store) SaveWinners(ctx context.Context, record core.WinnerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.winners[record.AuctionID]; exists {
		return core.ErrAlreadyResolved
	}
	s.winners[record.AuctionID] = record
	return nil
}

func (s *Store) GetWinners(ctx context.Context, auctionID string) (core.WinnerRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.WinnerRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.winners[auctionID]
	if !ok {
		return core.WinnerRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) AppendClaimEvent(ctx context.Context, ev core.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimEvents[ev.AuctionID] = append(s.claimEvents[ev.AuctionID], ev)
	return nil
}

func (s *Store) ListClaimEvents(ctx context.Context, auctionID string) ([]core.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ClaimEvent, len(s.claimEvents[auctionID]))
	copy(out, s.claimEvents[auctionID])
	return out, nil
}

func (s *Store) SavePayment(ctx context.Context, p storage.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.Reference] = p
	return nil
}

func (s *Store) GetPayment(ctx context.Context, reference string) (storage.Payment, error) {
	if err := ctx.Err(); err != nil {
		return storage.Payment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[reference]
	if !ok {
		return storage.Payment{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) SettlePayment(ctx context.Context, reference string, settlement storage.Settlement, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return false, storage.ErrNotFound
	}
	if p.Settled() {
		return false, nil
	}
	p.Settlement = settlement
	p.SettledAt = &at
	s.payments[reference] = p
	return true, nil
}

func (s *Store) MarkNotified(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.notified[key]; seen {
		return false, nil
	}
	s.notified[key] = struct{}{}
	return true, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
