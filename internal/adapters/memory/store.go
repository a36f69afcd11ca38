// Package memory provides an in-process ledger host used for tests, local runs
// and as the reference behavior for the Postgres adapter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

var (
	_ ports.LedgerStore      = (*Store)(nil)
	_ ports.Accounts         = (*Store)(nil)
	_ ports.OutboxRepository = (*Store)(nil)
)

const (
	// MaxDeliveryAttempts bounds how often a failed outbox event is requeued.
	MaxDeliveryAttempts = 5
	// RetryBackoff is the delay per attempt before a failed event is offered
	// again.
	RetryBackoff = time.Second
)

type outboxStatus int

const (
	outboxQueued outboxStatus = iota
	outboxRunning
	outboxDelivered
	outboxFailed
)

type outboxItem struct {
	ev          domain.Event
	status      outboxStatus
	reason      string
	availableAt time.Time
}

// Store keeps committed state behind mu. Writers additionally hold the
// per-bounty or per-escrow lock for the whole transaction, so transactions on
// different bounties run in parallel and only serialize for the commit itself.
type Store struct {
	mu         sync.RWMutex
	bounties   map[uint64]domain.Bounty
	scientists map[domain.Address]domain.ScientistProfile
	escrows    map[uint64]domain.EscrowEntry
	balances   map[domain.Address]uint64
	outbox     []*outboxItem
	nextBounty uint64
	nextEscrow uint64
	nextSeq    int64
	clock      clockwork.Clock

	bountyLocks lockTable
	escrowLocks lockTable
}

type Option func(*Store)

// WithClock sets the clock used for outbox retry backoff.
func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func New(opts ...Option) *Store {
	s := &Store{
		bounties:    make(map[uint64]domain.Bounty),
		scientists:  make(map[domain.Address]domain.ScientistProfile),
		escrows:     make(map[uint64]domain.EscrowEntry),
		balances:    make(map[domain.Address]uint64),
		bountyLocks: lockTable{locks: make(map[uint64]*refLock)},
		escrowLocks: lockTable{locks: make(map[uint64]*refLock)},
		clock:       clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lockTable hands out per-id mutexes. An id is forgotten once no transaction
// holds or waits on it, so lookups of unknown ids leave nothing behind.
type lockTable struct {
	mu    sync.Mutex
	locks map[uint64]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// acquire blocks until id is locked and returns the matching release.
func (lt *lockTable) acquire(id uint64) func() {
	lt.mu.Lock()
	l, ok := lt.locks[id]
	if !ok {
		l = &refLock{}
		lt.locks[id] = l
	}
	l.refs++
	lt.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		lt.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(lt.locks, id)
		}
		lt.mu.Unlock()
	}
}

func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.locks)
}

// Update runs fn in a transaction. Writes are buffered in the transaction and
// applied together at commit; balance checks are repeated at commit because
// another bounty's transaction may have spent from a shared account meanwhile.
func (s *Store) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, debit := range tx.debits {
		if s.balances[addr]+tx.credits[addr] < debit {
			return fmt.Errorf("%s: %w", addr.Hex(), domain.ErrInsufficientFunds)
		}
	}
	for addr := range unionKeys(tx.debits, tx.credits) {
		s.balances[addr] = s.balances[addr] + tx.credits[addr] - tx.debits[addr]
	}
	for id, b := range tx.bounties {
		s.bounties[id] = b.Clone()
	}
	for addr, p := range tx.scientists {
		s.scientists[addr] = p
	}
	for id, e := range tx.escrows {
		s.escrows[id] = e
	}
	for _, r := range tx.events {
		s.nextSeq++
		s.outbox = append(s.outbox, &outboxItem{ev: domain.Event{Seq: s.nextSeq, Receipt: r}})
	}
	return nil
}

func unionKeys(a, b map[domain.Address]uint64) map[domain.Address]struct{} {
	out := make(map[domain.Address]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func (s *Store) GetBounty(_ context.Context, id uint64) (domain.Bounty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bounties[id]
	if !ok {
		return domain.Bounty{}, domain.ErrBountyNotFound
	}
	return b.Clone(), nil
}

func (s *Store) GetClaim(_ context.Context, bountyID uint64, index uint32) (domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bounties[bountyID]
	if !ok {
		return domain.Claim{}, domain.ErrBountyNotFound
	}
	if int(index) >= len(b.Claims) {
		return domain.Claim{}, domain.ErrClaimNotFound
	}
	return b.Claims[index], nil
}

func (s *Store) GetScientist(_ context.Context, addr domain.Address) (domain.ScientistProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.scientists[addr]
	return p, ok, nil
}

func (s *Store) GetEscrowEntry(_ context.Context, id uint64) (domain.EscrowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return domain.EscrowEntry{}, domain.ErrEscrowNotFound
	}
	return e, nil
}

func (s *Store) ListEscrowEntries(_ context.Context, bountyID uint64) ([]domain.EscrowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EscrowEntry
	for _, e := range s.escrows {
		if e.BountyID == bountyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Balance returns the committed host balance of addr.
func (s *Store) Balance(_ context.Context, addr domain.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[addr], nil
}

// Deposit credits addr directly, outside any bounty transaction.
func (s *Store) Deposit(_ context.Context, addr domain.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] += amount
	return nil
}

// Events returns every outbox event in commit order, for tests and debugging.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0, len(s.outbox))
	for _, it := range s.outbox {
		out = append(out, it.ev)
	}
	return out
}

// ClaimNext leases the oldest queued outbox event whose retry backoff has
// elapsed.
func (s *Store) ClaimNext(ctx context.Context) (domain.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, it := range s.outbox {
		if it.status == outboxQueued && !now.Before(it.availableAt) {
			it.status = outboxRunning
			it.ev.Attempts++
			return it.ev, true, nil
		}
	}
	return domain.Event{}, false, nil
}

func (s *Store) MarkDelivered(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.outboxItem(seq)
	if err != nil {
		return err
	}
	it.status = outboxDelivered
	return nil
}

func (s *Store) MarkFailed(_ context.Context, seq int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.outboxItem(seq)
	if err != nil {
		return err
	}
	it.reason = reason
	if it.ev.Attempts >= MaxDeliveryAttempts {
		it.status = outboxFailed
	} else {
		it.status = outboxQueued
		it.availableAt = s.clock.Now().Add(time.Duration(it.ev.Attempts) * RetryBackoff)
	}
	return nil
}

func (s *Store) outboxItem(seq int64) (*outboxItem, error) {
	// seq starts at 1 and is dense in the outbox slice.
	if seq < 1 || int(seq) > len(s.outbox) {
		return nil, fmt.Errorf("outbox event %d not found", seq)
	}
	return s.outbox[seq-1], nil
}

// Pending counts events not yet delivered or given up on.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.outbox {
		if it.status == outboxQueued || it.status == outboxRunning {
			n++
		}
	}
	return n
}
