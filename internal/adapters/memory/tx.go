package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carrierwave/internal/domain"
)

var errLockScope = errors.New("transaction already holds a different lock")

type tx struct {
	store *Store

	bounties   map[uint64]domain.Bounty
	scientists map[domain.Address]domain.ScientistProfile
	escrows    map[uint64]domain.EscrowEntry
	debits     map[domain.Address]uint64
	credits    map[domain.Address]uint64
	events     []domain.Receipt

	lockedBounty *uint64
	lockedEscrow *uint64
	unlock       []func()
}

func newTx(s *Store) *tx {
	return &tx{
		store:      s,
		bounties:   make(map[uint64]domain.Bounty),
		scientists: make(map[domain.Address]domain.ScientistProfile),
		escrows:    make(map[uint64]domain.EscrowEntry),
		debits:     make(map[domain.Address]uint64),
		credits:    make(map[domain.Address]uint64),
	}
}

func (t *tx) release() {
	for i := len(t.unlock) - 1; i >= 0; i-- {
		t.unlock[i]()
	}
	t.unlock = nil
}

func (t *tx) InsertBounty(_ context.Context, b domain.Bounty) (domain.Bounty, error) {
	t.store.mu.Lock()
	b.ID = t.store.nextBounty
	t.store.nextBounty++
	t.store.mu.Unlock()

	if b.Claims == nil {
		b.Claims = []domain.Claim{}
	}
	t.bounties[b.ID] = b.Clone()
	return b.Clone(), nil
}

func (t *tx) LockBounty(_ context.Context, id uint64) (domain.Bounty, error) {
	if b, ok := t.bounties[id]; ok {
		return b.Clone(), nil
	}
	if t.lockedBounty != nil {
		return domain.Bounty{}, fmt.Errorf("lock bounty %d: %w", id, errLockScope)
	}
	unlock := t.store.bountyLocks.acquire(id)

	t.store.mu.RLock()
	b, ok := t.store.bounties[id]
	t.store.mu.RUnlock()
	if !ok {
		unlock()
		return domain.Bounty{}, domain.ErrBountyNotFound
	}
	t.unlock = append(t.unlock, unlock)
	t.lockedBounty = &id
	t.bounties[id] = b.Clone()
	return b.Clone(), nil
}

func (t *tx) working(id uint64) (domain.Bounty, error) {
	b, ok := t.bounties[id]
	if !ok {
		return domain.Bounty{}, fmt.Errorf("bounty %d is not locked by this transaction", id)
	}
	return b, nil
}

func (t *tx) AppendClaim(_ context.Context, c domain.Claim) (domain.Claim, error) {
	b, err := t.working(c.BountyID)
	if err != nil {
		return domain.Claim{}, err
	}
	c.Index = uint32(len(b.Claims))
	b.Claims = append(b.Claims, c)
	t.bounties[b.ID] = b
	return c, nil
}

func (t *tx) SetClaimStatus(_ context.Context, bountyID uint64, index uint32, status domain.ClaimStatus, shareBps uint32) error {
	b, err := t.working(bountyID)
	if err != nil {
		return err
	}
	if int(index) >= len(b.Claims) {
		return domain.ErrClaimNotFound
	}
	b.Claims[index].Status = status
	b.Claims[index].ShareBps = shareBps
	t.bounties[bountyID] = b
	return nil
}

func (t *tx) SetBountyStatus(_ context.Context, bountyID uint64, status domain.BountyStatus, at time.Time) error {
	b, err := t.working(bountyID)
	if err != nil {
		return err
	}
	b.Status = status
	if status != domain.BountyOpen {
		b.ClosedAt = &at
	}
	t.bounties[bountyID] = b
	return nil
}

func (t *tx) GetScientist(_ context.Context, addr domain.Address) (domain.ScientistProfile, bool, error) {
	if p, ok := t.scientists[addr]; ok {
		return p, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.scientists[addr]
	return p, ok, nil
}

func (t *tx) PutScientist(_ context.Context, p domain.ScientistProfile) error {
	t.scientists[p.WalletAddress] = p
	return nil
}

func (t *tx) AppendEscrowEntry(_ context.Context, e domain.EscrowEntry) (domain.EscrowEntry, error) {
	t.store.mu.Lock()
	e.ID = t.store.nextEscrow
	t.store.nextEscrow++
	t.store.mu.Unlock()

	t.escrows[e.ID] = e
	return e, nil
}

func (t *tx) LockEscrowEntry(_ context.Context, id uint64) (domain.EscrowEntry, error) {
	if e, ok := t.escrows[id]; ok {
		return e, nil
	}
	if t.lockedEscrow != nil {
		return domain.EscrowEntry{}, fmt.Errorf("lock escrow %d: %w", id, errLockScope)
	}
	unlock := t.store.escrowLocks.acquire(id)

	t.store.mu.RLock()
	e, ok := t.store.escrows[id]
	t.store.mu.RUnlock()
	if !ok {
		unlock()
		return domain.EscrowEntry{}, domain.ErrEscrowNotFound
	}
	t.unlock = append(t.unlock, unlock)
	t.lockedEscrow = &id
	t.escrows[id] = e
	return e, nil
}

func (t *tx) MarkEscrowClaimed(_ context.Context, id uint64, payee domain.Address, at time.Time) (domain.EscrowEntry, error) {
	e, ok := t.escrows[id]
	if !ok {
		return domain.EscrowEntry{}, fmt.Errorf("escrow %d is not locked by this transaction", id)
	}
	e.Claimed = true
	e.Payee = &payee
	e.ClaimedAt = &at
	t.escrows[id] = e
	return e, nil
}

// Debit checks against committed balance plus this transaction's own
// movements; commit checks again.
func (t *tx) Debit(_ context.Context, addr domain.Address, amount uint64) error {
	t.store.mu.RLock()
	bal := t.store.balances[addr]
	t.store.mu.RUnlock()
	if bal+t.credits[addr] < t.debits[addr]+amount {
		return fmt.Errorf("%s: %w", addr.Hex(), domain.ErrInsufficientFunds)
	}
	t.debits[addr] += amount
	return nil
}

func (t *tx) Credit(_ context.Context, addr domain.Address, amount uint64) error {
	t.credits[addr] += amount
	return nil
}

func (t *tx) AppendEvent(_ context.Context, r domain.Receipt) error {
	t.events = append(t.events, r)
	return nil
}
