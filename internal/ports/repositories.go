package ports

import (
	"context"
	"time"

	"carrierwave/internal/domain"
)

// LedgerTx is one atomic unit of work against the ledger. Nothing written
// through it is visible to readers until the surrounding Update returns nil;
// any error returned from the Update callback discards every write.
//
// A transaction may lock at most one bounty and one escrow entry.
type LedgerTx interface {
	// InsertBounty assigns the next bounty id and stores b as given.
	InsertBounty(ctx context.Context, b domain.Bounty) (domain.Bounty, error)
	// LockBounty loads a bounty with its claims and holds its write lock until
	// the transaction ends. Calling it again for the same id returns the
	// transaction's current view. Fails with domain.ErrBountyNotFound.
	LockBounty(ctx context.Context, id uint64) (domain.Bounty, error)
	AppendClaim(ctx context.Context, c domain.Claim) (domain.Claim, error)
	SetClaimStatus(ctx context.Context, bountyID uint64, index uint32, status domain.ClaimStatus, shareBps uint32) error
	SetBountyStatus(ctx context.Context, bountyID uint64, status domain.BountyStatus, at time.Time) error

	GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error)
	PutScientist(ctx context.Context, p domain.ScientistProfile) error

	AppendEscrowEntry(ctx context.Context, e domain.EscrowEntry) (domain.EscrowEntry, error)
	// LockEscrowEntry fails with domain.ErrEscrowNotFound.
	LockEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error)
	MarkEscrowClaimed(ctx context.Context, id uint64, payee domain.Address, at time.Time) (domain.EscrowEntry, error)

	// Debit fails with domain.ErrInsufficientFunds when addr cannot cover amount.
	Debit(ctx context.Context, addr domain.Address, amount uint64) error
	Credit(ctx context.Context, addr domain.Address, amount uint64) error

	// AppendEvent queues the receipt in the outbox; the store assigns Seq.
	AppendEvent(ctx context.Context, r domain.Receipt) error
}

// LedgerStore is the durable home of bounties, claims, profiles, escrow entries
// and host account balances.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error

	GetBounty(ctx context.Context, id uint64) (domain.Bounty, error)
	GetClaim(ctx context.Context, bountyID uint64, index uint32) (domain.Claim, error)
	GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error)
	GetEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error)
	ListEscrowEntries(ctx context.Context, bountyID uint64) ([]domain.EscrowEntry, error)
}

// Accounts exposes host balances outside any engine transition.
type Accounts interface {
	Balance(ctx context.Context, addr domain.Address) (uint64, error)
	Deposit(ctx context.Context, addr domain.Address, amount uint64) error
}
