package ports

import (
	"context"

	"carrierwave/internal/domain"
)

// Transferer is the host's currency transfer primitive. It runs inside the
// ledger transaction and must report failure synchronously so the caller can
// abort the whole transition.
type Transferer interface {
	Transfer(ctx context.Context, tx LedgerTx, t domain.Transfer) error
}

// Bounties is the lifecycle engine as seen by transports.
type Bounties interface {
	RegisterScientist(ctx context.Context, caller domain.Address, institutionName string, splitBps uint32) (domain.Receipt, error)
	CreateBounty(ctx context.Context, funder domain.Address, diseaseTag, criteria string, deadline int64, amount uint64) (domain.Receipt, error)
	SubmitClaim(ctx context.Context, bountyID uint64, scientist domain.Address, roID, justification string) (domain.Receipt, error)
	ApproveClaim(ctx context.Context, caller domain.Address, bountyID uint64, index uint32, shareBps uint32) (domain.Receipt, error)
	RejectClaim(ctx context.Context, caller domain.Address, bountyID uint64, index uint32) (domain.Receipt, error)
	FinalizeBounty(ctx context.Context, caller domain.Address, bountyID uint64) (domain.Receipt, error)
	CancelBounty(ctx context.Context, caller domain.Address, bountyID uint64) (domain.Receipt, error)
	ClaimEscrow(ctx context.Context, caller domain.Address, escrowID uint64, payee domain.Address) (domain.Receipt, error)

	GetBounty(ctx context.Context, id uint64) (domain.Bounty, error)
	GetClaim(ctx context.Context, bountyID uint64, index uint32) (domain.Claim, error)
	GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error)
	GetEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error)
	ListEscrowEntries(ctx context.Context, bountyID uint64) ([]domain.EscrowEntry, error)
}

// Projector applies committed ledger events to a read model.
type Projector interface {
	Apply(ctx context.Context, ev domain.Event) error
}

// MirrorQueries serves listing pages from the mirror.
type MirrorQueries interface {
	ListBounties(ctx context.Context, f domain.BountyFilter) (domain.BountyPage, error)
	ListClaims(ctx context.Context, bountyID uint64) ([]domain.Claim, error)
	ListClaimsByScientist(ctx context.Context, addr domain.Address) ([]domain.Claim, error)
}
