package bounties

import (
	"context"

	"carrierwave/internal/domain"
)

// Reads go straight to the store and always see committed records.

func (s *Service) GetBounty(ctx context.Context, id uint64) (domain.Bounty, error) {
	return s.store.GetBounty(ctx, id)
}

func (s *Service) GetClaim(ctx context.Context, bountyID uint64, index uint32) (domain.Claim, error) {
	return s.store.GetClaim(ctx, bountyID, index)
}

func (s *Service) GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error) {
	return s.store.GetScientist(ctx, addr)
}

func (s *Service) GetEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error) {
	return s.store.GetEscrowEntry(ctx, id)
}

func (s *Service) ListEscrowEntries(ctx context.Context, bountyID uint64) ([]domain.EscrowEntry, error) {
	return s.store.ListEscrowEntries(ctx, bountyID)
}
