package bounties

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"carrierwave/internal/domain"
)

// CreateBounty locks amount from the funder into custody and opens the bounty
// in the same transaction.
func (s *Service) CreateBounty(ctx context.Context, funder domain.Address, diseaseTag, criteria string, deadline int64, amount uint64) (domain.Receipt, error) {
	fields := []zap.Field{zap.String("funder", funder.Hex()), zap.Uint64("amount", amount)}
	now := s.now()
	switch {
	case funder == (domain.Address{}):
		return s.reject(domain.OpCreateBounty, fields, domain.ErrInvalidAddress)
	case amount == 0:
		return s.reject(domain.OpCreateBounty, fields, domain.ErrZeroAmount)
	case deadline <= now.Unix():
		return s.reject(domain.OpCreateBounty, fields, domain.ErrDeadlineInPast)
	}

	return s.run(ctx, domain.OpCreateBounty, fields, func(t *txn) error {
		b, err := t.InsertBounty(ctx, domain.Bounty{
			Funder:     funder,
			Amount:     amount,
			DiseaseTag: strings.TrimSpace(diseaseTag),
			Criteria:   strings.TrimSpace(criteria),
			Deadline:   deadline,
			Status:     domain.BountyOpen,
			Claims:     []domain.Claim{},
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		err = t.transfer(ctx, domain.Transfer{
			Kind:     domain.TransferLock,
			From:     funder,
			To:       s.cfg.Custody,
			Amount:   amount,
			BountyID: b.ID,
		})
		if err != nil {
			return err
		}
		t.receipt.Bounty = &b
		return nil
	})
}

// SubmitClaim appends a pending claim. Submission stays possible after the
// deadline for as long as the bounty is open.
func (s *Service) SubmitClaim(ctx context.Context, bountyID uint64, scientist domain.Address, roID, justification string) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("bounty_id", bountyID), zap.String("scientist", scientist.Hex())}
	if scientist == (domain.Address{}) {
		return s.reject(domain.OpSubmitClaim, fields, domain.ErrInvalidAddress)
	}

	return s.run(ctx, domain.OpSubmitClaim, fields, func(t *txn) error {
		b, err := t.LockBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if b.Status != domain.BountyOpen {
			return domain.ErrBountyNotOpen
		}
		c, err := t.AppendClaim(ctx, domain.Claim{
			BountyID:      bountyID,
			Scientist:     scientist,
			ROID:          roID,
			Justification: strings.TrimSpace(justification),
			Status:        domain.ClaimPending,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return err
		}
		return t.attach(ctx, bountyID, &c)
	})
}

// ApproveClaim marks a pending claim approved with shareBps. The running total
// of approved shares is checked here so it can never exceed 10000 bps.
func (s *Service) ApproveClaim(ctx context.Context, caller domain.Address, bountyID uint64, index uint32, shareBps uint32) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("bounty_id", bountyID), zap.Uint32("claim_index", index), zap.Uint32("share_bps", shareBps)}
	if shareBps == 0 || shareBps > domain.MaxBps {
		return s.reject(domain.OpApproveClaim, fields, domain.ErrInvalidShare)
	}

	return s.run(ctx, domain.OpApproveClaim, fields, func(t *txn) error {
		b, c, err := s.pendingClaim(ctx, t, caller, bountyID, index)
		if err != nil {
			return err
		}
		if b.ApprovedShareBps()+shareBps > domain.MaxBps {
			return domain.ErrShareOverflow
		}
		if err := t.SetClaimStatus(ctx, bountyID, c.Index, domain.ClaimApproved, shareBps); err != nil {
			return err
		}
		c.Status, c.ShareBps = domain.ClaimApproved, shareBps
		return t.attach(ctx, bountyID, &c)
	})
}

func (s *Service) RejectClaim(ctx context.Context, caller domain.Address, bountyID uint64, index uint32) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("bounty_id", bountyID), zap.Uint32("claim_index", index)}

	return s.run(ctx, domain.OpRejectClaim, fields, func(t *txn) error {
		_, c, err := s.pendingClaim(ctx, t, caller, bountyID, index)
		if err != nil {
			return err
		}
		if err := t.SetClaimStatus(ctx, bountyID, c.Index, domain.ClaimRejected, 0); err != nil {
			return err
		}
		c.Status, c.ShareBps = domain.ClaimRejected, 0
		return t.attach(ctx, bountyID, &c)
	})
}

// pendingClaim locks the bounty and checks the preconditions shared by approve
// and reject.
func (s *Service) pendingClaim(ctx context.Context, t *txn, caller domain.Address, bountyID uint64, index uint32) (domain.Bounty, domain.Claim, error) {
	b, err := t.LockBounty(ctx, bountyID)
	if err != nil {
		return domain.Bounty{}, domain.Claim{}, err
	}
	if caller != b.Funder {
		return domain.Bounty{}, domain.Claim{}, domain.ErrUnauthorized
	}
	if b.Status != domain.BountyOpen {
		return domain.Bounty{}, domain.Claim{}, domain.ErrBountyNotOpen
	}
	if int(index) >= len(b.Claims) {
		return domain.Bounty{}, domain.Claim{}, domain.ErrClaimNotFound
	}
	c := b.Claims[index]
	if c.Status != domain.ClaimPending {
		return domain.Bounty{}, domain.Claim{}, domain.ErrClaimNotPending
	}
	return b, c, nil
}

// attach puts the transaction's current view of the bounty (and claim) on the receipt.
func (t *txn) attach(ctx context.Context, bountyID uint64, c *domain.Claim) error {
	b, err := t.LockBounty(ctx, bountyID)
	if err != nil {
		return err
	}
	t.receipt.Bounty = &b
	t.receipt.Claim = c
	return nil
}
