package bounties

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"carrierwave/internal/domain"
	"carrierwave/internal/settlement"
)

// FinalizeBounty settles every approved claim and closes the bounty. Approved
// shares must total exactly 10000 bps. Any failed transfer aborts the whole
// transaction and the bounty stays open.
func (s *Service) FinalizeBounty(ctx context.Context, caller domain.Address, bountyID uint64) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("bounty_id", bountyID)}

	return s.run(ctx, domain.OpFinalizeBounty, fields, func(t *txn) error {
		b, err := t.LockBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if caller != b.Funder {
			return domain.ErrUnauthorized
		}
		if b.Status != domain.BountyOpen {
			return domain.ErrBountyNotOpen
		}
		switch sum := b.ApprovedShareBps(); {
		case sum > domain.MaxBps:
			return domain.ErrShareOverflow
		case sum != domain.MaxBps:
			return domain.ErrSharesIncomplete
		}

		var (
			allocs   []settlement.Allocation
			profiles = make(map[uint32]domain.ScientistProfile)
		)
		for _, c := range b.Claims {
			if c.Status != domain.ClaimApproved {
				continue
			}
			p, ok, err := t.GetScientist(ctx, c.Scientist)
			if err != nil {
				return err
			}
			a := settlement.Allocation{ClaimIndex: c.Index, ShareBps: c.ShareBps}
			if ok && p.Registered {
				a.InstitutionSplitBps = p.InstitutionSplitBps
				profiles[c.Index] = p
			}
			allocs = append(allocs, a)
		}
		plan, err := settlement.Plan(b.Amount, s.cfg.PlatformFeeBps, allocs)
		if err != nil {
			return fmt.Errorf("settle bounty %d: %w", bountyID, err)
		}

		if err := t.transfer(ctx, s.fromCustody(b, domain.TransferPlatformFee, s.cfg.Treasury, plan.PlatformCut)); err != nil {
			return err
		}
		for _, po := range plan.Payouts {
			c := b.Claims[po.ClaimIndex]
			if err := t.transfer(ctx, s.fromCustody(b, domain.TransferScientistPayout, c.Scientist, po.ScientistCut)); err != nil {
				return err
			}
			p, registered := profiles[po.ClaimIndex]
			if !registered || p.InstitutionSplitBps == 0 {
				continue
			}
			if err := t.transfer(ctx, s.fromCustody(b, domain.TransferEscrowHold, s.cfg.EscrowVault, po.InstitutionCut)); err != nil {
				return err
			}
			e, err := t.AppendEscrowEntry(ctx, domain.EscrowEntry{
				BountyID:        b.ID,
				ClaimIndex:      po.ClaimIndex,
				Scientist:       c.Scientist,
				InstitutionName: p.InstitutionName,
				Amount:          po.InstitutionCut,
				CreatedAt:       s.now(),
			})
			if err != nil {
				return err
			}
			t.receipt.Escrows = append(t.receipt.Escrows, e)
		}
		if err := t.transfer(ctx, s.fromCustody(b, domain.TransferRoundingDust, s.cfg.Treasury, plan.Remainder)); err != nil {
			return err
		}

		if err := t.SetBountyStatus(ctx, bountyID, domain.BountyFinalized, s.now()); err != nil {
			return err
		}
		return t.attach(ctx, bountyID, nil)
	})
}

// CancelBounty refunds the full locked amount once the deadline has passed.
func (s *Service) CancelBounty(ctx context.Context, caller domain.Address, bountyID uint64) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("bounty_id", bountyID)}

	return s.run(ctx, domain.OpCancelBounty, fields, func(t *txn) error {
		b, err := t.LockBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if caller != b.Funder {
			return domain.ErrUnauthorized
		}
		if b.Status != domain.BountyOpen {
			return domain.ErrBountyNotOpen
		}
		now := s.now()
		if now.Unix() < b.Deadline {
			return domain.ErrDeadlineNotReached
		}
		if err := t.transfer(ctx, s.fromCustody(b, domain.TransferRefund, b.Funder, b.Amount)); err != nil {
			return err
		}
		if err := t.SetBountyStatus(ctx, bountyID, domain.BountyCancelled, now); err != nil {
			return err
		}
		return t.attach(ctx, bountyID, nil)
	})
}

func (s *Service) fromCustody(b domain.Bounty, kind domain.TransferKind, to domain.Address, amount uint64) domain.Transfer {
	return domain.Transfer{Kind: kind, From: s.cfg.Custody, To: to, Amount: amount, BountyID: b.ID}
}
