package bounties

import (
	"context"

	"go.uber.org/zap"

	"carrierwave/internal/domain"
)

// ClaimEscrow releases an institution's escrowed share to payee. Only the
// configured escrow admin may call it, once per entry.
func (s *Service) ClaimEscrow(ctx context.Context, caller domain.Address, escrowID uint64, payee domain.Address) (domain.Receipt, error) {
	fields := []zap.Field{zap.Uint64("escrow_id", escrowID), zap.String("payee", payee.Hex())}
	switch {
	case s.cfg.EscrowAdmin == (domain.Address{}) || caller != s.cfg.EscrowAdmin:
		return s.reject(domain.OpClaimEscrow, fields, domain.ErrUnauthorized)
	case payee == (domain.Address{}):
		return s.reject(domain.OpClaimEscrow, fields, domain.ErrInvalidAddress)
	}

	return s.run(ctx, domain.OpClaimEscrow, fields, func(t *txn) error {
		e, err := t.LockEscrowEntry(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.Claimed {
			return domain.ErrEscrowClaimed
		}
		err = t.transfer(ctx, domain.Transfer{
			Kind:     domain.TransferEscrowRelease,
			From:     s.cfg.EscrowVault,
			To:       payee,
			Amount:   e.Amount,
			BountyID: e.BountyID,
		})
		if err != nil {
			return err
		}
		e, err = t.MarkEscrowClaimed(ctx, escrowID, payee, s.now())
		if err != nil {
			return err
		}
		t.receipt.Escrows = []domain.EscrowEntry{e}
		return nil
	})
}
