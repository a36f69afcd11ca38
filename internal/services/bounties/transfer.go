package bounties

import (
	"context"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

// LedgerTransferer moves balances between host accounts inside the ledger
// transaction, so a failed debit rolls back every earlier step with it.
type LedgerTransferer struct{}

func (LedgerTransferer) Transfer(ctx context.Context, tx ports.LedgerTx, t domain.Transfer) error {
	if err := tx.Debit(ctx, t.From, t.Amount); err != nil {
		return err
	}
	return tx.Credit(ctx, t.To, t.Amount)
}
