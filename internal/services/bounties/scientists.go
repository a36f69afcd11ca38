package bounties

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"carrierwave/internal/domain"
)

// RegisterScientist writes the caller's profile, replacing any earlier one.
// Claims already settled keep the split that applied when they were paid.
func (s *Service) RegisterScientist(ctx context.Context, caller domain.Address, institutionName string, splitBps uint32) (domain.Receipt, error) {
	fields := []zap.Field{zap.String("scientist", caller.Hex())}
	name := strings.TrimSpace(institutionName)
	switch {
	case caller == (domain.Address{}):
		return s.reject(domain.OpRegisterScientist, fields, domain.ErrInvalidAddress)
	case name == "":
		return s.reject(domain.OpRegisterScientist, fields, domain.ErrEmptyInstitution)
	case splitBps > domain.MaxBps:
		return s.reject(domain.OpRegisterScientist, fields, domain.ErrInvalidSplit)
	}

	return s.run(ctx, domain.OpRegisterScientist, fields, func(t *txn) error {
		p := domain.ScientistProfile{
			WalletAddress:       caller,
			InstitutionName:     name,
			InstitutionSplitBps: splitBps,
			Registered:          true,
			RegisteredAt:        s.now(),
		}
		if err := t.PutScientist(ctx, p); err != nil {
			return err
		}
		t.receipt.Scientist = &p
		return nil
	})
}
