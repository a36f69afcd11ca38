// Package bounties is the escrow and claim settlement engine. Every exported
// mutation is exactly one ledger transaction: it validates, moves funds through
// the host transferer, writes records and appends its receipt to the outbox, or
// it changes nothing at all.
package bounties

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"carrierwave/internal/domain"
	"carrierwave/internal/metrics"
	"carrierwave/internal/ports"
)

var _ ports.Bounties = (*Service)(nil)

// Config holds the platform parameters fixed at deployment.
type Config struct {
	PlatformFeeBps uint32
	// Treasury receives platform fees and rounding dust.
	Treasury domain.Address
	// Custody holds every open bounty's locked amount.
	Custody domain.Address
	// EscrowVault holds institution shares until they are claimed.
	EscrowVault domain.Address
	// EscrowAdmin is the only caller allowed to release escrow entries.
	EscrowAdmin domain.Address
}

func (c Config) validate() error {
	if c.PlatformFeeBps > domain.MaxBps {
		return fmt.Errorf("platform fee %d bps out of range", c.PlatformFeeBps)
	}
	var zero domain.Address
	if c.Treasury == zero || c.Custody == zero || c.EscrowVault == zero {
		return fmt.Errorf("treasury, custody and escrow vault addresses are required")
	}
	if c.Custody == c.Treasury || c.Custody == c.EscrowVault {
		return fmt.Errorf("custody address must be distinct from treasury and escrow vault")
	}
	return nil
}

type Service struct {
	store     ports.LedgerStore
	transfers ports.Transferer
	cfg       Config
	clock     clockwork.Clock
	log       *zap.Logger
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithTransferer replaces the default account-balance transferer.
func WithTransferer(t ports.Transferer) Option { return func(s *Service) { s.transfers = t } }

func New(store ports.LedgerStore, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:     store,
		transfers: LedgerTransferer{},
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// txn collects what one transaction produced for its receipt.
type txn struct {
	ports.LedgerTx
	svc     *Service
	receipt domain.Receipt
}

func (t *txn) transfer(ctx context.Context, tr domain.Transfer) error {
	if tr.Amount == 0 {
		return nil
	}
	if err := t.svc.transfers.Transfer(ctx, t.LedgerTx, tr); err != nil {
		if domain.KindOf(err) != domain.KindTransfer {
			return fmt.Errorf("%s of %d to %s: %w: %w", tr.Kind, tr.Amount, tr.To.Hex(), domain.ErrTransferFailed, err)
		}
		return fmt.Errorf("%s of %d to %s: %w", tr.Kind, tr.Amount, tr.To.Hex(), err)
	}
	t.receipt.Transfers = append(t.receipt.Transfers, tr)
	return nil
}

// run executes fn as one ledger transaction and, on success, attaches the
// receipt to the outbox before commit.
func (s *Service) run(ctx context.Context, op domain.Op, fields []zap.Field, fn func(t *txn) error) (domain.Receipt, error) {
	start := s.clock.Now()
	base := domain.Receipt{TxID: uuid.NewString(), Op: op, At: start.UTC()}

	// The store may retry the callback; every attempt starts from base.
	var receipt domain.Receipt
	err := s.store.Update(ctx, func(tx ports.LedgerTx) error {
		t := &txn{LedgerTx: tx, svc: s, receipt: base}
		if err := fn(t); err != nil {
			return err
		}
		receipt = t.receipt
		return tx.AppendEvent(ctx, receipt)
	})

	elapsed := s.clock.Since(start)
	if err != nil {
		code := domain.CodeOf(err)
		if code == "" {
			code = "internal"
		}
		metrics.RecordOperation(string(op), code, elapsed)
		fields = append(fields, zap.String("code", code), zap.Error(err))
		if domain.KindOf(err) == domain.KindTransfer {
			s.log.Warn("transfer aborted transaction", append(fields, zap.String("op", string(op)))...)
		} else {
			s.log.Debug("operation rejected", append(fields, zap.String("op", string(op)))...)
		}
		return domain.Receipt{}, err
	}

	metrics.RecordOperation(string(op), "ok", elapsed)
	for _, tr := range receipt.Transfers {
		metrics.RecordTransfer(string(tr.Kind), tr.Amount)
	}
	s.log.Info("operation committed", append(fields,
		zap.String("op", string(op)),
		zap.String("tx_id", receipt.TxID),
		zap.Int("transfers", len(receipt.Transfers)),
	)...)
	return receipt, nil
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// reject reports a validation failure caught before any transaction opened.
func (s *Service) reject(op domain.Op, fields []zap.Field, err error) (domain.Receipt, error) {
	metrics.RecordOperation(string(op), domain.CodeOf(err), 0)
	s.log.Debug("operation rejected", append(fields, zap.String("op", string(op)), zap.String("code", domain.CodeOf(err)))...)
	return domain.Receipt{}, err
}
