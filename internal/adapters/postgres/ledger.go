package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

var (
	_ ports.LedgerStore = (*DB)(nil)
	_ ports.Accounts    = (*DB)(nil)
	_ ports.LedgerTx    = (*ledgerTx)(nil)
)

// maxTxAttempts bounds retries of transactions aborted by deadlock or
// serialization failure. Debit and credit order differs between operations,
// so two transactions touching the same pair of accounts can deadlock.
const maxTxAttempts = 3

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Update runs fn inside one database transaction. Rows are locked with
// SELECT ... FOR UPDATE as fn touches them, so concurrent transactions on the
// same bounty serialize while different bounties proceed in parallel.
func (db *DB) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.update(ctx, fn)
		if !retryable(err) {
			return err
		}
		db.log.Warn("ledger transaction retry", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (db *DB) update(ctx context.Context, fn func(tx ports.LedgerTx) error) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	return fn(&ledgerTx{tx: tx})
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type ledgerTx struct {
	tx           pgx.Tx
	lockedBounty *uint64
	lockedEscrow *uint64
}

var errLockScope = errors.New("transaction already holds a different lock")

func (t *ledgerTx) InsertBounty(ctx context.Context, b domain.Bounty) (domain.Bounty, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bounties (funder, amount, disease_tag, criteria, deadline, status, created_at)
		VALUES ($1, $2::text::numeric, $3, $4, $5, $6, $7)
		RETURNING id
	`, b.Funder.Bytes(), amountParam(b.Amount), b.DiseaseTag, b.Criteria, b.Deadline, string(b.Status), b.CreatedAt).Scan(&id)
	if err != nil {
		return domain.Bounty{}, fmt.Errorf("insert bounty: %w", err)
	}
	b.ID = uint64(id)
	b.Claims = []domain.Claim{}
	// The new row is visible only to this transaction; later calls in it may
	// still LockBounty it.
	t.lockedBounty = &b.ID
	return b, nil
}

func (t *ledgerTx) LockBounty(ctx context.Context, id uint64) (domain.Bounty, error) {
	if t.lockedBounty != nil && *t.lockedBounty != id {
		return domain.Bounty{}, fmt.Errorf("lock bounty %d: %w", id, errLockScope)
	}
	b, err := loadBounty(ctx, t.tx, id, true)
	if err != nil {
		return domain.Bounty{}, err
	}
	t.lockedBounty = &id
	return b, nil
}

func (t *ledgerTx) AppendClaim(ctx context.Context, c domain.Claim) (domain.Claim, error) {
	var idx int32
	err := t.tx.QueryRow(ctx, `
		UPDATE bounties SET claim_count = claim_count + 1 WHERE id = $1
		RETURNING claim_count - 1
	`, int64(c.BountyID)).Scan(&idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, domain.ErrBountyNotFound
	}
	if err != nil {
		return domain.Claim{}, err
	}
	c.Index = uint32(idx)
	_, err = t.tx.Exec(ctx, `
		INSERT INTO claims (bounty_id, idx, scientist, ro_id, justification, status, share_bps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, int64(c.BountyID), idx, c.Scientist.Bytes(), c.ROID, c.Justification, string(c.Status), int32(c.ShareBps), c.CreatedAt)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("insert claim: %w", err)
	}
	return c, nil
}

func (t *ledgerTx) SetClaimStatus(ctx context.Context, bountyID uint64, index uint32, status domain.ClaimStatus, shareBps uint32) error {
	tag, err := t.tx.Exec(ctx, `UPDATE claims SET status = $3, share_bps = $4 WHERE bounty_id = $1 AND idx = $2`,
		int64(bountyID), int32(index), string(status), int32(shareBps))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimNotFound
	}
	return nil
}

func (t *ledgerTx) SetBountyStatus(ctx context.Context, bountyID uint64, status domain.BountyStatus, at time.Time) error {
	var closed *time.Time
	if status != domain.BountyOpen {
		closed = &at
	}
	tag, err := t.tx.Exec(ctx, `UPDATE bounties SET status = $2, closed_at = $3 WHERE id = $1`, int64(bountyID), string(status), closed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBountyNotFound
	}
	return nil
}

func (t *ledgerTx) GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error) {
	return getScientist(ctx, t.tx, addr)
}

func (t *ledgerTx) PutScientist(ctx context.Context, p domain.ScientistProfile) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO scientists (address, institution_name, institution_split_bps, registered, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			institution_name = EXCLUDED.institution_name,
			institution_split_bps = EXCLUDED.institution_split_bps,
			registered = EXCLUDED.registered,
			registered_at = EXCLUDED.registered_at
	`, p.WalletAddress.Bytes(), p.InstitutionName, int32(p.InstitutionSplitBps), p.Registered, p.RegisteredAt)
	return err
}

func (t *ledgerTx) AppendEscrowEntry(ctx context.Context, e domain.EscrowEntry) (domain.EscrowEntry, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO escrow_entries (bounty_id, claim_idx, scientist, institution_name, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6)
		RETURNING id
	`, int64(e.BountyID), int32(e.ClaimIndex), e.Scientist.Bytes(), e.InstitutionName, amountParam(e.Amount), e.CreatedAt).Scan(&id)
	if err != nil {
		return domain.EscrowEntry{}, fmt.Errorf("insert escrow entry: %w", err)
	}
	e.ID = uint64(id)
	return e, nil
}

func (t *ledgerTx) LockEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error) {
	if t.lockedEscrow != nil && *t.lockedEscrow != id {
		return domain.EscrowEntry{}, fmt.Errorf("lock escrow %d: %w", id, errLockScope)
	}
	e, err := scanEscrow(t.tx.QueryRow(ctx, `SELECT `+escrowCols+` FROM escrow_entries WHERE id = $1 FOR UPDATE`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EscrowEntry{}, domain.ErrEscrowNotFound
	}
	if err != nil {
		return domain.EscrowEntry{}, err
	}
	t.lockedEscrow = &id
	return e, nil
}

func (t *ledgerTx) MarkEscrowClaimed(ctx context.Context, id uint64, payee domain.Address, at time.Time) (domain.EscrowEntry, error) {
	e, err := scanEscrow(t.tx.QueryRow(ctx, `
		UPDATE escrow_entries SET claimed = TRUE, payee = $2, claimed_at = $3 WHERE id = $1
		RETURNING `+escrowCols, int64(id), payee.Bytes(), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EscrowEntry{}, domain.ErrEscrowNotFound
	}
	return e, err
}

// Debit refuses to take an account below zero. The conditional update is the
// balance check and the row lock in one statement.
func (t *ledgerTx) Debit(ctx context.Context, addr domain.Address, amount uint64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $2::text::numeric, updated_at = now()
		WHERE address = $1 AND balance >= $2::text::numeric
	`, addr.Bytes(), amountParam(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", addr.Hex(), domain.ErrInsufficientFunds)
	}
	return nil
}

func (t *ledgerTx) Credit(ctx context.Context, addr domain.Address, amount uint64) error {
	return credit(ctx, t.tx, addr, amount)
}

func (t *ledgerTx) AppendEvent(ctx context.Context, r domain.Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO ledger_events (tx_id, op, payload) VALUES ($1, $2, $3)`, r.TxID, string(r.Op), payload)
	return err
}

func credit(ctx context.Context, q querier, addr domain.Address, amount uint64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2::text::numeric)
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
	`, addr.Bytes(), amountParam(amount))
	return err
}

const (
	bountyCols = `id, funder, amount::text, disease_tag, criteria, deadline, status, created_at, closed_at`
	claimCols  = `bounty_id, idx, scientist, ro_id, justification, status, share_bps, created_at`
	escrowCols = `id, bounty_id, claim_idx, scientist, institution_name, amount::text, claimed, payee, created_at, claimed_at`
)

func loadBounty(ctx context.Context, q querier, id uint64, forUpdate bool) (domain.Bounty, error) {
	sql := `SELECT ` + bountyCols + ` FROM bounties WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var (
		b      domain.Bounty
		bid    int64
		funder []byte
		amount string
		status string
	)
	err := q.QueryRow(ctx, sql, int64(id)).Scan(&bid, &funder, &amount, &b.DiseaseTag, &b.Criteria, &b.Deadline, &status, &b.CreatedAt, &b.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bounty{}, domain.ErrBountyNotFound
	}
	if err != nil {
		return domain.Bounty{}, err
	}
	if b.Amount, err = parseAmount(amount); err != nil {
		return domain.Bounty{}, err
	}
	b.ID = uint64(bid)
	b.Funder = common.BytesToAddress(funder)
	b.Status = domain.BountyStatus(status)

	claims, err := queryClaims(ctx, q, `SELECT `+claimCols+` FROM claims WHERE bounty_id = $1 ORDER BY idx`, int64(id))
	if err != nil {
		return domain.Bounty{}, err
	}
	b.Claims = claims
	return b, nil
}

func queryClaims(ctx context.Context, q querier, sql string, args ...any) ([]domain.Claim, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClaim(row pgx.Row) (domain.Claim, error) {
	var (
		c         domain.Claim
		bountyID  int64
		idx       int32
		scientist []byte
		status    string
		share     int32
	)
	if err := row.Scan(&bountyID, &idx, &scientist, &c.ROID, &c.Justification, &status, &share, &c.CreatedAt); err != nil {
		return domain.Claim{}, err
	}
	c.BountyID = uint64(bountyID)
	c.Index = uint32(idx)
	c.Scientist = common.BytesToAddress(scientist)
	c.Status = domain.ClaimStatus(status)
	c.ShareBps = uint32(share)
	return c, nil
}

func scanEscrow(row pgx.Row) (domain.EscrowEntry, error) {
	var (
		e         domain.EscrowEntry
		id        int64
		bountyID  int64
		idx       int32
		scientist []byte
		amount    string
		payee     []byte
	)
	if err := row.Scan(&id, &bountyID, &idx, &scientist, &e.InstitutionName, &amount, &e.Claimed, &payee, &e.CreatedAt, &e.ClaimedAt); err != nil {
		return domain.EscrowEntry{}, err
	}
	v, err := parseAmount(amount)
	if err != nil {
		return domain.EscrowEntry{}, err
	}
	e.ID = uint64(id)
	e.BountyID = uint64(bountyID)
	e.ClaimIndex = uint32(idx)
	e.Scientist = common.BytesToAddress(scientist)
	e.Amount = v
	if payee != nil {
		p := common.BytesToAddress(payee)
		e.Payee = &p
	}
	return e, nil
}

func getScientist(ctx context.Context, q querier, addr domain.Address) (domain.ScientistProfile, bool, error) {
	var (
		p     = domain.ScientistProfile{WalletAddress: addr}
		split int32
	)
	err := q.QueryRow(ctx, `
		SELECT institution_name, institution_split_bps, registered, registered_at
		FROM scientists WHERE address = $1
	`, addr.Bytes()).Scan(&p.InstitutionName, &split, &p.Registered, &p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScientistProfile{}, false, nil
	}
	if err != nil {
		return domain.ScientistProfile{}, false, err
	}
	p.InstitutionSplitBps = uint32(split)
	return p, true, nil
}

func amountParam(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}
