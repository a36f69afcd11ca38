package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carrierwave/internal/domain"
)

func (db *DB) GetBounty(ctx context.Context, id uint64) (domain.Bounty, error) {
	return loadBounty(ctx, db.Pool, id, false)
}

func (db *DB) GetClaim(ctx context.Context, bountyID uint64, index uint32) (domain.Claim, error) {
	c, err := scanClaim(db.Pool.QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE bounty_id = $1 AND idx = $2`, int64(bountyID), int32(index)))
	if !errors.Is(err, pgx.ErrNoRows) {
		return c, err
	}
	var exists bool
	if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bounties WHERE id = $1)`, int64(bountyID)).Scan(&exists); err != nil {
		return domain.Claim{}, err
	}
	if !exists {
		return domain.Claim{}, domain.ErrBountyNotFound
	}
	return domain.Claim{}, domain.ErrClaimNotFound
}

func (db *DB) GetScientist(ctx context.Context, addr domain.Address) (domain.ScientistProfile, bool, error) {
	return getScientist(ctx, db.Pool, addr)
}

func (db *DB) GetEscrowEntry(ctx context.Context, id uint64) (domain.EscrowEntry, error) {
	e, err := scanEscrow(db.Pool.QueryRow(ctx, `SELECT `+escrowCols+` FROM escrow_entries WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EscrowEntry{}, domain.ErrEscrowNotFound
	}
	return e, err
}

func (db *DB) ListEscrowEntries(ctx context.Context, bountyID uint64) ([]domain.EscrowEntry, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+escrowCols+` FROM escrow_entries WHERE bounty_id = $1 ORDER BY id`, int64(bountyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EscrowEntry
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Balance returns 0 for accounts that were never credited.
func (db *DB) Balance(ctx context.Context, addr domain.Address) (uint64, error) {
	var s string
	err := db.Pool.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE address = $1`, addr.Bytes()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseAmount(s)
}

func (db *DB) Deposit(ctx context.Context, addr domain.Address, amount uint64) error {
	return credit(ctx, db.Pool, addr, amount)
}
