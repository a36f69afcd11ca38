// Package sqlite is the off-chain mirror: a denormalized read model rebuilt from
// ledger events and used for listings. It is never consulted by the engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

var (
	_ ports.Projector     = (*Mirror)(nil)
	_ ports.MirrorQueries = (*Mirror)(nil)
)

type Mirror struct {
	sql *sql.DB
}

// Open creates the database file and schema if missing. Use ":memory:" only
// with a single connection; see OpenMemory.
func Open(path string) (*Mirror, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return open(dsn, 0)
}

// OpenMemory returns a private in-memory mirror, mainly for tests.
func OpenMemory() (*Mirror, error) {
	return open("file::memory:?_pragma=busy_timeout(5000)", 1)
}

func open(dsn string, maxConns int) (*Mirror, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS bounties (
  id          INTEGER PRIMARY KEY,
  funder      TEXT NOT NULL,
  amount      TEXT NOT NULL,
  disease_tag TEXT NOT NULL,
  tag_key     TEXT NOT NULL,
  criteria    TEXT NOT NULL,
  deadline    INTEGER NOT NULL,
  status      TEXT NOT NULL,
  claim_count INTEGER NOT NULL DEFAULT 0,
  created_at  INTEGER NOT NULL,
  tx_id       TEXT NOT NULL,
  last_seq    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bounties_tag ON bounties(tag_key, id);
CREATE INDEX IF NOT EXISTS idx_bounties_funder ON bounties(funder, id);
CREATE TABLE IF NOT EXISTS claims (
  bounty_id     INTEGER NOT NULL,
  idx           INTEGER NOT NULL,
  scientist     TEXT NOT NULL,
  ro_id         TEXT NOT NULL,
  justification TEXT NOT NULL,
  status        TEXT NOT NULL,
  share_bps     INTEGER NOT NULL,
  created_at    INTEGER NOT NULL,
  PRIMARY KEY (bounty_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_claims_scientist ON claims(scientist);
CREATE TABLE IF NOT EXISTS scientists (
  address          TEXT PRIMARY KEY,
  institution_name TEXT NOT NULL,
  split_bps        INTEGER NOT NULL,
  registered_at    INTEGER NOT NULL,
  last_seq         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS escrow_entries (
  id               INTEGER PRIMARY KEY,
  bounty_id        INTEGER NOT NULL,
  claim_idx        INTEGER NOT NULL,
  institution_name TEXT NOT NULL,
  amount           TEXT NOT NULL,
  claimed          INTEGER NOT NULL CHECK (claimed IN (0,1)),
  payee            TEXT,
  last_seq         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mirror_state (
  id       INTEGER PRIMARY KEY CHECK (id = 1),
  last_seq INTEGER NOT NULL
);
INSERT OR IGNORE INTO mirror_state(id, last_seq) VALUES (1, 0);
    `); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Mirror{sql: db}, nil
}

func (m *Mirror) Close() error {
	if m == nil || m.sql == nil {
		return nil
	}
	return m.sql.Close()
}

// Apply projects one ledger event. Every row remembers the seq that last wrote
// it, so replays and out-of-order deliveries never move a row backwards.
func (m *Mirror) Apply(ctx context.Context, ev domain.Event) (err error) {
	tx, err := m.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	r := ev.Receipt
	if r.Bounty != nil {
		if err = applyBounty(ctx, tx, ev.Seq, r.TxID, *r.Bounty); err != nil {
			return fmt.Errorf("project bounty %d: %w", r.Bounty.ID, err)
		}
	}
	if r.Scientist != nil {
		p := r.Scientist
		_, err = tx.ExecContext(ctx, `
INSERT INTO scientists(address, institution_name, split_bps, registered_at, last_seq) VALUES(?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET
  institution_name = excluded.institution_name,
  split_bps = excluded.split_bps,
  registered_at = excluded.registered_at,
  last_seq = excluded.last_seq
WHERE excluded.last_seq > scientists.last_seq`,
			p.WalletAddress.Hex(), p.InstitutionName, p.InstitutionSplitBps, p.RegisteredAt.UnixNano(), ev.Seq)
		if err != nil {
			return fmt.Errorf("project scientist: %w", err)
		}
	}
	for _, e := range r.Escrows {
		var payee sql.NullString
		if e.Payee != nil {
			payee = sql.NullString{String: e.Payee.Hex(), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO escrow_entries(id, bounty_id, claim_idx, institution_name, amount, claimed, payee, last_seq) VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  claimed = excluded.claimed,
  payee = excluded.payee,
  last_seq = excluded.last_seq
WHERE excluded.last_seq > escrow_entries.last_seq`,
			int64(e.ID), int64(e.BountyID), e.ClaimIndex, e.InstitutionName, strconv.FormatUint(e.Amount, 10), boolToInt(e.Claimed), payee, ev.Seq)
		if err != nil {
			return fmt.Errorf("project escrow %d: %w", e.ID, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE mirror_state SET last_seq = MAX(last_seq, ?) WHERE id = 1`, ev.Seq); err != nil {
		return err
	}
	return tx.Commit()
}

func applyBounty(ctx context.Context, tx *sql.Tx, seq int64, txID string, b domain.Bounty) error {
	var last int64
	err := tx.QueryRowContext(ctx, `SELECT last_seq FROM bounties WHERE id = ?`, int64(b.ID)).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case last >= seq:
		return nil
	}

	// tx_id keeps the creating transaction; later events only refresh state.
	_, err = tx.ExecContext(ctx, `
INSERT INTO bounties(id, funder, amount, disease_tag, tag_key, criteria, deadline, status, claim_count, created_at, tx_id, last_seq)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  claim_count = excluded.claim_count,
  last_seq = excluded.last_seq`,
		int64(b.ID), b.Funder.Hex(), strconv.FormatUint(b.Amount, 10), b.DiseaseTag, domain.TagKey(b.DiseaseTag), b.Criteria,
		b.Deadline, string(b.Status), len(b.Claims), b.CreatedAt.UnixNano(), txID, seq)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM claims WHERE bounty_id = ?`, int64(b.ID)); err != nil {
		return err
	}
	for _, c := range b.Claims {
		_, err = tx.ExecContext(ctx, `INSERT INTO claims(bounty_id, idx, scientist, ro_id, justification, status, share_bps, created_at) VALUES(?,?,?,?,?,?,?,?)`,
			int64(b.ID), c.Index, c.Scientist.Hex(), c.ROID, c.Justification, string(c.Status), c.ShareBps, c.CreatedAt.UnixNano())
		if err != nil {
			return err
		}
	}
	return nil
}

// LastSeq reports the highest event seq applied so far.
func (m *Mirror) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := m.sql.QueryRowContext(ctx, `SELECT last_seq FROM mirror_state WHERE id = 1`).Scan(&seq)
	return seq, err
}

// ListBounties pages through mirrored bounties, newest first.
func (m *Mirror) ListBounties(ctx context.Context, f domain.BountyFilter) (domain.BountyPage, error) {
	f = f.Normalize()
	where := ` WHERE 1=1`
	var args []any
	if f.Tag != "" {
		where += ` AND tag_key = ?`
		args = append(args, f.Tag)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Funder != nil {
		where += ` AND funder = ?`
		args = append(args, f.Funder.Hex())
	}

	page := domain.BountyPage{Bounties: []domain.BountySummary{}, Page: f.Page}
	if err := m.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM bounties`+where, args...).Scan(&page.Total); err != nil {
		return domain.BountyPage{}, err
	}
	page.Pages = (page.Total + f.Limit - 1) / f.Limit

	rows, err := m.sql.QueryContext(ctx, `
SELECT id, funder, amount, disease_tag, criteria, deadline, status, claim_count, created_at, tx_id
FROM bounties`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return domain.BountyPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s       domain.BountySummary
			id      int64
			funder  string
			amount  string
			status  string
			created int64
		)
		if err := rows.Scan(&id, &funder, &amount, &s.DiseaseTag, &s.Criteria, &s.Deadline, &status, &s.ClaimCount, &created, &s.TxID); err != nil {
			return domain.BountyPage{}, err
		}
		if s.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return domain.BountyPage{}, err
		}
		s.ID = uint64(id)
		s.Funder = common.HexToAddress(funder)
		s.Status = domain.BountyStatus(status)
		s.CreatedAt = time.Unix(0, created).UTC()
		page.Bounties = append(page.Bounties, s)
	}
	return page, rows.Err()
}

func (m *Mirror) ListClaims(ctx context.Context, bountyID uint64) ([]domain.Claim, error) {
	return m.queryClaims(ctx, `WHERE bounty_id = ? ORDER BY idx`, int64(bountyID))
}

// ListClaimsByScientist returns a scientist's claims across all bounties,
// newest bounty first.
func (m *Mirror) ListClaimsByScientist(ctx context.Context, addr domain.Address) ([]domain.Claim, error) {
	return m.queryClaims(ctx, `WHERE scientist = ? ORDER BY bounty_id DESC, idx`, addr.Hex())
}

func (m *Mirror) queryClaims(ctx context.Context, clause string, args ...any) ([]domain.Claim, error) {
	rows, err := m.sql.QueryContext(ctx, `SELECT bounty_id, idx, scientist, ro_id, justification, status, share_bps, created_at FROM claims `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Claim{}
	for rows.Next() {
		var (
			c         domain.Claim
			bountyID  int64
			scientist string
			status    string
			created   int64
		)
		if err := rows.Scan(&bountyID, &c.Index, &scientist, &c.ROID, &c.Justification, &status, &c.ShareBps, &created); err != nil {
			return nil, err
		}
		c.BountyID = uint64(bountyID)
		c.Scientist = common.HexToAddress(scientist)
		c.Status = domain.ClaimStatus(status)
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
