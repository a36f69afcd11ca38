package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func seedBounty(t *testing.T, s *Store) domain.Bounty {
	t.Helper()
	var out domain.Bounty
	err := s.Update(context.Background(), func(tx ports.LedgerTx) error {
		var err error
		out, err = tx.InsertBounty(context.Background(), domain.Bounty{
			Funder:     alice,
			Amount:     100,
			DiseaseTag: "ALS",
			Status:     domain.BountyOpen,
		})
		return err
	})
	require.NoError(t, err)
	return out
}

func TestUpdate_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Deposit(ctx, alice, 50))
	b := seedBounty(t, s)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.LockBounty(ctx, b.ID); err != nil {
			return err
		}
		if _, err := tx.AppendClaim(ctx, domain.Claim{BountyID: b.ID, Scientist: bob}); err != nil {
			return err
		}
		if err := tx.Debit(ctx, alice, 50); err != nil {
			return err
		}
		if err := tx.Credit(ctx, bob, 50); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, domain.Receipt{Op: domain.OpSubmitClaim}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(b, got); diff != "" {
		t.Fatalf("bounty changed after rollback (-want +got):\n%s", diff)
	}
	bal, _ := s.Balance(ctx, alice)
	assert.Equal(t, uint64(50), bal)
	bal, _ = s.Balance(ctx, bob)
	assert.Equal(t, uint64(0), bal)
	assert.Empty(t, s.Events())
}

func TestUpdate_CommitAppliesEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Deposit(ctx, alice, 50))
	b := seedBounty(t, s)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := s.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.LockBounty(ctx, b.ID); err != nil {
			return err
		}
		c, err := tx.AppendClaim(ctx, domain.Claim{BountyID: b.ID, Scientist: bob, Status: domain.ClaimPending})
		if err != nil {
			return err
		}
		if err := tx.SetClaimStatus(ctx, b.ID, c.Index, domain.ClaimApproved, 10000); err != nil {
			return err
		}
		if err := tx.SetBountyStatus(ctx, b.ID, domain.BountyFinalized, at); err != nil {
			return err
		}
		if err := tx.Debit(ctx, alice, 30); err != nil {
			return err
		}
		if err := tx.Credit(ctx, bob, 30); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.Receipt{Op: domain.OpFinalizeBounty})
	})
	require.NoError(t, err)

	got, err := s.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	want := b.Clone()
	want.Status = domain.BountyFinalized
	want.ClosedAt = &at
	want.Claims = []domain.Claim{{BountyID: b.ID, Scientist: bob, Status: domain.ClaimApproved, ShareBps: 10000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected bounty (-want +got):\n%s", diff)
	}

	bal, _ := s.Balance(ctx, alice)
	assert.Equal(t, uint64(20), bal)
	bal, _ = s.Balance(ctx, bob)
	assert.Equal(t, uint64(30), bal)

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestReturnedBountyIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	b := seedBounty(t, s)
	require.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.LockBounty(ctx, b.ID); err != nil {
			return err
		}
		_, err := tx.AppendClaim(ctx, domain.Claim{BountyID: b.ID, Scientist: bob})
		return err
	}))

	got, err := s.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	got.Claims[0].Status = domain.ClaimApproved

	again, err := s.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.ClaimApproved, again.Claims[0].Status)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Deposit(ctx, alice, 10))

	err := s.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.Debit(ctx, alice, 6); err != nil {
			return err
		}
		return tx.Debit(ctx, alice, 6)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = s.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.Credit(ctx, alice, 2); err != nil {
			return err
		}
		return tx.Debit(ctx, alice, 12)
	})
	assert.NoError(t, err, "credits inside the transaction count toward later debits")
}

func TestLockScope(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedBounty(t, s)
	b := seedBounty(t, s)

	err := s.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.LockBounty(ctx, a.ID); err != nil {
			return err
		}
		if _, err := tx.LockBounty(ctx, a.ID); err != nil {
			return err
		}
		_, err := tx.LockBounty(ctx, b.ID)
		return err
	})
	assert.ErrorIs(t, err, errLockScope)

	err = s.Update(ctx, func(tx ports.LedgerTx) error {
		_, err := tx.LockBounty(ctx, 99)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrBountyNotFound)

	// Locks from failed transactions are released.
	require.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
		_, err := tx.LockBounty(ctx, a.ID)
		return err
	}))
}

func TestLockTable_ForgetsReleasedIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedBounty(t, s)

	for id := uint64(1000); id < 1100; id++ {
		err := s.Update(ctx, func(tx ports.LedgerTx) error {
			_, err := tx.LockBounty(ctx, id)
			return err
		})
		require.ErrorIs(t, err, domain.ErrBountyNotFound)
		err = s.Update(ctx, func(tx ports.LedgerTx) error {
			_, err := tx.LockEscrowEntry(ctx, id)
			return err
		})
		require.ErrorIs(t, err, domain.ErrEscrowNotFound)
	}
	assert.Equal(t, 0, s.bountyLocks.size())
	assert.Equal(t, 0, s.escrowLocks.size())

	// Contended ids still serialize and are forgotten afterwards.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
				_, err := tx.LockBounty(ctx, a.ID)
				return err
			}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.bountyLocks.size())
}

func TestEscrowEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
		for i := uint32(0); i < 2; i++ {
			if _, err := tx.AppendEscrowEntry(ctx, domain.EscrowEntry{BountyID: 7, ClaimIndex: i, Amount: 5}); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListEscrowEntries(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(0), list[0].ID)
	assert.Equal(t, uint64(1), list[1].ID)

	require.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.LockEscrowEntry(ctx, 1); err != nil {
			return err
		}
		_, err := tx.MarkEscrowClaimed(ctx, 1, bob, at)
		return err
	}))
	e, err := s.GetEscrowEntry(ctx, 1)
	require.NoError(t, err)
	assert.True(t, e.Claimed)
	assert.Equal(t, bob, *e.Payee)

	_, err = s.GetEscrowEntry(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
}

func TestOutboxDelivery(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock))
	require.NoError(t, s.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.AppendEvent(ctx, domain.Receipt{Op: domain.OpCreateBounty}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.Receipt{Op: domain.OpSubmitClaim})
	}))
	assert.Equal(t, 2, s.Pending())

	ev, ok, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, 1, ev.Attempts)
	require.NoError(t, s.MarkDelivered(ctx, ev.Seq))

	for attempt := 1; attempt <= MaxDeliveryAttempts; attempt++ {
		ev, ok, err = s.ClaimNext(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), ev.Seq)
		assert.Equal(t, attempt, ev.Attempts)
		require.NoError(t, s.MarkFailed(ctx, ev.Seq, "mirror down"))

		if attempt < MaxDeliveryAttempts {
			_, ok, err = s.ClaimNext(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "failed event waits out its backoff")
			clock.Advance(time.Duration(attempt)*RetryBackoff - time.Millisecond)
			_, ok, _ = s.ClaimNext(ctx)
			assert.False(t, ok)
			clock.Advance(time.Millisecond)
		}
	}

	clock.Advance(time.Hour)
	_, ok, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "event is given up on after the last attempt")
	assert.Equal(t, 0, s.Pending())

	assert.Error(t, s.MarkDelivered(ctx, 42))
}
