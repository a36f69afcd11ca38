package ports

import (
	"context"

	"carrierwave/internal/domain"
)

// OutboxRepository supports claiming and acknowledging ledger events for the
// mirror relay.
type OutboxRepository interface {
	ClaimNext(ctx context.Context) (ev domain.Event, found bool, err error)
	MarkDelivered(ctx context.Context, seq int64) error
	// MarkFailed requeues the event until its attempts run out.
	MarkFailed(ctx context.Context, seq int64, reason string) error
}
