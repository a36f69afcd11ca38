// Package mirrorrelay moves committed ledger events from the outbox into the
// mirror read model.
package mirrorrelay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"carrierwave/internal/domain"
	"carrierwave/internal/metrics"
	"carrierwave/internal/ports"
)

type Relay struct {
	repo        ports.OutboxRepository
	projector   ports.Projector
	log         *zap.Logger
	concurrency int
	poll        time.Duration
}

func New(repo ports.OutboxRepository, projector ports.Projector, concurrency int, poll time.Duration, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Relay{repo: repo, projector: projector, log: log, concurrency: concurrency, poll: poll}
}

// Run claims events and fans them out to worker goroutines until ctx is done.
// It returns once every worker has exited; events already handed to a worker
// are still delivered.
func (r *Relay) Run(ctx context.Context) {
	if r.concurrency < 1 {
		return
	}
	events := make(chan domain.Event, r.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// Buffered events were claimed already; finish them past shutdown.
			wctx := context.WithoutCancel(ctx)
			for ev := range events {
				_ = r.deliver(wctx, idx, ev)
			}
		}(i)
	}

	// dispatcher
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	defer func() {
		close(events)
		wg.Wait()
	}()
	for {
		if !r.dispatch(ctx, events) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch drains the queue into events. It reports false once ctx is done.
func (r *Relay) dispatch(ctx context.Context, events chan<- domain.Event) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		ev, found, err := r.repo.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			r.log.Error("outbox claim failed", zap.Error(err))
			return true
		}
		if !found {
			return true
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			// Left running; the store requeues stale events at startup.
			return false
		}
	}
}

func (r *Relay) deliver(ctx context.Context, worker int, ev domain.Event) error {
	fields := []zap.Field{zap.Int("worker", worker), zap.Int64("seq", ev.Seq), zap.String("op", string(ev.Receipt.Op)), zap.Int("attempt", ev.Attempts)}
	if err := r.projector.Apply(ctx, ev); err != nil {
		metrics.RecordRelay("failed")
		r.log.Warn("mirror apply failed", append(fields, zap.Error(err))...)
		if merr := r.repo.MarkFailed(ctx, ev.Seq, err.Error()); merr != nil {
			r.log.Error("outbox mark failed", append(fields, zap.Error(merr))...)
		}
		return err
	}
	if err := r.repo.MarkDelivered(ctx, ev.Seq); err != nil {
		r.log.Error("outbox mark delivered", append(fields, zap.Error(err))...)
		return err
	}
	metrics.RecordRelay("delivered")
	r.log.Debug("mirror event applied", fields...)
	return nil
}

// Drain delivers every available event synchronously on the calling goroutine
// and reports how many were applied. A failed event is requeued behind its
// retry backoff, so Drain does not see it again until that has elapsed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	applied := 0
	for {
		ev, found, err := r.repo.ClaimNext(ctx)
		if err != nil {
			return applied, err
		}
		if !found {
			return applied, nil
		}
		if err := r.deliver(ctx, -1, ev); err == nil {
			applied++
		}
	}
}
