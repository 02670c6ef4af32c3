package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// resume re-arms deferred work persisted by an earlier run. Times already
// past fire immediately.
func (e *engine) resume(ctx context.Context) error {
	l := log.Ctx(ctx)

	scheduled, err := e.store.PendingScheduled(ctx)
	if err != nil {
		return domain.Persistence(err, "failed to load scheduled messages")
	}
	for _, msg := range scheduled {
		e.scheduleDelivery(ctx, msg)
	}

	expiring, err := e.store.PendingSelfDestruct(ctx)
	if err != nil {
		return domain.Persistence(err, "failed to load self-destructing messages")
	}
	for _, msg := range expiring {
		e.scheduleExpiry(ctx, msg)
	}

	now := e.now()
	stale, err := e.store.ExpireStaleCalls(ctx, now.Add(-e.cfg.OfferTimeout), now)
	if err != nil {
		return domain.Persistence(err, "failed to expire stale calls")
	}

	l.Info().
		Int("scheduled", len(scheduled)).
		Int("self_destruct", len(expiring)).
		Int64("stale_calls", stale).
		Msg("resumed deferred work")
	return nil
}
