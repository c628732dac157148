package services

import (
	"context"

	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
)

// watch emits compute's initial result, then a fresh result after every
// change affecting ledgerID. Bursts of changes coalesce: a slow consumer
// only ever sees the latest result. The channel closes when ctx is done.
func watch[T any](ctx context.Context, bus *events.Bus, ledgerID string, logger *log.Logger,
	compute func(context.Context) (T, error)) (<-chan T, error) {
	changes, unsubscribe := bus.Subscribe()

	first, err := compute(ctx)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	out := make(chan T, 1)
	go func() {
		defer close(out)
		defer unsubscribe()

		pending, have := first, true
		for {
			var send chan<- T
			if have {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case send <- pending:
				have = false
			case c, ok := <-changes:
				if !ok {
					return
				}
				if !c.Affects(ledgerID) {
					continue
				}
				drain(changes)
				v, err := compute(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.WarnContext(ctx, "Watch refresh failed", log.FieldLedgerID, ledgerID, log.FieldError, err)
					continue
				}
				pending, have = v, true
			}
		}
	}()
	return out, nil
}

// drain discards queued changes; the next compute observes all of them.
func drain(changes <-chan events.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
