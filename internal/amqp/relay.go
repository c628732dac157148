package amqp

import (
	"context"
	"time"

	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
)

type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *ChangeMessage) error
}

const drainTimeout = 2 * time.Second

// Relay forwards every change published on bus until ctx ends. See Forward.
func Relay(ctx context.Context, bus *events.Bus, pub ChangePublisher, source string, logger *log.Logger) error {
	changes, cancel := bus.Subscribe()
	defer cancel()
	return Forward(ctx, changes, pub, source, logger)
}

// Forward publishes changes read from an existing subscription until ctx
// ends or the subscription closes. Changes still buffered when ctx ends are
// flushed before returning. Publish failures are logged and the change is
// dropped.
func Forward(ctx context.Context, changes <-chan events.Change, pub ChangePublisher, source string, logger *log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentAMQP)

	forward := func(ctx context.Context, c events.Change) {
		if err := pub.PublishChange(ctx, NewChangeMessage(c, source)); err != nil {
			logger.WarnContext(ctx, "Dropped change",
				log.FieldOperation, log.OpPublish,
				log.FieldEntity, string(c.Entity),
				log.FieldLedgerID, c.LedgerID,
				log.FieldError, err.Error())
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, stop := context.WithTimeout(context.Background(), drainTimeout)
			defer stop()
			for {
				select {
				case c, ok := <-changes:
					if !ok {
						return ctx.Err()
					}
					forward(flushCtx, c)
				default:
					return ctx.Err()
				}
			}
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			forward(ctx, c)
		}
	}
}

// Inject returns a consumer handler that republishes remote changes on a
// local bus, skipping messages that originated from source.
func Inject(bus *events.Bus, source string) func(context.Context, *ChangeMessage) error {
	return func(_ context.Context, msg *ChangeMessage) error {
		if source != "" && msg.Source == source {
			return nil
		}
		bus.Publish(msg.Change())
		return nil
	}
}
