// Package worker runs the balance auditor in the background, driven by
// change messages and a periodic sweep.
package worker

import (
	"context"
	"fmt"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
	"ledgerbook/internal/services"
	"ledgerbook/internal/store"
)

type BalanceAuditor interface {
	CheckBalanceConsistency(ctx context.Context, ledgerID string) (services.BalanceCheckResult, error)
	RecalculateBalances(ctx context.Context, ledgerID string) (services.RecalculateResult, error)
}

type ChangeConsumer interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// Mirror wraps a consumer so every message is first republished on a
// local bus, typically with amqp.Inject.
func Mirror(consumer ChangeConsumer, inject func(context.Context, *amqp.ChangeMessage) error) ChangeConsumer {
	return mirrored{consumer: consumer, inject: inject}
}

type mirrored struct {
	consumer ChangeConsumer
	inject   func(context.Context, *amqp.ChangeMessage) error
}

func (m mirrored) ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error {
	return m.consumer.ConsumeChanges(ctx, func(ctx context.Context, msg *amqp.ChangeMessage) error {
		if err := m.inject(ctx, msg); err != nil {
			return err
		}
		return handler(ctx, msg)
	})
}

// LedgerAudit summarizes one audit pass over a ledger.
type LedgerAudit struct {
	LedgerID   string
	Mismatches int
	Repaired   int
}

// defaultSettle is how long a sweep waits before re-checking a drifted
// ledger. It must outlast one mutation in another process.
const defaultSettle = 2 * time.Second

type AuditWorker struct {
	auditor BalanceAuditor
	ledgers store.LedgerStore
	repair  bool
	settle  time.Duration
	logger  *log.Logger
}

type Option func(*AuditWorker)

// WithSettleDelay sets the pause between the two checks that must agree
// before a ledger is repaired.
func WithSettleDelay(d time.Duration) Option {
	return func(w *AuditWorker) { w.settle = d }
}

func NewAuditWorker(auditor BalanceAuditor, ledgers store.LedgerStore, repair bool, logger *log.Logger, opts ...Option) *AuditWorker {
	if logger == nil {
		logger = log.Nop()
	}
	w := &AuditWorker{
		auditor: auditor,
		ledgers: ledgers,
		repair:  repair,
		settle:  defaultSettle,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleChange checks the ledger touched by a transaction change. A
// mutation writes account balances before its transaction, so account
// changes arrive while the ledger is still half-written and are ignored.
// Drift seen here is only reported; repairs belong to the sweep.
func (w *AuditWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Entity != events.EntityTransaction {
		return nil
	}
	if msg.LedgerID == "" {
		_, err := w.auditAll(ctx, false)
		return err
	}
	_, err := w.auditLedger(ctx, msg.LedgerID, false)
	return err
}

// AuditLedger checks one ledger and, when repair is enabled, rewrites the
// drifted balances once a second check after the settle delay reports the
// same drift.
func (w *AuditWorker) AuditLedger(ctx context.Context, ledgerID string) (LedgerAudit, error) {
	return w.auditLedger(ctx, ledgerID, w.repair)
}

func (w *AuditWorker) auditLedger(ctx context.Context, ledgerID string, repair bool) (LedgerAudit, error) {
	res, err := w.auditor.CheckBalanceConsistency(ctx, ledgerID)
	if err != nil {
		return LedgerAudit{}, fmt.Errorf("check ledger %s: %w", ledgerID, err)
	}

	audit := LedgerAudit{LedgerID: ledgerID}
	for _, it := range res.Items {
		if it.Delta != 0 {
			audit.Mismatches++
		}
	}
	if !res.HasMismatch {
		w.logger.DebugContext(ctx, "Ledger balances consistent", log.FieldLedgerID, ledgerID)
		return audit, nil
	}

	w.logger.WarnContext(ctx, "Ledger balances drifted",
		log.FieldOperation, log.OpAudit,
		log.FieldLedgerID, ledgerID,
		log.FieldCount, audit.Mismatches)

	if !repair {
		return audit, nil
	}

	confirmed, err := w.confirmDrift(ctx, ledgerID, res)
	if err != nil {
		return audit, err
	}
	if !confirmed {
		w.logger.InfoContext(ctx, "Ledger drift not confirmed, repair skipped",
			log.FieldOperation, log.OpRepair,
			log.FieldLedgerID, ledgerID)
		return audit, nil
	}

	fixed, err := w.auditor.RecalculateBalances(ctx, ledgerID)
	if err != nil {
		return audit, fmt.Errorf("repair ledger %s: %w", ledgerID, err)
	}
	audit.Repaired = fixed.UpdatedCount
	w.logger.InfoContext(ctx, "Ledger balances repaired",
		log.FieldOperation, log.OpRepair,
		log.FieldLedgerID, ledgerID,
		log.FieldCount, fixed.UpdatedCount)
	return audit, nil
}

// confirmDrift waits for the settle delay and reports whether the ledger
// still shows exactly the drift of first.
func (w *AuditWorker) confirmDrift(ctx context.Context, ledgerID string, first services.BalanceCheckResult) (bool, error) {
	if w.settle > 0 {
		timer := time.NewTimer(w.settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	again, err := w.auditor.CheckBalanceConsistency(ctx, ledgerID)
	if err != nil {
		return false, fmt.Errorf("recheck ledger %s: %w", ledgerID, err)
	}
	return again.HasMismatch && maps.Equal(drift(first), drift(again)), nil
}

func drift(res services.BalanceCheckResult) map[string]int64 {
	out := make(map[string]int64)
	for _, it := range res.Items {
		if it.Delta != 0 {
			out[it.AccountID] = it.Delta
		}
	}
	return out
}

// AuditAll audits every ledger, repairing when enabled. A failing ledger is
// logged and skipped so one bad ledger does not block the sweep.
func (w *AuditWorker) AuditAll(ctx context.Context) ([]LedgerAudit, error) {
	return w.auditAll(ctx, w.repair)
}

func (w *AuditWorker) auditAll(ctx context.Context, repair bool) ([]LedgerAudit, error) {
	ledgers, err := w.ledgers.ListLedgers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}

	start := time.Now()
	out := make([]LedgerAudit, 0, len(ledgers))
	failed := 0
	for _, l := range ledgers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		audit, err := w.auditLedger(ctx, l.ID, repair)
		if err != nil {
			failed++
			w.logger.ErrorContext(ctx, "Ledger audit failed",
				log.FieldLedgerID, l.ID,
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorType(err))
			continue
		}
		out = append(out, audit)
	}

	w.logger.InfoContext(ctx, "Audit sweep completed",
		log.FieldOperation, log.OpAudit,
		"ledgers", len(ledgers),
		"failed", failed,
		log.FieldDuration, time.Since(start).Milliseconds())
	return out, nil
}

// Run audits everything once, then consumes change messages and sweeps
// every interval until ctx ends. A nil consumer or a zero interval
// disables that half.
func (w *AuditWorker) Run(ctx context.Context, consumer ChangeConsumer, interval time.Duration) error {
	if _, err := w.AuditAll(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Startup audit failed", log.FieldError, err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeChanges(ctx, w.HandleChange)
		})
	}
	if interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if _, err := w.AuditAll(ctx); err != nil && ctx.Err() == nil {
						w.logger.ErrorContext(ctx, "Periodic audit failed", log.FieldError, err.Error())
					}
				}
			}
		})
	}
	return g.Wait()
}
