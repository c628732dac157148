package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
	"ledgerbook/internal/services"
	"ledgerbook/internal/store"
	"ledgerbook/internal/store/memory"
)

type env struct {
	ctx    context.Context
	mem    *memory.Store
	engine *services.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := memory.New(nil)
	engine := services.New(store.FromBackend(mem), services.Options{})
	t.Cleanup(engine.Close)
	ctx := context.Background()

	for _, id := range []string{"home", "work"} {
		require.NoError(t, mem.UpsertLedger(ctx, core.Ledger{ID: id, Name: id}))
		require.NoError(t, mem.UpsertAccount(ctx, core.Account{
			ID: id + "-cash", LedgerID: id, Name: "Cash", Type: core.AccountCash, Currency: "EUR", Active: true,
		}))
		_, err := engine.Recorder.AddIncomeExpense(ctx, services.AddIncomeExpenseParams{
			LedgerID: id, Type: core.Income, Amount: 1000, Currency: "EUR",
			OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), AccountID: id + "-cash",
		})
		require.NoError(t, err)
	}
	return &env{ctx: ctx, mem: mem, engine: engine}
}

func (e *env) drift(t *testing.T, accountID string) {
	t.Helper()
	require.NoError(t, e.mem.UpdateBalance(e.ctx, accountID, 1))
}

func (e *env) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	a, err := e.mem.GetAccount(e.ctx, accountID)
	require.NoError(t, err)
	return a.CurrentBalance
}

func TestAuditLedgerReportsWithoutRepair(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")

	w := NewAuditWorker(e.engine.Auditor, e.mem, false, nil)
	audit, err := w.AuditLedger(e.ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, LedgerAudit{LedgerID: "home", Mismatches: 1}, audit)
	assert.Equal(t, int64(1), e.balance(t, "home-cash"))
}

func TestAuditLedgerRepairs(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")

	w := NewAuditWorker(e.engine.Auditor, e.mem, true, nil, WithSettleDelay(time.Millisecond))
	audit, err := w.AuditLedger(e.ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, 1, audit.Repaired)
	assert.Equal(t, int64(1000), e.balance(t, "home-cash"))
}

type recordingAuditor struct {
	BalanceAuditor
	checked  []string
	repaired []string
	// afterCheck runs once after the first check, as another process would
	// between two reads.
	afterCheck func()
}

func (r *recordingAuditor) CheckBalanceConsistency(ctx context.Context, ledgerID string) (services.BalanceCheckResult, error) {
	r.checked = append(r.checked, ledgerID)
	res, err := r.BalanceAuditor.CheckBalanceConsistency(ctx, ledgerID)
	if r.afterCheck != nil {
		r.afterCheck()
		r.afterCheck = nil
	}
	return res, err
}

func (r *recordingAuditor) RecalculateBalances(ctx context.Context, ledgerID string) (services.RecalculateResult, error) {
	r.repaired = append(r.repaired, ledgerID)
	return r.BalanceAuditor.RecalculateBalances(ctx, ledgerID)
}

func TestHandleChangeReportsTransactionChangesOnly(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")
	e.drift(t, "work-cash")
	auditor := &recordingAuditor{BalanceAuditor: e.engine.Auditor}
	w := NewAuditWorker(auditor, e.mem, true, nil, WithSettleDelay(0))

	require.NoError(t, w.HandleChange(e.ctx, &amqp.ChangeMessage{Entity: events.EntityTag, Op: events.OpUpsert, LedgerID: "home"}))
	require.NoError(t, w.HandleChange(e.ctx, &amqp.ChangeMessage{Entity: events.EntityAccount, Op: events.OpUpdate, LedgerID: "home"}))
	assert.Empty(t, auditor.checked, "only transaction writes finish a mutation")

	require.NoError(t, w.HandleChange(e.ctx, &amqp.ChangeMessage{Entity: events.EntityTransaction, Op: events.OpUpsert, LedgerID: "home"}))
	assert.Equal(t, []string{"home"}, auditor.checked)

	require.NoError(t, w.HandleChange(e.ctx, &amqp.ChangeMessage{Entity: events.EntityTransaction, Op: events.OpDelete}))
	assert.Equal(t, []string{"home", "home", "work"}, auditor.checked, "a change without ledger checks everything")

	assert.Empty(t, auditor.repaired, "change messages never repair")
	assert.Equal(t, int64(1), e.balance(t, "home-cash"))
	assert.Equal(t, int64(1), e.balance(t, "work-cash"))
}

// Another process has written the balance of a +100 income but not yet its
// transaction. The account change reaches the worker first.
func TestHalfWrittenMutationIsNotRepaired(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.UpdateBalance(e.ctx, "home-cash", 1100))
	finish := func() {
		require.NoError(t, e.mem.UpsertTransaction(e.ctx, core.Transaction{
			ID: "late", LedgerID: "home", Type: core.Income, Amount: 100, Currency: "EUR",
			OccurredAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), AccountID: "home-cash",
		}))
	}

	auditor := &recordingAuditor{BalanceAuditor: e.engine.Auditor}
	w := NewAuditWorker(auditor, e.mem, true, nil, WithSettleDelay(0))
	require.NoError(t, w.HandleChange(e.ctx, &amqp.ChangeMessage{Entity: events.EntityAccount, Op: events.OpUpdate, LedgerID: "home", ID: "home-cash"}))
	assert.Empty(t, auditor.checked)

	auditor.afterCheck = finish
	audit, err := w.AuditLedger(e.ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, LedgerAudit{LedgerID: "home", Mismatches: 1}, audit, "drift gone on recheck")
	assert.Empty(t, auditor.repaired)
	assert.Equal(t, int64(1100), e.balance(t, "home-cash"))

	res, err := e.engine.Auditor.CheckBalanceConsistency(e.ctx, "home")
	require.NoError(t, err)
	assert.False(t, res.HasMismatch)
}

func TestSweepRepairsOnlyConfirmedDrift(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")
	auditor := &recordingAuditor{
		BalanceAuditor: e.engine.Auditor,
		afterCheck:     func() { e.drift(t, "home-cash") },
	}
	w := NewAuditWorker(auditor, e.mem, true, nil, WithSettleDelay(time.Millisecond))

	audit, err := w.AuditLedger(e.ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, 1, audit.Repaired)
	assert.Equal(t, []string{"home", "home"}, auditor.checked)
	assert.Equal(t, []string{"home"}, auditor.repaired)
	assert.Equal(t, int64(1000), e.balance(t, "home-cash"))
}

func TestRepairStopsWithContextDuringSettle(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")
	w := NewAuditWorker(e.engine.Auditor, e.mem, true, nil, WithSettleDelay(time.Hour))

	ctx, cancel := context.WithCancel(e.ctx)
	cancel()
	_, err := w.AuditLedger(ctx, "home")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), e.balance(t, "home-cash"))
}

type failingAuditor struct {
	BalanceAuditor
	failLedger string
}

func (f failingAuditor) CheckBalanceConsistency(ctx context.Context, ledgerID string) (services.BalanceCheckResult, error) {
	if ledgerID == f.failLedger {
		return services.BalanceCheckResult{}, core.Storage("test.check", errors.New("disk gone"))
	}
	return f.BalanceAuditor.CheckBalanceConsistency(ctx, ledgerID)
}

func TestAuditAllSkipsFailingLedger(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "work-cash")

	w := NewAuditWorker(failingAuditor{BalanceAuditor: e.engine.Auditor, failLedger: "home"}, e.mem, true, nil, WithSettleDelay(0))
	audits, err := w.AuditAll(e.ctx)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "work", audits[0].LedgerID)
	assert.Equal(t, int64(1000), e.balance(t, "work-cash"))
}

type fakeConsumer struct {
	msgs []*amqp.ChangeMessage
}

func (f fakeConsumer) ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error {
	for _, m := range f.msgs {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunAuditsOnStartupAndStopsWithContext(t *testing.T) {
	e := newEnv(t)
	e.drift(t, "home-cash")
	w := NewAuditWorker(e.engine.Auditor, e.mem, true, nil, WithSettleDelay(0))

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan error, 1)
	consumer := fakeConsumer{msgs: []*amqp.ChangeMessage{{Entity: events.EntityTransaction, Op: events.OpUpsert, LedgerID: "work"}}}
	go func() { done <- w.Run(ctx, consumer, time.Hour) }()

	require.Eventually(t, func() bool {
		a, err := e.mem.GetAccount(e.ctx, "home-cash")
		return err == nil && a.CurrentBalance == 1000
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestMirrorRepublishesBeforeHandling(t *testing.T) {
	bus := events.NewBus()
	changes, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	msg := &amqp.ChangeMessage{Entity: events.EntityTransaction, Op: events.OpUpsert, LedgerID: "home", ID: "t1", Source: "cli-1"}
	consumer := Mirror(fakeConsumer{msgs: []*amqp.ChangeMessage{msg}}, amqp.Inject(bus, "worker-1"))

	ctx, cancel := context.WithCancel(context.Background())
	var handled []string
	err := consumer.ConsumeChanges(ctx, func(_ context.Context, m *amqp.ChangeMessage) error {
		select {
		case c := <-changes:
			assert.Equal(t, m.ID, c.ID, "change is on the bus before the handler runs")
		default:
			t.Error("change not republished")
		}
		handled = append(handled, m.ID)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"t1"}, handled)
}
