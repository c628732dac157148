package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledgerbook/internal/cache"
	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

type StatisticsParams struct {
	LedgerID string
	Start    *time.Time
	End      *time.Time
}

// StatisticsService aggregates income and expense per category. Summaries
// are cached per ledger and window; any change to a ledger drops its
// entries.
type StatisticsService struct {
	stores store.Stores
	logger *log.Logger
	cache  cache.Cache[core.StatisticsSummary]

	mu          sync.Mutex
	generations map[string]uint64
}

func newStatisticsService(stores store.Stores, logger *log.Logger, c cache.Cache[core.StatisticsSummary]) *StatisticsService {
	s := &StatisticsService{
		stores:      stores,
		logger:      logger,
		cache:       c,
		generations: make(map[string]uint64),
	}
	stores.Changes.OnChange(s.invalidate)
	return s
}

func (s *StatisticsService) GetStatisticsSummary(ctx context.Context, p StatisticsParams) (core.StatisticsSummary, error) {
	const op = "statistics.summary"
	if strings.TrimSpace(p.LedgerID) == "" {
		return core.StatisticsSummary{}, core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}

	key := s.key(p)
	if s.cache != nil {
		if summary, ok := s.cache.Get(key); ok {
			return summary, nil
		}
	}

	txs, err := s.stores.Transactions.FindTransactions(ctx, core.TransactionFilter{
		LedgerID: p.LedgerID,
		Start:    p.Start,
		End:      p.End,
	})
	if err != nil {
		return core.StatisticsSummary{}, core.Storage(op, err)
	}
	cats, err := s.stores.Categories.ListCategories(ctx, p.LedgerID, "")
	if err != nil {
		return core.StatisticsSummary{}, core.Storage(op, err)
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	summary := core.Summarize(txs, names)
	if s.cache != nil {
		s.cache.Set(key, summary)
	}
	return summary, nil
}

// WatchStatisticsSummary emits the summary now and after every change to
// the ledger until ctx is cancelled.
func (s *StatisticsService) WatchStatisticsSummary(ctx context.Context, p StatisticsParams) (<-chan core.StatisticsSummary, error) {
	if strings.TrimSpace(p.LedgerID) == "" {
		return nil, core.Validation("statistics.watch_summary", core.ErrBlankLedger, "ledger id is blank")
	}
	return watch(ctx, s.stores.Changes, p.LedgerID, s.logger, func(ctx context.Context) (core.StatisticsSummary, error) {
		return s.GetStatisticsSummary(ctx, p)
	})
}

// key embeds the ledger generation read before computing, so a summary
// computed concurrently with a write is stored under a stale key and
// never served.
func (s *StatisticsService) key(p StatisticsParams) string {
	s.mu.Lock()
	gen, ok := s.generations[p.LedgerID]
	if !ok {
		s.generations[p.LedgerID] = 0
	}
	s.mu.Unlock()
	return fmt.Sprintf("%s|%d|%s|%s", p.LedgerID, gen, formatBound(p.Start), formatBound(p.End))
}

func (s *StatisticsService) invalidate(c events.Change) {
	if c.Entity == events.EntityPreference {
		return
	}
	s.mu.Lock()
	var ledgers []string
	if c.LedgerID == "" {
		for id := range s.generations {
			ledgers = append(ledgers, id)
		}
	} else {
		ledgers = []string{c.LedgerID}
	}
	for _, id := range ledgers {
		s.generations[id]++
	}
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	for _, id := range ledgers {
		s.cache.DeletePrefix(id + "|")
	}
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
