// Package services holds the ledger engine: the recorder, auditor, query,
// statistics, initializer, backup and export services sharing one store
// bundle and one set of per-ledger locks.
package services

import (
	"time"

	"ledgerbook/internal/cache"
	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

type Options struct {
	Logger         *log.Logger
	Defaults       Defaults
	StatsCacheSize int
	StatsCacheTTL  time.Duration
	Now            func() time.Time
}

type Engine struct {
	Recorder    *Recorder
	Auditor     *Auditor
	Query       *QueryService
	Statistics  *StatisticsService
	Initializer *Initializer
	Backup      *BackupService
	Exporter    *Exporter

	caches *cache.Manager
}

func New(stores store.Stores, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.StatsCacheSize
	if size <= 0 {
		size = 128
	}

	locks := newLedgerLocks()
	statsCache := cache.NewLRUCache[core.StatisticsSummary](size, opts.StatsCacheTTL)
	manager := cache.NewManager(logger)
	manager.Register(statsCache)
	if opts.StatsCacheTTL > 0 {
		manager.StartCleanup(opts.StatsCacheTTL)
	}

	return &Engine{
		Recorder: &Recorder{
			stores: stores, locks: locks, now: now,
			logger: logger.WithComponent(log.ComponentRecorder),
		},
		Auditor: &Auditor{
			stores: stores, locks: locks,
			logger: logger.WithComponent(log.ComponentAuditor),
		},
		Query: &QueryService{
			stores: stores,
			logger: logger.WithComponent(log.ComponentQuery),
		},
		Statistics: newStatisticsService(stores, logger.WithComponent(log.ComponentStatistics), statsCache),
		Initializer: &Initializer{
			stores: stores, defaults: opts.Defaults.withFallbacks(), now: now,
			logger: logger.WithComponent(log.ComponentInitializer),
		},
		Backup: &BackupService{
			stores: stores, locks: locks, now: now,
			logger: logger.WithComponent(log.ComponentBackup),
		},
		Exporter: &Exporter{
			stores: stores,
			logger: logger.WithComponent(log.ComponentExport),
		},
		caches: manager,
	}
}

// Close stops background cache maintenance. The stores stay open.
func (e *Engine) Close() {
	e.caches.Stop()
}
