package services

import (
	"sort"
	"sync"
)

// ledgerLocks serializes mutations per ledger. Restore takes the global
// write side and excludes every ledger mutation.
type ledgerLocks struct {
	global sync.RWMutex
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

func newLedgerLocks() *ledgerLocks {
	return &ledgerLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the given ledgers in sorted order and returns the release func.
func (l *ledgerLocks) lock(ledgerIDs ...string) func() {
	ids := append([]string(nil), ledgerIDs...)
	sort.Strings(ids)

	l.global.RLock()
	held := make([]*sync.Mutex, 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		l.global.RUnlock()
	}
}

func (l *ledgerLocks) lockAll() func() {
	l.global.Lock()
	return l.global.Unlock
}

func (l *ledgerLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
