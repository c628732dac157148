// Package events carries change notifications from the store adapters to
// the reactive queries and the event relay.
package events

import (
	"sync"
	"time"
)

type Entity string

const (
	EntityLedger      Entity = "ledger"
	EntityAccount     Entity = "account"
	EntityCategory    Entity = "category"
	EntityTag         Entity = "tag"
	EntityMerchant    Entity = "merchant"
	EntityTransaction Entity = "transaction"
	EntityPreference  Entity = "preference"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one successful write. An empty LedgerID means the
// change may affect any ledger.
type Change struct {
	Entity   Entity    `json:"entity"`
	Op       Op        `json:"op"`
	LedgerID string    `json:"ledger_id,omitempty"`
	ID       string    `json:"id,omitempty"`
	At       time.Time `json:"at"`
}

// Affects reports whether observers of ledgerID should re-evaluate.
func (c Change) Affects(ledgerID string) bool {
	return c.LedgerID == "" || ledgerID == "" || c.LedgerID == ledgerID
}

const defaultBuffer = 16

// Bus fans out changes to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the change but already has
// undelivered notifications pending, which is all a re-evaluating
// observer needs.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Change
	hooks  []func(Change)
	next   int
	buffer int
	closed bool
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultBuffer)
}

func NewBusWithBuffer(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{subs: make(map[int]chan Change), buffer: buffer}
}

// Publish delivers c to every hook synchronously and to every subscriber
// without blocking. A nil bus discards the change.
func (b *Bus) Publish(c Change) {
	if b == nil {
		return
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, h := range b.hooks {
		h(c)
	}
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe returns a channel of changes and a func that unsubscribes and
// closes it. On a nil bus the channel is nil and never delivers.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	if b == nil {
		return nil, func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Change, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// OnChange registers fn to run inline on every Publish. Hooks must be
// fast and must not publish.
func (b *Bus) OnChange(fn func(Change)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
