package simulation

import (
	"sort"
	"sync"
	"sync/atomic"

	"papertrade-core/pkg/trading"
)

// Eviction phases. A pending entry is still inside SimulateAndSettle and
// is never evicted.
const (
	phasePending int32 = iota
	phaseResting
	phaseDone
)

// orderEntry guards one order's status transitions.
type orderEntry struct {
	mu    sync.Mutex
	order trading.SimulatedOrder
	phase atomic.Int32
}

// settled records where the order ended up once its submission returns.
func (e *orderEntry) settled() {
	if e.snapshot().Status.Terminal() {
		e.phase.Store(phaseDone)
		return
	}
	e.phase.CompareAndSwap(phasePending, phaseResting)
}

func (e *orderEntry) snapshot() trading.SimulatedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order
}

// orderStore is a capped FIFO index. It only guards the index; status
// changes take the entry's own lock.
type orderStore struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*orderEntry
	fifo     []string
}

func newOrderStore(capacity int) *orderStore {
	return &orderStore{
		capacity: capacity,
		items:    make(map[string]*orderEntry, capacity),
		fifo:     make([]string, 0, capacity),
	}
}

// put inserts o and returns the entries evicted to stay within capacity.
// Terminal orders go first, then the oldest resting ones. While every
// stored order is still pending the store grows past capacity.
func (s *orderStore) put(o trading.SimulatedOrder) (*orderEntry, []*orderEntry) {
	e := &orderEntry{order: o}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []*orderEntry
	for len(s.fifo) >= s.capacity {
		i := s.victim()
		if i < 0 {
			break
		}
		id := s.fifo[i]
		s.fifo = append(s.fifo[:i], s.fifo[i+1:]...)
		evicted = append(evicted, s.items[id])
		delete(s.items, id)
	}
	s.items[o.OrderID] = e
	s.fifo = append(s.fifo, o.OrderID)
	return e, evicted
}

// victim returns the fifo index to evict next, or -1.
func (s *orderStore) victim() int {
	resting := -1
	for i, id := range s.fifo {
		switch s.items[id].phase.Load() {
		case phaseDone:
			return i
		case phaseResting:
			if resting < 0 {
				resting = i
			}
		}
	}
	return resting
}

func (s *orderStore) get(id string) (*orderEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	return e, ok
}

// list returns orders of userID (all users when empty), newest first.
func (s *orderStore) list(userID string) []trading.SimulatedOrder {
	s.mu.RLock()
	entries := make([]*orderEntry, 0, len(s.fifo))
	for _, id := range s.fifo {
		entries = append(entries, s.items[id])
	}
	s.mu.RUnlock()

	out := make([]trading.SimulatedOrder, 0, len(entries))
	for _, e := range entries {
		o := e.snapshot()
		if userID == "" || o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s *orderStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
