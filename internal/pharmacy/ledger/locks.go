package ledger

import (
	"sort"
	"sync"
)

// medicineLocks hands out one mutex per medicine id. Entries are never
// removed; the catalog is small and bounded.
type medicineLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMedicineLocks() *medicineLocks {
	return &medicineLocks{locks: make(map[string]*sync.Mutex)}
}

func (m *medicineLocks) get(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// lock acquires the locks of every distinct id in ascending order and
// returns the matching unlock.
func (m *medicineLocks) lock(ids ...string) func() {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, id := range uniq {
		l := m.get(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
