package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// lockTable hands out one RWMutex per account address. Entries are never
// evicted; the table grows with the set of addresses ever locked.
type lockTable struct {
	mu    sync.Mutex
	locks map[solana.PublicKey]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[solana.PublicKey]*sync.RWMutex)}
}

func (t *lockTable) get(address solana.PublicKey) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[address]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[address] = l
	}
	return l
}

type lockEntry struct {
	address  solana.PublicKey
	writable bool
}

// normalize merges the lock set into a deduplicated list sorted by address so
// every transaction acquires locks in the same global order.
func normalize(writable, readonly []solana.PublicKey) []lockEntry {
	modes := make(map[solana.PublicKey]bool, len(writable)+len(readonly))
	for _, addr := range readonly {
		if _, ok := modes[addr]; !ok {
			modes[addr] = false
		}
	}
	for _, addr := range writable {
		modes[addr] = true
	}
	entries := make([]lockEntry, 0, len(modes))
	for addr, w := range modes {
		entries = append(entries, lockEntry{address: addr, writable: w})
	}
	slices.SortFunc(entries, func(a, b lockEntry) int {
		return bytes.Compare(a.address[:], b.address[:])
	})
	return entries
}

// acquire locks every entry in order and returns a release func. Lock calls
// cannot be interrupted, so cancellation is observed once all locks are held.
func (t *lockTable) acquire(ctx context.Context, entries []lockEntry) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	held := make([]func(), 0, len(entries))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, e := range entries {
		l := t.get(e.address)
		if e.writable {
			l.Lock()
			held = append(held, l.Unlock)
			continue
		}
		l.RLock()
		held = append(held, l.RUnlock)
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}
