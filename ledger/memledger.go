package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bitfsorg/anchorstore/hasher"
)

// MemLedger is an in-memory Ledger for tests.
type MemLedger struct {
	mu      sync.Mutex
	entries map[string]Entry
	history map[string][]Entry
}

// Compile-time interface check.
var _ Ledger = (*MemLedger)(nil)

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		entries: make(map[string]Entry),
		history: make(map[string][]Entry),
	}
}

func (m *MemLedger) Enqueue(ctx context.Context, hash hasher.Digest, metadata map[string]string, now time.Time) (Entry, bool, error) {
	if err := hash.Validate(); err != nil {
		return Entry{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(hash.Key())
	var existing *Entry
	if e, ok := m.entries[key]; ok {
		existing = &e
	}
	result, created := enqueueDecision(existing, hash, metadata, now)
	if created {
		if existing != nil {
			m.history[key] = append(m.history[key], *existing)
		}
		m.entries[key] = result
	}
	return result, created, nil
}

func (m *MemLedger) Get(ctx context.Context, hash hasher.Digest) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(hash.Key())]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return e, nil
}

func (m *MemLedger) Transition(ctx context.Context, next Entry, from TxState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(next.FileHash.Key())
	current, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, next.FileHash)
	}
	if err := checkTransition(current, from, next); err != nil {
		return err
	}
	next.CreatedAt = current.CreatedAt
	next.Metadata = cloneMetadata(next.Metadata)
	m.entries[key] = next
	return nil
}

func (m *MemLedger) Due(ctx context.Context, now time.Time) ([]Entry, error) {
	return m.filter(func(e Entry) bool { return e.Due(now) }), nil
}

func (m *MemLedger) ListState(ctx context.Context, state TxState) ([]Entry, error) {
	return m.filter(func(e Entry) bool { return e.State == state }), nil
}

func (m *MemLedger) List(ctx context.Context) ([]Entry, error) {
	return m.filter(func(Entry) bool { return true }), nil
}

func (m *MemLedger) History(ctx context.Context, hash hasher.Digest) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.history[string(hash.Key())]...), nil
}

func (m *MemLedger) Counts(ctx context.Context) (map[TxState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[TxState]int)
	for _, e := range m.entries {
		counts[e.State]++
	}
	return counts, nil
}

// filter returns matching entries in digest key order, like BoltLedger.
func (m *MemLedger) filter(keep func(Entry) bool) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].FileHash.Key(), out[j].FileHash.Key()) < 0
	})
	return out
}
