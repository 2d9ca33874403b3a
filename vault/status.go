package vault

import (
	"context"
	"errors"

	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
	"github.com/bitfsorg/anchorstore/storage"
)

// Status combines what the store and the ledger know about one digest.
// Either half may be absent: deleted content keeps its ledger entry, and
// content stored with NoAnchor has none.
type Status struct {
	Hash    hasher.Digest
	Record  *storage.ContentRecord
	Entry   *ledger.Entry
	History []ledger.Entry
}

// Status returns the record, ledger entry and superseded entries for hash.
// storage.ErrNotFound is returned only when neither side knows the digest.
func (v *Vault) Status(ctx context.Context, hash hasher.Digest) (*Status, error) {
	st := &Status{Hash: hash}

	rec, err := v.Store.Record(hash)
	switch {
	case err == nil:
		st.Record = rec
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	entry, err := v.Ledger.Get(ctx, hash)
	switch {
	case err == nil:
		st.Entry = &entry
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}

	if st.Record == nil && st.Entry == nil {
		return nil, storage.ErrNotFound
	}
	if st.History, err = v.Ledger.History(ctx, hash); err != nil {
		return nil, err
	}
	return st, nil
}

// Listing is one row of List.
type Listing struct {
	Hash  hasher.Digest
	Size  uint64
	State ledger.TxState // zero when not queued
}

// List returns the stored digests whose hex starts with prefix, with their
// anchoring state.
func (v *Vault) List(ctx context.Context, prefix string) ([]Listing, error) {
	hashes, err := v.Store.ListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(hashes))
	for _, h := range hashes {
		row := Listing{Hash: h}
		if rec, err := v.Store.Record(h); err == nil {
			row.Size = rec.Size
		}
		if e, err := v.Ledger.Get(ctx, h); err == nil {
			row.State = e.State
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Entries returns ledger entries, all of them when state is zero.
func (v *Vault) Entries(ctx context.Context, state ledger.TxState) ([]ledger.Entry, error) {
	if state == 0 {
		return v.Ledger.List(ctx)
	}
	return v.Ledger.ListState(ctx, state)
}

// Counts returns the number of ledger entries per state.
func (v *Vault) Counts(ctx context.Context) (map[ledger.TxState]int, error) {
	return v.Ledger.Counts(ctx)
}
