package vault

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitfsorg/anchorstore/discovery"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
	"github.com/bitfsorg/anchorstore/storage"
)

// PutOpts overrides the configured storage settings for one payload.
type PutOpts struct {
	// Algorithm overrides [storage] algorithm when non-zero.
	Algorithm hasher.Algorithm
	// ChunkSize overrides [storage] chunk_size when non-zero.
	ChunkSize uint64
	// Compression overrides [storage] compression when set.
	Compression *storage.Compression
	Metadata    map[string]string
	// NoAnchor stores the payload without queueing an anchoring transaction.
	NoAnchor bool
}

// PutResult reports a stored payload and its anchoring entry.
type PutResult struct {
	Record *storage.ContentRecord
	// Entry is the ledger entry, zero when NoAnchor was set.
	Entry ledger.Entry
	// Queued is true when this call created or renewed the ledger entry.
	Queued bool
}

func (v *Vault) putOptions(o PutOpts) storage.PutOptions {
	opts := storage.PutOptions{
		Algorithm:   v.alg,
		ChunkSize:   v.cfg.Storage.ChunkSize,
		Compression: v.comp,
		Metadata:    o.Metadata,
	}
	if o.Algorithm != 0 {
		opts.Algorithm = o.Algorithm
	}
	if o.ChunkSize != 0 {
		opts.ChunkSize = o.ChunkSize
	}
	if o.Compression != nil {
		opts.Compression = *o.Compression
	}
	return opts
}

// Put stores payload and queues its digest for anchoring. Storing the same
// bytes again returns the existing record and leaves an active ledger entry
// untouched.
func (v *Vault) Put(ctx context.Context, payload []byte, o PutOpts) (*PutResult, error) {
	rec, err := v.Store.Put(payload, v.putOptions(o))
	if err != nil {
		return nil, err
	}
	return v.enqueue(ctx, rec, o)
}

// PutReader is Put for a stream, bounded by [storage] max_payload.
func (v *Vault) PutReader(ctx context.Context, r io.Reader, o PutOpts) (*PutResult, error) {
	rec, err := v.Store.PutReader(r, v.putOptions(o))
	if err != nil {
		return nil, err
	}
	return v.enqueue(ctx, rec, o)
}

func (v *Vault) enqueue(ctx context.Context, rec *storage.ContentRecord, o PutOpts) (*PutResult, error) {
	res := &PutResult{Record: rec}
	if o.NoAnchor {
		return res, nil
	}
	entry, created, err := v.Ledger.Enqueue(ctx, rec.Hash, rec.Metadata, v.now())
	if err != nil {
		return nil, fmt.Errorf("vault: enqueue %s: %w", rec.Hash, err)
	}
	res.Entry, res.Queued = entry, created
	if created {
		v.log.Info().Str("hash", rec.Hash.String()).Uint64("size", rec.Size).Msg("queued for anchoring")
	}
	return res, nil
}

// Get returns the payload for hash. Corrupted content raises a
// CHUNK_CORRUPTED alert before the error is returned.
func (v *Vault) Get(hash hasher.Digest) ([]byte, error) {
	payload, err := v.Store.Get(hash)
	if err != nil {
		v.observeCorruption(hash, err)
		return nil, err
	}
	return payload, nil
}

// Verify recomputes the digest of the stored bytes for hash. A mismatch
// raises a CHUNK_CORRUPTED alert.
func (v *Vault) Verify(hash hasher.Digest) (bool, error) {
	ok, err := v.Store.Verify(hash)
	if err != nil {
		return false, err
	}
	if !ok {
		v.Evaluator.ObserveCorruption(hash, -1, v.now())
	}
	return ok, nil
}

// AnchorVerifier checks that an anchor transaction on chain commits to a
// digest. *chain.Bridge implements it.
type AnchorVerifier interface {
	VerifyAnchor(ctx context.Context, txID string, digest hasher.Digest) error
}

// VerifyAnchor checks the transaction recorded in the ledger for hash against
// the chain and returns the entry it checked. It needs a bridge that
// implements AnchorVerifier.
func (v *Vault) VerifyAnchor(ctx context.Context, hash hasher.Digest) (ledger.Entry, error) {
	if v.verifier == nil {
		return ledger.Entry{}, ErrOffline
	}
	entry, err := v.Ledger.Get(ctx, hash)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ErrNotAnchored, hash)
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	if entry.TxID == "" {
		return entry, fmt.Errorf("%w: %s is %s", ErrNotAnchored, hash, entry.State)
	}
	if err := v.verifier.VerifyAnchor(ctx, entry.TxID, hash); err != nil {
		return entry, err
	}
	v.log.Info().Str("hash", hash.String()).Str("tx_id", entry.TxID).Msg("anchor verified on chain")
	return entry, nil
}

// Delete removes the content for hash. Its ledger entry and history are kept.
func (v *Vault) Delete(hash hasher.Digest) error {
	if err := v.Store.Delete(hash); err != nil {
		return err
	}
	v.log.Info().Str("hash", hash.String()).Msg("content deleted")
	return nil
}

func (v *Vault) observeCorruption(hash hasher.Digest, err error) {
	var ce *storage.ChunkCorruptedError
	switch {
	case errors.As(err, &ce):
		v.Evaluator.ObserveCorruption(hash, int64(ce.Index), v.now())
	case errors.Is(err, storage.ErrCorrupted):
		v.Evaluator.ObserveCorruption(hash, -1, v.now())
	}
}

// AuditSummary totals a verify sweep.
type AuditSummary struct {
	Checked int
	Corrupt []hasher.Digest
	Errors  int
}

// Audit verifies every stored payload, raising an alert per corrupt record.
// fn, when set, sees each result as it is produced.
func (v *Vault) Audit(ctx context.Context, fn func(storage.AuditResult)) (AuditSummary, error) {
	var sum AuditSummary
	err := v.Store.VerifyAll(ctx, func(r storage.AuditResult) error {
		sum.Checked++
		switch {
		case r.Err != nil:
			sum.Errors++
		case !r.OK:
			sum.Corrupt = append(sum.Corrupt, r.Hash)
			v.Evaluator.ObserveCorruption(r.Hash, -1, v.now())
		}
		if fn != nil {
			fn(r)
		}
		return nil
	})
	return sum, err
}

// Repair replaces the stored content for hash with verified bytes fetched
// from a mirror, keeping the record's chunking, compression and metadata.
// Content that was deleted is restored with the configured defaults.
func (v *Vault) Repair(ctx context.Context, hash hasher.Digest) (*storage.ContentRecord, error) {
	if v.Mirror == nil {
		return nil, storage.ErrNoMirrors
	}
	m := *v.Mirror
	if v.cfg.Storage.MirrorDomain != "" {
		found, err := discovery.Mirrors(ctx, v.resolver, v.cfg.Storage.MirrorDomain)
		if err != nil && len(m.Endpoints) == 0 {
			return nil, fmt.Errorf("vault: repair %s: %w", hash, err)
		}
		if err != nil {
			v.log.Warn().Err(err).Str("domain", v.cfg.Storage.MirrorDomain).Msg("mirror discovery failed")
		}
		m.Endpoints = append(append([]string(nil), m.Endpoints...), found...)
	}
	payload, err := m.Fetch(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("vault: repair %s: %w", hash, err)
	}

	opts := v.putOptions(PutOpts{Algorithm: hash.Algorithm})
	old, err := v.Store.Record(hash)
	switch {
	case err == nil:
		opts.ChunkSize = old.ChunkSize
		opts.Compression = old.Compression
		opts.Metadata = old.Metadata
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	rec, err := v.Store.Replace(payload, opts)
	if err != nil {
		return nil, err
	}
	v.log.Info().Str("hash", hash.String()).Uint64("size", rec.Size).Msg("content repaired from mirror")
	return rec, nil
}
