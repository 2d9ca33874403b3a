package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/anchorstore/codec"
	"github.com/bitfsorg/anchorstore/hasher"
)

var (
	bucketEntries    = []byte("tx_entries")
	bucketStateIndex = []byte("tx_state_index")
	bucketHistory    = []byte("tx_history")
)

// BoltLedger is a Ledger stored in a bbolt database, normally the same
// database that holds the content store.
type BoltLedger struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Ledger = (*BoltLedger)(nil)

// NewBoltLedger creates the ledger buckets in db. The caller keeps ownership
// of db.
func NewBoltLedger(db *bbolt.DB) (*BoltLedger, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketStateIndex, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("ledger: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltLedger{db: db}, nil
}

// stateKey is the state byte followed by the digest key, so a cursor seek on
// the state byte visits every entry in that state.
func stateKey(state TxState, hash hasher.Digest) []byte {
	return append([]byte{byte(state)}, hash.Key()...)
}

func historyKey(hash hasher.Digest, seq uint32) []byte {
	return binary.BigEndian.AppendUint32(hash.Key(), seq)
}

// Enqueue creates or supersedes the entry for hash.
func (l *BoltLedger) Enqueue(ctx context.Context, hash hasher.Digest, metadata map[string]string, now time.Time) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if err := hash.Validate(); err != nil {
		return Entry{}, false, err
	}

	var (
		result  Entry
		created bool
	)
	err := l.db.Update(func(tx *bbolt.Tx) error {
		existing, err := getEntry(tx, hash)
		if err != nil {
			return err
		}
		result, created = enqueueDecision(existing, hash, metadata, codec.UTC(now))
		if !created {
			return nil
		}
		if existing != nil {
			if err := archive(tx, *existing); err != nil {
				return err
			}
			if err := tx.Bucket(bucketStateIndex).Delete(stateKey(existing.State, hash)); err != nil {
				return fmt.Errorf("ledger: delete index: %w", err)
			}
		}
		return putEntry(tx, result)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return result, created, nil
}

// Get returns the entry for hash.
func (l *BoltLedger) Get(ctx context.Context, hash hasher.Digest) (Entry, error) {
	var e *Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		var err error
		e, err = getEntry(tx, hash)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	if e == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return *e, nil
}

// Transition writes next when the stored entry is still in state from.
func (l *BoltLedger) Transition(ctx context.Context, next Entry, from TxState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		current, err := getEntry(tx, next.FileHash)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, next.FileHash)
		}
		if err := checkTransition(*current, from, next); err != nil {
			return err
		}
		if err := tx.Bucket(bucketStateIndex).Delete(stateKey(current.State, current.FileHash)); err != nil {
			return fmt.Errorf("ledger: delete index: %w", err)
		}
		next.CreatedAt = current.CreatedAt
		return putEntry(tx, next)
	})
}

// Due returns the Pending entries ready for submission at now.
func (l *BoltLedger) Due(ctx context.Context, now time.Time) ([]Entry, error) {
	pending, err := l.ListState(ctx, Pending)
	if err != nil {
		return nil, err
	}
	due := pending[:0]
	for _, e := range pending {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

// ListState returns all entries in state using the state index.
func (l *BoltLedger) ListState(ctx context.Context, state TxState) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketStateIndex).Cursor()
		prefix := []byte{byte(state)}
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := entries.Get(k[1:])
			if data == nil {
				return fmt.Errorf("ledger: index references missing entry %x", k[1:])
			}
			e, err := decodeEntry(data)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// List returns all entries in digest key order.
func (l *BoltLedger) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return ctx.Err()
		})
	})
	return out, err
}

// History returns archived entries for hash, oldest first.
func (l *BoltLedger) History(ctx context.Context, hash hasher.Digest) ([]Entry, error) {
	var out []Entry
	prefix := hash.Key()
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) == len(prefix)+4 && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Counts returns the number of entries per state.
func (l *BoltLedger) Counts(ctx context.Context) (map[TxState]int, error) {
	counts := make(map[TxState]int)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStateIndex).ForEach(func(k, _ []byte) error {
			counts[TxState(k[0])]++
			return nil
		})
	})
	return counts, err
}

func getEntry(tx *bbolt.Tx, hash hasher.Digest) (*Entry, error) {
	data := tx.Bucket(bucketEntries).Get(hash.Key())
	if data == nil {
		return nil, nil
	}
	e, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func putEntry(tx *bbolt.Tx, e Entry) error {
	data, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: encode entry: %w", err)
	}
	if err := tx.Bucket(bucketEntries).Put(e.FileHash.Key(), data); err != nil {
		return fmt.Errorf("ledger: put entry: %w", err)
	}
	if err := tx.Bucket(bucketStateIndex).Put(stateKey(e.State, e.FileHash), nil); err != nil {
		return fmt.Errorf("ledger: put index: %w", err)
	}
	return nil
}

// archive appends e to the history bucket under the next sequence for its hash.
func archive(tx *bbolt.Tx, e Entry) error {
	b := tx.Bucket(bucketHistory)
	prefix := e.FileHash.Key()
	var seq uint32
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && len(k) == len(prefix)+4 && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		seq = binary.BigEndian.Uint32(k[len(prefix):]) + 1
	}
	data, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: encode history: %w", err)
	}
	if err := b.Put(historyKey(e.FileHash, seq), data); err != nil {
		return fmt.Errorf("ledger: put history: %w", err)
	}
	return nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := codec.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode entry: %w", err)
	}
	return e, nil
}
