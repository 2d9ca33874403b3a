package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/anchorstore/codec"
	"github.com/bitfsorg/anchorstore/hasher"
)

var (
	bucketRecords  = []byte("records")
	bucketBlobs    = []byte("blobs")
	bucketChunks   = []byte("chunks")
	bucketMetadata = []byte("metadata")
)

// Options configures a BoltStore.
type Options struct {
	// CacheEntries bounds the read cache. Zero disables it.
	CacheEntries int
	// MaxPayload bounds PutReader. Zero means no limit.
	MaxPayload int64
	Logger     zerolog.Logger
	// Now overrides the record timestamp source.
	Now func() time.Time
}

// BoltStore is a ContentStore persisted in a bbolt database. Every Put commits
// the manifest, all chunks and metadata in a single bbolt transaction.
type BoltStore struct {
	db     *bbolt.DB
	ownsDB bool
	cache  *payloadCache
	log    zerolog.Logger
	now    func() time.Time
	max    int64
}

// Compile-time interface check.
var _ ContentStore = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string, opts Options) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}
	s, err := NewBoltStore(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewBoltStore creates the store buckets in an already open database. The
// caller keeps ownership of db.
func NewBoltStore(db *bbolt.DB, opts Options) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketBlobs, bucketChunks, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("storage: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache, err := newPayloadCache(opts.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("storage: create cache: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &BoltStore{db: db, cache: cache, log: opts.Logger, now: now, max: opts.MaxPayload}, nil
}

// DB returns the underlying database so other components can share it.
func (s *BoltStore) DB() *bbolt.DB { return s.db }

// Close closes the database if the store opened it.
func (s *BoltStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// chunkKey is the digest key followed by a 4-byte big-endian index so a
// record's chunks sort together in index order.
func chunkKey(d hasher.Digest, index uint32) []byte {
	k := d.Key()
	k = binary.BigEndian.AppendUint32(k, index)
	return k
}

// Put stores payload. The digest is computed before any write. Existence is
// checked inside the same bbolt transaction that writes the record, so
// concurrent puts of the same bytes converge on the first committed record.
func (s *BoltStore) Put(payload []byte, opts PutOptions) (*ContentRecord, error) {
	w, err := s.prepare(payload, opts)
	if err != nil {
		return nil, err
	}
	digest := w.rec.Hash
	key := digest.Key()

	var existing *ContentRecord
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketRecords).Get(key); data != nil {
			existing, err = readRecord(tx, key, data)
			return err
		}
		return w.write(tx)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Debug().Str("hash", digest.String()).Msg("content already stored")
		return existing, nil
	}

	s.log.Debug().
		Str("hash", digest.String()).
		Uint64("size", w.rec.Size).
		Int("chunks", len(w.rec.Chunks)).
		Msg("content stored")
	return w.rec, nil
}

// Replace stores payload over any existing record for the same digest in a
// single transaction: either the old record survives untouched or the new
// one is fully written.
func (s *BoltStore) Replace(payload []byte, opts PutOptions) (*ContentRecord, error) {
	w, err := s.prepare(payload, opts)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteContent(tx, w.rec.Hash.Key()); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return w.write(tx)
	})
	if err != nil {
		return nil, err
	}
	s.cache.remove(w.rec.Hash)
	s.log.Debug().Str("hash", w.rec.Hash.String()).Uint64("size", w.rec.Size).Msg("content replaced")
	return w.rec, nil
}

// pendingWrite is an encoded record ready to be committed.
type pendingWrite struct {
	rec      *ContentRecord
	frames   [][]byte
	recData  []byte
	metaData []byte
}

func (s *BoltStore) prepare(payload []byte, opts PutOptions) (*pendingWrite, error) {
	alg := opts.Algorithm
	if alg == 0 {
		alg = hasher.Default
	}
	digest, err := hasher.Sum(payload, alg)
	if err != nil {
		return nil, err
	}

	w := &pendingWrite{rec: &ContentRecord{
		Hash:        digest,
		Size:        uint64(len(payload)),
		Compression: opts.Compression,
		CreatedAt:   codec.UTC(s.now()),
	}}
	rec := w.rec
	if opts.ChunkSize > 0 && rec.Size > opts.ChunkSize {
		chunks, err := Split(payload, opts.ChunkSize, alg)
		if err != nil {
			return nil, err
		}
		rec.Chunked = true
		rec.ChunkSize = opts.ChunkSize
		rec.Chunks = make([]ChunkRef, len(chunks))
		w.frames = make([][]byte, len(chunks))
		for i, c := range chunks {
			rec.Chunks[i] = c.Ref
			if w.frames[i], err = encodeFrame(c.Data, opts.Compression); err != nil {
				return nil, err
			}
		}
	} else {
		frame, err := encodeFrame(payload, opts.Compression)
		if err != nil {
			return nil, err
		}
		w.frames = [][]byte{frame}
	}

	if w.recData, err = codec.Marshal(rec); err != nil {
		return nil, fmt.Errorf("storage: encode record: %w", err)
	}
	if len(opts.Metadata) > 0 {
		if w.metaData, err = codec.Marshal(opts.Metadata); err != nil {
			return nil, fmt.Errorf("storage: encode metadata: %w", err)
		}
	}
	rec.Metadata = cloneMetadata(opts.Metadata)
	return w, nil
}

func (w *pendingWrite) write(tx *bbolt.Tx) error {
	key := w.rec.Hash.Key()
	if w.rec.Chunked {
		cb := tx.Bucket(bucketChunks)
		for i, frame := range w.frames {
			if err := cb.Put(chunkKey(w.rec.Hash, uint32(i)), frame); err != nil {
				return fmt.Errorf("storage: put chunk %d: %w", i, err)
			}
		}
	} else if err := tx.Bucket(bucketBlobs).Put(key, w.frames[0]); err != nil {
		return fmt.Errorf("storage: put blob: %w", err)
	}

	if w.metaData != nil {
		if err := tx.Bucket(bucketMetadata).Put(key, w.metaData); err != nil {
			return fmt.Errorf("storage: put metadata: %w", err)
		}
	}
	if err := tx.Bucket(bucketRecords).Put(key, w.recData); err != nil {
		return fmt.Errorf("storage: put record: %w", err)
	}
	return nil
}

// PutReader reads r to EOF, enforcing Options.MaxPayload, and stores the result.
func (s *BoltStore) PutReader(r io.Reader, opts PutOptions) (*ContentRecord, error) {
	if s.max > 0 {
		r = io.LimitReader(r, s.max+1)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read payload: %w", err)
	}
	if s.max > 0 && int64(len(payload)) > s.max {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, s.max)
	}
	return s.Put(payload, opts)
}

// Get returns the payload for hash. Chunked payloads are reassembled in
// manifest order with every chunk verified; a bad or missing chunk yields a
// *ChunkCorruptedError and no data.
func (s *BoltStore) Get(hash hasher.Digest) ([]byte, error) {
	if payload, ok := s.cache.get(hash); ok {
		return payload, nil
	}

	var payload []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx, hash)
		if err != nil {
			return err
		}
		payload, err = loadPayload(tx, rec)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrChunkCorrupted) || errors.Is(err, ErrCorrupted) {
			s.log.Warn().Err(err).Str("hash", hash.String()).Msg("stored content failed verification")
		}
		return nil, err
	}

	s.cache.add(hash, payload)
	return payload, nil
}

// Record returns the stored record for hash including its metadata.
func (s *BoltStore) Record(hash hasher.Digest) (*ContentRecord, error) {
	var rec *ContentRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getRecord(tx, hash)
		return err
	})
	return rec, err
}

// Has reports whether a record exists for hash.
func (s *BoltStore) Has(hash hasher.Digest) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketRecords).Get(hash.Key()) != nil
		return nil
	})
	return found, err
}

// Verify recomputes the whole-payload digest from stored bytes. Corrupt or
// missing chunks report false rather than an error. The cache is bypassed and
// left untouched.
func (s *BoltStore) Verify(hash hasher.Digest) (bool, error) {
	ok := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx, hash)
		if err != nil {
			return err
		}
		ok, err = verifyRecord(tx, rec)
		return err
	})
	return ok, err
}

// Delete removes the record, its blob or chunks, and its metadata atomically.
func (s *BoltStore) Delete(hash hasher.Digest) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return deleteContent(tx, hash.Key())
	})
	if err != nil {
		return err
	}
	s.cache.remove(hash)
	s.log.Debug().Str("hash", hash.String()).Msg("content deleted")
	return nil
}

// deleteContent removes the record stored under key with its blob, chunks
// and metadata.
func deleteContent(tx *bbolt.Tx, key []byte) error {
	rb := tx.Bucket(bucketRecords)
	if rb.Get(key) == nil {
		return ErrNotFound
	}
	if err := rb.Delete(key); err != nil {
		return fmt.Errorf("storage: delete record: %w", err)
	}
	if err := tx.Bucket(bucketBlobs).Delete(key); err != nil {
		return fmt.Errorf("storage: delete blob: %w", err)
	}
	if err := tx.Bucket(bucketMetadata).Delete(key); err != nil {
		return fmt.Errorf("storage: delete metadata: %w", err)
	}

	// Collect first: deleting while iterating skips keys in bbolt.
	c := tx.Bucket(bucketChunks).Cursor()
	var chunkKeys [][]byte
	for k, _ := c.Seek(key); k != nil && isChunkOf(k, key); k, _ = c.Next() {
		chunkKeys = append(chunkKeys, append([]byte(nil), k...))
	}
	for _, k := range chunkKeys {
		if err := tx.Bucket(bucketChunks).Delete(k); err != nil {
			return fmt.Errorf("storage: delete chunk: %w", err)
		}
	}
	return nil
}

// List returns the digests of all stored records in key order.
func (s *BoltStore) List() ([]hasher.Digest, error) {
	return s.ListPrefix("")
}

// ListPrefix returns digests whose hex sum starts with prefix. A prefix of the
// form "<algorithm>:<hex>" also restricts the algorithm.
func (s *BoltStore) ListPrefix(prefix string) ([]hasher.Digest, error) {
	var alg hasher.Algorithm
	hexPrefix := strings.ToLower(strings.TrimSpace(prefix))
	if name, rest, found := strings.Cut(hexPrefix, ":"); found {
		a, err := hasher.ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		alg, hexPrefix = a, rest
	}

	var out []hasher.Digest
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, _ []byte) error {
			d, err := hasher.DigestFromKey(k)
			if err != nil {
				return fmt.Errorf("storage: bad record key %x: %w", k, err)
			}
			if alg != 0 && d.Algorithm != alg {
				return nil
			}
			if strings.HasPrefix(d.Hex(), hexPrefix) {
				out = append(out, d)
			}
			return nil
		})
	})
	return out, err
}

// VerifyAll verifies every record. Each record is checked in its own read
// transaction, so writers are never blocked for the length of the sweep.
// Returning an error from fn stops the sweep.
func (s *BoltStore) VerifyAll(ctx context.Context, fn func(AuditResult) error) error {
	hashes, err := s.List()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.Verify(h)
		if errors.Is(err, ErrNotFound) {
			continue // deleted since the listing
		}
		if err := fn(AuditResult{Hash: h, OK: ok && err == nil, Err: err}); err != nil {
			return err
		}
	}
	return nil
}

// CacheLen returns the number of cached payloads.
func (s *BoltStore) CacheLen() int { return s.cache.len() }

func isChunkOf(k, recordKey []byte) bool {
	return len(k) == len(recordKey)+4 && bytes.HasPrefix(k, recordKey)
}

func getRecord(tx *bbolt.Tx, hash hasher.Digest) (*ContentRecord, error) {
	key := hash.Key()
	data := tx.Bucket(bucketRecords).Get(key)
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return readRecord(tx, key, data)
}

func readRecord(tx *bbolt.Tx, key, data []byte) (*ContentRecord, error) {
	var rec ContentRecord
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode record: %w", err)
	}
	if meta := tx.Bucket(bucketMetadata).Get(key); meta != nil {
		if err := codec.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("storage: decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// loadPayload reads and verifies a record's bytes inside tx.
func loadPayload(tx *bbolt.Tx, rec *ContentRecord) ([]byte, error) {
	var payload []byte
	if !rec.Chunked {
		frame := tx.Bucket(bucketBlobs).Get(rec.Hash.Key())
		if frame == nil {
			return nil, fmt.Errorf("%w: blob missing for %s", ErrCorrupted, rec.Hash)
		}
		var err error
		if payload, err = decodeFrame(frame, rec.Size); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	} else {
		cb := tx.Bucket(bucketChunks)
		chunks := make([][]byte, len(rec.Chunks))
		for i, ref := range rec.Chunks {
			frame := cb.Get(chunkKey(rec.Hash, ref.Index))
			if frame == nil {
				return nil, chunkCorrupted(ref.Index, "missing")
			}
			data, err := decodeFrame(frame, ref.Size)
			if err != nil {
				return nil, chunkCorrupted(ref.Index, err.Error())
			}
			chunks[i] = data
		}
		var err error
		if payload, err = Join(chunks, rec.Chunks); err != nil {
			return nil, err
		}
	}

	d, err := hasher.Sum(payload, rec.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	if !d.Equal(rec.Hash) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, rec.Hash)
	}
	return payload, nil
}

// verifyRecord streams stored bytes through a fresh hash without building the
// whole payload.
func verifyRecord(tx *bbolt.Tx, rec *ContentRecord) (bool, error) {
	h, err := hasher.New(rec.Hash.Algorithm)
	if err != nil {
		return false, err
	}
	if !rec.Chunked {
		frame := tx.Bucket(bucketBlobs).Get(rec.Hash.Key())
		if frame == nil {
			return false, nil
		}
		data, err := decodeFrame(frame, rec.Size)
		if err != nil {
			return false, nil
		}
		h.Write(data)
	} else {
		cb := tx.Bucket(bucketChunks)
		for _, ref := range rec.Chunks {
			frame := cb.Get(chunkKey(rec.Hash, ref.Index))
			if frame == nil {
				return false, nil
			}
			data, err := decodeFrame(frame, ref.Size)
			if err != nil {
				return false, nil
			}
			h.Write(data)
		}
	}
	return bytes.Equal(h.Sum(nil), rec.Hash.Sum), nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
