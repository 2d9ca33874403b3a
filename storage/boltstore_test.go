package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/anchorstore/hasher"
)

func newTestStore(t *testing.T, opts Options) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "store.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// corruptChunk flips one byte of the stored frame for chunk index.
func corruptChunk(t *testing.T, s *BoltStore, hash hasher.Digest, index uint32) {
	t.Helper()
	err := s.DB().Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		k := chunkKey(hash, index)
		frame := append([]byte(nil), b.Get(k)...)
		require.NotEmpty(t, frame)
		frame[len(frame)-1] ^= 0xFF
		return b.Put(k, frame)
	})
	require.NoError(t, err)
}

func TestBoltStore_RoundTripAllAlgorithms(t *testing.T) {
	s := newTestStore(t, Options{})
	payloads := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("round trip "), 1000),
	}

	for _, alg := range hasher.Algorithms() {
		for _, p := range payloads {
			rec, err := s.Put(p, PutOptions{Algorithm: alg, ChunkSize: 1000})
			require.NoError(t, err)
			assert.Equal(t, alg, rec.Algorithm())

			got, err := s.Get(rec.Hash)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		}
	}
}

func TestBoltStore_DefaultAlgorithm(t *testing.T) {
	s := newTestStore(t, Options{})
	rec, err := s.Put([]byte("default"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, hasher.BLAKE3, rec.Hash.Algorithm)
}

func TestBoltStore_IdempotentPut(t *testing.T) {
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, Options{Now: func() time.Time { clock = clock.Add(time.Hour); return clock }})
	payload := bytes.Repeat([]byte("same"), 500)

	first, err := s.Put(payload, PutOptions{ChunkSize: 100, Metadata: map[string]string{"name": "a.txt"}})
	require.NoError(t, err)
	second, err := s.Put(payload, PutOptions{ChunkSize: 100, Metadata: map[string]string{"name": "b.txt"}})
	require.NoError(t, err)

	assert.True(t, first.Hash.Equal(second.Hash))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "second put must not rewrite")
	assert.Equal(t, "a.txt", second.Metadata["name"])

	hashes, err := s.List()
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestBoltStore_SameBytesDifferentAlgorithmsAreIndependent(t *testing.T) {
	s := newTestStore(t, Options{})
	payload := []byte("independent")

	a, err := s.Put(payload, PutOptions{Algorithm: hasher.BLAKE3})
	require.NoError(t, err)
	b, err := s.Put(payload, PutOptions{Algorithm: hasher.SHA256})
	require.NoError(t, err)
	assert.False(t, a.Hash.Equal(b.Hash))

	require.NoError(t, s.Delete(a.Hash))
	got, err := s.Get(b.Hash)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBoltStore_ConcurrentPutSameHash(t *testing.T) {
	s := newTestStore(t, Options{})
	payload := bytes.Repeat([]byte("race"), 4096)

	var wg sync.WaitGroup
	recs := make([]*ContentRecord, 16)
	errs := make([]error, 16)
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], errs[i] = s.Put(payload, PutOptions{ChunkSize: 1000})
		}(i)
	}
	wg.Wait()

	for i := range recs {
		require.NoError(t, errs[i])
		assert.True(t, recs[0].Hash.Equal(recs[i].Hash))
		assert.True(t, recs[0].CreatedAt.Equal(recs[i].CreatedAt))
	}
	hashes, err := s.List()
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestBoltStore_ChunkedScenario(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 4})
	payload := make([]byte, 5<<20)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	rec, err := s.Put(payload, PutOptions{Algorithm: hasher.BLAKE3, ChunkSize: 1 << 20})
	require.NoError(t, err)
	assert.True(t, rec.Chunked)
	assert.Len(t, rec.Chunks, 5)

	ok, err := s.Verify(rec.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	corruptChunk(t, s, rec.Hash, 2)

	got, err := s.Get(rec.Hash)
	assert.Nil(t, got)
	var cerr *ChunkCorruptedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint32(2), cerr.Index)
	assert.Contains(t, err.Error(), "chunk=2")

	ok, err = s.Verify(rec.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStore_CorruptionEveryChunk(t *testing.T) {
	for idx := uint32(0); idx < 4; idx++ {
		s := newTestStore(t, Options{})
		rec, err := s.Put(bytes.Repeat([]byte{0x5A}, 400), PutOptions{ChunkSize: 100, Compression: CompressGZIP})
		require.NoError(t, err)

		corruptChunk(t, s, rec.Hash, idx)

		_, err = s.Get(rec.Hash)
		var cerr *ChunkCorruptedError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, idx, cerr.Index)
	}
}

func TestBoltStore_MissingChunk(t *testing.T) {
	s := newTestStore(t, Options{})
	rec, err := s.Put(bytes.Repeat([]byte{0x01}, 300), PutOptions{ChunkSize: 100})
	require.NoError(t, err)

	require.NoError(t, s.DB().Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(rec.Hash, 1))
	}))

	_, err = s.Get(rec.Hash)
	var cerr *ChunkCorruptedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint32(1), cerr.Index)
}

func TestBoltStore_CorruptBlob(t *testing.T) {
	s := newTestStore(t, Options{})
	rec, err := s.Put([]byte("single blob"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.DB().Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		frame := append([]byte(nil), b.Get(rec.Hash.Key())...)
		frame[1] ^= 0xFF
		return b.Put(rec.Hash.Key(), frame)
	}))

	_, err = s.Get(rec.Hash)
	assert.ErrorIs(t, err, ErrCorrupted)

	ok, err := s.Verify(rec.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStore_NotFound(t *testing.T) {
	s := newTestStore(t, Options{})
	d, err := hasher.Sum([]byte("absent"), hasher.BLAKE3)
	require.NoError(t, err)

	_, err = s.Get(d)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Verify(d)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Record(d)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(d), ErrNotFound)

	has, err := s.Has(d)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestBoltStore_Delete(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 8})
	rec, err := s.Put(bytes.Repeat([]byte("del"), 100), PutOptions{ChunkSize: 64, Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)
	_, err = s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CacheLen())

	require.NoError(t, s.Delete(rec.Hash))
	assert.Equal(t, 0, s.CacheLen())

	_, err = s.Get(rec.Hash)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DB().View(func(tx *bbolt.Tx) error {
		assert.Equal(t, 0, tx.Bucket(bucketChunks).Stats().KeyN)
		assert.Nil(t, tx.Bucket(bucketMetadata).Get(rec.Hash.Key()))
		return nil
	}))
}

func TestBoltStore_ReplaceRepairsCorruptChunk(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 8})
	payload := bytes.Repeat([]byte("repair"), 50)
	opts := PutOptions{ChunkSize: 64, Compression: CompressGZIP, Metadata: map[string]string{"name": "r.bin"}}
	rec, err := s.Put(payload, opts)
	require.NoError(t, err)
	corruptChunk(t, s, rec.Hash, 2)
	_, err = s.Get(rec.Hash)
	require.Error(t, err)

	got, err := s.Replace(payload, opts)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, len(rec.Chunks), len(got.Chunks))

	out, err := s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	stored, err := s.Record(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, "r.bin", stored.Metadata["name"])
}

func TestBoltStore_ReplaceDropsOldLayout(t *testing.T) {
	s := newTestStore(t, Options{})
	payload := bytes.Repeat([]byte{0x42}, 300)
	rec, err := s.Put(payload, PutOptions{ChunkSize: 100, Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)

	got, err := s.Replace(payload, PutOptions{})
	require.NoError(t, err)
	assert.False(t, got.Chunked)

	require.NoError(t, s.DB().View(func(tx *bbolt.Tx) error {
		assert.Equal(t, 0, tx.Bucket(bucketChunks).Stats().KeyN)
		assert.Nil(t, tx.Bucket(bucketMetadata).Get(rec.Hash.Key()))
		assert.NotNil(t, tx.Bucket(bucketBlobs).Get(rec.Hash.Key()))
		return nil
	}))
	out, err := s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestBoltStore_ReplaceFailureKeepsRecord(t *testing.T) {
	s := newTestStore(t, Options{})
	payload := []byte("keep me")
	rec, err := s.Put(payload, PutOptions{})
	require.NoError(t, err)

	_, err = s.Replace(payload, PutOptions{Compression: Compression(99)})
	require.Error(t, err)

	out, err := s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestBoltStore_ReplaceAbsentStores(t *testing.T) {
	s := newTestStore(t, Options{})
	rec, err := s.Replace([]byte("fresh"), PutOptions{})
	require.NoError(t, err)
	has, err := s.Has(rec.Hash)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBoltStore_RecordMetadata(t *testing.T) {
	s := newTestStore(t, Options{})
	meta := map[string]string{"filename": "report.pdf", "content_type": "application/pdf"}
	rec, err := s.Put([]byte("%PDF"), PutOptions{Metadata: meta})
	require.NoError(t, err)

	got, err := s.Record(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, meta, got.Metadata)
	assert.Equal(t, uint64(4), got.Size)
	assert.False(t, got.Chunked)
}

func TestBoltStore_CompressionRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{})
	payload := bytes.Repeat([]byte("compress me please "), 2000)

	for _, scheme := range allCompressions {
		t.Run(scheme.String(), func(t *testing.T) {
			rec, err := s.Put(append([]byte(scheme.String()), payload...), PutOptions{ChunkSize: 4096, Compression: scheme})
			require.NoError(t, err)
			assert.Equal(t, scheme, rec.Compression)

			ok, err := s.Verify(rec.Hash)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(rec.Hash)
			require.NoError(t, err)
			assert.Equal(t, append([]byte(scheme.String()), payload...), got)
		})
	}
}

func TestBoltStore_CacheServesCopies(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 2})
	rec, err := s.Put([]byte("cached"), PutOptions{})
	require.NoError(t, err)

	first, err := s.Get(rec.Hash)
	require.NoError(t, err)
	first[0] = 'X'

	second, err := s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), second)
}

func TestBoltStore_VerifyDoesNotPopulateCache(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 2})
	rec, err := s.Put([]byte("audit only"), PutOptions{})
	require.NoError(t, err)

	_, err = s.Verify(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CacheLen())
}

func TestBoltStore_CacheEviction(t *testing.T) {
	s := newTestStore(t, Options{CacheEntries: 2})
	for _, p := range []string{"a", "b", "c"} {
		rec, err := s.Put([]byte(p), PutOptions{})
		require.NoError(t, err)
		_, err = s.Get(rec.Hash)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.CacheLen())
}

func TestBoltStore_ListPrefix(t *testing.T) {
	s := newTestStore(t, Options{})
	var recs []*ContentRecord
	for _, p := range []string{"one", "two", "three"} {
		rec, err := s.Put([]byte(p), PutOptions{Algorithm: hasher.SHA256})
		require.NoError(t, err)
		recs = append(recs, rec)
	}

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	prefix := recs[1].Hash.Hex()[:6]
	got, err := s.ListPrefix(prefix)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, recs[1].Hash.Equal(got[0]))

	got, err = s.ListPrefix("sha256:" + strings.ToUpper(prefix))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ListPrefix("blake3:" + prefix)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.ListPrefix("md5:00")
	assert.ErrorIs(t, err, hasher.ErrUnsupportedAlgorithm)
}

func TestBoltStore_VerifyAll(t *testing.T) {
	s := newTestStore(t, Options{})
	good, err := s.Put(bytes.Repeat([]byte("g"), 300), PutOptions{ChunkSize: 100})
	require.NoError(t, err)
	bad, err := s.Put(bytes.Repeat([]byte("b"), 300), PutOptions{ChunkSize: 100})
	require.NoError(t, err)
	corruptChunk(t, s, bad.Hash, 0)

	results := map[string]bool{}
	err = s.VerifyAll(context.Background(), func(r AuditResult) error {
		results[r.Hash.String()] = r.OK
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{good.Hash.String(): true, bad.Hash.String(): false}, results)
}

func TestBoltStore_VerifyAllStops(t *testing.T) {
	s := newTestStore(t, Options{})
	for _, p := range []string{"1", "2", "3"} {
		_, err := s.Put([]byte(p), PutOptions{})
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	calls := 0
	err := s.VerifyAll(context.Background(), func(AuditResult) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.VerifyAll(ctx, func(AuditResult) error { return nil }), context.Canceled)
}

func TestBoltStore_PutReader(t *testing.T) {
	s := newTestStore(t, Options{MaxPayload: 10})

	rec, err := s.PutReader(strings.NewReader("0123456789"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rec.Size)

	_, err = s.PutReader(strings.NewReader("0123456789A"), PutOptions{})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenBoltStore(path, Options{})
	require.NoError(t, err)
	rec, err := s.Put(bytes.Repeat([]byte("persist"), 100), PutOptions{ChunkSize: 50})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("persist"), 100), got)
}

func TestNewBoltStore_SharedDBNotClosed(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	s, err := NewBoltStore(db, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Put([]byte("still open"), PutOptions{})
	assert.NoError(t, err)
}
