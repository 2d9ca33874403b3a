package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/anchorstore/hasher"
)

func newMirrorServer(t *testing.T, s ContentStore) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewMirrorHandler(s))
	t.Cleanup(srv.Close)
	return srv
}

func TestMirrorPath(t *testing.T) {
	d, err := hasher.Sum([]byte("path"), hasher.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "/content/sha256/"+d.Hex(), MirrorPath(d))
}

func TestMirror_FetchFromPeerStore(t *testing.T) {
	peer := newTestStore(t, Options{})
	payload := bytes.Repeat([]byte("mirrored "), 500)
	rec, err := peer.Put(payload, PutOptions{ChunkSize: 1024, Compression: CompressGZIP})
	require.NoError(t, err)
	srv := newMirrorServer(t, peer)

	m := NewMirror([]string{srv.URL}, 5*time.Second, zerolog.Nop())
	got, err := m.Fetch(context.Background(), rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestMirror_FallsBackToNextEndpoint(t *testing.T) {
	peer := newTestStore(t, Options{})
	rec, err := peer.Put([]byte("second mirror has it"), PutOptions{})
	require.NoError(t, err)

	var downHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := newMirrorServer(t, peer)

	m := &Mirror{Endpoints: []string{down.URL, up.URL + "/"}}
	got, err := m.Fetch(context.Background(), rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("second mirror has it"), got)
	assert.Equal(t, int32(1), downHits.Load())
}

func TestMirror_SkipsMismatchedContent(t *testing.T) {
	want := []byte("genuine")
	d, err := hasher.Sum(want, hasher.BLAKE3)
	require.NoError(t, err)

	liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("forged"))
	}))
	defer liar.Close()

	m := &Mirror{Endpoints: []string{liar.URL}}
	_, err = m.Fetch(context.Background(), d)
	assert.ErrorIs(t, err, ErrNotFound)

	honest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MirrorPath(d), r.URL.Path)
		_, _ = w.Write(want)
	}))
	defer honest.Close()

	m.Endpoints = append(m.Endpoints, honest.URL)
	got, err := m.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMirror_OversizedResponse(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 2048)
	d, err := hasher.Sum(payload, hasher.BLAKE3)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	m := &Mirror{Endpoints: []string{srv.URL}, MaxSize: 1024}
	_, err = m.Fetch(context.Background(), d)
	assert.ErrorIs(t, err, ErrNotFound)

	m.MaxSize = 4096
	got, err := m.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Len(t, got, 2048)
}

func TestMirror_Errors(t *testing.T) {
	d, err := hasher.Sum([]byte("x"), hasher.BLAKE3)
	require.NoError(t, err)

	_, err = (&Mirror{}).Fetch(context.Background(), d)
	assert.ErrorIs(t, err, ErrNoMirrors)

	_, err = (&Mirror{Endpoints: []string{"http://127.0.0.1:1"}}).Fetch(context.Background(), hasher.Digest{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	_, err = (&Mirror{Endpoints: []string{srv.URL}}).Fetch(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMirrorHandler_Statuses(t *testing.T) {
	s := newTestStore(t, Options{})
	rec, err := s.Put(bytes.Repeat([]byte("z"), 4096), PutOptions{ChunkSize: 1024})
	require.NoError(t, err)
	srv := newMirrorServer(t, s)

	missing, err := hasher.Sum([]byte("absent"), hasher.BLAKE3)
	require.NoError(t, err)

	get := func(path string) int {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get(MirrorPath(rec.Hash)))
	assert.Equal(t, http.StatusNotFound, get(MirrorPath(missing)))
	assert.Equal(t, http.StatusBadRequest, get("/content/md5/abcd"))

	corruptChunk(t, s, rec.Hash, 1)
	assert.Equal(t, http.StatusInternalServerError, get(MirrorPath(rec.Hash)))

	resp, err := http.Post(srv.URL+MirrorPath(rec.Hash), "application/octet-stream", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
