package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitfsorg/anchorstore/hasher"
)

// MaxMirrorResponse bounds a mirror response body when Mirror.MaxSize is zero.
const MaxMirrorResponse = 1 << 30

// ErrNoMirrors indicates a fetch was attempted with no endpoints configured.
var ErrNoMirrors = errors.New("storage: no mirrors configured")

// MirrorPath is the URL path under which a mirror serves the payload for d.
func MirrorPath(d hasher.Digest) string {
	return "/content/" + d.Algorithm.String() + "/" + d.Hex()
}

// Mirror fetches payloads by digest from peer stores, trying endpoints in
// order. A response is only returned once it re-hashes to the requested
// digest, so a misbehaving peer can delay a fetch but never poison it.
type Mirror struct {
	Endpoints []string
	Client    *http.Client
	// MaxSize bounds a response body. Zero means MaxMirrorResponse.
	MaxSize int64
	Logger  zerolog.Logger
}

// NewMirror creates a Mirror whose requests time out after timeout.
func NewMirror(endpoints []string, timeout time.Duration, logger zerolog.Logger) *Mirror {
	return &Mirror{
		Endpoints: endpoints,
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger,
	}
}

// Fetch returns the payload for d from the first endpoint that serves
// matching bytes.
func (m *Mirror) Fetch(ctx context.Context, d hasher.Digest) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if len(m.Endpoints) == 0 {
		return nil, ErrNoMirrors
	}

	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	for _, ep := range m.Endpoints {
		data, err := m.fetchFrom(ctx, client, ep, d)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.Logger.Debug().Err(err).Str("mirror", ep).Str("hash", d.String()).Msg("mirror fetch failed")
			continue
		}
		got, err := hasher.Sum(data, d.Algorithm)
		if err != nil {
			return nil, err
		}
		if !got.Equal(d) {
			m.Logger.Warn().Str("mirror", ep).Str("hash", d.String()).Str("got", got.String()).Msg("mirror served mismatched content")
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s on %d mirror(s)", ErrNotFound, d, len(m.Endpoints))
}

func (m *Mirror) fetchFrom(ctx context.Context, client *http.Client, base string, d hasher.Digest) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+MirrorPath(d), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	limit := m.MaxSize
	if limit <= 0 {
		limit = MaxMirrorResponse
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, limit)
	}
	return data, nil
}

// NewMirrorHandler serves verified payloads from s at MirrorPath. Content
// that fails verification is withheld with 500 so peers move on to the next
// mirror.
func NewMirrorHandler(s ContentStore) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /content/{alg}/{sum}", func(w http.ResponseWriter, r *http.Request) {
		d, err := hasher.ParseDigest(r.PathValue("alg") + ":" + r.PathValue("sum"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := s.Get(d)
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, "content unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	})
	return mux
}
