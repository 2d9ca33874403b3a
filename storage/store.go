package storage

import (
	"context"
	"io"
	"time"

	"github.com/bitfsorg/anchorstore/hasher"
)

// ContentRecord describes one stored payload. Its Hash is always computed over
// the full uncompressed payload, whether or not it is stored chunked.
// Records are immutable once written.
type ContentRecord struct {
	Hash        hasher.Digest     `cbor:"1,keyasint" json:"hash"`
	Size        uint64            `cbor:"2,keyasint" json:"size"`
	Chunked     bool              `cbor:"3,keyasint" json:"chunked"`
	ChunkSize   uint64            `cbor:"4,keyasint,omitempty" json:"chunk_size,omitempty"`
	Chunks      []ChunkRef        `cbor:"5,keyasint,omitempty" json:"chunks,omitempty"`
	Compression Compression       `cbor:"6,keyasint" json:"compression"`
	CreatedAt   time.Time         `cbor:"7,keyasint" json:"created_at"`
	Metadata    map[string]string `cbor:"-" json:"metadata,omitempty"`
}

// Algorithm returns the algorithm the record is addressed under.
func (r *ContentRecord) Algorithm() hasher.Algorithm { return r.Hash.Algorithm }

// PutOptions controls how a payload is stored.
type PutOptions struct {
	// Algorithm defaults to hasher.Default when zero.
	Algorithm hasher.Algorithm
	// ChunkSize enables chunked storage for payloads larger than it. Zero
	// stores every payload as a single blob.
	ChunkSize uint64
	// Compression applies to every stored blob or chunk.
	Compression Compression
	Metadata    map[string]string
}

// AuditResult is reported for each record visited by a verify sweep.
type AuditResult struct {
	Hash hasher.Digest
	OK   bool
	Err  error
}

// ContentStore is a content-addressed store for byte payloads.
type ContentStore interface {
	// Put stores payload and returns its record. Storing bytes that already
	// exist under the same algorithm returns the existing record unchanged.
	Put(payload []byte, opts PutOptions) (*ContentRecord, error)

	// PutReader reads r to EOF and stores the result as Put does.
	PutReader(r io.Reader, opts PutOptions) (*ContentRecord, error)

	// Get returns the payload for hash, verifying it on the way out.
	Get(hash hasher.Digest) ([]byte, error)

	// Record returns the stored record including metadata.
	Record(hash hasher.Digest) (*ContentRecord, error)

	// Has reports whether a record exists for hash.
	Has(hash hasher.Digest) (bool, error)

	// Verify recomputes the payload digest from stored bytes.
	Verify(hash hasher.Digest) (bool, error)

	// Delete removes the payload, manifest and metadata for hash.
	Delete(hash hasher.Digest) error

	// Replace stores payload over any existing record with the same digest
	// in one atomic step.
	Replace(payload []byte, opts PutOptions) (*ContentRecord, error)

	// List returns the digests of all stored records.
	List() ([]hasher.Digest, error)

	// ListPrefix returns the digests whose hex encoding starts with prefix.
	ListPrefix(prefix string) ([]hasher.Digest, error)

	// VerifyAll verifies every stored record and reports each result to fn.
	VerifyAll(ctx context.Context, fn func(AuditResult) error) error

	Close() error
}
