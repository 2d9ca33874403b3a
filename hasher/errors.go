package hasher

import "errors"

var (
	// ErrUnsupportedAlgorithm indicates the algorithm tag is not one of the known algorithms.
	ErrUnsupportedAlgorithm = errors.New("hasher: unsupported algorithm")

	// ErrInvalidDigest indicates a digest string or key could not be decoded.
	ErrInvalidDigest = errors.New("hasher: invalid digest")
)
