package storage

import (
	"bytes"
	"compress/gzip"
	"compress/lzw"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how chunk and blob bytes are encoded at rest. Digests
// are always computed over uncompressed bytes.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressLZW
	CompressGZIP
	CompressZstd
	CompressLZ4
)

var compressionNames = map[Compression]string{
	CompressNone: "none",
	CompressLZW:  "lzw",
	CompressGZIP: "gzip",
	CompressZstd: "zstd",
	CompressLZ4:  "lz4",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression parses a compression scheme name.
func ParseCompression(name string) (Compression, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return CompressNone, nil
	}
	for c, cn := range compressionNames {
		if cn == n {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCompression, name)
}

// errIncompressible signals that the encoded form would not be smaller.
var errIncompressible = errors.New("storage: data is incompressible")

// Compress compresses data using the specified scheme.
func Compress(data []byte, scheme Compression) ([]byte, error) {
	switch scheme {
	case CompressNone:
		return data, nil
	case CompressLZW:
		return compressLZW(data)
	case CompressGZIP:
		return compressGZIP(data)
	case CompressZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressLZ4:
		return compressLZ4(data)
	default:
		return nil, ErrUnsupportedCompression
	}
}

// Decompress decompresses data using the specified scheme. size is the
// expected uncompressed length; output longer than size is rejected.
func Decompress(data []byte, scheme Compression, size uint64) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch scheme {
	case CompressNone:
		out = make([]byte, len(data))
		copy(out, data)
	case CompressLZW:
		out, err = readLimited(lzw.NewReader(bytes.NewReader(data), lzw.LSB, 8), size)
	case CompressGZIP:
		var r *gzip.Reader
		r, err = gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			out, err = readLimited(r, size)
			_ = r.Close()
		}
	case CompressZstd:
		out, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	case CompressLZ4:
		out = make([]byte, size)
		var n int
		n, err = lz4.UncompressBlock(data, out)
		out = out[:n]
	default:
		return nil, ErrUnsupportedCompression
	}
	if err != nil {
		return nil, fmt.Errorf("storage: %s decompress: %w", scheme, err)
	}
	if uint64(len(out)) > size {
		return nil, ErrDecompressedTooLarge
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func readLimited(r io.Reader, size uint64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, int64(size)+1))
}

func compressLZW(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.LSB, 8)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressGZIP(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeFrame compresses data and prefixes the scheme actually applied.
// Empty or incompressible data is stored raw under CompressNone.
func encodeFrame(data []byte, scheme Compression) ([]byte, error) {
	if len(data) == 0 {
		scheme = CompressNone
	}
	body, err := Compress(data, scheme)
	if errors.Is(err, errIncompressible) {
		scheme, body, err = CompressNone, data, nil
	}
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 1+len(body))
	frame[0] = byte(scheme)
	copy(frame[1:], body)
	return frame, nil
}

// decodeFrame reverses encodeFrame. The returned slice never aliases frame.
func decodeFrame(frame []byte, size uint64) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrUnsupportedCompression)
	}
	return Decompress(frame[1:], Compression(frame[0]), size)
}
