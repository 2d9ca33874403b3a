package tx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"

	"github.com/bitfsorg/anchorstore/codec"
	"github.com/bitfsorg/anchorstore/hasher"
)

// AnchorFlagBytes marks an anchoring OP_RETURN output: "anchor" in ASCII.
var AnchorFlagBytes = []byte(AnchorFlag)

const (
	// AnchorFlag is the protocol prefix of every anchor output.
	AnchorFlag = "anchor"

	// DustLimit is the minimum P2PKH output value in satoshis.
	DustLimit = uint64(546)

	// DefaultFeeRate is the default fee rate in sat/KB.
	DefaultFeeRate = uint64(1)

	// MaxMetadataSize bounds the encoded metadata carried on chain.
	MaxMetadataSize = 4096

	// TxIDLen is the length of a transaction ID.
	TxIDLen = 32
)

// BuildAnchorData constructs the OP_RETURN data pushes anchoring d.
//
// Layout:
//
//	pushdata[0]: AnchorFlag ("anchor")
//	pushdata[1]: algorithm name, e.g. "blake3"
//	pushdata[2]: digest bytes
//	pushdata[3]: deterministic CBOR of metadata (empty when there is none)
func BuildAnchorData(d hasher.Digest, metadata map[string]string) ([][]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var meta []byte
	if len(metadata) > 0 {
		var err error
		meta, err = codec.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encode metadata: %w", ErrInvalidPayload, err)
		}
		if len(meta) > MaxMetadataSize {
			return nil, fmt.Errorf("%w: metadata is %d bytes, limit %d", ErrInvalidPayload, len(meta), MaxMetadataSize)
		}
	}

	return [][]byte{
		AnchorFlagBytes,
		[]byte(d.Algorithm.String()),
		d.Sum,
		meta,
	}, nil
}

// ParseAnchorData extracts the digest and metadata from anchor data pushes.
func ParseAnchorData(pushes [][]byte) (hasher.Digest, map[string]string, error) {
	if len(pushes) < 4 {
		return hasher.Digest{}, nil, fmt.Errorf("%w: expected 4 data pushes, got %d", ErrInvalidOPReturn, len(pushes))
	}
	if !bytes.Equal(pushes[0], AnchorFlagBytes) {
		return hasher.Digest{}, nil, fmt.Errorf("%w: missing anchor flag", ErrNotAnchorTx)
	}

	alg, err := hasher.ParseAlgorithm(string(pushes[1]))
	if err != nil || len(pushes[1]) == 0 {
		return hasher.Digest{}, nil, fmt.Errorf("%w: algorithm %q", ErrInvalidOPReturn, pushes[1])
	}
	d := hasher.Digest{Algorithm: alg, Sum: append([]byte(nil), pushes[2]...)}
	if err := d.Validate(); err != nil {
		return hasher.Digest{}, nil, fmt.Errorf("%w: %w", ErrInvalidOPReturn, err)
	}

	var metadata map[string]string
	if len(pushes[3]) > 0 {
		if len(pushes[3]) > MaxMetadataSize {
			return hasher.Digest{}, nil, fmt.Errorf("%w: metadata too large", ErrInvalidOPReturn)
		}
		if err := codec.Unmarshal(pushes[3], &metadata); err != nil {
			return hasher.Digest{}, nil, fmt.Errorf("%w: metadata: %w", ErrInvalidOPReturn, err)
		}
	}
	return d, metadata, nil
}

// ParseAnchorScript parses an OP_FALSE OP_RETURN locking script built by
// BuildAnchorTx.
func ParseAnchorScript(lockingScript []byte) (hasher.Digest, map[string]string, error) {
	if len(lockingScript) < 2 || lockingScript[0] != script.Op0 || lockingScript[1] != script.OpRETURN {
		return hasher.Digest{}, nil, fmt.Errorf("%w: not an OP_FALSE OP_RETURN script", ErrNotAnchorTx)
	}
	pushes, err := readPushes(lockingScript[2:])
	if err != nil {
		return hasher.Digest{}, nil, err
	}
	return ParseAnchorData(pushes)
}

// readPushes decodes a sequence of data pushes. Any other opcode is an error.
func readPushes(b []byte) ([][]byte, error) {
	var pushes [][]byte
	for len(b) > 0 {
		op := b[0]
		b = b[1:]
		var n int
		switch {
		case op == script.Op0:
			pushes = append(pushes, nil)
			continue
		case op >= script.OpDATA1 && op <= script.OpDATA75:
			n = int(op)
		case op == script.OpPUSHDATA1:
			if len(b) < 1 {
				return nil, fmt.Errorf("%w: truncated PUSHDATA1", ErrInvalidOPReturn)
			}
			n, b = int(b[0]), b[1:]
		case op == script.OpPUSHDATA2:
			if len(b) < 2 {
				return nil, fmt.Errorf("%w: truncated PUSHDATA2", ErrInvalidOPReturn)
			}
			n, b = int(binary.LittleEndian.Uint16(b)), b[2:]
		case op == script.OpPUSHDATA4:
			if len(b) < 4 {
				return nil, fmt.Errorf("%w: truncated PUSHDATA4", ErrInvalidOPReturn)
			}
			l := binary.LittleEndian.Uint32(b)
			if uint64(l) > uint64(len(b)-4) {
				return nil, fmt.Errorf("%w: push of %d bytes overruns script", ErrInvalidOPReturn, l)
			}
			n, b = int(l), b[4:]
		default:
			return nil, fmt.Errorf("%w: unexpected opcode 0x%02x", ErrInvalidOPReturn, op)
		}
		if n > len(b) {
			return nil, fmt.Errorf("%w: push of %d bytes overruns script", ErrInvalidOPReturn, n)
		}
		pushes = append(pushes, b[:n:n])
		b = b[n:]
	}
	return pushes, nil
}

// buildOPReturnScript creates an OP_FALSE OP_RETURN script from data pushes.
func buildOPReturnScript(pushes [][]byte) (*script.Script, error) {
	s := &script.Script{}
	*s = append(*s, script.Op0, script.OpRETURN)
	for _, push := range pushes {
		if err := s.AppendPushData(push); err != nil {
			return nil, fmt.Errorf("%w: OP_RETURN push data: %w", ErrScriptBuild, err)
		}
	}
	return s, nil
}

// EstimateFee returns ceil(txSizeBytes * feeRate / 1000).
func EstimateFee(txSizeBytes int, feeRate uint64) uint64 {
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}
	fee := uint64(txSizeBytes) * feeRate
	return (fee + 999) / 1000
}

// EstimateTxSize estimates the size of an anchoring transaction with
// numInputs P2PKH inputs, numOutputs P2PKH outputs and dataSize bytes of
// OP_RETURN pushes.
func EstimateTxSize(numInputs, numOutputs int, dataSize int) int {
	// version(4) + locktime(4) + varints(2)
	base := 10
	// prevout(36) + scriptlen(1) + P2PKH unlock(~107) + sequence(4)
	inputs := numInputs * 148
	// value(8) + scriptlen(1) + P2PKH lock(25)
	outputs := numOutputs * 34
	// value(8) + scriptlen(3) + OP_FALSE OP_RETURN(2) + four push headers
	opReturn := 13 + 4*3 + dataSize
	return base + inputs + outputs + opReturn
}
