package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode is the fixed classification of submission and poll failures.
type ErrorCode uint8

const (
	CodeNone ErrorCode = iota
	InsufficientFunds
	GasPriceTooLow
	NonceMismatch
	Rejected
	TransientNetworkError
)

var codeNames = map[ErrorCode]string{
	CodeNone:              "NONE",
	InsufficientFunds:     "INSUFFICIENT_FUNDS",
	GasPriceTooLow:        "GAS_PRICE_TOO_LOW",
	NonceMismatch:         "NONCE_MISMATCH",
	Rejected:              "REJECTED",
	TransientNetworkError: "TRANSIENT_NETWORK_ERROR",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c ErrorCode) MarshalText() ([]byte, error) {
	if _, ok := codeNames[c]; !ok {
		return nil, fmt.Errorf("bridge: unknown error code %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ErrorCode) UnmarshalText(text []byte) error {
	for code, name := range codeNames {
		if name == string(text) {
			*c = code
			return nil
		}
	}
	return fmt.Errorf("bridge: unknown error code %q", text)
}

// Retryable reports whether a failure with this code may succeed on a later attempt.
func (c ErrorCode) Retryable() bool {
	switch c {
	case GasPriceTooLow, NonceMismatch, TransientNetworkError:
		return true
	}
	return false
}

// Permanent reports whether a failure with this code must never be retried.
func (c ErrorCode) Permanent() bool {
	return c == InsufficientFunds || c == Rejected
}

var (
	// ErrInsufficientFunds indicates the funding account cannot pay for the transaction.
	ErrInsufficientFunds = errors.New("bridge: insufficient funds")

	// ErrGasPriceTooLow indicates the offered fee is below the ledger's minimum.
	ErrGasPriceTooLow = errors.New("bridge: fee too low")

	// ErrNonceMismatch indicates the transaction conflicts with account or input state.
	ErrNonceMismatch = errors.New("bridge: nonce mismatch")

	// ErrRejected indicates the ledger explicitly rejected the transaction.
	ErrRejected = errors.New("bridge: transaction rejected")

	// ErrTransient indicates a network or availability failure.
	ErrTransient = errors.New("bridge: transient network error")
)

var codeSentinels = map[ErrorCode]error{
	InsufficientFunds:     ErrInsufficientFunds,
	GasPriceTooLow:        ErrGasPriceTooLow,
	NonceMismatch:         ErrNonceMismatch,
	Rejected:              ErrRejected,
	TransientNetworkError: ErrTransient,
}

// Error is a classified bridge failure.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

// NewError wraps err with a classification.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("bridge: %s: %s", e.Op, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's code.
func (e *Error) Is(target error) bool {
	return codeSentinels[e.Code] == target
}

// messagePatterns maps node and ledger error texts to codes. Order matters:
// the first match wins.
var messagePatterns = []struct {
	code ErrorCode
	any  []string
	all  []string
}{
	{code: InsufficientFunds, any: []string{"insufficient funds", "insufficient balance"}},
	{code: GasPriceTooLow, any: []string{"gas price too low", "fee too low", "min relay fee not met", "insufficient priority", "mempool min fee"}},
	{code: NonceMismatch, all: []string{"nonce"}, any: []string{"mismatch", "incorrect", "too low", "too high"}},
	{code: NonceMismatch, any: []string{"txn-mempool-conflict", "missing inputs", "missingorspent", "txn-already-known"}},
	{code: Rejected, any: []string{"rejected", "non-mandatory-script-verify-flag", "mandatory-script-verify-flag", "bad-txns"}},
}

// Classify maps err to an ErrorCode. Classified errors keep their code;
// sentinel matches follow; otherwise the error text is inspected. Anything
// unrecognised is treated as a transient network failure.
func Classify(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransientNetworkError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return TransientNetworkError
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw error message.
func ClassifyMessage(msg string) ErrorCode {
	m := strings.ToLower(msg)
	for _, p := range messagePatterns {
		if !containsAll(m, p.all) {
			continue
		}
		if containsAny(m, p.any) {
			return p.code
		}
	}
	return TransientNetworkError
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
