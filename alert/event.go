// Package alert turns ledger transitions into operator alerts and delivers
// them to notification channels without ever blocking the caller.
package alert

import (
	"fmt"
	"strings"
	"time"
)

// Severity orders alerts from informational to paging.
type Severity uint8

const (
	Info Severity = iota + 1
	Warning
	Error
	Critical
)

var severityNames = map[Severity]string{
	Info:     "INFO",
	Warning:  "WARNING",
	Error:    "ERROR",
	Critical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", uint8(s))
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "WARN" {
		return Warning, nil
	}
	for s, sn := range severityNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type names an alert condition.
type Type string

const (
	TransactionSubmitted Type = "TRANSACTION_SUBMITTED"
	TransactionConfirmed Type = "TRANSACTION_CONFIRMED"
	TransactionRejected  Type = "TRANSACTION_REJECTED"
	InsufficientFunds    Type = "INSUFFICIENT_FUNDS"
	MaxRetriesExceeded   Type = "MAX_RETRIES_EXCEEDED"
	ConsecutiveErrors    Type = "CONSECUTIVE_ERRORS"
	NonceError           Type = "NONCE_ERROR"
	GasPriceError        Type = "GAS_PRICE_ERROR"
	ChunkCorrupted       Type = "CHUNK_CORRUPTED"
)

type typeInfo struct {
	title       string
	description string
	severity    Severity
}

var catalog = map[Type]typeInfo{
	TransactionSubmitted: {"Transaction submitted", "An anchoring transaction was accepted for broadcast.", Info},
	TransactionConfirmed: {"Transaction confirmed", "An anchoring transaction was included in a block.", Info},
	TransactionRejected:  {"Transaction rejected", "The ledger permanently rejected an anchoring transaction.", Error},
	InsufficientFunds:    {"Insufficient funds", "The funding account cannot pay for anchoring transactions.", Critical},
	MaxRetriesExceeded:   {"Maximum retries exceeded", "An anchoring transaction failed after exhausting its retries.", Error},
	ConsecutiveErrors:    {"Consecutive errors", "Anchoring submissions keep failing and are being retried.", Warning},
	NonceError:           {"Nonce error", "A submission conflicted with the account or input state.", Warning},
	GasPriceError:        {"Fee too low", "A submission offered a fee below the ledger minimum.", Warning},
	ChunkCorrupted:       {"Chunk corrupted", "Stored content failed integrity verification; re-verify or re-import it.", Error},
}

// Title returns the human readable title for t.
func (t Type) Title() string {
	if info, ok := catalog[t]; ok {
		return info.title
	}
	return string(t)
}

// Description returns the catalog description for t.
func (t Type) Description() string { return catalog[t].description }

// DefaultSeverity returns the severity t is raised at.
func (t Type) DefaultSeverity() Severity { return catalog[t].severity }

// Event is one alert occurrence. Events are not persisted.
type Event struct {
	Type       Type              `json:"type"`
	Severity   Severity          `json:"severity"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent builds an event at the type's default severity.
func NewEvent(t Type, ctx map[string]string, at time.Time) Event {
	return Event{Type: t, Severity: t.DefaultSeverity(), Context: ctx, OccurredAt: at}
}
