package alert

import (
	"strconv"
	"sync"
	"time"

	"github.com/bitfsorg/anchorstore/bridge"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
)

// Policy holds the evaluator thresholds.
type Policy struct {
	// ConsecutiveThreshold is the number of retries across all entries,
	// without an intervening success, that raises CONSECUTIVE_ERRORS.
	ConsecutiveThreshold int `toml:"consecutive_threshold" env:"CONSECUTIVE_THRESHOLD"`
	// Window bounds how far back retries count toward ConsecutiveThreshold.
	Window time.Duration `toml:"window" env:"WINDOW"`
	// EntryThreshold raises CONSECUTIVE_ERRORS for a single entry after this
	// many retries in a row. Zero disables the per-entry rule.
	EntryThreshold int `toml:"entry_threshold" env:"ENTRY_THRESHOLD"`
	// EmitSubmitted raises an INFO event on every successful submission.
	EmitSubmitted bool `toml:"emit_submitted" env:"EMIT_SUBMITTED"`
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConsecutiveThreshold: 5,
		Window:               10 * time.Minute,
	}
}

// Transition describes one ledger state change as seen by the evaluator.
// A failed submission is reported as Submitted -> Pending.
type Transition struct {
	FileHash hasher.Digest
	TxID     string
	From     ledger.TxState
	To       ledger.TxState
	Code     bridge.ErrorCode
	Attempt  uint32
	BlockID  string
	At       time.Time
}

// IsRetry reports whether tr sends a submitted entry back to Pending.
func (tr Transition) IsRetry() bool {
	return tr.From == ledger.Submitted && tr.To == ledger.Pending
}

// Sink receives evaluated events.
type Sink interface {
	Dispatch(Event)
}

// Evaluator applies a Policy to ledger transitions. It keeps a sliding window
// of retries process-wide and a retry streak per entry.
type Evaluator struct {
	policy Policy
	sink   Sink

	mu       sync.Mutex
	retries  []time.Time
	perEntry map[string]int
}

// NewEvaluator creates an evaluator that hands events to sink. A zero
// ConsecutiveThreshold or Window takes the default.
func NewEvaluator(policy Policy, sink Sink) *Evaluator {
	def := DefaultPolicy()
	if policy.ConsecutiveThreshold <= 0 {
		policy.ConsecutiveThreshold = def.ConsecutiveThreshold
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	return &Evaluator{policy: policy, sink: sink, perEntry: make(map[string]int)}
}

// Policy returns the effective policy.
func (ev *Evaluator) Policy() Policy { return ev.policy }

// Observe evaluates tr, dispatches the resulting events and returns them.
func (ev *Evaluator) Observe(tr Transition) []Event {
	events := ev.evaluate(tr)
	if ev.sink != nil {
		for _, e := range events {
			ev.sink.Dispatch(e)
		}
	}
	return events
}

func (ev *Evaluator) evaluate(tr Transition) []Event {
	ctx := transitionContext(tr)
	var events []Event

	switch tr.Code {
	case bridge.InsufficientFunds:
		events = append(events, NewEvent(InsufficientFunds, ctx, tr.At))
	case bridge.NonceMismatch:
		events = append(events, NewEvent(NonceError, ctx, tr.At))
	case bridge.GasPriceTooLow:
		events = append(events, NewEvent(GasPriceError, ctx, tr.At))
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	key := string(tr.FileHash.Key())
	switch {
	case tr.IsRetry():
		events = append(events, ev.recordRetryLocked(key, tr, ctx)...)
	case tr.To == ledger.Submitted:
		ev.resetLocked(key)
		if ev.policy.EmitSubmitted {
			events = append(events, NewEvent(TransactionSubmitted, ctx, tr.At))
		}
	case tr.To == ledger.Confirmed:
		ev.resetLocked(key)
		events = append(events, NewEvent(TransactionConfirmed, ctx, tr.At))
	case tr.To == ledger.Rejected:
		delete(ev.perEntry, key)
		events = append(events, NewEvent(TransactionRejected, ctx, tr.At))
	case tr.To == ledger.Failed:
		delete(ev.perEntry, key)
		events = append(events, NewEvent(MaxRetriesExceeded, ctx, tr.At))
	}
	return events
}

func (ev *Evaluator) recordRetryLocked(key string, tr Transition, ctx map[string]string) []Event {
	var events []Event

	cutoff := tr.At.Add(-ev.policy.Window)
	kept := ev.retries[:0]
	for _, at := range ev.retries {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	ev.retries = append(kept, tr.At)
	if len(ev.retries) >= ev.policy.ConsecutiveThreshold {
		c := cloneContext(ctx)
		c["scope"] = "process"
		c["count"] = strconv.Itoa(len(ev.retries))
		c["window"] = ev.policy.Window.String()
		events = append(events, NewEvent(ConsecutiveErrors, c, tr.At))
		ev.retries = ev.retries[:0]
	}

	ev.perEntry[key]++
	if n := ev.perEntry[key]; ev.policy.EntryThreshold > 0 && n >= ev.policy.EntryThreshold {
		c := cloneContext(ctx)
		c["scope"] = "entry"
		c["count"] = strconv.Itoa(n)
		events = append(events, NewEvent(ConsecutiveErrors, c, tr.At))
		ev.perEntry[key] = 0
	}
	return events
}

// resetLocked clears the process-wide streak and the entry's streak after a
// success.
func (ev *Evaluator) resetLocked(key string) {
	ev.retries = ev.retries[:0]
	delete(ev.perEntry, key)
}

// ObserveCorruption raises CHUNK_CORRUPTED for stored content. index is -1
// when the whole payload failed verification.
func (ev *Evaluator) ObserveCorruption(hash hasher.Digest, index int64, at time.Time) Event {
	ctx := map[string]string{"file_hash": hash.String()}
	if index >= 0 {
		ctx["chunk"] = strconv.FormatInt(index, 10)
	}
	e := NewEvent(ChunkCorrupted, ctx, at)
	if ev.sink != nil {
		ev.sink.Dispatch(e)
	}
	return e
}

// Streaks returns the current process-wide retry count within the window and
// the retry streak for hash.
func (ev *Evaluator) Streaks(hash hasher.Digest) (process, entry int) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.retries), ev.perEntry[string(hash.Key())]
}

func transitionContext(tr Transition) map[string]string {
	ctx := map[string]string{
		"file_hash": tr.FileHash.String(),
		"from":      tr.From.String(),
		"to":        tr.To.String(),
		"attempt":   strconv.FormatUint(uint64(tr.Attempt), 10),
	}
	if tr.TxID != "" {
		ctx["tx_id"] = tr.TxID
	}
	if tr.Code != bridge.CodeNone {
		ctx["error_code"] = tr.Code.String()
	}
	if tr.BlockID != "" {
		ctx["block_id"] = tr.BlockID
	}
	return ctx
}

func cloneContext(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
