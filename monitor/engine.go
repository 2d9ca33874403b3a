// Package monitor drives anchoring transactions through their ledger
// lifecycle. A single periodic engine submits due entries, polls submitted
// ones, schedules retries with backoff and reports every transition to the
// alert evaluator.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bitfsorg/anchorstore/alert"
	"github.com/bitfsorg/anchorstore/bridge"
	"github.com/bitfsorg/anchorstore/clock"
	"github.com/bitfsorg/anchorstore/ledger"
)

// Options carries the engine's optional collaborators.
type Options struct {
	// Evaluator receives every applied transition. Nil disables alerting.
	Evaluator *alert.Evaluator
	// Clock defaults to the real clock.
	Clock  clock.Clock
	Logger zerolog.Logger
	// Registerer receives the engine metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Rand returns jitter samples in [0,1). Defaults to math/rand.
	Rand func() float64
}

// Engine is the single writer of ledger transitions after enqueue.
type Engine struct {
	cfg     Config
	ledger  ledger.Ledger
	bridge  bridge.Bridge
	eval    *alert.Evaluator
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics
	limiter *rate.Limiter
	rand    func() float64

	tickMu sync.Mutex
}

// New creates an engine. It does not start ticking until Run is called.
func New(l ledger.Ledger, b bridge.Bridge, cfg Config, opts Options) (*Engine, error) {
	if l == nil || b == nil {
		return nil, fmt.Errorf("%w: ledger and bridge are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
	}

	return &Engine{
		cfg:     cfg,
		ledger:  l,
		bridge:  b,
		eval:    opts.Evaluator,
		clock:   opts.Clock,
		log:     opts.Logger.With().Str("component", "monitor").Logger(),
		metrics: newMetrics(opts.Registerer),
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		rand:    opts.Rand,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run ticks immediately and then every Interval until ctx is cancelled.
// A tick in progress when ctx ends finishes its in-flight calls first.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", e.cfg.Interval).Int("concurrency", e.cfg.Concurrency).Msg("monitor engine started")
	for {
		if rep, err := e.Tick(ctx); err != nil {
			if ctx.Err() == nil {
				e.log.Error().Err(err).Msg("tick failed")
			}
		} else if !rep.Empty() {
			e.log.Debug().Object("report", rep).Msg("tick complete")
		}

		select {
		case <-ctx.Done():
			e.log.Info().Msg("monitor engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Report counts the outcomes of one tick.
type Report struct {
	Submitted int
	Retried   int
	Confirmed int
	Rejected  int
	Failed    int
	Polled    int
	Skipped   int
}

// Empty reports whether the tick did nothing.
func (r Report) Empty() bool { return r == Report{} }

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (r Report) MarshalZerologObject(ev *zerolog.Event) {
	ev.Int("submitted", r.Submitted).
		Int("retried", r.Retried).
		Int("confirmed", r.Confirmed).
		Int("rejected", r.Rejected).
		Int("failed", r.Failed).
		Int("polled", r.Polled).
		Int("skipped", r.Skipped)
}

type tally struct {
	mu  sync.Mutex
	rep Report
}

func (t *tally) add(fn func(*Report)) {
	t.mu.Lock()
	fn(&t.rep)
	t.mu.Unlock()
}

// Tick polls every Submitted entry and submits every due Pending entry, with
// at most Concurrency bridge calls in flight. Cancelling ctx stops new calls
// from being dispatched; calls already dispatched run to completion or
// CallTimeout and their outcome is recorded.
func (e *Engine) Tick(ctx context.Context) (Report, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	defer func() { e.metrics.tickDuration.Observe(time.Since(start).Seconds()) }()

	now := e.clock.Now()
	submitted, err := e.ledger.ListState(ctx, ledger.Submitted)
	if err != nil {
		return Report{}, fmt.Errorf("monitor: list submitted: %w", err)
	}
	due, err := e.ledger.Due(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("monitor: list due: %w", err)
	}

	var t tally
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	dispatch := func(entry ledger.Entry, step func(context.Context, ledger.Entry, *tally) error) {
		g.Go(func() error {
			// Waiting for a rate slot is the last cancellable point.
			if err := e.limiter.Wait(ctx); err != nil {
				t.add(func(r *Report) { r.Skipped++ })
				return nil
			}
			return step(ctx, entry, &t)
		})
	}

	for _, entry := range submitted {
		if ctx.Err() != nil {
			break
		}
		dispatch(entry, e.poll)
	}
	for _, entry := range due {
		if ctx.Err() != nil {
			break
		}
		dispatch(entry, e.submit)
	}

	err = g.Wait()
	return t.rep, err
}

// callContext detaches a dispatched call from tick cancellation and bounds
// it by CallTimeout.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
}

func (e *Engine) submit(ctx context.Context, entry ledger.Entry, t *tally) error {
	callCtx, cancel := e.callContext(ctx)
	txID, err := e.bridge.Submit(callCtx, entry.FileHash, entry.Metadata)
	cancel()

	now := e.clock.Now()
	next := entry
	next.AttemptCount++
	next.UpdatedAt = now
	tr := alert.Transition{FileHash: entry.FileHash, From: ledger.Pending, Attempt: next.AttemptCount, At: now}

	if err == nil {
		e.metrics.bridgeCall("submit", "ok")
		next.State = ledger.Submitted
		next.TxID = txID
		next.LastError = bridge.CodeNone
		next.NextRetryAt = time.Time{}
		tr.To, tr.TxID = ledger.Submitted, txID
		return e.apply(ctx, entry, next, tr, t, func(r *Report) { r.Submitted++ })
	}

	code := bridge.Classify(err)
	e.metrics.bridgeCall("submit", code.String())
	next.LastError = code
	next.TxID = ""
	tr.Code = code

	log := e.log.With().Stringer("file_hash", entry.FileHash).Uint32("attempt", next.AttemptCount).Stringer("code", code).Logger()
	var count func(*Report)
	switch {
	case code.Permanent():
		log.Error().Err(err).Msg("submission rejected")
		next.State = ledger.Rejected
		tr.To = ledger.Rejected
		count = func(r *Report) { r.Rejected++ }
	case next.AttemptCount > e.cfg.MaxRetries:
		log.Error().Err(err).Msg("submission retries exhausted")
		next.State = ledger.Failed
		tr.To = ledger.Failed
		count = func(r *Report) { r.Failed++ }
	default:
		next.State = ledger.Pending
		next.NextRetryAt = now.Add(e.cfg.Backoff(next.AttemptCount, e.rand))
		// The submission round trip is reported as Submitted -> Pending.
		tr.From, tr.To = ledger.Submitted, ledger.Pending
		log.Warn().Err(err).Time("next_retry_at", next.NextRetryAt).Msg("submission failed, retry scheduled")
		count = func(r *Report) { r.Retried++ }
	}
	return e.apply(ctx, entry, next, tr, t, count)
}

func (e *Engine) poll(ctx context.Context, entry ledger.Entry, t *tally) error {
	callCtx, cancel := e.callContext(ctx)
	res, err := e.bridge.Poll(callCtx, entry.TxID)
	cancel()

	t.add(func(r *Report) { r.Polled++ })
	now := e.clock.Now()
	next := entry
	next.UpdatedAt = now
	tr := alert.Transition{FileHash: entry.FileHash, TxID: entry.TxID, From: ledger.Submitted, Attempt: entry.AttemptCount, At: now}
	log := e.log.With().Stringer("file_hash", entry.FileHash).Str("tx_id", entry.TxID).Logger()
	var count func(*Report)

	if err != nil {
		code := bridge.Classify(err)
		e.metrics.bridgeCall("poll", code.String())
		tr.Code = code
		next.LastError = code
		switch {
		case code == bridge.TransientNetworkError:
			log.Debug().Err(err).Msg("poll failed, will poll again")
			return nil
		case code.Permanent():
			log.Error().Err(err).Stringer("code", code).Msg("transaction rejected")
			next.State = ledger.Rejected
			tr.To = ledger.Rejected
			count = func(r *Report) { r.Rejected++ }
		case entry.AttemptCount > e.cfg.MaxRetries:
			next.State = ledger.Failed
			tr.To = ledger.Failed
			count = func(r *Report) { r.Failed++ }
		default:
			// The transaction was dropped; submit it again.
			log.Warn().Err(err).Stringer("code", code).Msg("transaction dropped, retry scheduled")
			next.State = ledger.Pending
			next.TxID = ""
			next.NextRetryAt = now.Add(e.cfg.Backoff(entry.AttemptCount, e.rand))
			tr.To = ledger.Pending
			count = func(r *Report) { r.Retried++ }
		}
		return e.apply(ctx, entry, next, tr, t, count)
	}

	e.metrics.bridgeCall("poll", res.State.String())
	switch res.State {
	case bridge.PollConfirmed:
		next.State = ledger.Confirmed
		next.LastError = bridge.CodeNone
		next.BlockID = res.BlockID
		next.BlockHeight = res.BlockHeight
		next.ConfirmedAt = res.ConfirmedAt
		if next.ConfirmedAt.IsZero() {
			next.ConfirmedAt = now
		}
		tr.To, tr.BlockID = ledger.Confirmed, res.BlockID
		log.Info().Str("block_id", res.BlockID).Uint64("block_height", res.BlockHeight).Msg("transaction confirmed")
		count = func(r *Report) { r.Confirmed++ }
	case bridge.PollRejected:
		next.State = ledger.Rejected
		next.LastError = bridge.Rejected
		tr.To, tr.Code = ledger.Rejected, bridge.Rejected
		log.Error().Msg("transaction rejected by ledger")
		count = func(r *Report) { r.Rejected++ }
	default:
		return nil
	}
	return e.apply(ctx, entry, next, tr, t, count)
}

// apply persists next, reports tr and updates the tally. The write is
// detached from ctx so an outcome already obtained from the bridge is never
// lost to cancellation. A state conflict means the entry moved underneath
// us; it is logged and skipped.
func (e *Engine) apply(ctx context.Context, prev, next ledger.Entry, tr alert.Transition, t *tally, count func(*Report)) error {
	err := e.ledger.Transition(context.WithoutCancel(ctx), next, prev.State)
	if errors.Is(err, ledger.ErrStateConflict) {
		e.log.Warn().Err(err).Stringer("file_hash", prev.FileHash).Msg("entry changed during tick, skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: record %s -> %s for %s: %w", prev.State, next.State, prev.FileHash, err)
	}
	e.metrics.transition(prev.State, next.State)
	if count != nil {
		t.add(count)
	}
	if e.eval != nil {
		e.eval.Observe(tr)
	}
	return nil
}
