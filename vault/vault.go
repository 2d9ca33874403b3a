// Package vault wires the content store, the transaction ledger, the alert
// pipeline and the retry engine over one data directory. CLI commands and
// long-running daemons call Vault methods rather than the packages directly.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/anchorstore/alert"
	"github.com/bitfsorg/anchorstore/bridge"
	"github.com/bitfsorg/anchorstore/clock"
	"github.com/bitfsorg/anchorstore/config"
	"github.com/bitfsorg/anchorstore/discovery"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
	"github.com/bitfsorg/anchorstore/monitor"
	"github.com/bitfsorg/anchorstore/storage"
)

var (
	// ErrOffline indicates an operation needs a bridge but none is configured.
	ErrOffline = errors.New("vault: no bridge configured (offline mode)")

	// ErrLocked indicates another process holds the data directory.
	ErrLocked = errors.New("vault: data directory is in use")

	// ErrNotAnchored indicates the digest has no anchor transaction yet.
	ErrNotAnchored = errors.New("vault: content has no anchor transaction")
)

// Options carries collaborators that are not part of the file configuration.
type Options struct {
	// Bridge enables anchoring. Nil opens the vault offline: content is
	// stored and ledger entries are queued, but nothing is submitted.
	Bridge bridge.Bridge
	Logger zerolog.Logger
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Registerer receives the engine and alert metrics. Nil registers nothing.
	Registerer prometheus.Registerer
	// Notifiers are extra alert channels besides the log and the configured
	// webhooks.
	Notifiers []alert.Channel
	// Resolver looks up [storage] mirror_domain. Nil uses the system
	// resolver, or a DNSSEC resolver when mirror_dnssec is set.
	Resolver discovery.Resolver
}

// Vault is an open data directory.
type Vault struct {
	Store      *storage.BoltStore
	Ledger     *ledger.BoltLedger
	Evaluator  *alert.Evaluator
	Dispatcher *alert.Dispatcher
	Engine     *monitor.Engine // nil when offline
	Mirror     *storage.Mirror // nil without [storage] mirrors or mirror_domain

	cfg   config.Config
	clk   clock.Clock
	log   zerolog.Logger
	alg   hasher.Algorithm
	comp  storage.Compression
	lock  *dirLock

	resolver discovery.Resolver
	verifier AnchorVerifier
}

// Open locks cfg.DataDir and opens every component over its database.
func Open(cfg config.Config, opts Options) (*Vault, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	alg, err := hasher.ParseAlgorithm(cfg.Storage.Algorithm)
	if err != nil {
		return nil, err
	}
	comp, err := storage.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("vault: create data directory: %w", err)
	}
	dl, err := lockPath(filepath.Join(cfg.DataDir, "vault.lock"), false)
	if err != nil {
		return nil, err
	}

	v := &Vault{cfg: cfg, clk: opts.Clock, log: opts.Logger, alg: alg, comp: comp, lock: dl}
	if err := v.open(opts); err != nil {
		if v.Dispatcher != nil {
			_ = v.Dispatcher.Close(context.Background())
		}
		_ = v.closeStores()
		return nil, err
	}
	return v, nil
}

func (v *Vault) open(opts Options) error {
	store, err := storage.OpenBoltStore(v.cfg.DBPath(), storage.Options{
		CacheEntries: v.cfg.Storage.CacheEntries,
		MaxPayload:   v.cfg.Storage.MaxPayload,
		Logger:       v.log.With().Str("component", "storage").Logger(),
		Now:          v.clk.Now,
	})
	if err != nil {
		return fmt.Errorf("vault: open store: %w", err)
	}
	v.Store = store

	v.Ledger, err = ledger.NewBoltLedger(store.DB())
	if err != nil {
		return fmt.Errorf("vault: open ledger: %w", err)
	}

	channels, err := v.channels(opts.Notifiers)
	if err != nil {
		return err
	}
	v.Dispatcher = alert.NewDispatcher(alert.DispatcherOptions{
		QueueSize:  v.cfg.Alerts.QueueSize,
		Logger:     v.log,
		Registerer: opts.Registerer,
	}, channels...)
	v.Evaluator = alert.NewEvaluator(v.cfg.Alerts.Policy, v.Dispatcher)

	if sc := v.cfg.Storage; len(sc.Mirrors) > 0 || sc.MirrorDomain != "" {
		v.Mirror = storage.NewMirror(sc.Mirrors, sc.MirrorTimeout, v.log.With().Str("component", "mirror").Logger())
		v.resolver = opts.Resolver
		if v.resolver == nil {
			v.resolver = net.DefaultResolver
			if sc.MirrorDNSSEC {
				v.resolver = discovery.NewDNSSECResolver(sc.DNSUpstream)
			}
		}
	}

	if opts.Bridge == nil {
		return nil
	}
	v.verifier, _ = opts.Bridge.(AnchorVerifier)
	v.Engine, err = monitor.New(v.Ledger, opts.Bridge, v.cfg.Engine, monitor.Options{
		Evaluator:  v.Evaluator,
		Clock:      v.clk,
		Logger:     v.log.With().Str("component", "monitor").Logger(),
		Registerer: opts.Registerer,
	})
	if err != nil {
		return fmt.Errorf("vault: create engine: %w", err)
	}
	return nil
}

func (v *Vault) channels(extra []alert.Channel) ([]alert.Channel, error) {
	channels := []alert.Channel{{
		Name:        "log",
		MinSeverity: alert.Info,
		Notifier:    alert.LogNotifier{Logger: v.log.With().Str("component", "alert").Logger()},
	}}
	for i, w := range v.cfg.Alerts.Webhooks {
		minSev := alert.Warning
		if w.MinSeverity != "" {
			var err error
			if minSev, err = alert.ParseSeverity(w.MinSeverity); err != nil {
				return nil, fmt.Errorf("vault: webhook %d: %w", i, err)
			}
		}
		name := w.Name
		if name == "" {
			name = fmt.Sprintf("webhook-%d", i)
		}
		channels = append(channels, alert.Channel{
			Name:        name,
			MinSeverity: minSev,
			Notifier:    &alert.WebhookNotifier{URL: w.URL},
		})
	}
	return append(channels, extra...), nil
}

// Config returns the configuration the vault was opened with.
func (v *Vault) Config() config.Config { return v.cfg }

// IsOnline reports whether anchoring is enabled.
func (v *Vault) IsOnline() bool { return v.Engine != nil }

// Run drives the retry engine until ctx is cancelled.
func (v *Vault) Run(ctx context.Context) error {
	if v.Engine == nil {
		return ErrOffline
	}
	return v.Engine.Run(ctx)
}

// Tick runs a single engine pass.
func (v *Vault) Tick(ctx context.Context) (monitor.Report, error) {
	if v.Engine == nil {
		return monitor.Report{}, ErrOffline
	}
	return v.Engine.Tick(ctx)
}

// Close drains pending alerts, closes the database and releases the data
// directory. Alerts still queued when ctx ends are dropped.
func (v *Vault) Close(ctx context.Context) error {
	var errs []error
	if v.Dispatcher != nil {
		if err := v.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("vault: drain alerts: %w", err))
		}
	}
	if err := v.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (v *Vault) closeStores() error {
	var err error
	if v.Store != nil {
		if cerr := v.Store.Close(); cerr != nil {
			err = fmt.Errorf("vault: close store: %w", cerr)
		}
		v.Store = nil
	}
	v.lock.release()
	v.lock = nil
	return err
}

func (v *Vault) now() time.Time { return v.clk.Now() }
