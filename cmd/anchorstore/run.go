package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/storage"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		once       bool
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"monitor"},
		Short:   "Submit queued digests and poll until confirmed",
		Long: `run drives the retry engine against the node configured in [rpc]. Pending
entries are submitted, submitted ones are polled, and failures are retried
with exponential backoff until [engine] max_retries is exhausted.

run holds the data directory lock until it exits, so put and the other
content commands cannot use the directory meanwhile. Use --once to process
the queue a single time and release the lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var reg *prometheus.Registry
			if listenAddr != "" {
				reg = prometheus.NewRegistry()
			}

			s, err := a.open(ctx, true, registerer(reg))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); err == nil {
					err = cerr
				}
			}()

			if reg != nil {
				srv, err := serveHTTP(listenAddr, reg, s.vault.Store)
				if err != nil {
					return err
				}
				s.log.Info().Str("addr", srv.Addr).Msg("serving metrics and mirror content")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if once {
				report, err := s.vault.Tick(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.writeJSON(report)
				}
				return a.writePlain("submitted %d, retried %d, confirmed %d, rejected %d, failed %d\n",
					report.Submitted, report.Retried, report.Confirmed, report.Rejected, report.Failed)
			}

			return s.vault.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single engine pass and exit")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "serve /metrics and mirror /content/ on this address (e.g. :9464)")
	return cmd
}

// registerer avoids handing a typed nil *Registry to the engine.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

// serveHTTP exposes the engine metrics and the store's content to peers that
// list this node under [storage] mirrors.
func serveHTTP(addr string, reg *prometheus.Registry, store storage.ContentStore) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/content/", storage.NewMirrorHandler(store))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
