package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-secureclient/pkg/securebuf"
	"github.com/polisai/polis-secureclient/pkg/secureclient"
	"github.com/polisai/polis-secureclient/pkg/telemetry"
	"github.com/polisai/polis-secureclient/pkg/trust"
)

const metricsShutdownTimeout = 5 * time.Second

func newProbeCmd(a *app) *cobra.Command {
	var (
		interval       time.Duration
		metricsAddress string
		count          int
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send the configured request periodically and export metrics",
		Long: `Send the configured request every --interval and export probe outcomes as
Prometheus metrics. The response is discarded; only its size is recorded.
With trust.watch set, the trust bundle is reloaded whenever its file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("interval") {
				a.cfg.Probe.Interval = interval
			}
			if cmd.Flags().Changed("metrics-address") {
				a.cfg.Probe.MetricsAddress = metricsAddress
			}
			if a.cfg.Probe.Interval <= 0 {
				return errors.New("probe interval must be positive")
			}
			if count < 0 {
				return errors.New("count must not be negative")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runProbe(ctx, cmd.InOrStdin(), count)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between probes (default from config)")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", `Listen address for /metrics, "" disables the server`)
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many probes (0 runs until interrupted)")

	return cmd
}

// prober sends one configured request per tick.
type prober struct {
	endpoint secureclient.Endpoint
	payload  []byte
	options  []secureclient.Option
	roots    func() *x509.CertPool
	metrics  *telemetry.ProbeMetrics
	app      *app
}

func (a *app) runProbe(ctx context.Context, stdin io.Reader, count int) error {
	ep, err := a.cfg.Endpoint()
	if err != nil {
		return err
	}

	payload, err := readRequest(a.cfg.Target.RequestFile, stdin)
	if err != nil {
		return err
	}
	defer securebuf.Wipe(payload)

	opts, _, err := a.clientOptions(ctx)
	if err != nil {
		return err
	}

	metrics := telemetry.NewProbeMetrics()
	p := &prober{
		endpoint: ep,
		payload:  payload,
		options:  opts,
		metrics:  metrics,
		app:      a,
	}

	if a.cfg.Trust.Watch {
		watcher, err := trust.NewBundleWatcher(a.cfg.Trust.Bundle, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				a.logger.Warn("Trust bundle watcher close failed", "error", err)
			}
		}()
		watcher.OnReload(func(*x509.CertPool) { metrics.RecordBundleReload(nil) })
		watcher.OnReloadError(metrics.RecordBundleReload)
		p.roots = watcher.Pool
	} else {
		roots, err := a.rootPool()
		if err != nil {
			return err
		}
		p.roots = func() *x509.CertPool { return roots }
	}

	if addr := a.cfg.Probe.MetricsAddress; addr != "" {
		stopServer, err := a.serveMetrics(addr, metrics)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	a.logger.Info("Starting probe",
		"endpoint", ep.String(),
		"interval", a.cfg.Probe.Interval,
		"metrics_address", a.cfg.Probe.MetricsAddress,
	)

	ticker := time.NewTicker(a.cfg.Probe.Interval)
	defer ticker.Stop()

	for sent := 0; ; {
		p.probe(ctx)
		sent++
		if count > 0 && sent >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			a.logger.Info("Probe stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *prober) probe(ctx context.Context) {
	opts := p.options
	if roots := p.roots(); roots != nil {
		opts = append(opts[:len(opts):len(opts)], secureclient.WithRootCAs(roots))
	}

	start := time.Now()
	response, err := secureclient.New(opts...).SecureRequest(ctx, p.endpoint, p.payload)
	elapsed := time.Since(start)

	if err != nil {
		p.metrics.RecordProbe(errorLabel(err), elapsed, 0)
		p.app.logger.Warn("Probe failed", "endpoint", p.endpoint.String(), "error", err)
		return
	}

	size := response.Len()
	response.Destroy()
	p.metrics.RecordProbe("", elapsed, size)
	p.app.logger.Debug("Probe succeeded", "endpoint", p.endpoint.String(), "bytes", size, "duration", elapsed)
}

func errorLabel(err error) string {
	if t := secureclient.TypeOf(err); t != "" {
		return string(t)
	}
	return "unknown"
}

// serveMetrics starts the metrics server and returns a function that stops it.
func (a *app) serveMetrics(addr string, metrics *telemetry.ProbeMetrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server error", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "address", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}, nil
}
