package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/polisai/polis-secureclient/pkg/secureclient"
	"github.com/polisai/polis-secureclient/pkg/trust"
)

// clientOptions translates the loaded configuration into client options.
// Trust anchors are left to the caller so the probe can swap them on reload.
func (a *app) clientOptions(ctx context.Context) ([]secureclient.Option, *trust.RegoPolicy, error) {
	cfg := a.cfg

	opts := []secureclient.Option{
		secureclient.WithLogger(a.logger),
		secureclient.WithReadTimeout(cfg.Timeouts.Read),
		secureclient.WithWriteTimeout(cfg.Timeouts.Write),
		secureclient.WithConnectTimeout(cfg.Timeouts.Connect),
		secureclient.WithHandshakeTimeout(cfg.Timeouts.Handshake),
		secureclient.WithServerName(cfg.Target.ServerName),
	}
	if a.tracing != nil && a.tracing.Enabled() {
		opts = append(opts, secureclient.WithTracerProvider(a.tracing))
	}
	if cfg.Timeouts.StrictRead {
		opts = append(opts, secureclient.WithStrictReadTimeout())
	}

	policy, err := a.loadPolicy(ctx)
	if err != nil {
		return nil, nil, err
	}
	if policy != nil {
		opts = append(opts, secureclient.WithTrustEvaluator(policy.Evaluator()))
	}

	return opts, policy, nil
}

func (a *app) loadPolicy(ctx context.Context) (*trust.RegoPolicy, error) {
	path := a.cfg.Trust.PolicyFile
	if path == "" {
		return nil, nil
	}

	//nolint:gosec // Policy path is controlled by the operator
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust policy %s: %w", path, err)
	}

	policy, err := trust.NewRegoPolicy(ctx, filepath.Base(path), string(module), trust.RegoOptions{
		Query:  a.cfg.Trust.Query,
		Logger: a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load trust policy %s: %w", path, err)
	}
	return policy, nil
}

// rootPool loads the configured bundle, or nil for the system roots.
func (a *app) rootPool() (*x509.CertPool, error) {
	if a.cfg.Trust.Bundle.IsZero() {
		return nil, nil
	}
	return a.cfg.Trust.Bundle.CertPool()
}

// readRequest returns the request bytes from path, or from stdin when path is
// empty or "-". The caller wipes the result.
func readRequest(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read request from stdin: %w", err)
		}
		return data, nil
	}

	//nolint:gosec // Request path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file %s: %w", path, err)
	}
	return data, nil
}
