package main

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-secureclient/pkg/secureclient"
	"github.com/polisai/polis-secureclient/pkg/trust"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		url        string
		serverName string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the peer certificate chain and how the trust policy judges it",
		Long: `Handshake with --url, capture the certificate chain the peer presents, and
abort before any request byte is sent. Prints each certificate, the policy
errors found by chain verification and, when a trust policy is configured,
its decision.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("url") {
				a.cfg.Target.URL = url
			}
			if cmd.Flags().Changed("server-name") {
				a.cfg.Target.ServerName = serverName
			}
			return a.runInspect(cmd)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Target URL (https://host[:port])")
	cmd.Flags().StringVar(&serverName, "server-name", "", "Name checked against the certificate")

	return cmd
}

// chainCapture is an evaluator that records the chain and rejects it.
type chainCapture struct {
	mu    sync.Mutex
	chain []*x509.Certificate
}

func (c *chainCapture) evaluate(chain []*x509.Certificate, _ trust.PolicyErrors) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chain = append([]*x509.Certificate(nil), chain...)
	return false
}

func (c *chainCapture) captured() []*x509.Certificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain
}

func (a *app) runInspect(cmd *cobra.Command) error {
	ctx := cmd.Context()

	ep, err := a.cfg.Endpoint()
	if err != nil {
		return err
	}

	opts, policy, err := a.clientOptions(ctx)
	if err != nil {
		return err
	}
	roots, err := a.rootPool()
	if err != nil {
		return err
	}
	if roots != nil {
		opts = append(opts, secureclient.WithRootCAs(roots))
	}

	capture := &chainCapture{}
	opts = append(opts, secureclient.WithTrustEvaluator(capture.evaluate))

	_, err = secureclient.New(opts...).SecureRequest(ctx, ep, nil)
	chain := capture.captured()
	if len(chain) == 0 {
		if err == nil {
			return errors.New("peer completed a request without presenting a certificate")
		}
		return err
	}

	name := a.cfg.Target.ServerName
	if name == "" {
		name = ep.Host
	}
	report := trust.Inspect(chain, trust.InspectOptions{ServerName: name, Roots: roots})

	out := cmd.OutOrStdout()
	printChain(out, chain)
	fmt.Fprintf(out, "policy errors: %s\n", report.Errors)
	if report.ChainError != nil {
		fmt.Fprintf(out, "  chain: %v\n", report.ChainError)
	}
	if report.NameError != nil {
		fmt.Fprintf(out, "  name: %v\n", report.NameError)
	}

	if policy == nil {
		fmt.Fprintf(out, "decision (strict): %s\n", verdict(trust.Strict(chain, report.Errors)))
		return nil
	}
	allowed, err := policy.Decide(ctx, chain, report.Errors)
	if err != nil {
		return fmt.Errorf("trust policy evaluation failed: %w", err)
	}
	fmt.Fprintf(out, "decision (%s): %s\n", a.cfg.Trust.PolicyFile, verdict(allowed))
	return nil
}

func printChain(w io.Writer, chain []*x509.Certificate) {
	for i, cert := range chain {
		sum := sha256.Sum256(cert.Raw)
		fmt.Fprintf(w, "[%d] subject: %s\n", i, cert.Subject)
		fmt.Fprintf(w, "    issuer:  %s\n", cert.Issuer)
		fmt.Fprintf(w, "    valid:   %s to %s\n", cert.NotBefore.UTC().Format(time.RFC3339), cert.NotAfter.UTC().Format(time.RFC3339))
		if len(cert.DNSNames) > 0 {
			fmt.Fprintf(w, "    dns:     %v\n", cert.DNSNames)
		}
		if len(cert.IPAddresses) > 0 {
			fmt.Fprintf(w, "    ip:      %v\n", cert.IPAddresses)
		}
		fmt.Fprintf(w, "    sha256:  %s\n", hex.EncodeToString(sum[:]))
	}
}

func verdict(allowed bool) string {
	if allowed {
		return "accept"
	}
	return "reject"
}
