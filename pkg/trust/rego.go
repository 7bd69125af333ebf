package trust

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// DefaultRegoQuery is the decision evaluated when none is configured.
const DefaultRegoQuery = "data.secureclient.trust.allow"

const defaultRegoTimeout = 2 * time.Second

// RegoOptions configures a RegoPolicy.
type RegoOptions struct {
	// Query is the boolean decision to evaluate, e.g. "data.acme.tls.allow".
	Query string
	// Timeout bounds a single evaluation. Zero selects two seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// RegoPolicy evaluates trust decisions with an embedded OPA module.
//
// The policy input is:
//
//	{
//	  "policy_errors": ["name_mismatch", ...],
//	  "chain": [{"subject", "issuer", "serial", "dns_names", "ip_addresses",
//	             "not_before", "not_after", "sha256", "is_ca"}, ...]
//	}
//
// Any evaluation error, undefined result, or non-boolean result rejects.
type RegoPolicy struct {
	query   rego.PreparedEvalQuery
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegoPolicy compiles module (Rego v1 syntax) and prepares its decision.
func NewRegoPolicy(ctx context.Context, name, module string, opts RegoOptions) (*RegoPolicy, error) {
	if strings.TrimSpace(module) == "" {
		return nil, errors.New("trust policy requires a rego module")
	}
	if name == "" {
		name = "trust.rego"
	}

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		query = DefaultRegoQuery
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRegoTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	parsed, err := ast.ParseModuleWithOpts(name, module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", name, err)
	}

	prepared, err := rego.New(
		rego.Query(query),
		rego.ParsedModule(parsed),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module %q: %w", name, err)
	}

	return &RegoPolicy{
		query:   prepared,
		timeout: timeout,
		logger:  logger.With("component", "trust_policy", "query", query),
	}, nil
}

// Evaluate implements Evaluator.
func (p *RegoPolicy) Evaluate(chain []*x509.Certificate, errs PolicyErrors) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	allowed, err := p.Decide(ctx, chain, errs)
	if err != nil {
		p.logger.Error("Trust policy evaluation failed, rejecting chain", "error", err)
		return false
	}
	return allowed
}

// Decide evaluates the policy and reports the decision together with any
// evaluation error.
func (p *RegoPolicy) Decide(ctx context.Context, chain []*x509.Certificate, errs PolicyErrors) (bool, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(policyInput(chain, errs)))
	if err != nil {
		return false, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

// Evaluator returns p as an Evaluator.
func (p *RegoPolicy) Evaluator() Evaluator {
	return p.Evaluate
}

func policyInput(chain []*x509.Certificate, errs PolicyErrors) map[string]any {
	certs := make([]any, 0, len(chain))
	for _, cert := range chain {
		certs = append(certs, certificateInput(cert))
	}

	names := errs.Names()
	errNames := make([]any, len(names))
	for i, n := range names {
		errNames[i] = n
	}

	return map[string]any{
		"policy_errors": errNames,
		"chain":         certs,
	}
}

func certificateInput(cert *x509.Certificate) map[string]any {
	digest := sha256.Sum256(cert.Raw)

	dnsNames := make([]any, len(cert.DNSNames))
	for i, n := range cert.DNSNames {
		dnsNames[i] = n
	}
	ips := make([]any, len(cert.IPAddresses))
	for i, ip := range cert.IPAddresses {
		ips[i] = ip.String()
	}

	return map[string]any{
		"subject":      cert.Subject.String(),
		"issuer":       cert.Issuer.String(),
		"serial":       cert.SerialNumber.String(),
		"dns_names":    dnsNames,
		"ip_addresses": ips,
		"not_before":   cert.NotBefore.UTC().Format(time.RFC3339),
		"not_after":    cert.NotAfter.UTC().Format(time.RFC3339),
		"sha256":       hex.EncodeToString(digest[:]),
		"is_ca":        cert.IsCA,
	}
}
