package trust

import (
	"crypto/x509"
	"errors"
	"strings"
	"time"
)

// ErrRejected is returned to the TLS stack when an Evaluator refuses a chain.
var ErrRejected = errors.New("trust: certificate chain rejected by evaluator")

// PolicyErrors is a set of problems found while verifying a chain.
type PolicyErrors uint8

// PolicyErrorNone means the platform verifier found nothing wrong.
const PolicyErrorNone PolicyErrors = 0

const (
	// PolicyErrorCertificateNotAvailable means the peer sent no certificate.
	PolicyErrorCertificateNotAvailable PolicyErrors = 1 << iota
	// PolicyErrorNameMismatch means the leaf does not cover the server name.
	PolicyErrorNameMismatch
	// PolicyErrorChainErrors means the chain does not build to a trusted root
	// (expired, unknown authority, bad usage, ...).
	PolicyErrorChainErrors
)

var policyErrorNames = []struct {
	flag PolicyErrors
	name string
}{
	{PolicyErrorCertificateNotAvailable, "certificate_not_available"},
	{PolicyErrorNameMismatch, "name_mismatch"},
	{PolicyErrorChainErrors, "chain_errors"},
}

// Has reports whether all flags in f are set.
func (e PolicyErrors) Has(f PolicyErrors) bool {
	return e&f == f
}

// Names returns the set flags in a stable order.
func (e PolicyErrors) Names() []string {
	names := make([]string, 0, len(policyErrorNames))
	for _, n := range policyErrorNames {
		if e.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

func (e PolicyErrors) String() string {
	if e == PolicyErrorNone {
		return "none"
	}
	return strings.Join(e.Names(), "|")
}

// Evaluator decides whether a chain is acceptable given the problems the
// platform verifier found. It must be safe for concurrent use and must not
// retain the chain.
type Evaluator func(chain []*x509.Certificate, errs PolicyErrors) bool

// Strict accepts a chain only when verification reported no error at all.
func Strict(chain []*x509.Certificate, errs PolicyErrors) bool {
	return len(chain) > 0 && errs == PolicyErrorNone
}

// InspectOptions controls how Inspect verifies a chain.
type InspectOptions struct {
	// ServerName is checked against the leaf. Empty skips the name check.
	ServerName string
	// Roots is the trust anchor pool; nil uses the system pool.
	Roots *x509.CertPool
	// CurrentTime overrides the verification time; zero means now.
	CurrentTime time.Time
}

// Report is the outcome of Inspect.
type Report struct {
	Errors     PolicyErrors
	ChainError error
	NameError  error
}

// Inspect verifies chain (leaf first, as sent by the peer) and reports every
// policy error found. It never short-circuits so evaluators see the full set.
func Inspect(chain []*x509.Certificate, opts InspectOptions) Report {
	if len(chain) == 0 {
		return Report{Errors: PolicyErrorCertificateNotAvailable}
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	var report Report
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         opts.Roots,
		Intermediates: intermediates,
		CurrentTime:   opts.CurrentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		report.Errors |= PolicyErrorChainErrors
		report.ChainError = err
	}

	if opts.ServerName != "" {
		if err := leaf.VerifyHostname(opts.ServerName); err != nil {
			report.Errors |= PolicyErrorNameMismatch
			report.NameError = err
		}
	}

	return report
}
