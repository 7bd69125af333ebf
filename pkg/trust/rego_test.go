package trust

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-secureclient/internal/testpeer"
)

func chainWith(certs ...*x509.Certificate) []*x509.Certificate {
	return certs
}

const allowNameMismatchFromTestCA = `
package secureclient.trust

default allow := false

allow if {
	count(input.policy_errors) == 0
}

allow if {
	input.policy_errors == ["name_mismatch"]
	startswith(input.chain[0].issuer, "CN=Polis Dev Root")
}
`

func TestRegoPolicy_Decisions(t *testing.T) {
	devRoot, err := testpeer.NewAuthority("Polis Dev Root")
	require.NoError(t, err)
	otherRoot, err := testpeer.NewAuthority("Other Root")
	require.NoError(t, err)

	devLeaf, err := devRoot.Issue(testpeer.LeafOptions{})
	require.NoError(t, err)
	otherLeaf, err := otherRoot.Issue(testpeer.LeafOptions{})
	require.NoError(t, err)

	policy, err := NewRegoPolicy(context.Background(), "trust.rego", allowNameMismatchFromTestCA, RegoOptions{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		leaf  *testpeer.Authority
		errs  PolicyErrors
		allow bool
	}{
		{name: "clean chain", errs: PolicyErrorNone, allow: true},
		{name: "mismatch from dev root", leaf: devRoot, errs: PolicyErrorNameMismatch, allow: true},
		{name: "mismatch from other root", leaf: otherRoot, errs: PolicyErrorNameMismatch, allow: false},
		{name: "chain errors", leaf: devRoot, errs: PolicyErrorChainErrors, allow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := devLeaf.Leaf
			if tt.leaf == otherRoot {
				chain = otherLeaf.Leaf
			}
			evaluate := policy.Evaluator()
			assert.Equal(t, tt.allow, evaluate(chainWith(chain), tt.errs))
		})
	}
}

func TestRegoPolicy_UndefinedDecisionRejects(t *testing.T) {
	module := `
package secureclient.trust

allow if {
	input.policy_errors[_] == "never"
}
`
	policy, err := NewRegoPolicy(context.Background(), "", module, RegoOptions{})
	require.NoError(t, err)

	allowed, err := policy.Decide(context.Background(), nil, PolicyErrorNone)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRegoPolicy_NonBooleanDecisionRejects(t *testing.T) {
	module := `
package acme.tls

decision := "yes"
`
	policy, err := NewRegoPolicy(context.Background(), "acme.rego", module, RegoOptions{Query: "data.acme.tls.decision"})
	require.NoError(t, err)

	allowed, err := policy.Decide(context.Background(), nil, PolicyErrorNone)
	assert.Error(t, err)
	assert.False(t, allowed)
	assert.False(t, policy.Evaluate(nil, PolicyErrorNone))
}

func TestRegoPolicy_InputCarriesChainMetadata(t *testing.T) {
	authority, err := testpeer.NewAuthority("Metadata Root")
	require.NoError(t, err)
	leaf, err := authority.Issue(testpeer.LeafOptions{CommonName: "sts.example.com", DNSNames: []string{"sts.example.com"}})
	require.NoError(t, err)

	module := `
package secureclient.trust

allow if {
	input.chain[0].dns_names[_] == "sts.example.com"
	not input.chain[0].is_ca
	count(input.chain[0].sha256) == 64
}
`
	policy, err := NewRegoPolicy(context.Background(), "meta.rego", module, RegoOptions{})
	require.NoError(t, err)
	assert.True(t, policy.Evaluate(chainWith(leaf.Leaf), PolicyErrorNone))
}

func TestNewRegoPolicy_Errors(t *testing.T) {
	_, err := NewRegoPolicy(context.Background(), "empty.rego", "   ", RegoOptions{})
	assert.Error(t, err)

	_, err = NewRegoPolicy(context.Background(), "broken.rego", "package x\nallow if {", RegoOptions{})
	assert.Error(t, err)
}
