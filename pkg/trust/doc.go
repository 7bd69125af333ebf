// Package trust decides whether a server certificate chain presented during a
// TLS handshake is acceptable.
//
// The decision is split in two. Inspect runs the platform verifier against a
// chain and reports what is wrong with it as PolicyErrors flags. An Evaluator
// then turns the chain plus those flags into a pass/fail decision. Strict is
// the default Evaluator and accepts only chains without any policy error;
// RegoPolicy lets operators express the decision as an OPA Rego module.
//
// Root pools come from the system store or from a Bundle, which can be
// hot-reloaded by a BundleWatcher.
package trust
