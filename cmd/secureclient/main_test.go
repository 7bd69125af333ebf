package main

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-secureclient/internal/testpeer"
	"github.com/polisai/polis-secureclient/pkg/secureclient"
)

const (
	testRequest  = "GET /adfs/ls HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n"
	testResponse = "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(t.Context())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func peerURL(p *testpeer.Peer) string {
	return fmt.Sprintf("https://%s:%d/adfs/ls", testpeer.Host, p.Port())
}

func caFile(t *testing.T, p *testpeer.Peer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, p.Authority.WritePEM(path))
	return path
}

func TestVersionCmd(t *testing.T) {
	res := execute(t, "", "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, res.err)
	assert.Equal(t, "secureclient dev\n", res.stdout)
}

func TestRequestCmd_WritesResponse(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	res := execute(t, "",
		"request",
		"--url", peerURL(peer),
		"--ca-file", caFile(t, peer),
		"--request-file", writeFile(t, "req.http", testRequest),
		"--log-level", "error",
	)
	require.NoError(t, res.err)
	assert.Equal(t, testResponse, res.stdout)

	session := peer.Next(t)
	require.NoError(t, session.HandshakeErr)
	assert.Equal(t, testRequest, string(session.Request))
}

func TestRequestCmd_ReadsStdin(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	res := execute(t, testRequest,
		"request",
		"--url", peerURL(peer),
		"--ca-file", caFile(t, peer),
		"--request-file", "-",
		"--log-level", "error",
	)
	require.NoError(t, res.err)
	assert.Equal(t, testResponse, res.stdout)
	assert.Equal(t, testRequest, string(peer.Next(t).Request))
}

func TestRequestCmd_ConfigFile(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	cfg := writeFile(t, "secureclient.yaml", fmt.Sprintf(`
target:
  url: %q
  request_file: %q
trust:
  bundle:
    path: %q
logging:
  level: error
`, peerURL(peer), writeFile(t, "req.http", testRequest), caFile(t, peer)))

	res := execute(t, "", "--config", cfg, "request")
	require.NoError(t, res.err)
	assert.Equal(t, testResponse, res.stdout)
}

func TestRequestCmd_UntrustedPeer(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	res := execute(t, "",
		"request",
		"--url", peerURL(peer),
		"--request-file", writeFile(t, "req.http", testRequest),
		"--log-level", "error",
	)
	require.Error(t, res.err)
	assert.True(t, secureclient.IsHandshakeError(res.err))
	assert.Equal(t, exitHandshake, exitCode(res.err))
	assert.Empty(t, res.stdout)

	session := peer.Next(t)
	assert.Error(t, session.HandshakeErr)
	assert.Empty(t, session.Request)
}

func TestRequestCmd_TrustPolicyOverridesRoots(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	policy := writeFile(t, "trust.rego", `package secureclient.trust

allow if {
	startswith(input.chain[0].issuer, "CN=Polis Test Root")
}
`)

	res := execute(t, "",
		"request",
		"--url", peerURL(peer),
		"--trust-policy", policy,
		"--request-file", writeFile(t, "req.http", testRequest),
		"--log-level", "error",
	)
	require.NoError(t, res.err)
	assert.Equal(t, testResponse, res.stdout)
}

func TestRequestCmd_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		res := execute(t, testRequest, "request", "--log-level", "error")
		assert.ErrorContains(t, res.err, "no target url")
	})

	t.Run("missing request file", func(t *testing.T) {
		res := execute(t, "", "request",
			"--url", "https://127.0.0.1:1",
			"--request-file", filepath.Join(t.TempDir(), "missing.http"),
			"--log-level", "error",
		)
		assert.ErrorContains(t, res.err, "failed to read request file")
	})

	t.Run("bad policy", func(t *testing.T) {
		res := execute(t, testRequest, "request",
			"--url", "https://127.0.0.1:1",
			"--trust-policy", writeFile(t, "bad.rego", "package x\nallow if {"),
			"--log-level", "error",
		)
		assert.ErrorContains(t, res.err, "failed to load trust policy")
	})

	t.Run("connection refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", net.JoinHostPort(testpeer.Host, "0"))
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		res := execute(t, testRequest, "request", "--url", "https://"+addr, "--log-level", "error")
		require.Error(t, res.err)
		assert.Equal(t, exitConnection, exitCode(res.err))
	})
}

func TestInspectCmd(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	t.Run("trusted", func(t *testing.T) {
		res := execute(t, "", "inspect",
			"--url", peerURL(peer),
			"--config", writeFile(t, "c.yaml", fmt.Sprintf("trust:\n  bundle:\n    path: %q\n", caFile(t, peer))),
			"--log-level", "error",
		)
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "[0] subject:")
		assert.Contains(t, res.stdout, "Polis Test Root")
		assert.Contains(t, res.stdout, "policy errors: none")
		assert.Contains(t, res.stdout, "decision (strict): accept")
	})

	t.Run("untrusted", func(t *testing.T) {
		res := execute(t, "", "inspect", "--url", peerURL(peer), "--log-level", "error")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "chain_errors")
		assert.Contains(t, res.stdout, "decision (strict): reject")
	})

	t.Run("name mismatch", func(t *testing.T) {
		res := execute(t, "", "inspect",
			"--url", peerURL(peer),
			"--server-name", "sts.example.com",
			"--config", writeFile(t, "c.yaml", fmt.Sprintf("trust:\n  bundle:\n    path: %q\n", caFile(t, peer))),
			"--log-level", "error",
		)
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "name_mismatch")
		assert.Contains(t, res.stdout, "decision (strict): reject")
	})

	for i := 0; i < 3; i++ {
		session := peer.Next(t)
		assert.Empty(t, session.Request, "inspect must not send request bytes")
	}
}

func TestProbeCmd(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose([]byte(testResponse)))

	res := execute(t, "", "probe",
		"--config", writeFile(t, "c.yaml", fmt.Sprintf(`
target:
  url: %q
  request_file: %q
trust:
  bundle:
    path: %q
`, peerURL(peer), writeFile(t, "req.http", testRequest), caFile(t, peer))),
		"--count", "2",
		"--interval", "10ms",
		"--metrics-address", "",
		"--log-level", "error",
	)
	require.NoError(t, res.err)

	for i := 0; i < 2; i++ {
		session := peer.Next(t)
		require.NoError(t, session.HandshakeErr)
		assert.Equal(t, testRequest, string(session.Request))
	}
}

func TestProbeCmd_RejectsNonPositiveInterval(t *testing.T) {
	res := execute(t, "", "probe", "--interval", "0s", "--log-level", "error")
	assert.ErrorContains(t, res.err, "interval must be positive")
}

func TestExitCode(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose(nil))
	_, err := secureclient.SecureRequest(t.Context(),
		secureclient.Endpoint{Host: testpeer.Host, Port: peer.Port()}, []byte(testRequest))
	require.Error(t, err)

	assert.Equal(t, exitHandshake, exitCode(err))
	assert.Equal(t, exitHandshake, exitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, exitFailure, exitCode(errors.New("plain")))
}

func TestPrintError(t *testing.T) {
	peer := testpeer.Start(t, testpeer.RespondAndClose(nil))
	_, err := secureclient.SecureRequest(t.Context(),
		secureclient.Endpoint{Host: testpeer.Host, Port: peer.Port()}, []byte(testRequest))
	require.Error(t, err)

	var out bytes.Buffer
	printError(&out, err)
	assert.Contains(t, out.String(), "Suggestions:")
	assert.Contains(t, out.String(), "secureclient inspect")

	out.Reset()
	printError(&out, errors.New("plain"))
	assert.Equal(t, "Error: plain\n", out.String())
}

func TestReadRequest(t *testing.T) {
	data, err := readRequest("", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(data))

	data, err = readRequest(writeFile(t, "r", "from file"), strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "from file", string(data))
}
