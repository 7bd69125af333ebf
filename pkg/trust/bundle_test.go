package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-secureclient/internal/testpeer"
)

func TestBundle_CertPoolFromFile(t *testing.T) {
	authority, err := testpeer.NewAuthority("Bundle Root")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, authority.WritePEM(path))

	digest := sha256.Sum256(authority.PEM)
	bundle := Bundle{Path: path, SHA256: "sha256:" + strings.ToUpper(hex.EncodeToString(digest[:]))}

	pool, err := bundle.CertPool()
	require.NoError(t, err)

	cert, err := authority.Issue(testpeer.LeafOptions{})
	require.NoError(t, err)
	report := Inspect([]*x509.Certificate{cert.Leaf}, InspectOptions{ServerName: "localhost", Roots: pool})
	assert.Equal(t, PolicyErrorNone, report.Errors)
}

func TestBundle_Inline(t *testing.T) {
	authority, err := testpeer.NewAuthority("Inline Root")
	require.NoError(t, err)

	pool, err := Bundle{Name: "inline-root", Inline: string(authority.PEM)}.CertPool()
	require.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestBundle_Errors(t *testing.T) {
	authority, err := testpeer.NewAuthority("Error Root")
	require.NoError(t, err)

	tests := []struct {
		name    string
		bundle  Bundle
		wantErr string
	}{
		{name: "empty", bundle: Bundle{}, wantErr: "no path or inline data"},
		{name: "missing file", bundle: Bundle{Path: filepath.Join(t.TempDir(), "missing.pem")}, wantErr: "read"},
		{name: "checksum mismatch", bundle: Bundle{Name: "pinned", Inline: string(authority.PEM), SHA256: strings.Repeat("0", 64)}, wantErr: "pinned: checksum mismatch"},
		{name: "not pem", bundle: Bundle{Inline: "hello"}, wantErr: "no certificates found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.bundle.CertPool()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBundle_IsZero(t *testing.T) {
	assert.True(t, Bundle{}.IsZero())
	assert.True(t, Bundle{Name: "x", Path: "  "}.IsZero())
	assert.False(t, Bundle{Path: "/etc/ssl/ca.pem"}.IsZero())
}
