package trust

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-secureclient/internal/testpeer"
)

func verifiesWith(pool *x509.CertPool, leaf *x509.Certificate) bool {
	return Inspect([]*x509.Certificate{leaf}, InspectOptions{Roots: pool}).Errors == PolicyErrorNone
}

func TestBundleWatcher_ReloadsOnWrite(t *testing.T) {
	first, err := testpeer.NewAuthority("First Root")
	require.NoError(t, err)
	second, err := testpeer.NewAuthority("Second Root")
	require.NoError(t, err)
	secondLeaf, err := second.Issue(testpeer.LeafOptions{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, first.WritePEM(path))

	watcher, err := NewBundleWatcher(Bundle{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	assert.False(t, verifiesWith(watcher.Pool(), secondLeaf.Leaf))

	reloaded := make(chan *x509.CertPool, 4)
	watcher.OnReload(func(pool *x509.CertPool) { reloaded <- pool })

	require.NoError(t, second.WritePEM(path))

	select {
	case pool := <-reloaded:
		assert.True(t, verifiesWith(pool, secondLeaf.Leaf))
	case <-time.After(5 * time.Second):
		t.Fatal("bundle was not reloaded")
	}
	assert.True(t, verifiesWith(watcher.Pool(), secondLeaf.Leaf))
}

func TestBundleWatcher_KeepsPoolOnBadReload(t *testing.T) {
	authority, err := testpeer.NewAuthority("Stable Root")
	require.NoError(t, err)
	leaf, err := authority.Issue(testpeer.LeafOptions{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, authority.WritePEM(path))

	watcher, err := NewBundleWatcher(Bundle{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	reloaded := make(chan struct{}, 1)
	failed := make(chan error, 4)
	watcher.OnReload(func(*x509.CertPool) { reloaded <- struct{}{} })
	watcher.OnReloadError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o644))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-reloaded:
		t.Fatal("a broken bundle must not replace the pool")
	case <-time.After(5 * time.Second):
		t.Fatal("reload failure was not reported")
	}
	assert.True(t, verifiesWith(watcher.Pool(), leaf.Leaf))
}

func TestNewBundleWatcher_RequiresPath(t *testing.T) {
	_, err := NewBundleWatcher(Bundle{Inline: "pem"}, nil)
	assert.Error(t, err)
}
