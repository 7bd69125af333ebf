package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Bundle describes a set of PEM-encoded trust anchors, either on disk or
// inline, optionally pinned to a SHA-256 digest of the PEM bytes.
type Bundle struct {
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Inline string `json:"inline" yaml:"inline"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// IsZero reports whether no source is configured.
func (b Bundle) IsZero() bool {
	return strings.TrimSpace(b.Path) == "" && strings.TrimSpace(b.Inline) == ""
}

func (b Bundle) label() string {
	if b.Name != "" {
		return b.Name
	}
	if b.Path != "" {
		return filepath.Base(b.Path)
	}
	return "inline"
}

// Read returns the PEM bytes of the bundle after checksum verification. Every
// call reads the source again so a watcher sees file updates.
func (b Bundle) Read() ([]byte, error) {
	var data []byte
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		var err error
		// #nosec G304 -- bundle path comes from operator configuration
		data, err = os.ReadFile(filepath.Clean(b.Path))
		if err != nil {
			return nil, fmt.Errorf("trust bundle %s: read: %w", b.label(), err)
		}
	default:
		return nil, fmt.Errorf("trust bundle %s: no path or inline data provided", b.label())
	}

	if err := b.verifyChecksum(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b Bundle) verifyChecksum(data []byte) error {
	if b.SHA256 == "" {
		return nil
	}

	expected := strings.TrimSpace(strings.ToLower(b.SHA256))
	expected = strings.TrimPrefix(expected, "sha256:")
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != expected {
		return fmt.Errorf("trust bundle %s: checksum mismatch", b.label())
	}
	return nil
}

// CertPool parses the bundle into a fresh pool.
func (b Bundle) CertPool() (*x509.CertPool, error) {
	data, err := b.Read()
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("trust bundle %s: no certificates found", b.label())
	}
	return pool, nil
}
