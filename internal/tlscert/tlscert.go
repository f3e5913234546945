// Package tlscert supplies certificates to the HTTPS listener, either from
// operator-provided files or from a generated development certificate.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
)

// CertMode selects where certificates come from.
type CertMode string

const (
	CertModeFile       CertMode = "file"
	CertModeSelfSigned CertMode = "selfsigned"
)

// MinTLSVersion is the minimum supported TLS version for the server.
const MinTLSVersion = tls.VersionTLS13

// Config holds TLS certificate configuration.
type Config struct {
	Mode CertMode

	CertFile string
	KeyFile  string

	SelfSignedCertDir string
	SelfSignedHosts   []string

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

// Manager provides TLS certificate management.
type Manager interface {
	GetTLSConfig() (*tls.Config, error)
	Description() string
	Shutdown() error
}

// NewManager creates a certificate manager for cfg.Mode.
func NewManager(cfg Config, logger *slog.Logger) (Manager, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case CertModeFile:
		return newFileManager(cfg, logger)
	case CertModeSelfSigned:
		return newSelfSignedManager(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported TLS certificate mode: %s (valid modes: file, selfsigned)", cfg.Mode)
	}
}

func loadKeyPair(fs afero.Fs, certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := afero.ReadFile(fs, certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := afero.ReadFile(fs, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
