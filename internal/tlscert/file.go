package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// fileManager serves an operator-provided key pair and picks up rotated
// files on the next handshake after their modification time changes.
type fileManager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	cert     *tls.Certificate
	loadedAt [2]time.Time
}

func newFileManager(cfg Config, logger *slog.Logger) (Manager, error) {
	if cfg.CertFile == "" {
		return nil, fmt.Errorf("tls_cert_file is required when tls_mode=file")
	}
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("tls_key_file is required when tls_mode=file")
	}
	if err := checkRegularFile(cfg.Fs, cfg.CertFile); err != nil {
		return nil, fmt.Errorf("invalid certificate file: %w", err)
	}
	if err := checkRegularFile(cfg.Fs, cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("invalid key file: %w", err)
	}
	if err := checkKeyFilePermissions(cfg.Fs, cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("insecure key file permissions: %w", err)
	}

	m := &fileManager{cfg: cfg, logger: logger}
	if _, err := m.current(); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return m, nil
}

func (m *fileManager) GetTLSConfig() (*tls.Config, error) {
	return &tls.Config{
		MinVersion: MinTLSVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := m.current()
			if err != nil {
				m.logger.Error("failed to reload certificate",
					slog.String("cert_file", m.cfg.CertFile),
					slog.String("error", err.Error()))
				return nil, err
			}
			return cert, nil
		},
	}, nil
}

// current returns the cached pair, reloading it when either file changed.
func (m *fileManager) current() (*tls.Certificate, error) {
	certInfo, err := m.cfg.Fs.Stat(m.cfg.CertFile)
	if err != nil {
		return nil, err
	}
	keyInfo, err := m.cfg.Fs.Stat(m.cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	stamp := [2]time.Time{certInfo.ModTime(), keyInfo.ModTime()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cert != nil && stamp == m.loadedAt {
		return m.cert, nil
	}
	cert, err := loadKeyPair(m.cfg.Fs, m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		if m.cert != nil {
			// Keep serving the previous pair while a rotation is half written.
			return m.cert, nil
		}
		return nil, err
	}
	if m.cert != nil {
		m.logger.Info("reloaded TLS certificate", slog.String("cert_file", m.cfg.CertFile))
	}
	m.cert = &cert
	m.loadedAt = stamp
	return m.cert, nil
}

func (m *fileManager) Description() string {
	return fmt.Sprintf("file-based (cert=%s, key=%s)", m.cfg.CertFile, m.cfg.KeyFile)
}

func (m *fileManager) Shutdown() error {
	return nil
}

func checkRegularFile(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

// checkKeyFilePermissions rejects keys readable by group or others.
func checkKeyFilePermissions(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key file has insecure permissions %o (should be 0600 or 0400)", mode)
	}
	return nil
}
